// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prologue finds where a function's prologue saved callee-saved
// registers, by decoding the prologue's instructions.
package prologue

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"golang.org/x/arch/x86/x86asm"

	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/frame"
)

// maxPrologue bounds the number of bytes decoded from a function entry.
const maxPrologue = 64

// FuncLookup maps a pc to the entry address of the function containing it.
type FuncLookup interface {
	FuncEntry(pc core.Address) (core.Address, bool)
}

// Funcs is a sorted table of function address ranges.
type Funcs struct {
	entries []funcRange
}

type funcRange struct {
	entry, end core.Address
	name       string
}

// Add records a function occupying [entry, entry+size).
func (t *Funcs) Add(name string, entry core.Address, size int64) {
	t.entries = append(t.entries, funcRange{entry: entry, end: entry.Add(size), name: name})
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].entry < t.entries[j].entry })
}

func (t *Funcs) find(pc core.Address) *funcRange {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].entry > pc })
	if i == 0 {
		return nil
	}
	f := &t.entries[i-1]
	if pc >= f.end {
		return nil
	}
	return f
}

func (t *Funcs) FuncEntry(pc core.Address) (core.Address, bool) {
	f := t.find(pc)
	if f == nil {
		return 0, false
	}
	return f.entry, true
}

// FuncName returns the name of the function containing pc.
func (t *Funcs) FuncName(pc core.Address) (string, bool) {
	f := t.find(pc)
	if f == nil {
		return "", false
	}
	return f.name, true
}

// Len returns the number of functions in the table.
func (t *Funcs) Len() int { return len(t.entries) }

// ELFFuncs reads the function symbols of an executable. bias is added to
// every symbol address, for position-independent executables.
func ELFFuncs(f *elf.File, bias int64) (*Funcs, error) {
	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("can't read symbols: %v", err)
	}
	t := new(Funcs)
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		t.entries = append(t.entries, funcRange{
			entry: core.Address(s.Value).Add(bias),
			end:   core.Address(s.Value).Add(bias + int64(s.Size)),
			name:  s.Name,
		})
	}
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].entry < t.entries[j].entry })
	return t, nil
}

var amd64Saved = map[x86asm.Reg]uint64{
	x86asm.RBX: regnum.AMD64_Rbx,
	x86asm.RBP: regnum.AMD64_Rbp,
	x86asm.R12: regnum.AMD64_R12,
	x86asm.R13: regnum.AMD64_R13,
	x86asm.R14: regnum.AMD64_R14,
	x86asm.R15: regnum.AMD64_R15,
}

// AMD64 reports the registers saved by the executed part of an amd64
// frame-pointer prologue: pushes, and stores relative to rbp or rsp.
// Frames whose prologue does not set up rbp yield no spills.
type AMD64 struct {
	funcs FuncLookup
}

var _ frame.SpillOracle = (*AMD64)(nil)

// NewAMD64 returns an oracle that finds function entries with funcs.
func NewAMD64(funcs FuncLookup) *AMD64 {
	return &AMD64{funcs: funcs}
}

func (p *AMD64) Spills(space core.AddressSpace, f *frame.Frame) ([]frame.Spill, error) {
	if f.FP == 0 || f.PC == 0 {
		return nil, nil
	}
	entry, ok := p.funcs.FuncEntry(f.PC)
	if !ok || entry > f.PC {
		return nil, nil
	}
	n := min(f.PC.Sub(entry), maxPrologue)
	code := make([]byte, n)
	if err := space.ReadAt(code, entry); err != nil {
		// Code that can't be read saves nothing we can find.
		return nil, nil
	}
	return decodeAMD64(code, f.FP), nil
}

// decodeAMD64 decodes the executed prologue instructions in code. The
// function's frame pointer is fp.
func decodeAMD64(code []byte, fp core.Address) []frame.Spill {
	type pending struct {
		reg uint64
		off int64 // bytes below the canonical frame address
	}
	var (
		saved    []pending
		depth    int64 = 8 // the return address
		rbpSet   bool
		rspValid = true
	)
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			break
		}
		code = code[inst.Len:]
		switch inst.Op {
		case x86asm.PUSH:
			if !rspValid {
				break
			}
			depth += 8
			if r, ok := inst.Args[0].(x86asm.Reg); ok {
				if dr, ok := amd64Saved[r]; ok {
					saved = append(saved, pending{dr, depth})
				}
			}
		case x86asm.SUB:
			if r, ok := inst.Args[0].(x86asm.Reg); ok && r == x86asm.RSP {
				if imm, ok := inst.Args[1].(x86asm.Imm); ok {
					depth += int64(imm)
				} else {
					rspValid = false
				}
			}
		case x86asm.MOV:
			if dst, ok := inst.Args[0].(x86asm.Reg); ok {
				if src, ok := inst.Args[1].(x86asm.Reg); ok && dst == x86asm.RBP && src == x86asm.RSP && rspValid {
					// rbp now holds cfa - depth.
					if depth != 16 {
						return nil
					}
					rbpSet = true
				}
				if dst == x86asm.RSP {
					rspValid = false
				}
				break
			}
			m, ok := inst.Args[0].(x86asm.Mem)
			if !ok || m.Index != 0 || m.Segment != 0 {
				break
			}
			src, ok := inst.Args[1].(x86asm.Reg)
			if !ok {
				break
			}
			dr, ok := amd64Saved[src]
			if !ok {
				break
			}
			switch {
			case m.Base == x86asm.RBP && rbpSet:
				saved = append(saved, pending{dr, 16 - m.Disp})
			case m.Base == x86asm.RSP && rspValid:
				saved = append(saved, pending{dr, depth - m.Disp})
			}
		case x86asm.AND, x86asm.LEA:
			if r, ok := inst.Args[0].(x86asm.Reg); ok && r == x86asm.RSP {
				rspValid = false
			}
		case x86asm.CALL, x86asm.RET, x86asm.JMP:
			code = nil
		}
	}
	if !rbpSet {
		return nil
	}
	// cfa = fp + 16.
	cfa := fp.Add(16)
	spills := make([]frame.Spill, 0, len(saved))
	for _, s := range saved {
		spills = append(spills, frame.Spill{Reg: s.reg, Addr: cfa.Add(-s.off)})
	}
	return spills
}

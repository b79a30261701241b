// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-delve/delve/pkg/dwarf/op"

	"golang.org/x/vmcore/arch"
	"golang.org/x/vmcore/internal/core"
)

// A Location says where a register's value lives at some depth of a
// stack walk.
type Location struct {
	// InMemory is false when the value is still in the thread's live
	// register set.
	InMemory bool
	Addr     core.Address
}

// Live is the location of a register that no frame has spilled.
var Live = Location{}

// At returns the location of a value saved at address a.
func At(a core.Address) Location {
	return Location{InMemory: true, Addr: a}
}

func (l Location) String() string {
	if !l.InMemory {
		return "live"
	}
	return "at " + l.Addr.String()
}

// A Spill records that a frame saved reg at Addr.
type Spill struct {
	Reg  uint64
	Addr core.Address
}

// A SpillOracle reports which callee-saved registers a frame saved and
// where.
type SpillOracle interface {
	Spills(space core.AddressSpace, f *Frame) ([]Spill, error)
}

// SpillFunc adapts a function to a SpillOracle.
type SpillFunc func(space core.AddressSpace, f *Frame) ([]Spill, error)

func (fn SpillFunc) Spills(space core.AddressSpace, f *Frame) ([]Spill, error) {
	return fn(space, f)
}

// FramePointerSpills knows only the saves every frame-pointer prologue
// makes: the caller's frame pointer at the link slot and, on
// link-register machines, the return address at the return slot.
type FramePointerSpills struct{}

func (FramePointerSpills) Spills(space core.AddressSpace, f *Frame) ([]Spill, error) {
	if f.FP == 0 {
		return nil, nil
	}
	a := space.Arch()
	s := []Spill{{Reg: a.FPReg, Addr: f.LinkSlot(a)}}
	if a.HasLR {
		s = append(s, Spill{Reg: a.LRReg, Addr: f.ReturnSlot(a)})
	}
	return s, nil
}

// Chain combines oracles. When several report the same register, the
// last one wins.
func Chain(oracles ...SpillOracle) SpillOracle {
	return SpillFunc(func(space core.AddressSpace, f *Frame) ([]Spill, error) {
		var all []Spill
		for _, o := range oracles {
			s, err := o.Spills(space, f)
			if err != nil {
				return nil, err
			}
			all = append(all, s...)
		}
		return all, nil
	})
}

// A RegisterMap tracks where each callee-saved register lives as a stack
// walk moves from a frame to its sender. A map belongs to one walk; use
// Clone to fork it.
type RegisterMap struct {
	arch   *arch.Architecture
	update bool
	saved  map[uint64]bool // callee-saved registers
	locs   map[uint64]Location
	depth  int
}

// NewRegisterMap returns a map with every register live. If update is
// false the map ignores transitions.
func NewRegisterMap(a *arch.Architecture, update bool) *RegisterMap {
	m := &RegisterMap{
		arch:   a,
		update: update,
		saved:  make(map[uint64]bool, len(a.CalleeSaved)),
		locs:   make(map[uint64]Location),
	}
	for _, r := range a.CalleeSaved {
		m.saved[r] = true
	}
	return m
}

// Update reports whether the map follows transitions.
func (m *RegisterMap) Update() bool { return m.update }

// Depth returns the number of transitions applied.
func (m *RegisterMap) Depth() int { return m.depth }

// Location returns where reg lives at the map's current depth.
func (m *RegisterMap) Location(reg uint64) Location {
	return m.locs[reg]
}

// Transition records the registers a frame spilled as the walk moves to
// its sender. Registers not in spills keep their previous location, as do
// registers that are not callee-saved.
func (m *RegisterMap) Transition(spills []Spill) {
	if !m.update {
		return
	}
	m.depth++
	for _, s := range spills {
		if m.saved[s.Reg] {
			m.locs[s.Reg] = At(s.Addr)
		}
	}
}

// Clone returns an independent copy of m.
func (m *RegisterMap) Clone() *RegisterMap {
	c := *m
	c.locs = make(map[uint64]Location, len(m.locs))
	for r, l := range m.locs {
		c.locs[r] = l
	}
	return &c
}

// Value returns the value of reg at the map's depth. Live registers come
// from regs, the thread's register snapshot.
func (m *RegisterMap) Value(space core.AddressSpace, regs *op.DwarfRegisters, reg uint64) (uint64, error) {
	l := m.locs[reg]
	if l.InMemory {
		return space.ReadWord(l.Addr)
	}
	if regs == nil || regs.Reg(reg) == nil {
		return 0, fmt.Errorf("register %s: %w", m.arch.RegName(reg), ErrNoInformation)
	}
	return regs.Uint64Val(reg), nil
}

// Print writes the location of every callee-saved register to w.
func (m *RegisterMap) Print(w io.Writer) {
	regs := append([]uint64(nil), m.arch.CalleeSaved...)
	sort.Slice(regs, func(i, j int) bool { return regs[i] < regs[j] })
	fmt.Fprintf(w, "depth %d\n", m.depth)
	for _, r := range regs {
		fmt.Fprintf(w, "  %-4s %s\n", m.arch.RegName(r), m.locs[r])
	}
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thread

import (
	"github.com/go-delve/delve/pkg/dwarf/op"

	"golang.org/x/vmcore/arch"
	"golang.org/x/vmcore/internal/frame"
	"golang.org/x/vmcore/internal/prologue"
)

// A strategy holds what differs between targets.
type strategy struct {
	arch *arch.Architecture

	// anchorPC is false where the runtime does not record a pc in the
	// frame anchor.
	anchorPC bool

	// seed lists the registers a frame guess starts from, stack pointer
	// first.
	seed []uint64

	// spills returns the oracle for register spills. funcs may be nil.
	spills func(funcs prologue.FuncLookup) frame.SpillOracle
}

// guessRegs returns the part of regs a frame guess may use.
func (s strategy) guessRegs(regs *op.DwarfRegisters) *op.DwarfRegisters {
	vals := make(map[uint64]uint64, len(s.seed))
	for _, r := range s.seed {
		if regs.Reg(r) != nil {
			vals[r] = regs.Uint64Val(r)
		}
	}
	return s.arch.NewRegisters(vals)
}

func framePointerSpills(prologue.FuncLookup) frame.SpillOracle {
	return frame.FramePointerSpills{}
}

var strategies = map[Key]strategy{
	{"linux", "amd64"}:   amd64Strategy(),
	{"windows", "amd64"}: amd64Strategy(),
	{"darwin", "amd64"}:  amd64Strategy(),
	{"freebsd", "amd64"}: amd64Strategy(),

	{"linux", "arm64"}:  arm64Strategy(true),
	{"darwin", "arm64"}: arm64Strategy(true),
	// The Windows runtime never stores the pc in the anchor.
	{"windows", "arm64"}: arm64Strategy(false),

	{"linux", "riscv64"}: riscv64Strategy(),
}

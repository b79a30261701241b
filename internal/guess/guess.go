// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guess recovers a plausible frame for a thread whose runtime did
// not record one, by scanning its stack for a saved frame pointer and
// return address pair.
package guess

import (
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/frame"
)

const (
	// DefaultRange is how far above the stack pointer the scan looks.
	DefaultRange = 128 << 10
	// DefaultMaxStack bounds how far above the stack pointer a saved frame
	// pointer may point.
	DefaultMaxStack = 8 << 20
)

// CodeRegions tells whether an address lies in code the inferior knows
// about. A return address must.
type CodeRegions interface {
	IsInKnownCode(pc core.Address) bool
}

// CodeRegionsFunc adapts a function to CodeRegions.
type CodeRegionsFunc func(pc core.Address) bool

func (f CodeRegionsFunc) IsInKnownCode(pc core.Address) bool { return f(pc) }

// A Guesser scans stacks for frames.
type Guesser struct {
	space    core.AddressSpace
	code     CodeRegions
	logger   log.Logger
	scan     int64
	maxStack int64
}

// An Option configures a Guesser.
type Option func(*Guesser)

// WithRange sets the number of bytes above the stack pointer to scan.
// A bound that is not positive leaves DefaultRange in place.
func WithRange(n int64) Option {
	return func(g *Guesser) {
		if n > 0 {
			g.scan = n
		}
	}
}

// WithMaxStack sets the largest plausible distance between the stack
// pointer and a saved frame pointer. A distance that is not positive
// leaves DefaultMaxStack in place.
func WithMaxStack(n int64) Option {
	return func(g *Guesser) {
		if n > 0 {
			g.maxStack = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(g *Guesser) { g.logger = l }
}

// New returns a Guesser reading space and trusting code for return
// addresses.
func New(space core.AddressSpace, code CodeRegions, opts ...Option) *Guesser {
	g := &Guesser{
		space:    space,
		code:     code,
		logger:   log.NewNopLogger(),
		scan:     DefaultRange,
		maxStack: DefaultMaxStack,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Guess returns a frame for the thread whose registers are regs. The frame
// pointer register, if the architecture keeps one, is tried first; then
// each word from the stack pointer up to the scan bound. The first
// candidate whose saved frame pointer is plausible and whose return
// address is in known code wins.
//
// The result has SP set to the stack pointer of regs, and FP and PC set
// to the saved values found. If nothing qualifies, Guess returns
// frame.ErrNoInformation.
func (g *Guesser) Guess(regs *op.DwarfRegisters) (*frame.Frame, error) {
	if regs == nil {
		return nil, frame.ErrNoInformation
	}
	a := g.space.Arch()
	w := int64(a.PointerSize)
	sp := core.Address(regs.SP())
	if sp == 0 || !sp.IsAligned(w) {
		return nil, fmt.Errorf("%w: stack pointer %v", frame.ErrNoInformation, sp)
	}
	end := sp.Add(g.scan)
	if end < sp {
		end = ^core.Address(0) &^ core.Address(w-1)
	}
	s := &scanner{g: g, sp: sp, end: end, w: w}

	if a.FPReg != 0 && regs.Reg(a.FPReg) != nil {
		fp := core.Address(regs.Uint64Val(a.FPReg))
		if fp != 0 {
			c := (&frame.Frame{SP: sp, FP: fp}).LinkSlot(a)
			ret := (&frame.Frame{SP: sp, FP: fp}).ReturnSlot(a)
			if c >= sp && c.Add(w) <= end && ret >= sp && ret.Add(w) <= end {
				if f, ok := s.try(c, ret); ok {
					level.Debug(g.logger).Log("msg", "guessed frame from frame pointer", "frame", f)
					return f, nil
				}
				// A stale frame pointer may point anywhere.
				s.err = nil
			}
		}
	}

	for c := sp; c.Add(2*w) <= end; c = c.Add(w) {
		f, ok := s.try(c, c.Add(w))
		if s.err != nil {
			break
		}
		if ok {
			level.Debug(g.logger).Log("msg", "guessed frame from stack scan", "frame", f, "slot", c)
			return f, nil
		}
	}
	if s.err != nil {
		level.Debug(g.logger).Log("msg", "stack scan stopped", "err", s.err)
		return nil, fmt.Errorf("%w: %w", frame.ErrNoInformation, s.err)
	}
	level.Debug(g.logger).Log("msg", "no plausible frame", "sp", sp, "range", g.scan)
	return nil, frame.ErrNoInformation
}

// scanner reads the stack a page-bounded chunk at a time, never past end.
type scanner struct {
	g       *Guesser
	sp, end core.Address
	w       int64

	buf  []byte
	base core.Address // address of buf[0]
	err  error
}

// word returns the word at a, which must lie in [sp, end).
func (s *scanner) word(a core.Address) (uint64, bool) {
	if s.buf == nil || a < s.base || a.Add(s.w) > s.base.Add(int64(len(s.buf))) {
		base := a
		lim := core.Address(core.Align(uint64(base)+1, core.PageSize))
		lim = lim.Min(s.end)
		if lim.Sub(base) < s.w {
			lim = base.Add(s.w)
		}
		buf := make([]byte, lim.Sub(base))
		if err := s.g.space.ReadAt(buf, base); err != nil {
			s.err = err
			return 0, false
		}
		s.buf, s.base = buf, base
	}
	off := a.Sub(s.base)
	return s.g.space.Arch().Uintptr(s.buf[off : off+s.w]), true
}

// try tests the pair (saved frame pointer at c, return address at ret).
func (s *scanner) try(c, ret core.Address) (*frame.Frame, bool) {
	fp, ok := s.word(c)
	if !ok {
		return nil, false
	}
	if core.Address(fp) <= s.sp || core.Address(fp) >= s.sp.Add(s.g.maxStack) || !core.Address(fp).IsAligned(s.w) {
		return nil, false
	}
	pc, ok := s.word(ret)
	if !ok {
		return nil, false
	}
	if !s.g.code.IsInKnownCode(core.Address(pc)) {
		return nil, false
	}
	return &frame.Frame{SP: s.sp, FP: core.Address(fp), PC: core.Address(pc)}, true
}

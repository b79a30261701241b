// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame describes call frames of an inferior thread and how to
// step from a frame to the frame that called it.
package frame

import (
	"errors"
	"fmt"

	"golang.org/x/vmcore/arch"
	"golang.org/x/vmcore/internal/core"
)

var (
	// ErrNoInformation means a frame could not be determined. It is an
	// expected outcome, for example for a thread running native code.
	ErrNoInformation = errors.New("no frame information")
	// ErrIncomplete is returned by New for a frame with neither a frame
	// pointer nor a pc.
	ErrIncomplete = errors.New("frame has neither frame pointer nor pc")
)

// A Frame is one activation record on a thread's stack. SP is always
// known. A zero FP or PC means that value is not known.
type Frame struct {
	SP core.Address
	FP core.Address
	PC core.Address
}

// New returns a frame. At least one of fp and pc must be non-zero.
func New(sp, fp, pc core.Address) (*Frame, error) {
	if fp == 0 && pc == 0 {
		return nil, ErrIncomplete
	}
	return &Frame{SP: sp, FP: fp, PC: pc}, nil
}

// HasFP reports whether the frame pointer is known.
func (f *Frame) HasFP() bool { return f.FP != 0 }

// HasPC reports whether the pc is known.
func (f *Frame) HasPC() bool { return f.PC != 0 }

func (f *Frame) String() string {
	return fmt.Sprintf("sp=%v fp=%s pc=%s", f.SP, orUnknown(f.FP), orUnknown(f.PC))
}

func orUnknown(a core.Address) string {
	if a == 0 {
		return "unknown"
	}
	return a.String()
}

// slot returns the address of the word off words away from the frame pointer.
func (f *Frame) slot(a *arch.Architecture, off int64) core.Address {
	return f.FP.Add(off * int64(a.PointerSize))
}

// LinkSlot returns where f keeps its caller's frame pointer.
func (f *Frame) LinkSlot(a *arch.Architecture) core.Address {
	return f.slot(a, a.Frame.LinkOffset)
}

// ReturnSlot returns where f keeps the return address into its caller.
func (f *Frame) ReturnSlot(a *arch.Architecture) core.Address {
	return f.slot(a, a.Frame.ReturnOffset)
}

// Sender returns the frame that called f. Its linkage is read through
// the frame pointer. If m is non-nil, the registers oracle reports as
// spilled by f are recorded in m.
//
// Sender returns an error matching ErrNoInformation if f has no frame
// pointer, or if the saved frame pointer is null, unreadable, or does
// not move up the stack.
func (f *Frame) Sender(space core.AddressSpace, oracle SpillOracle, m *RegisterMap) (*Frame, error) {
	if f.FP == 0 {
		return nil, ErrNoInformation
	}
	a := space.Arch()
	link, err := space.ReadWord(f.LinkSlot(a))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoInformation, err)
	}
	if link == 0 {
		return nil, ErrNoInformation
	}
	if core.Address(link) <= f.FP {
		return nil, fmt.Errorf("%w: saved frame pointer %#x not above %v", ErrNoInformation, link, f.FP)
	}
	pc, err := space.ReadWord(f.ReturnSlot(a))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoInformation, err)
	}
	if m != nil && oracle != nil {
		spills, err := oracle.Spills(space, f)
		if err != nil {
			return nil, err
		}
		m.Transition(spills)
	}
	return &Frame{
		SP: f.slot(a, a.Frame.SenderSPOffset),
		FP: core.Address(link),
		PC: core.Address(pc),
	}, nil
}

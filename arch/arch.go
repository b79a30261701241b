// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions.
package arch

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/go-delve/delve/pkg/dwarf/regnum"
)

// FrameLayout describes where a frame-pointer based frame keeps its
// linkage. Offsets are in words relative to the frame pointer.
type FrameLayout struct {
	// LinkOffset locates the caller's saved frame pointer.
	LinkOffset int64
	// ReturnOffset locates the return address into the caller.
	ReturnOffset int64
	// SenderSPOffset is where the caller's stack pointer points.
	SenderSPOffset int64
}

// Architecture defines the architecture-specific details for a given machine.
type Architecture struct {
	// Name is the GOARCH-style name of the architecture.
	Name string
	// IntSize is the size of the int type, in bytes.
	IntSize int
	// PointerSize is the size of a pointer, in bytes.
	PointerSize int
	// ByteOrder is the byte order for ints and pointers.
	ByteOrder binary.ByteOrder

	// DWARF register numbers. HasLR is false when return addresses
	// are pushed on the stack by the call instruction.
	PCReg, SPReg, FPReg, LRReg uint64
	HasLR                      bool

	// CalleeSaved lists the registers a stack walk tracks through
	// a RegisterMap.
	CalleeSaved []uint64

	Frame FrameLayout

	regName func(uint64) string
}

func (a *Architecture) String() string {
	return a.Name
}

func (a *Architecture) Uintptr(buf []byte) uint64 {
	if len(buf) != a.PointerSize {
		panic("bad PointerSize")
	}
	switch a.PointerSize {
	case 4:
		return uint64(a.ByteOrder.Uint32(buf[:4]))
	case 8:
		return a.ByteOrder.Uint64(buf[:8])
	}
	panic("no PointerSize")
}

// RegName returns the conventional name of DWARF register n.
func (a *Architecture) RegName(n uint64) string {
	if a.regName == nil {
		return fmt.Sprintf("r%d", n)
	}
	return a.regName(n)
}

// NewRegisters builds a register snapshot from DWARF register number/value
// pairs. Registers missing from vals are absent from the snapshot.
func (a *Architecture) NewRegisters(vals map[uint64]uint64) *op.DwarfRegisters {
	regs := op.NewDwarfRegisters(0, nil, a.ByteOrder, a.PCReg, a.SPReg, a.FPReg, a.LRReg)
	nums := make([]uint64, 0, len(vals))
	for n := range vals {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	for _, n := range nums {
		regs.AddReg(n, op.DwarfRegisterFromUint64(vals[n]))
	}
	return regs
}

var AMD64 = Architecture{
	Name:        "amd64",
	IntSize:     8,
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
	PCReg:       regnum.AMD64_Rip,
	SPReg:       regnum.AMD64_Rsp,
	FPReg:       regnum.AMD64_Rbp,
	CalleeSaved: []uint64{
		regnum.AMD64_Rbx, regnum.AMD64_Rbp,
		regnum.AMD64_R12, regnum.AMD64_R13, regnum.AMD64_R14, regnum.AMD64_R15,
	},
	// push %rbp; mov %rsp,%rbp
	Frame:   FrameLayout{LinkOffset: 0, ReturnOffset: 1, SenderSPOffset: 2},
	regName: regnum.AMD64ToName,
}

var ARM64 = Architecture{
	Name:        "arm64",
	IntSize:     8,
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
	PCReg:       regnum.ARM64_PC,
	SPReg:       regnum.ARM64_SP,
	FPReg:       regnum.ARM64_BP,
	LRReg:       regnum.ARM64_LR,
	HasLR:       true,
	CalleeSaved: []uint64{
		regnum.ARM64_X0 + 19, regnum.ARM64_X0 + 20, regnum.ARM64_X0 + 21,
		regnum.ARM64_X0 + 22, regnum.ARM64_X0 + 23, regnum.ARM64_X0 + 24,
		regnum.ARM64_X0 + 25, regnum.ARM64_X0 + 26, regnum.ARM64_X0 + 27,
		regnum.ARM64_X0 + 28, regnum.ARM64_BP, regnum.ARM64_LR,
	},
	// stp x29, x30, [sp, #-16]!; mov x29, sp
	Frame:   FrameLayout{LinkOffset: 0, ReturnOffset: 1, SenderSPOffset: 2},
	regName: regnum.ARM64ToName,
}

// RISC-V DWARF numbering: x0-x31 are 0-31. There is no DWARF number for
// the pc, so one past the vector registers is used.
const (
	RISCV64_RA = 1
	RISCV64_SP = 2
	RISCV64_S0 = 8 // frame pointer
	RISCV64_S1 = 9
	RISCV64_S2 = 18 // s2-s11 follow
	RISCV64_PC = 96
)

var RISCV64 = Architecture{
	Name:        "riscv64",
	IntSize:     8,
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
	PCReg:       RISCV64_PC,
	SPReg:       RISCV64_SP,
	FPReg:       RISCV64_S0,
	LRReg:       RISCV64_RA,
	HasLR:       true,
	CalleeSaved: []uint64{
		RISCV64_S0, RISCV64_S1,
		RISCV64_S2, RISCV64_S2 + 1, RISCV64_S2 + 2, RISCV64_S2 + 3, RISCV64_S2 + 4,
		RISCV64_S2 + 5, RISCV64_S2 + 6, RISCV64_S2 + 7, RISCV64_S2 + 8, RISCV64_S2 + 9,
		RISCV64_RA,
	},
	// sd ra, -8(s0); sd s0, -16(s0) with s0 = caller's sp
	Frame:   FrameLayout{LinkOffset: -2, ReturnOffset: -1, SenderSPOffset: 0},
	regName: riscv64RegName,
}

func riscv64RegName(n uint64) string {
	switch {
	case n == RISCV64_PC:
		return "pc"
	case n == 0:
		return "zero"
	case n == RISCV64_RA:
		return "ra"
	case n == RISCV64_SP:
		return "sp"
	case n == 3:
		return "gp"
	case n == 4:
		return "tp"
	case n >= 5 && n <= 7:
		return fmt.Sprintf("t%d", n-5)
	case n == RISCV64_S0:
		return "s0"
	case n == RISCV64_S1:
		return "s1"
	case n >= 10 && n <= 17:
		return fmt.Sprintf("a%d", n-10)
	case n >= RISCV64_S2 && n <= 27:
		return fmt.Sprintf("s%d", n-RISCV64_S2+2)
	case n >= 28 && n <= 31:
		return fmt.Sprintf("t%d", n-28+3)
	}
	return fmt.Sprintf("x%d", n)
}

// Lookup returns the architecture with the given name. Both GOARCH names
// and the common ELF/uname spellings are accepted.
func Lookup(name string) (*Architecture, error) {
	switch name {
	case "amd64", "x86_64", "x86-64":
		return &AMD64, nil
	case "arm64", "aarch64":
		return &ARM64, nil
	case "riscv64":
		return &RISCV64, nil
	}
	return nil, fmt.Errorf("unsupported architecture %q", name)
}

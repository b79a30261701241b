// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"debug/elf"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"golang.org/x/sys/unix"
)

func ptraceGetRegs(tid int) (map[uint64]uint64, error) {
	// PTRACE_GETREGS does not exist on arm64.
	var r unix.PtraceRegsArm64
	if err := unix.PtraceGetRegSetArm64(tid, int(elf.NT_PRSTATUS), &r); err != nil {
		return nil, err
	}
	regs := make(map[uint64]uint64, len(r.Regs)+2)
	for i, v := range r.Regs {
		regs[regnum.ARM64_X0+uint64(i)] = v
	}
	regs[regnum.ARM64_SP] = r.Sp
	regs[regnum.ARM64_PC] = r.Pc
	return regs, nil
}

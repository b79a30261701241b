// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"golang.org/x/sys/unix"
)

func ptraceGetRegs(tid int) (map[uint64]uint64, error) {
	var r unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &r); err != nil {
		return nil, err
	}
	return map[uint64]uint64{
		regnum.AMD64_Rax: r.Rax,
		regnum.AMD64_Rdx: r.Rdx,
		regnum.AMD64_Rcx: r.Rcx,
		regnum.AMD64_Rbx: r.Rbx,
		regnum.AMD64_Rsi: r.Rsi,
		regnum.AMD64_Rdi: r.Rdi,
		regnum.AMD64_Rbp: r.Rbp,
		regnum.AMD64_Rsp: r.Rsp,
		regnum.AMD64_R8:  r.R8,
		regnum.AMD64_R9:  r.R9,
		regnum.AMD64_R10: r.R10,
		regnum.AMD64_R11: r.R11,
		regnum.AMD64_R12: r.R12,
		regnum.AMD64_R13: r.R13,
		regnum.AMD64_R14: r.R14,
		regnum.AMD64_R15: r.R15,
		regnum.AMD64_Rip: r.Rip,
	}, nil
}

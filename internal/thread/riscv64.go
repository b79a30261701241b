// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thread

import "golang.org/x/vmcore/arch"

// riscv64 frames are linked through s0, which points at the caller's
// stack pointer; ra and the caller's s0 sit just below it.
func riscv64Strategy() strategy {
	return strategy{
		arch:     &arch.RISCV64,
		anchorPC: true,
		seed:     []uint64{arch.RISCV64_SP, arch.RISCV64_S0},
		spills:   framePointerSpills,
	}
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thread

import (
	"github.com/go-delve/delve/pkg/dwarf/regnum"

	"golang.org/x/vmcore/arch"
	"golang.org/x/vmcore/internal/frame"
	"golang.org/x/vmcore/internal/prologue"
)

// amd64 frames are linked through rbp. With a function table, prologues
// are decoded to find the other callee-saved registers.
func amd64Strategy() strategy {
	return strategy{
		arch:     &arch.AMD64,
		anchorPC: true,
		seed:     []uint64{regnum.AMD64_Rsp, regnum.AMD64_Rbp},
		spills: func(funcs prologue.FuncLookup) frame.SpillOracle {
			if funcs == nil {
				return frame.FramePointerSpills{}
			}
			return frame.Chain(frame.FramePointerSpills{}, prologue.NewAMD64(funcs))
		},
	}
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thread

import (
	"github.com/go-delve/delve/pkg/dwarf/regnum"

	"golang.org/x/vmcore/arch"
)

// arm64 frames are linked through x29, with the return address saved
// beside it. The live lr is not used to seed a guess: in a frame that has
// already made a call it is stale.
func arm64Strategy(anchorPC bool) strategy {
	return strategy{
		arch:     &arch.ARM64,
		anchorPC: anchorPC,
		seed:     []uint64{regnum.ARM64_SP, regnum.ARM64_BP},
		spills:   framePointerSpills,
	}
}

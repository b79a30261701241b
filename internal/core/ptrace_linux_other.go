// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && !amd64 && !arm64

package core

import "fmt"

func ptraceGetRegs(tid int) (map[uint64]uint64, error) {
	return nil, fmt.Errorf("reading registers of thread %d: %w", tid, errUnsupportedHost)
}

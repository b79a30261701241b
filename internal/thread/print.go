// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thread

import (
	"fmt"
	"io"

	"golang.org/x/vmcore/internal/core"
)

const unknown = "unknown"

// PrintSummary writes a description of the thread at ref to w. Anything
// that can't be read prints as unknown.
func (a *Access) PrintSummary(w io.Writer, ref core.Address) {
	fmt.Fprintf(w, "thread %v (%s)\n", ref, a.key)

	fmt.Fprint(w, "  last frame: ")
	if f, err := a.LastFrame(ref); err == nil {
		fmt.Fprintln(w, f)
	} else {
		fmt.Fprintln(w, unknown)
	}

	fmt.Fprint(w, "  os thread:  ")
	a.PrintThreadID(w, ref)
	fmt.Fprintln(w)

	fmt.Fprint(w, "  sp:         ")
	if sp, err := a.LastSP(ref); err == nil {
		fmt.Fprintln(w, sp)
	} else {
		fmt.Fprintln(w, unknown)
	}
}

// PrintThreadID writes the OS thread id of the thread at ref, or unknown.
func (a *Access) PrintThreadID(w io.Writer, ref core.Address) {
	th, err := a.ThreadProxy(ref)
	if err != nil {
		fmt.Fprint(w, unknown)
		return
	}
	fmt.Fprint(w, th.TID())
}

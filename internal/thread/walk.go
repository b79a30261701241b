// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thread

import (
	"errors"

	"github.com/go-kit/log/level"

	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/frame"
)

// DefaultFrameLimit bounds walks made with a limit of 0.
const DefaultFrameLimit = 1024

// A Stack is the result of a walk.
type Stack struct {
	Frames []*frame.Frame
	// Regs follows the walk; it describes the registers of the last frame.
	Regs *frame.RegisterMap
	// Guessed is set when the first frame came from a stack scan rather
	// than from the runtime.
	Guessed bool
}

// Walk returns the frames of the thread at ref, innermost first. It starts
// from the frame the runtime recorded, or a guess when there is none, and
// follows senders until they run out or limit frames are found.
//
// If some frames were found, Walk returns them along with any error that
// stopped the walk early. Running out of senders is not an error.
func (a *Access) Walk(ref core.Address, limit int) (*Stack, error) {
	if limit <= 0 {
		limit = DefaultFrameLimit
	}
	st := &Stack{Regs: a.NewRegisterMap(ref, true)}
	f, err := a.LastFrame(ref)
	if errors.Is(err, ErrNoInformation) {
		f, err = a.CurrentFrameGuess(ref)
		st.Guessed = true
	}
	if err != nil {
		return nil, err
	}
	for {
		st.Frames = append(st.Frames, f)
		if len(st.Frames) >= limit {
			level.Debug(a.logger).Log("msg", "frame limit reached", "thread", ref, "limit", limit)
			return st, nil
		}
		next, err := f.Sender(a.space, a.spills, st.Regs)
		if errors.Is(err, ErrNoInformation) {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		f = next
	}
}

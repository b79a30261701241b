// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package core

import (
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/op"

	"golang.org/x/vmcore/arch"
)

// A PtraceSpace reads a live process under ptrace. Only Linux hosts
// support it.
type PtraceSpace struct{}

func Attach(pid int) (*PtraceSpace, error) {
	return nil, fmt.Errorf("attach to %d: %w", pid, errUnsupportedHost)
}

func NewPtraceSpace(pid int) (*PtraceSpace, error) {
	return Attach(pid)
}

func (s *PtraceSpace) Detach() error                    { return errUnsupportedHost }
func (s *PtraceSpace) Close() error                     { return errUnsupportedHost }
func (s *PtraceSpace) PID() int                         { return 0 }
func (s *PtraceSpace) Arch() *arch.Architecture         { return nil }
func (s *PtraceSpace) ReadAt(b []byte, a Address) error { return errUnsupportedHost }
func (s *PtraceSpace) ReadWord(a Address) (uint64, error) {
	return 0, errUnsupportedHost
}
func (s *PtraceSpace) RegisterContext(tid uint64) (*op.DwarfRegisters, error) {
	return nil, errUnsupportedHost
}
func (s *PtraceSpace) ResolveThread(idAddr Address) (*Thread, error) {
	return nil, errUnsupportedHost
}

// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/go-delve/delve/pkg/dwarf/op"
	"golang.org/x/sys/unix"

	"golang.org/x/vmcore/arch"
)

// A PtraceSpace reads a live process that is already stopped under
// ptrace by the calling tool. Only processes of the host architecture
// can be read.
type PtraceSpace struct {
	pid  int
	arch *arch.Architecture

	fc chan func() error
	ec chan error
}

var _ AddressSpace = (*PtraceSpace)(nil)

// NewPtraceSpace returns an address space for the traced process pid.
func NewPtraceSpace(pid int) (*PtraceSpace, error) {
	a, err := arch.Lookup(runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	s := &PtraceSpace{
		pid:  pid,
		arch: a,
		fc:   make(chan func() error),
		ec:   make(chan error),
	}
	go ptraceRun(s.fc, s.ec)
	return s, nil
}

// Attach stops every thread of pid under ptrace and returns an address
// space for it. Detach releases the threads again.
func Attach(pid int) (*PtraceSpace, error) {
	s, err := NewPtraceSpace(pid)
	if err != nil {
		return nil, err
	}
	tids, err := s.tasks()
	if err != nil {
		s.Close()
		return nil, err
	}
	for _, tid := range tids {
		err := s.do(func() error {
			if err := unix.PtraceAttach(tid); err != nil {
				return err
			}
			var status unix.WaitStatus
			_, err := unix.Wait4(tid, &status, unix.WALL, nil)
			return err
		})
		if err != nil {
			s.Detach()
			s.Close()
			return nil, fmt.Errorf("attach to thread %d: %v", tid, err)
		}
	}
	return s, nil
}

// Detach releases all threads of the process. Errors for threads that
// already exited are ignored.
func (s *PtraceSpace) Detach() error {
	tids, err := s.tasks()
	if err != nil {
		return err
	}
	for _, tid := range tids {
		s.do(func() error { return unix.PtraceDetach(tid) })
	}
	return nil
}

// Close stops the ptrace service thread. It does not detach.
func (s *PtraceSpace) Close() error {
	if s.fc == nil {
		return ErrClosed
	}
	close(s.fc)
	s.fc = nil
	return nil
}

// ptraceRun runs all the closures from fc on a dedicated OS thread. Errors
// are returned on ec. Both channels must be unbuffered, to ensure that the
// resultant error is sent back to the same goroutine that sent the closure.
func ptraceRun(fc chan func() error, ec chan error) {
	if cap(fc) != 0 || cap(ec) != 0 {
		panic("ptraceRun was given buffered channels")
	}
	runtime.LockOSThread()
	for f := range fc {
		ec <- f()
	}
}

func (s *PtraceSpace) do(f func() error) error {
	if s.fc == nil {
		return ErrClosed
	}
	s.fc <- f
	return <-s.ec
}

func (s *PtraceSpace) tasks() ([]int, error) {
	ents, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", s.pid))
	if err != nil {
		return nil, err
	}
	var tids []int
	for _, e := range ents {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}

func (s *PtraceSpace) Arch() *arch.Architecture {
	return s.arch
}

// PID returns the process id of the inferior.
func (s *PtraceSpace) PID() int {
	return s.pid
}

func (s *PtraceSpace) ReadAt(b []byte, a Address) error {
	err := s.do(func() error {
		n, err := unix.PtracePeekData(s.pid, uintptr(a), b)
		if err != nil {
			return err
		}
		if n != len(b) {
			return fmt.Errorf("ptracePeek: peeked %d bytes, want %d", n, len(b))
		}
		return nil
	})
	if errors.Is(err, unix.EIO) || errors.Is(err, unix.EFAULT) {
		return &MemoryError{Addr: a, Len: int64(len(b))}
	}
	return err
}

func (s *PtraceSpace) ReadWord(a Address) (uint64, error) {
	return readWord(s, a)
}

func (s *PtraceSpace) RegisterContext(tid uint64) (*op.DwarfRegisters, error) {
	var regs map[uint64]uint64
	err := s.do(func() error {
		var err error
		regs, err = ptraceGetRegs(int(tid))
		return err
	})
	if errors.Is(err, unix.ESRCH) {
		return nil, fmt.Errorf("thread %d: %w", tid, ErrNoSuchThread)
	}
	if err != nil {
		return nil, err
	}
	return s.arch.NewRegisters(regs), nil
}

func (s *PtraceSpace) ResolveThread(idAddr Address) (*Thread, error) {
	id, err := ReadUint32(s, idAddr)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(fmt.Sprintf("/proc/%d/task/%d", s.pid, id)); err != nil {
		return nil, fmt.Errorf("thread %d: %w", id, ErrNoSuchThread)
	}
	return NewThread(s, uint64(id)), nil
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The core library reads memory and OS thread state out of an inferior
// process. The inferior may be a live process stopped under ptrace, a
// process served by a remote proxy, or a captured snapshot of one (an ELF
// core file or a saved Snapshot).
//
// There's nothing runtime-specific about this library. See ../thread for
// the next layer up, which interprets runtime thread descriptors.
//
// Reads never panic. Memory layouts are interpreted speculatively, so an
// unreadable address is an ordinary error wrapping ErrNotMapped.
package core

import (
	"errors"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/op"

	"golang.org/x/vmcore/arch"
)

var (
	// ErrNotMapped is returned for reads of unmapped or protected memory.
	ErrNotMapped = errors.New("address not mapped")
	// ErrNoSuchThread is returned when an identifier does not name a
	// live OS thread of the inferior.
	ErrNoSuchThread = errors.New("no such thread")
	// ErrTimeout is returned when a remote target does not answer in time.
	ErrTimeout = errors.New("target did not respond")
	// ErrClosed is returned by an address space after Close.
	ErrClosed = errors.New("address space closed")

	errUnsupportedHost = errors.New("not supported on this host")
)

// A MemoryError describes a failed read.
type MemoryError struct {
	Addr Address
	Len  int64
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("cannot read %d bytes at %v: %v", e.Len, e.Addr, ErrNotMapped)
}

func (e *MemoryError) Unwrap() error {
	return ErrNotMapped
}

// An AddressSpace gives synchronous access to an inferior's memory and
// OS threads. Calls may block while the target responds.
type AddressSpace interface {
	// Arch returns the inferior's architecture.
	Arch() *arch.Architecture

	// ReadAt fills b with the memory at a. Returns an error wrapping
	// ErrNotMapped if any byte is unreadable.
	ReadAt(b []byte, a Address) error

	// ReadWord reads a pointer-sized word at a.
	ReadWord(a Address) (uint64, error)

	// RegisterContext returns the current registers of OS thread tid.
	RegisterContext(tid uint64) (*op.DwarfRegisters, error)

	// ResolveThread reads the OS thread identifier stored at idAddr and
	// returns a handle to that thread. Returns an error wrapping
	// ErrNoSuchThread if the thread does not exist.
	ResolveThread(idAddr Address) (*Thread, error)
}

// A Thread is a handle to an OS thread of the inferior.
type Thread struct {
	tid   uint64
	space AddressSpace
}

// NewThread returns a handle for OS thread tid in space.
func NewThread(space AddressSpace, tid uint64) *Thread {
	return &Thread{tid: tid, space: space}
}

// TID returns the OS thread identifier.
func (t *Thread) TID() uint64 {
	return t.tid
}

// Context returns a fresh snapshot of the thread's registers.
func (t *Thread) Context() (*op.DwarfRegisters, error) {
	return t.space.RegisterContext(t.tid)
}

func (t *Thread) String() string {
	return fmt.Sprintf("tid %d", t.tid)
}

// ReadPtr reads a pointer at a.
func ReadPtr(s AddressSpace, a Address) (Address, error) {
	w, err := s.ReadWord(a)
	return Address(w), err
}

// ReadUint32 reads a 32-bit value at a in the inferior's byte order.
func ReadUint32(s AddressSpace, a Address) (uint32, error) {
	var buf [4]byte
	if err := s.ReadAt(buf[:], a); err != nil {
		return 0, err
	}
	return s.Arch().ByteOrder.Uint32(buf[:]), nil
}

// readWord implements ReadWord on top of ReadAt.
func readWord(s AddressSpace, a Address) (uint64, error) {
	arch := s.Arch()
	buf := make([]byte, arch.PointerSize)
	if err := s.ReadAt(buf, a); err != nil {
		return 0, err
	}
	return arch.Uintptr(buf), nil
}

// Close releases the resources held by s, if it holds any.
func Close(s AddressSpace) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"golang.org/x/vmcore/arch"
)

// A Snapshot is a captured image of an inferior: memory segments plus
// the register state of each OS thread.
type Snapshot struct {
	OS       string        `msgpack:"os"`
	Arch     string        `msgpack:"arch"`
	Args     string        `msgpack:"args,omitempty"`
	Segments []Segment     `msgpack:"segments"`
	Threads  []ThreadState `msgpack:"threads"`
}

// A Segment is a page-aligned region of captured memory.
// If Data is shorter than Size, the remainder reads as zero.
type Segment struct {
	Addr   uint64 `msgpack:"addr"`
	Size   uint64 `msgpack:"size"`
	Perm   Perm   `msgpack:"perm"`
	Data   []byte `msgpack:"data"`
	Source string `msgpack:"source,omitempty"`
}

// A ThreadState holds the registers of one OS thread, keyed by DWARF
// register number.
type ThreadState struct {
	TID  uint64            `msgpack:"tid"`
	Regs map[uint64]uint64 `msgpack:"regs"`
}

// AddSegment records len(data) bytes of memory at addr, which must be
// page aligned. The segment is padded with zeros to a whole page.
func (s *Snapshot) AddSegment(addr Address, perm Perm, data []byte) {
	s.Segments = append(s.Segments, Segment{
		Addr: uint64(addr),
		Size: Align(uint64(len(data)), PageSize),
		Perm: perm,
		Data: data,
	})
}

// AddThread records the registers of OS thread tid.
func (s *Snapshot) AddThread(tid uint64, regs map[uint64]uint64) {
	s.Threads = append(s.Threads, ThreadState{TID: tid, Regs: regs})
}

// Marshal encodes s as zstd-compressed msgpack.
func (s *Snapshot) Marshal() ([]byte, error) {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// UnmarshalSnapshot decodes a snapshot produced by Marshal.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	s := new(Snapshot)
	if err := msgpack.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// WriteTo writes the encoded snapshot to w.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	b, err := s.Marshal()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ReadSnapshot reads an encoded snapshot from r.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalSnapshot(b)
}

// A SnapshotSpace serves reads out of a Snapshot.
type SnapshotSpace struct {
	arch     *arch.Architecture
	os       string
	args     string
	mappings []*Mapping // sorted by address
	table    pageTable4
	threads  map[uint64]ThreadState
	tids     []uint64

	warnings []string // warnings generated during loading
}

var _ AddressSpace = (*SnapshotSpace)(nil)

// NewSnapshotSpace indexes s for reading. s must not be modified afterwards.
func NewSnapshotSpace(s *Snapshot) (*SnapshotSpace, error) {
	a, err := arch.Lookup(s.Arch)
	if err != nil {
		return nil, err
	}
	p := &SnapshotSpace{
		arch:    a,
		os:      s.OS,
		args:    s.Args,
		threads: make(map[uint64]ThreadState, len(s.Threads)),
	}
	for _, seg := range s.Segments {
		if seg.Size == 0 {
			continue
		}
		m := &Mapping{
			min:      Address(seg.Addr),
			max:      Address(seg.Addr + seg.Size),
			perm:     seg.Perm,
			source:   seg.Source,
			contents: seg.Data,
		}
		if uint64(len(seg.Data)) > seg.Size {
			return nil, fmt.Errorf("segment at %x has %d bytes of data for size %d", seg.Addr, len(seg.Data), seg.Size)
		}
		if Align(uint64(len(seg.Data)), PageSize) < seg.Size {
			// Pretend the missing tail is read-as-zero, like
			// pages a core dump chose not to write.
			p.warnings = append(p.warnings,
				fmt.Sprintf("Missing data at addresses [%v %v]. Assuming all zero.", m.min.Add(int64(len(seg.Data))), m.max))
		}
		if err := p.table.addMapping(m); err != nil {
			return nil, err
		}
		p.mappings = append(p.mappings, m)
	}
	sort.Slice(p.mappings, func(i, j int) bool {
		return p.mappings[i].min < p.mappings[j].min
	})
	for _, t := range s.Threads {
		if _, dup := p.threads[t.TID]; dup {
			return nil, fmt.Errorf("thread %d appears twice in snapshot", t.TID)
		}
		p.threads[t.TID] = t
		p.tids = append(p.tids, t.TID)
	}
	return p, nil
}

func (p *SnapshotSpace) Arch() *arch.Architecture {
	return p.arch
}

// OS returns the operating system the snapshot was taken on.
func (p *SnapshotSpace) OS() string {
	return p.os
}

// Args returns the initial part of the program arguments, if recorded.
func (p *SnapshotSpace) Args() string {
	return p.args
}

// Mappings returns a list of virtual memory mappings for p.
func (p *SnapshotSpace) Mappings() []*Mapping {
	return p.mappings
}

// Threads returns the OS thread ids in the snapshot, in capture order.
func (p *SnapshotSpace) Threads() []uint64 {
	return p.tids
}

func (p *SnapshotSpace) Warnings() []string {
	return p.warnings
}

// ReadableN reports whether the n bytes starting at address a are readable.
func (p *SnapshotSpace) ReadableN(a Address, n int64) bool {
	for {
		m := p.table.findMapping(a)
		if m == nil || m.perm&Read == 0 {
			return false
		}
		c := m.max.Sub(a)
		if n <= c {
			return true
		}
		n -= c
		a = a.Add(c)
	}
}

// ReadAt reads len(b) bytes at address a, possibly spanning adjacent
// mappings.
func (p *SnapshotSpace) ReadAt(b []byte, a Address) error {
	start, n := a, int64(len(b))
	for len(b) > 0 {
		m := p.table.findMapping(a)
		if m == nil || m.perm&Read == 0 {
			return &MemoryError{Addr: start, Len: n}
		}
		off := a.Sub(m.min)
		k := min(int64(len(b)), m.max.Sub(a))
		c := int64(0)
		if off < int64(len(m.contents)) {
			c = int64(copy(b[:k], m.contents[off:]))
		}
		clear(b[c:k])
		b = b[k:]
		a = a.Add(k)
	}
	return nil
}

func (p *SnapshotSpace) ReadWord(a Address) (uint64, error) {
	return readWord(p, a)
}

func (p *SnapshotSpace) RegisterContext(tid uint64) (*op.DwarfRegisters, error) {
	t, ok := p.threads[tid]
	if !ok {
		return nil, fmt.Errorf("thread %d: %w", tid, ErrNoSuchThread)
	}
	return p.arch.NewRegisters(t.Regs), nil
}

func (p *SnapshotSpace) ResolveThread(idAddr Address) (*Thread, error) {
	id, err := ReadUint32(p, idAddr)
	if err != nil {
		return nil, err
	}
	if _, ok := p.threads[uint64(id)]; !ok {
		return nil, fmt.Errorf("thread %d: %w", id, ErrNoSuchThread)
	}
	return NewThread(p, uint64(id)), nil
}

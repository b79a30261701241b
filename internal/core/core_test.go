// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/vmcore/arch"
)

func word(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func testSnapshot() *Snapshot {
	s := &Snapshot{OS: "linux", Arch: "amd64"}
	page := make([]byte, PageSize)
	copy(page[0x10:], word(0x1122334455667788))
	binary.LittleEndian.PutUint32(page[0x20:], 42)
	s.AddSegment(0x1000, Read|Write, page)
	// Adjacent mapping whose data is only partially present.
	s.Segments = append(s.Segments, Segment{Addr: 0x2000, Size: 2 * PageSize, Perm: Read, Data: []byte{1, 2, 3}})
	s.AddSegment(0x10000, Read|Exec, make([]byte, PageSize))
	s.AddThread(42, map[uint64]uint64{
		regnum.AMD64_Rip: 0x10010,
		regnum.AMD64_Rsp: 0x1800,
		regnum.AMD64_Rbp: 0x1900,
	})
	return s
}

func TestSnapshotSpaceRead(t *testing.T) {
	p, err := NewSnapshotSpace(testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, &arch.AMD64, p.Arch())
	assert.Len(t, p.Warnings(), 1)

	w, err := p.ReadWord(0x1010)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), w)

	// A read spanning the two mappings, with zero fill past the data.
	b := make([]byte, 8)
	require.NoError(t, p.ReadAt(b, 0x1ffe))
	assert.Equal(t, []byte{0, 0, 1, 2, 3, 0, 0, 0}, b)

	assert.True(t, p.ReadableN(0x1000, 3*PageSize))
	assert.False(t, p.ReadableN(0x1000, 3*PageSize+1))
}

func TestSnapshotSpaceUnmapped(t *testing.T) {
	p, err := NewSnapshotSpace(testSnapshot())
	require.NoError(t, err)

	err = p.ReadAt(make([]byte, 16), 0x3ff8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotMapped)
	var me *MemoryError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, Address(0x3ff8), me.Addr)
	assert.Equal(t, int64(16), me.Len)

	_, err = p.ReadWord(0)
	assert.ErrorIs(t, err, ErrNotMapped)
}

func TestSnapshotSpaceThreads(t *testing.T) {
	p, err := NewSnapshotSpace(testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, p.Threads())

	regs, err := p.RegisterContext(42)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10010), regs.PC())
	assert.Equal(t, uint64(0x1800), regs.SP())
	assert.Equal(t, uint64(0x1900), regs.BP())

	_, err = p.RegisterContext(7)
	assert.ErrorIs(t, err, ErrNoSuchThread)

	th, err := p.ResolveThread(0x1020)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), th.TID())

	// The word at 0x1000 is zero; there is no thread 0.
	_, err = p.ResolveThread(0x1000)
	assert.ErrorIs(t, err, ErrNoSuchThread)
}

func TestSnapshotRejectsBadInput(t *testing.T) {
	s := testSnapshot()
	s.AddThread(42, nil)
	_, err := NewSnapshotSpace(s)
	assert.Error(t, err)

	s = testSnapshot()
	s.Segments = append(s.Segments, Segment{Addr: 0x1000, Size: PageSize, Perm: Read})
	_, err = NewSnapshotSpace(s)
	assert.ErrorContains(t, err, "overlaps")

	s = &Snapshot{Arch: "mips"}
	_, err = NewSnapshotSpace(s)
	assert.Error(t, err)
}

func TestSnapshotEncoding(t *testing.T) {
	s := testSnapshot()
	var buf bytes.Buffer
	_, err := s.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.Arch, got.Arch)
	require.Len(t, got.Segments, len(s.Segments))
	assert.Equal(t, s.Segments[0].Data, got.Segments[0].Data)
	assert.Equal(t, s.Threads[0].Regs, got.Threads[0].Regs)

	_, err = UnmarshalSnapshot([]byte("not a snapshot"))
	assert.Error(t, err)
}

// countingSpace counts the reads that reach the underlying space.
type countingSpace struct {
	AddressSpace
	reads int
}

func (c *countingSpace) ReadAt(b []byte, a Address) error {
	c.reads++
	return c.AddressSpace.ReadAt(b, a)
}

func (c *countingSpace) ReadWord(a Address) (uint64, error) {
	return readWord(c, a)
}

func TestCachedSpace(t *testing.T) {
	p, err := NewSnapshotSpace(testSnapshot())
	require.NoError(t, err)
	cs := &countingSpace{AddressSpace: p}
	c, err := NewCachedSpace(cs, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	w, err := c.ReadWord(0x1010)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), w)
	n := cs.reads

	w, err = c.ReadWord(0x1010)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), w)
	assert.Equal(t, n, cs.reads, "second read should be served from the cache")

	c.Flush()
	_, err = c.ReadWord(0x1010)
	require.NoError(t, err)
	assert.Greater(t, cs.reads, n)

	_, err = c.ReadWord(0x5000)
	assert.ErrorIs(t, err, ErrNotMapped)
}

func TestRemoteSpace(t *testing.T) {
	p, err := NewSnapshotSpace(testSnapshot())
	require.NoError(t, err)

	server, client := net.Pipe()
	go NewRemoteServer(p, "linux").ServeConn(server)
	r, err := NewRemoteSpace(client, 5*time.Second)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "amd64", r.Arch().Name)
	assert.Equal(t, "linux", r.OS())

	w, err := r.ReadWord(0x1010)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), w)

	_, err = r.ReadWord(0x5000)
	assert.ErrorIs(t, err, ErrNotMapped)

	regs, err := r.RegisterContext(42)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1800), regs.SP())

	_, err = r.RegisterContext(1)
	assert.ErrorIs(t, err, ErrNoSuchThread)

	th, err := r.ResolveThread(0x1020)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), th.TID())
}

// stuckSpace never answers reads until released.
type stuckSpace struct {
	AddressSpace
	release chan struct{}
}

func (s *stuckSpace) ReadAt(b []byte, a Address) error {
	<-s.release
	return s.AddressSpace.ReadAt(b, a)
}

func TestRemoteSpaceTimeout(t *testing.T) {
	p, err := NewSnapshotSpace(testSnapshot())
	require.NoError(t, err)
	stuck := &stuckSpace{AddressSpace: p, release: make(chan struct{})}
	defer close(stuck.release)

	server, client := net.Pipe()
	go NewRemoteServer(stuck, "linux").ServeConn(server)
	r, err := NewRemoteSpace(client, 50*time.Millisecond)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadWord(0x1010)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCodeRanges(t *testing.T) {
	var c CodeRanges
	c.Add(0x3000, 0x4000)
	c.Add(0x1000, 0x2000)
	c.Add(0x1800, 0x2800)
	c.Add(0x5000, 0x5000)
	assert.Equal(t, 2, c.Len())

	for _, tc := range []struct {
		pc   Address
		want bool
	}{
		{0xfff, false},
		{0x1000, true},
		{0x27ff, true},
		{0x2800, false},
		{0x3fff, true},
		{0x4000, false},
	} {
		assert.Equal(t, tc.want, c.IsInKnownCode(tc.pc), "pc %v", tc.pc)
	}

	p, err := NewSnapshotSpace(testSnapshot())
	require.NoError(t, err)
	exec := ExecRegions(p)
	assert.True(t, exec.IsInKnownCode(0x10010))
	assert.False(t, exec.IsInKnownCode(0x1010))

	exec.Merge(&c)
	assert.Equal(t, 3, exec.Len())
	assert.True(t, exec.IsInKnownCode(0x1010))
}

func TestReadNTFile(t *testing.T) {
	e := &elf.File{FileHeader: elf.FileHeader{ByteOrder: binary.LittleEndian}}
	var desc []byte
	desc = append(desc, word(1)...)      // count
	desc = append(desc, word(0x1000)...) // page size
	desc = append(desc, word(0x1000)...)
	desc = append(desc, word(0x3000)...)
	desc = append(desc, word(0)...)
	desc = append(desc, "/bin/x\x00"...)
	s := testSnapshot()
	require.NoError(t, readNTFile(s, e, desc))
	assert.Equal(t, "/bin/x", s.Segments[0].Source)

	// A count whose table size overflows must be rejected, not read.
	for _, count := range []uint64{0x0AAAAAAAAAAAAAAB, 1 << 63, 2} {
		bad := append(word(count), word(0x1000)...)
		bad = append(bad, make([]byte, 24)...)
		assert.NotPanics(t, func() {
			assert.Error(t, readNTFile(&Snapshot{}, e, bad), "count %#x", count)
		})
	}
}

func TestAlign(t *testing.T) {
	assert.Equal(t, Address(0x2000), Align(Address(0x1001), PageSize))
	assert.Equal(t, Address(0x1000), Align(Address(0x1000), PageSize))
	assert.True(t, Address(0x1008).IsAligned(8))
	assert.False(t, Address(0x1004).IsAligned(8))
	assert.Equal(t, uint64(0x1000), AlignDown(uint64(0x1fff), 0x1000))
}

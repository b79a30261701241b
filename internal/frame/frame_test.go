// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/vmcore/arch"
	"golang.org/x/vmcore/internal/core"
)

// stack builds a space for archName with one stack page at 0x7000 whose
// words are given by vals (address to value).
func stack(t *testing.T, archName string, vals map[uint64]uint64) core.AddressSpace {
	t.Helper()
	page := make([]byte, core.PageSize)
	for a, v := range vals {
		binary.LittleEndian.PutUint64(page[a-0x7000:], v)
	}
	s := &core.Snapshot{OS: "linux", Arch: archName}
	s.AddSegment(0x7000, core.Read|core.Write, page)
	p, err := core.NewSnapshotSpace(s)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	_, err := New(0x7000, 0, 0)
	assert.ErrorIs(t, err, ErrIncomplete)

	f, err := New(0x7000, 0x7100, 0)
	require.NoError(t, err)
	assert.True(t, f.HasFP())
	assert.False(t, f.HasPC())
	assert.Equal(t, "sp=0x7000 fp=0x7100 pc=unknown", f.String())

	f, err = New(0x7000, 0, 0x401000)
	require.NoError(t, err)
	assert.Equal(t, "sp=0x7000 fp=unknown pc=0x401000", f.String())
}

func TestSender(t *testing.T) {
	for _, tc := range []struct {
		arch string
		vals map[uint64]uint64
		want Frame
	}{
		{
			// [fp] = caller fp, [fp+8] = return address.
			arch: "amd64",
			vals: map[uint64]uint64{0x7100: 0x7200, 0x7108: 0x401234},
			want: Frame{SP: 0x7110, FP: 0x7200, PC: 0x401234},
		},
		{
			arch: "arm64",
			vals: map[uint64]uint64{0x7100: 0x7200, 0x7108: 0x401234},
			want: Frame{SP: 0x7110, FP: 0x7200, PC: 0x401234},
		},
		{
			// [fp-16] = caller fp, [fp-8] = return address, fp = caller sp.
			arch: "riscv64",
			vals: map[uint64]uint64{0x70f0: 0x7200, 0x70f8: 0x401234},
			want: Frame{SP: 0x7100, FP: 0x7200, PC: 0x401234},
		},
	} {
		space := stack(t, tc.arch, tc.vals)
		f := &Frame{SP: 0x7080, FP: 0x7100, PC: 0x400000}
		got, err := f.Sender(space, nil, nil)
		require.NoError(t, err, tc.arch)
		assert.Equal(t, tc.want, *got, tc.arch)
	}
}

func TestSenderNoInformation(t *testing.T) {
	space := stack(t, "amd64", map[uint64]uint64{
		0x7100: 0,      // null link
		0x7200: 0x7180, // link moves down the stack
		0x7208: 0x401000,
	})
	for _, f := range []*Frame{
		{SP: 0x7000, PC: 0x401000}, // no frame pointer
		{SP: 0x7000, FP: 0x7100},
		{SP: 0x7000, FP: 0x7200},
		{SP: 0x7000, FP: 0x9000}, // unmapped
	} {
		_, err := f.Sender(space, nil, nil)
		assert.ErrorIs(t, err, ErrNoInformation, "%v", f)
	}
	_, err := (&Frame{SP: 0x7000, FP: 0x9000}).Sender(space, nil, nil)
	assert.ErrorIs(t, err, core.ErrNotMapped)
}

func TestSenderRecordsSpills(t *testing.T) {
	space := stack(t, "arm64", map[uint64]uint64{
		0x7100: 0x7200, 0x7108: 0x401234,
		0x7200: 0x7300, 0x7208: 0x402000,
	})
	m := NewRegisterMap(&arch.ARM64, true)
	f := &Frame{SP: 0x7080, FP: 0x7100, PC: 0x400000}
	s1, err := f.Sender(space, FramePointerSpills{}, m)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Depth())
	assert.Equal(t, At(0x7100), m.Location(regnum.ARM64_BP))
	assert.Equal(t, At(0x7108), m.Location(regnum.ARM64_LR))

	_, err = s1.Sender(space, FramePointerSpills{}, m)
	require.NoError(t, err)
	assert.Equal(t, At(0x7200), m.Location(regnum.ARM64_BP))

	// The value of the frame pointer as the sender of s1 sees it.
	v, err := m.Value(space, nil, regnum.ARM64_BP)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7300), v)
}

func TestTransitionIdempotent(t *testing.T) {
	a := &arch.AMD64
	m := NewRegisterMap(a, true)
	m.Transition([]Spill{
		{Reg: regnum.AMD64_Rbx, Addr: 0x7010},
		{Reg: regnum.AMD64_Rbp, Addr: 0x7018},
	})
	before := make(map[uint64]Location)
	for _, r := range a.CalleeSaved {
		before[r] = m.Location(r)
	}

	// The next frame saves only r12.
	m.Transition([]Spill{{Reg: regnum.AMD64_R12, Addr: 0x7040}})
	for _, r := range a.CalleeSaved {
		if r == regnum.AMD64_R12 {
			assert.Equal(t, At(0x7040), m.Location(r))
			continue
		}
		assert.Equal(t, before[r], m.Location(r), a.RegName(r))
	}

	// A transition that spills nothing changes nothing.
	m.Transition(nil)
	assert.Equal(t, At(0x7010), m.Location(regnum.AMD64_Rbx))
	assert.Equal(t, 3, m.Depth())

	// Caller-saved registers are not tracked.
	m.Transition([]Spill{{Reg: regnum.AMD64_Rax, Addr: 0x7080}})
	assert.Equal(t, Live, m.Location(regnum.AMD64_Rax))
}

func TestRegisterMapNoUpdate(t *testing.T) {
	m := NewRegisterMap(&arch.AMD64, false)
	assert.False(t, m.Update())
	m.Transition([]Spill{{Reg: regnum.AMD64_Rbx, Addr: 0x7010}})
	assert.Equal(t, Live, m.Location(regnum.AMD64_Rbx))
	assert.Equal(t, 0, m.Depth())
}

func TestRegisterMapClone(t *testing.T) {
	m := NewRegisterMap(&arch.AMD64, true)
	m.Transition([]Spill{{Reg: regnum.AMD64_Rbx, Addr: 0x7010}})
	c := m.Clone()
	c.Transition([]Spill{{Reg: regnum.AMD64_Rbx, Addr: 0x7020}})
	assert.Equal(t, At(0x7010), m.Location(regnum.AMD64_Rbx))
	assert.Equal(t, At(0x7020), c.Location(regnum.AMD64_Rbx))
	assert.Equal(t, 1, m.Depth())
	assert.Equal(t, 2, c.Depth())
}

func TestRegisterMapValue(t *testing.T) {
	a := &arch.AMD64
	space := stack(t, "amd64", map[uint64]uint64{0x7010: 0xdead})
	regs := a.NewRegisters(map[uint64]uint64{regnum.AMD64_Rbx: 0xbeef})
	m := NewRegisterMap(a, true)

	v, err := m.Value(space, regs, regnum.AMD64_Rbx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xbeef), v)

	_, err = m.Value(space, regs, regnum.AMD64_R12)
	assert.ErrorIs(t, err, ErrNoInformation)

	m.Transition([]Spill{{Reg: regnum.AMD64_Rbx, Addr: 0x7010}})
	v, err = m.Value(space, regs, regnum.AMD64_Rbx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdead), v)

	var buf bytes.Buffer
	m.Print(&buf)
	assert.Contains(t, buf.String(), "depth 1")
	assert.Contains(t, strings.ToLower(buf.String()), "rbx  at 0x7010")
}

func TestChain(t *testing.T) {
	space := stack(t, "amd64", nil)
	extra := SpillFunc(func(core.AddressSpace, *Frame) ([]Spill, error) {
		return []Spill{{Reg: regnum.AMD64_Rbx, Addr: 0x70f8}}, nil
	})
	f := &Frame{SP: 0x7000, FP: 0x7100}
	spills, err := Chain(FramePointerSpills{}, extra).Spills(space, f)
	require.NoError(t, err)
	assert.Equal(t, []Spill{
		{Reg: regnum.AMD64_Rbp, Addr: 0x7100},
		{Reg: regnum.AMD64_Rbx, Addr: 0x70f8},
	}, spills)
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prologue

import (
	"testing"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/frame"
)

var fn = []byte{
	0x55,             // 400000: push rbp
	0x48, 0x89, 0xe5, // 400001: mov rbp, rsp
	0x53,       // 400004: push rbx
	0x41, 0x54, // 400005: push r12
	0x48, 0x83, 0xec, 0x10, // 400007: sub rsp, 0x10
	0x4c, 0x89, 0x6d, 0xe8, // 40000b: mov [rbp-0x18], r13
	0x4c, 0x89, 0x34, 0x24, // 40000f: mov [rsp], r14
	0x90, // 400013: nop
	0xc3, // 400014: ret
}

func codeSpace(t *testing.T) core.AddressSpace {
	t.Helper()
	s := &core.Snapshot{OS: "linux", Arch: "amd64"}
	page := make([]byte, core.PageSize)
	copy(page, fn)
	s.AddSegment(0x400000, core.Read|core.Exec, page)
	p, err := core.NewSnapshotSpace(s)
	require.NoError(t, err)
	return p
}

func funcs() *Funcs {
	t := new(Funcs)
	t.Add("main.f", 0x400000, int64(len(fn)))
	return t
}

func TestAMD64Spills(t *testing.T) {
	space := codeSpace(t)
	o := NewAMD64(funcs())
	f := &frame.Frame{SP: 0x70e0, FP: 0x7100, PC: 0x400014}
	spills, err := o.Spills(space, f)
	require.NoError(t, err)
	// cfa = fp+16 = 0x7110; after the pushes and sub, rsp = cfa-48 = 0x70e0.
	assert.Equal(t, []frame.Spill{
		{Reg: regnum.AMD64_Rbp, Addr: 0x7100},
		{Reg: regnum.AMD64_Rbx, Addr: 0x70f8},
		{Reg: regnum.AMD64_R12, Addr: 0x70f0},
		{Reg: regnum.AMD64_R13, Addr: 0x70e8},
		{Reg: regnum.AMD64_R14, Addr: 0x70e0},
	}, spills)
}

func TestAMD64PartialPrologue(t *testing.T) {
	space := codeSpace(t)
	o := NewAMD64(funcs())

	// Stopped just after push rbx.
	spills, err := o.Spills(space, &frame.Frame{SP: 0x70f8, FP: 0x7100, PC: 0x400005})
	require.NoError(t, err)
	assert.Equal(t, []frame.Spill{
		{Reg: regnum.AMD64_Rbp, Addr: 0x7100},
		{Reg: regnum.AMD64_Rbx, Addr: 0x70f8},
	}, spills)

	// Before mov rbp, rsp the frame pointer is the caller's.
	spills, err = o.Spills(space, &frame.Frame{SP: 0x7108, FP: 0x7100, PC: 0x400001})
	require.NoError(t, err)
	assert.Empty(t, spills)
}

func TestAMD64UnknownFunction(t *testing.T) {
	space := codeSpace(t)
	o := NewAMD64(funcs())
	spills, err := o.Spills(space, &frame.Frame{SP: 0x7000, FP: 0x7100, PC: 0x500000})
	require.NoError(t, err)
	assert.Empty(t, spills)

	spills, err = o.Spills(space, &frame.Frame{SP: 0x7000, PC: 0x400010})
	require.NoError(t, err)
	assert.Empty(t, spills)
}

func TestFuncs(t *testing.T) {
	var tab Funcs
	tab.Add("b", 0x2000, 0x100)
	tab.Add("a", 0x1000, 0x100)
	assert.Equal(t, 2, tab.Len())

	e, ok := tab.FuncEntry(0x1050)
	require.True(t, ok)
	assert.Equal(t, core.Address(0x1000), e)
	name, ok := tab.FuncName(0x20ff)
	require.True(t, ok)
	assert.Equal(t, "b", name)

	_, ok = tab.FuncEntry(0x1100)
	assert.False(t, ok)
	_, ok = tab.FuncEntry(0xfff)
	assert.False(t, ok)
}

func TestChainedWithFramePointer(t *testing.T) {
	space := codeSpace(t)
	o := frame.Chain(frame.FramePointerSpills{}, NewAMD64(funcs()))
	spills, err := o.Spills(space, &frame.Frame{SP: 0x70f8, FP: 0x7100, PC: 0x400005})
	require.NoError(t, err)
	assert.Len(t, spills, 3)
}

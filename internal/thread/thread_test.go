// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package thread

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/vmcore/arch"
	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/frame"
	"golang.org/x/vmcore/internal/guess"
	"golang.org/x/vmcore/internal/typedb"
)

// Memory layout used by the tests:
//
//	0x1000 RuntimeThread: _osthread at +0, _anchor at +0x10
//	0x1010 FrameAnchor:   _last_sp at +0, _last_fp at +8, _last_pc at +16
//	0x1800 OSThread:      _thread_id (uint32) at +4
//	0x7000 two pages of stack
const (
	threadRef = core.Address(0x1000)
	tid       = 42
)

var text = func(pc core.Address) bool {
	return pc >= 0x400000 && pc < 0x500000
}

func table(withPC bool) typedb.Table {
	var tab typedb.Table
	tab.Add("RuntimeThread", 0x28,
		typedb.Field{Name: "_osthread", Offset: 0, Size: 8, IsAddress: true},
		typedb.Field{Name: "_anchor", Offset: 0x10, Size: 24},
	)
	anchor := []typedb.Field{
		{Name: "_last_sp", Offset: 0, Size: 8, IsAddress: true},
		{Name: "_last_fp", Offset: 8, Size: 8, IsAddress: true},
	}
	if withPC {
		anchor = append(anchor, typedb.Field{Name: "_last_pc", Offset: 16, Size: 8, IsAddress: true})
	}
	tab.Add("FrameAnchor", 24, anchor...)
	tab.Add("OSThread", 8, typedb.Field{Name: "_thread_id", Offset: 4, Size: 4})
	return tab
}

func readyDB(t *testing.T, withPC bool) *typedb.DB {
	t.Helper()
	db := typedb.New()
	require.NoError(t, db.Initialize(table(withPC)))
	return db
}

// anchor describes what the runtime recorded for the thread.
type anchor struct {
	sp, fp, pc uint64
}

// liveRegs returns registers for the thread with the given sp and fp.
func liveRegs(a *arch.Architecture, sp, fp uint64) map[uint64]uint64 {
	return map[uint64]uint64{a.SPReg: sp, a.FPReg: fp, a.PCReg: 0x401000}
}

// space builds a snapshot holding one thread descriptor, the given stack
// words, and an OS thread with registers regs.
func space(t *testing.T, archName string, an anchor, stack map[uint64]uint64, regs map[uint64]uint64) *core.SnapshotSpace {
	t.Helper()
	data := make([]byte, core.PageSize)
	le := binary.LittleEndian
	le.PutUint64(data[0x000:], 0x1800)
	le.PutUint64(data[0x010:], an.sp)
	le.PutUint64(data[0x018:], an.fp)
	le.PutUint64(data[0x020:], an.pc)
	le.PutUint32(data[0x804:], tid)

	mem := make([]byte, 2*core.PageSize)
	for a, v := range stack {
		le.PutUint64(mem[a-0x7000:], v)
	}

	s := &core.Snapshot{OS: "linux", Arch: archName}
	s.AddSegment(0x1000, core.Read|core.Write, data)
	s.AddSegment(0x7000, core.Read|core.Write, mem)
	s.AddSegment(0x400000, core.Read|core.Exec, make([]byte, core.PageSize))
	if regs != nil {
		s.AddThread(tid, regs)
	}
	p, err := core.NewSnapshotSpace(s)
	require.NoError(t, err)
	return p
}

func newAccess(t *testing.T, k Key, p core.AddressSpace, db *typedb.DB) *Access {
	t.Helper()
	a, err := New(k, p, db, Options{Code: guess.CodeRegionsFunc(text)})
	require.NoError(t, err)
	return a
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, 8)
	assert.Contains(t, keys, Key{"windows", "arm64"})
	assert.Contains(t, keys, Key{"linux", "riscv64"})
	assert.Equal(t, Key{"darwin", "amd64"}, keys[0])
}

func TestNewUnsupported(t *testing.T) {
	db := readyDB(t, true)
	p := space(t, "amd64", anchor{}, nil, nil)

	_, err := New(Key{"linux", "mips"}, p, db, Options{})
	assert.ErrorIs(t, err, ErrUnsupported)

	// The strategy must match the inferior.
	_, err = New(Key{"linux", "arm64"}, p, db, Options{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

// Threads without a recorded frame fall back to a guess from the stack.
func TestGuessWhenNoAnchor(t *testing.T) {
	p := space(t, "amd64", anchor{sp: 0x7000},
		map[uint64]uint64{0x7040: 0x7100, 0x7048: 0x401234},
		map[uint64]uint64{regnum.AMD64_Rsp: 0x7000, regnum.AMD64_Rbp: 0, regnum.AMD64_Rip: 0x401000})
	a := newAccess(t, Key{"linux", "amd64"}, p, readyDB(t, true))

	_, err := a.LastFrame(threadRef)
	assert.ErrorIs(t, err, ErrNoInformation)

	f, err := a.CurrentFrameGuess(threadRef)
	require.NoError(t, err)
	assert.Equal(t, frame.Frame{SP: 0x7000, FP: 0x7100, PC: 0x401234}, *f)
}

func TestLastFrameAllTargets(t *testing.T) {
	for _, k := range Keys() {
		t.Run(k.String(), func(t *testing.T) {
			withPC := strategies[k].anchorPC
			db := readyDB(t, withPC)

			p := space(t, k.Arch, anchor{sp: 0x7000, fp: 0x7100, pc: 0x401000}, nil, nil)
			f, err := newAccess(t, k, p, db).LastFrame(threadRef)
			require.NoError(t, err)
			want := frame.Frame{SP: 0x7000, FP: 0x7100, PC: 0x401000}
			if !withPC {
				want.PC = 0
			}
			assert.Equal(t, want, *f)

			// A null pc gives a partial frame.
			p = space(t, k.Arch, anchor{sp: 0x7000, fp: 0x7100}, nil, nil)
			f, err = newAccess(t, k, p, db).LastFrame(threadRef)
			require.NoError(t, err)
			assert.True(t, f.HasFP())
			assert.False(t, f.HasPC())

			// A null frame pointer is no information.
			p = space(t, k.Arch, anchor{sp: 0x7000, pc: 0x401000}, nil, nil)
			_, err = newAccess(t, k, p, db).LastFrame(threadRef)
			assert.ErrorIs(t, err, ErrNoInformation)
		})
	}
}

func TestWindowsARM64IgnoresAnchorPC(t *testing.T) {
	// The table has no _last_pc at all.
	db := readyDB(t, false)
	p := space(t, "arm64", anchor{sp: 0x7000, fp: 0x7100, pc: 0x401000}, nil, nil)

	a := newAccess(t, Key{"windows", "arm64"}, p, db)
	f, err := a.LastFrame(threadRef)
	require.NoError(t, err)
	assert.Equal(t, frame.Frame{SP: 0x7000, FP: 0x7100}, *f)
	assert.NoError(t, a.Err())

	// Elsewhere on arm64 the field is required.
	a = newAccess(t, Key{"linux", "arm64"}, p, db)
	_, err = a.LastFrame(threadRef)
	assert.ErrorIs(t, err, typedb.ErrUnknownField)
}

func TestGuessAllArchitectures(t *testing.T) {
	stack := map[uint64]uint64{0x7040: 0x7100, 0x7048: 0x401234}
	for _, name := range []string{"amd64", "arm64", "riscv64"} {
		t.Run(name, func(t *testing.T) {
			ar, err := arch.Lookup(name)
			require.NoError(t, err)
			p := space(t, name, anchor{}, stack, liveRegs(ar, 0x7000, 0))
			a := newAccess(t, Key{"linux", name}, p, readyDB(t, true))
			f, err := a.CurrentFrameGuess(threadRef)
			require.NoError(t, err)
			assert.Equal(t, frame.Frame{SP: 0x7000, FP: 0x7100, PC: 0x401234}, *f)
		})
	}
}

func TestLayoutMismatchIsFatal(t *testing.T) {
	var tab typedb.Table
	tab.Add("RuntimeThread", 0x28,
		typedb.Field{Name: "_osthread", Offset: 0, Size: 8, IsAddress: true},
		typedb.Field{Name: "_anchor", Offset: 0x10, Size: 24},
	)
	db := typedb.New()
	p := space(t, "amd64", anchor{sp: 0x7000, fp: 0x7100, pc: 0x401000}, nil, nil)
	a := newAccess(t, Key{"linux", "amd64"}, p, db)

	// Not ready yet: retryable, and not remembered.
	_, err := a.LastFrame(threadRef)
	assert.ErrorIs(t, err, typedb.ErrUninitialized)
	assert.NoError(t, a.Err())

	require.NoError(t, db.Initialize(tab))
	require.Error(t, a.Err())
	assert.ErrorIs(t, a.Err(), typedb.ErrUnknownType)

	_, err = a.LastFrame(threadRef)
	assert.ErrorIs(t, err, typedb.ErrUnknownType)
	_, err = a.ThreadProxy(threadRef)
	assert.ErrorIs(t, err, typedb.ErrUnknownType)
}

func TestLateInitialize(t *testing.T) {
	db := typedb.New()
	p := space(t, "amd64", anchor{sp: 0x7000, fp: 0x7100, pc: 0x401000}, nil, nil)
	a := newAccess(t, Key{"linux", "amd64"}, p, db)
	_, err := a.LastFrame(threadRef)
	assert.ErrorIs(t, err, typedb.ErrUninitialized)

	require.NoError(t, db.Initialize(table(true)))
	f, err := a.LastFrame(threadRef)
	require.NoError(t, err)
	assert.Equal(t, core.Address(0x7100), f.FP)
}

func TestThreadProxy(t *testing.T) {
	regs := liveRegs(&arch.AMD64, 0x7000, 0x7100)
	p := space(t, "amd64", anchor{}, nil, regs)
	a := newAccess(t, Key{"linux", "amd64"}, p, readyDB(t, true))

	th, err := a.ThreadProxy(threadRef)
	require.NoError(t, err)
	assert.Equal(t, uint64(tid), th.TID())

	sp, err := a.LastSP(threadRef)
	require.NoError(t, err)
	assert.Equal(t, core.Address(0x7000), sp)

	// The OS thread has exited.
	p = space(t, "amd64", anchor{}, nil, nil)
	a = newAccess(t, Key{"linux", "amd64"}, p, readyDB(t, true))
	_, err = a.ThreadProxy(threadRef)
	assert.ErrorIs(t, err, core.ErrNoSuchThread)
	_, err = a.CurrentFrameGuess(threadRef)
	assert.ErrorIs(t, err, core.ErrNoSuchThread)

	// Unmapped descriptors are reported as such.
	_, err = a.ThreadProxy(0x50000)
	assert.ErrorIs(t, err, core.ErrNotMapped)
}

func TestWalk(t *testing.T) {
	stack := map[uint64]uint64{
		0x7040: 0x7100, 0x7048: 0x401234,
		0x7100: 0x7200, 0x7108: 0x402000,
	}
	p := space(t, "amd64", anchor{sp: 0x7000, fp: 0x7040, pc: 0x401000}, stack, nil)
	a := newAccess(t, Key{"linux", "amd64"}, p, readyDB(t, true))

	st, err := a.Walk(threadRef, 0)
	require.NoError(t, err)
	assert.False(t, st.Guessed)
	require.Len(t, st.Frames, 3)
	assert.Equal(t, frame.Frame{SP: 0x7000, FP: 0x7040, PC: 0x401000}, *st.Frames[0])
	assert.Equal(t, frame.Frame{SP: 0x7050, FP: 0x7100, PC: 0x401234}, *st.Frames[1])
	assert.Equal(t, frame.Frame{SP: 0x7110, FP: 0x7200, PC: 0x402000}, *st.Frames[2])
	assert.Equal(t, 2, st.Regs.Depth())
	assert.Equal(t, frame.At(0x7100), st.Regs.Location(regnum.AMD64_Rbp))

	st, err = a.Walk(threadRef, 2)
	require.NoError(t, err)
	assert.Len(t, st.Frames, 2)
	assert.Equal(t, 1, st.Regs.Depth())
}

func TestWalkFromGuess(t *testing.T) {
	stack := map[uint64]uint64{
		0x7040: 0x7100, 0x7048: 0x401234,
		0x7100: 0x7200, 0x7108: 0x402000,
	}
	p := space(t, "amd64", anchor{}, stack, liveRegs(&arch.AMD64, 0x7000, 0))
	a := newAccess(t, Key{"linux", "amd64"}, p, readyDB(t, true))

	st, err := a.Walk(threadRef, 0)
	require.NoError(t, err)
	assert.True(t, st.Guessed)
	require.Len(t, st.Frames, 2)
	assert.Equal(t, core.Address(0x7100), st.Frames[0].FP)
	assert.Equal(t, core.Address(0x7200), st.Frames[1].FP)

	// Without registers there is nothing to guess from.
	p = space(t, "amd64", anchor{}, stack, nil)
	a = newAccess(t, Key{"linux", "amd64"}, p, readyDB(t, true))
	_, err = a.Walk(threadRef, 0)
	assert.ErrorIs(t, err, core.ErrNoSuchThread)
}

func TestPrintSummary(t *testing.T) {
	p := space(t, "amd64", anchor{sp: 0x7000, fp: 0x7040, pc: 0x401000}, nil, liveRegs(&arch.AMD64, 0x7000, 0x7040))
	a := newAccess(t, Key{"linux", "amd64"}, p, readyDB(t, true))

	var buf bytes.Buffer
	a.PrintSummary(&buf, threadRef)
	out := buf.String()
	assert.Contains(t, out, "thread 0x1000 (linux/amd64)")
	assert.Contains(t, out, "last frame: sp=0x7000 fp=0x7040 pc=0x401000")
	assert.Contains(t, out, "os thread:  42")
	assert.Contains(t, out, "sp:         0x7000")

	buf.Reset()
	a.PrintSummary(&buf, 0x50000)
	out = buf.String()
	assert.Contains(t, out, "last frame: unknown")
	assert.Contains(t, out, "os thread:  unknown")
	assert.Contains(t, out, "sp:         unknown")

	buf.Reset()
	a.PrintThreadID(&buf, threadRef)
	assert.Equal(t, "42", buf.String())
}

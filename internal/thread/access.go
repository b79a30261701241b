// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package thread interprets runtime thread descriptors in an inferior:
// the frame the runtime last recorded for a thread, a guess at the
// thread's current frame, and the OS thread behind it.
//
// All structure layouts come from a typedb.DB; nothing here knows a
// runtime's field offsets.
package thread

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-delve/delve/pkg/dwarf/op"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"golang.org/x/vmcore/arch"
	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/frame"
	"golang.org/x/vmcore/internal/guess"
	"golang.org/x/vmcore/internal/prologue"
	"golang.org/x/vmcore/internal/typedb"
)

// ErrNoInformation is returned when neither the runtime nor the stack
// yields a frame.
var ErrNoInformation = frame.ErrNoInformation

// ErrUnsupported is returned by New for an OS and architecture pair with
// no strategy.
var ErrUnsupported = errors.New("unsupported target")

// A Key selects a strategy.
type Key struct {
	OS   string
	Arch string
}

func (k Key) String() string {
	return k.OS + "/" + k.Arch
}

// Names gives the runtime's names for the structures and fields read.
type Names struct {
	Thread        string `yaml:"thread"`
	AnchorField   string `yaml:"anchor_field"`
	OSThreadField string `yaml:"osthread_field"`

	Anchor string `yaml:"anchor"`
	LastSP string `yaml:"last_sp"`
	LastFP string `yaml:"last_fp"`
	LastPC string `yaml:"last_pc"`

	OSThread string `yaml:"osthread"`
	ThreadID string `yaml:"thread_id"`
}

// DefaultNames returns the names used when Options.Names is zero.
func DefaultNames() Names {
	return Names{
		Thread:        "RuntimeThread",
		AnchorField:   "_anchor",
		OSThreadField: "_osthread",
		Anchor:        "FrameAnchor",
		LastSP:        "_last_sp",
		LastFP:        "_last_fp",
		LastPC:        "_last_pc",
		OSThread:      "OSThread",
		ThreadID:      "_thread_id",
	}
}

// Options configures an Access.
type Options struct {
	Names Names

	// Code accepts return addresses during guessing. If nil, no guess
	// ever succeeds.
	Code guess.CodeRegions
	// GuessRange and MaxStack default to guess.DefaultRange and
	// guess.DefaultMaxStack.
	GuessRange int64
	MaxStack   int64

	// Funcs, if set, lets strategies decode prologues to find spilled
	// registers during walks.
	Funcs prologue.FuncLookup

	Logger log.Logger
}

// An Access reads the thread descriptors of one session's inferior.
type Access struct {
	key    Key
	strat  strategy
	space  core.AddressSpace
	db     *typedb.DB
	names  Names
	guess  *guess.Guesser
	spills frame.SpillOracle
	logger log.Logger

	mu     sync.Mutex
	layout *layout
	fatal  error // layout mismatch; fatal for the session
}

// layout holds resolved field offsets.
type layout struct {
	anchor, osThread       int64
	lastSP, lastFP, lastPC int64
	threadID               int64
}

// Keys returns the supported OS and architecture pairs.
func Keys() []Key {
	keys := make([]Key, 0, len(strategies))
	for k := range strategies {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// New returns the Access for key k reading space, with layouts from db.
// Layouts are resolved once db is initialized.
func New(k Key, space core.AddressSpace, db *typedb.DB, opts Options) (*Access, error) {
	s, ok := strategies[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, k)
	}
	if space.Arch().Name != s.arch.Name {
		return nil, fmt.Errorf("%w: %s strategy for a %s inferior", ErrUnsupported, k, space.Arch().Name)
	}
	if opts.Names == (Names{}) {
		opts.Names = DefaultNames()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	code := opts.Code
	if code == nil {
		code = guess.CodeRegionsFunc(func(core.Address) bool { return false })
	}
	gopts := []guess.Option{guess.WithLogger(opts.Logger)}
	if opts.GuessRange > 0 {
		gopts = append(gopts, guess.WithRange(opts.GuessRange))
	}
	if opts.MaxStack > 0 {
		gopts = append(gopts, guess.WithMaxStack(opts.MaxStack))
	}
	a := &Access{
		key:    k,
		strat:  s,
		space:  space,
		db:     db,
		names:  opts.Names,
		guess:  guess.New(space, code, gopts...),
		spills: s.spills(opts.Funcs),
		logger: log.With(opts.Logger, "component", "thread", "target", k),
	}
	db.OnReady(func(*typedb.DB) { a.resolve() })
	return a, nil
}

// Key returns the strategy key.
func (a *Access) Key() Key { return a.key }

// Arch returns the inferior's architecture.
func (a *Access) Arch() *arch.Architecture { return a.strat.arch }

// Spills returns the oracle walks use for register spills.
func (a *Access) Spills() frame.SpillOracle { return a.spills }

// Err returns the layout mismatch that disabled a, if any.
func (a *Access) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// resolve looks up every offset a needs. Mismatches are remembered;
// an uninitialized database is not. Nothing resolves once the database
// is closed.
func (a *Access) resolve() (*layout, error) {
	if err := a.db.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatal != nil {
		return nil, a.fatal
	}
	if a.layout != nil {
		return a.layout, nil
	}
	l, err := a.lookup()
	if err != nil {
		if typedb.Fatal(err) {
			a.fatal = fmt.Errorf("thread layout for %s: %w", a.key, err)
			level.Error(a.logger).Log("msg", "runtime layout mismatch", "err", err)
			return nil, a.fatal
		}
		return nil, err
	}
	a.layout = l
	return l, nil
}

func (a *Access) lookup() (*layout, error) {
	n := a.names
	l := &layout{lastPC: -1}
	th, err := a.db.LookupType(n.Thread)
	if err != nil {
		return nil, err
	}
	f, err := th.Field(n.AnchorField)
	if err != nil {
		return nil, err
	}
	l.anchor = f.Offset
	if f, err = th.AddressField(n.OSThreadField); err != nil {
		return nil, err
	}
	l.osThread = f.Offset

	an, err := a.db.LookupType(n.Anchor)
	if err != nil {
		return nil, err
	}
	if f, err = an.AddressField(n.LastSP); err != nil {
		return nil, err
	}
	l.lastSP = f.Offset
	if f, err = an.AddressField(n.LastFP); err != nil {
		return nil, err
	}
	l.lastFP = f.Offset
	if a.strat.anchorPC {
		if f, err = an.AddressField(n.LastPC); err != nil {
			return nil, err
		}
		l.lastPC = f.Offset
	}

	if f, err = a.db.Field(n.OSThread, n.ThreadID); err != nil {
		return nil, err
	}
	l.threadID = f.Offset
	return l, nil
}

// LastFrame returns the frame the runtime last recorded for the thread
// at ref. It returns ErrNoInformation if the recorded frame pointer or
// stack pointer is null. A null pc gives a frame without a pc.
func (a *Access) LastFrame(ref core.Address) (*frame.Frame, error) {
	l, err := a.resolve()
	if err != nil {
		return nil, err
	}
	anchor := ref.Add(l.anchor)
	fp, err := core.ReadPtr(a.space, anchor.Add(l.lastFP))
	if err != nil {
		return nil, err
	}
	if fp == 0 {
		level.Debug(a.logger).Log("msg", "no recorded frame", "thread", ref)
		return nil, ErrNoInformation
	}
	sp, err := core.ReadPtr(a.space, anchor.Add(l.lastSP))
	if err != nil {
		return nil, err
	}
	if sp == 0 {
		level.Debug(a.logger).Log("msg", "recorded frame has no sp", "thread", ref)
		return nil, ErrNoInformation
	}
	var pc core.Address
	if l.lastPC >= 0 {
		if pc, err = core.ReadPtr(a.space, anchor.Add(l.lastPC)); err != nil {
			return nil, err
		}
	}
	return frame.New(sp, fp, pc)
}

// NewRegisterMap returns a register map for a walk of the thread at ref.
// If update is false the map does not follow sender transitions.
func (a *Access) NewRegisterMap(ref core.Address, update bool) *frame.RegisterMap {
	return frame.NewRegisterMap(a.strat.arch, update)
}

// CurrentFrameGuess scans the stack of the thread at ref for a plausible
// frame, starting from its live registers.
func (a *Access) CurrentFrameGuess(ref core.Address) (*frame.Frame, error) {
	regs, err := a.context(ref)
	if err != nil {
		return nil, err
	}
	f, err := a.guess.Guess(a.strat.guessRegs(regs))
	if err != nil {
		level.Debug(a.logger).Log("msg", "no frame guess", "thread", ref, "err", err)
		return nil, err
	}
	return f, nil
}

// ThreadProxy returns the OS thread running the runtime thread at ref.
func (a *Access) ThreadProxy(ref core.Address) (*core.Thread, error) {
	l, err := a.resolve()
	if err != nil {
		return nil, err
	}
	osThread, err := core.ReadPtr(a.space, ref.Add(l.osThread))
	if err != nil {
		return nil, err
	}
	if osThread == 0 {
		return nil, fmt.Errorf("thread %v has no OS thread: %w", ref, core.ErrNoSuchThread)
	}
	return a.space.ResolveThread(osThread.Add(l.threadID))
}

// LastSP returns the live stack pointer of the thread at ref.
func (a *Access) LastSP(ref core.Address) (core.Address, error) {
	regs, err := a.context(ref)
	if err != nil {
		return 0, err
	}
	if regs.Reg(a.strat.arch.SPReg) == nil {
		return 0, fmt.Errorf("thread %v: %w", ref, ErrNoInformation)
	}
	return core.Address(regs.Uint64Val(a.strat.arch.SPReg)), nil
}

func (a *Access) context(ref core.Address) (*op.DwarfRegisters, error) {
	th, err := a.ThreadProxy(ref)
	if err != nil {
		return nil, err
	}
	return th.Context()
}

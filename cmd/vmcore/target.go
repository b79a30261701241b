// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/prologue"
	"golang.org/x/vmcore/internal/session"
	"golang.org/x/vmcore/internal/store"
	"golang.org/x/vmcore/internal/thread"
	"golang.org/x/vmcore/internal/typedb"
)

// A target is one open inferior.
type target struct {
	name  string
	sess  *session.Session
	space core.AddressSpace
	snap  *core.Snapshot      // nil for live targets
	p     *core.SnapshotSpace // nil for live targets
	funcs *prologue.Funcs     // nil without --exe
	os    string
	log   log.Logger
}

func (t *target) threads() *thread.Access {
	a, err := t.sess.Threads()
	if err != nil {
		exitf("%s: %v\n", t.name, err)
	}
	return a
}

func (t *target) close() {
	if err := t.sess.Close(); err != nil && !errors.Is(err, session.ErrClosed) {
		level.Warn(t.log).Log("msg", "close failed", "err", err)
	}
}

type source struct {
	kind, arg string
}

func (s source) String() string {
	return s.kind + ":" + s.arg
}

func sources() []source {
	var srcs []source
	for _, f := range cfg.snapshot {
		srcs = append(srcs, source{"snapshot", f})
	}
	for _, f := range cfg.core {
		srcs = append(srcs, source{"core", f})
	}
	for _, n := range cfg.stored {
		srcs = append(srcs, source{"stored", n})
	}
	for _, a := range cfg.remote {
		srcs = append(srcs, source{"remote", a})
	}
	if cfg.pid != 0 {
		srcs = append(srcs, source{"pid", fmt.Sprint(cfg.pid)})
	}
	return srcs
}

// open caches targets for the life of the shell.
var open = map[source]*target{}

// openTargets opens every target named on the command line.
func openTargets() ([]*target, error) {
	srcs := sources()
	if len(srcs) == 0 {
		return nil, errors.New("no target given; use --snapshot, --core, --stored, --remote or --pid")
	}
	var ts []*target
	for _, src := range srcs {
		t, err := openTarget(src)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", src, err)
		}
		ts = append(ts, t)
	}
	return ts, nil
}

// openOne opens the single target named on the command line.
func openOne() (*target, error) {
	if n := len(sources()); n > 1 {
		return nil, fmt.Errorf("this command takes one target, not %d", n)
	}
	ts, err := openTargets()
	if err != nil {
		return nil, err
	}
	return ts[0], nil
}

func closeTargets() {
	for src, t := range open {
		t.close()
		delete(open, src)
	}
}

// flushTargets drops cached memory of open targets, which may have run
// since the last command.
func flushTargets() {
	for _, t := range open {
		if c, ok := t.space.(*core.CachedSpace); ok {
			c.Flush()
		}
	}
}

func openTarget(src source) (*target, error) {
	if t, ok := open[src]; ok {
		return t, nil
	}
	t := &target{name: src.String(), log: log.With(logger, "target", src)}
	code := new(core.CodeRanges)

	switch src.kind {
	case "snapshot":
		f, err := os.Open(src.arg)
		if err != nil {
			return nil, err
		}
		t.snap, err = core.ReadSnapshot(f)
		f.Close()
		if err != nil {
			return nil, err
		}
	case "core":
		var err error
		if t.snap, err = core.ReadCore(src.arg); err != nil {
			return nil, err
		}
	case "stored":
		st, err := openStore()
		if err != nil {
			return nil, err
		}
		t.snap, err = st.Load(src.arg)
		st.Close()
		if err != nil {
			return nil, err
		}
	case "remote":
		r, err := core.DialRemote("tcp", src.arg, conf.Remote.Timeout)
		if err != nil {
			return nil, err
		}
		t.space, t.os = r, r.OS()
	case "pid":
		var pid int
		fmt.Sscan(src.arg, &pid)
		p, err := core.Attach(pid)
		if err != nil {
			return nil, err
		}
		t.space, t.os = &detachOnClose{p}, "linux"
	}

	if t.snap != nil {
		p, err := core.NewSnapshotSpace(t.snap)
		if err != nil {
			return nil, err
		}
		for _, w := range p.Warnings() {
			level.Warn(t.log).Log("msg", w)
		}
		t.p, t.space, t.os = p, p, p.OS()
		code.Merge(core.ExecRegions(p))
	} else if conf.CacheBytes > 0 {
		c, err := core.NewCachedSpace(t.space, conf.CacheBytes)
		if err != nil {
			core.Close(t.space)
			return nil, err
		}
		t.space = c
	}
	if conf.OS != "" {
		t.os = conf.OS
	}
	if conf.Arch != "" && conf.Arch != t.space.Arch().Name {
		core.Close(t.space)
		return nil, fmt.Errorf("target is %s, not %s", t.space.Arch().Name, conf.Arch)
	}

	tab, haveTab, err := loadExe(t, code)
	if err != nil {
		core.Close(t.space)
		return nil, err
	}
	opts := session.Options{
		OS:     t.os,
		Logger: t.log,
		Thread: thread.Options{
			Names:      conf.Names,
			Code:       code,
			GuessRange: conf.Guess.Range,
			MaxStack:   conf.Guess.MaxStack,
		},
	}
	if t.funcs != nil {
		opts.Thread.Funcs = t.funcs
	}
	t.sess, err = session.New(t.space, opts)
	if err != nil {
		core.Close(t.space)
		return nil, err
	}
	if haveTab {
		if err := t.sess.Initialize(tab); err != nil {
			t.close()
			return nil, err
		}
	}
	open[src] = t
	return t, nil
}

// loadExe reads symbols and code ranges from --exe, and the type table
// from --types or the executable's debug info.
func loadExe(t *target, code *core.CodeRanges) (typedb.Table, bool, error) {
	var tab typedb.Table
	haveTab := false
	if cfg.types != "" {
		f, err := os.Open(cfg.types)
		if err != nil {
			return tab, false, err
		}
		defer f.Close()
		if tab, err = typedb.LoadTable(f); err != nil {
			return tab, false, fmt.Errorf("%s: %w", cfg.types, err)
		}
		haveTab = true
	}
	if cfg.exe == "" {
		return tab, haveTab, nil
	}
	f, err := elf.Open(cfg.exe)
	if err != nil {
		return tab, false, err
	}
	defer f.Close()
	code.Merge(core.ELFRegions(f, cfg.bias))
	if t.funcs, err = prologue.ELFFuncs(f, cfg.bias); err != nil {
		level.Warn(t.log).Log("msg", "no symbols", "exe", cfg.exe, "err", err)
		t.funcs = nil
	}
	if haveTab {
		return tab, true, nil
	}
	d, err := f.DWARF()
	if err != nil {
		level.Warn(t.log).Log("msg", "no debug info; runtime layouts unknown", "exe", cfg.exe, "err", err)
		return tab, false, nil
	}
	n := conf.Names
	tab, err = typedb.TableFromDWARF(d, int64(t.space.Arch().PointerSize), n.Thread, n.Anchor, n.OSThread)
	if err != nil {
		return tab, false, err
	}
	return tab, true, nil
}

// detachOnClose releases a process attached by the tool itself.
type detachOnClose struct {
	*core.PtraceSpace
}

func (d *detachOnClose) Close() error {
	derr := d.PtraceSpace.Detach()
	if err := d.PtraceSpace.Close(); err != nil {
		return err
	}
	return derr
}

// openStore opens the snapshot store, by default in the user's cache
// directory.
func openStore() (store.Store, error) {
	dir := conf.Store.Dir
	if dir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(cache, "vmcore", "store")
	}
	return store.Open(store.Options{
		Dir:      dir,
		MaxMemMB: conf.Store.MaxMemMB,
		Logger:   logger,
	})
}

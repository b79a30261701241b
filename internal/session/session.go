// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session ties one inferior's address space to its type database
// and thread access.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/thread"
	"golang.org/x/vmcore/internal/typedb"
)

// ErrClosed is returned by a Session after Close.
var ErrClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	// OS is the inferior's operating system, as in GOOS.
	OS string
	// Thread configures thread access. Its Logger defaults to Logger.
	Thread thread.Options
	Logger log.Logger
}

// A Session owns an address space and the type database describing it.
// Closing the session invalidates both.
type Session struct {
	logger log.Logger

	mu     sync.Mutex
	space  core.AddressSpace
	db     *typedb.DB
	access *thread.Access
}

// New returns a session over space, which the session now owns. The
// session's type database starts uninitialized.
func New(space core.AddressSpace, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Thread.Logger == nil {
		opts.Thread.Logger = opts.Logger
	}
	k := thread.Key{OS: opts.OS, Arch: space.Arch().Name}
	db := typedb.New()
	a, err := thread.New(k, space, db, opts.Thread)
	if err != nil {
		return nil, err
	}
	s := &Session{
		logger: log.With(opts.Logger, "component", "session", "target", k),
		space:  space,
		db:     db,
		access: a,
	}
	level.Debug(s.logger).Log("msg", "session opened")
	return s, nil
}

// Initialize publishes the inferior's structure layouts.
func (s *Session) Initialize(tab typedb.Table) error {
	db, err := s.DB()
	if err != nil {
		return err
	}
	if err := db.Initialize(tab); err != nil {
		return err
	}
	level.Info(s.logger).Log("msg", "type database ready", "types", len(tab.Types))
	return nil
}

// Space returns the session's address space.
func (s *Session) Space() (core.AddressSpace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.space == nil {
		return nil, ErrClosed
	}
	return s.space, nil
}

// DB returns the session's type database.
func (s *Session) DB() (*typedb.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Threads returns the session's thread access.
func (s *Session) Threads() (*thread.Access, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access == nil {
		return nil, ErrClosed
	}
	return s.access, nil
}

// Err returns the error that made the session unusable, if any.
func (s *Session) Err() error {
	a, err := s.Threads()
	if err != nil {
		return err
	}
	return a.Err()
}

// Close releases the address space and closes the type database.
// Further use of the session fails with ErrClosed, and thread access or
// database handles obtained earlier fail with typedb.ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	space, db := s.space, s.db
	s.space, s.db, s.access = nil, nil, nil
	s.mu.Unlock()
	if space == nil {
		return ErrClosed
	}
	db.Close()
	if err := core.Close(space); err != nil {
		return fmt.Errorf("closing address space: %w", err)
	}
	level.Debug(s.logger).Log("msg", "session closed")
	return nil
}

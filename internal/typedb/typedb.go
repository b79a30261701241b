// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package typedb maps the names of runtime structures and their fields to
// byte offsets and sizes in the inferior.
//
// A DB starts out uninitialized: every lookup fails with ErrUninitialized
// until Initialize is handed the inferior's layout table. After that the
// DB is read-only until Close, after which every lookup fails with
// ErrClosed.
package typedb

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

var (
	// ErrUninitialized is returned by lookups before Initialize.
	// Callers may retry once the layout table is available.
	ErrUninitialized = errors.New("type database not initialized")
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("type database already initialized")
	// ErrClosed is returned by every lookup after Close.
	ErrClosed = errors.New("type database closed")
	// ErrBadTable is returned when a layout table is inconsistent.
	ErrBadTable = errors.New("bad layout table")

	// ErrUnknownType and ErrUnknownField report a mismatch between the
	// layouts a caller expects and those the inferior published.
	ErrUnknownType  = errors.New("unknown type")
	ErrUnknownField = errors.New("unknown field")
	// ErrFieldKind is returned when a field exists but is not usable the
	// way the caller asked, such as reading a non-address as a pointer.
	ErrFieldKind = errors.New("field has unexpected kind")
)

// A MismatchError describes a type or field the inferior does not have.
type MismatchError struct {
	Type  string
	Field string // empty for a missing type
	Err   error  // ErrUnknownType, ErrUnknownField or ErrFieldKind
}

func (e *MismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v %s", e.Err, e.Type)
	}
	return fmt.Sprintf("%v %s.%s", e.Err, e.Type, e.Field)
}

func (e *MismatchError) Unwrap() error {
	return e.Err
}

// Fatal reports whether err means the inferior's layouts do not match
// what the caller expects. Such errors invalidate the whole session.
// An uninitialized database is not fatal.
func Fatal(err error) bool {
	return errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrFieldKind) ||
		errors.Is(err, ErrBadTable)
}

// A Field describes one field of a runtime structure.
type Field struct {
	Name      string `yaml:"name" json:"name"`
	Offset    int64  `yaml:"offset" json:"offset"`
	Size      int64  `yaml:"size" json:"size"`
	IsAddress bool   `yaml:"address,omitempty" json:"address,omitempty"`
}

// A Type describes the layout of a runtime structure.
type Type struct {
	Name   string  `yaml:"name" json:"name"`
	Size   int64   `yaml:"size" json:"size"`
	Fields []Field `yaml:"fields" json:"fields"`

	index map[string]int
}

func (t *Type) String() string {
	return t.Name
}

// Field returns the named field of t.
func (t *Type) Field(name string) (Field, error) {
	i, ok := t.index[name]
	if !ok {
		return Field{}, &MismatchError{Type: t.Name, Field: name, Err: ErrUnknownField}
	}
	return t.Fields[i], nil
}

// AddressField returns the named field of t, which must hold an address.
func (t *Type) AddressField(name string) (Field, error) {
	f, err := t.Field(name)
	if err != nil {
		return Field{}, err
	}
	if !f.IsAddress {
		return Field{}, &MismatchError{Type: t.Name, Field: name, Err: ErrFieldKind}
	}
	return f, nil
}

// A DB is the per-session registry of runtime structure layouts.
type DB struct {
	mu        sync.Mutex
	ready     bool
	closed    bool
	types     map[string]*Type
	observers []func(*DB)
}

// New returns an uninitialized DB.
func New() *DB {
	return &DB{}
}

// Ready reports whether Initialize has completed.
func (db *DB) Ready() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.ready
}

// Initialize installs the layouts in tab. It succeeds at most once.
// Observers registered with OnReady run before Initialize returns.
func (db *DB) Initialize(tab Table) error {
	types, err := tab.index()
	if err != nil {
		return err
	}
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	if db.ready {
		db.mu.Unlock()
		return ErrAlreadyInitialized
	}
	db.types = types
	db.ready = true
	obs := db.observers
	db.observers = nil
	db.mu.Unlock()

	for _, f := range obs {
		f(db)
	}
	return nil
}

// OnReady arranges for f to be called once the DB is initialized.
// If it already is, f is called immediately.
func (db *DB) OnReady(f func(*DB)) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return
	}
	if !db.ready {
		db.observers = append(db.observers, f)
		db.mu.Unlock()
		return
	}
	db.mu.Unlock()
	f(db)
}

// Err returns ErrClosed after Close and nil otherwise.
func (db *DB) Err() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

// Close drops the layouts and pending observers. Lookups made through db,
// or through anything holding it, fail from now on.
func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	db.ready = false
	db.types = nil
	db.observers = nil
}

// LookupType returns a copy of the layout of the named structure.
func (db *DB) LookupType(name string) (*Type, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	if !db.ready {
		return nil, ErrUninitialized
	}
	t, ok := db.types[name]
	if !ok {
		return nil, &MismatchError{Type: name, Err: ErrUnknownType}
	}
	c := *t
	c.Fields = slices.Clone(t.Fields)
	return &c, nil
}

// Field returns the descriptor of field in typ.
func (db *DB) Field(typ, field string) (Field, error) {
	t, err := db.LookupType(typ)
	if err != nil {
		return Field{}, err
	}
	return t.Field(field)
}

// FieldOffset returns the byte offset of field within typ.
func (db *DB) FieldOffset(typ, field string) (int64, error) {
	f, err := db.Field(typ, field)
	if err != nil {
		return 0, err
	}
	return f.Offset, nil
}

// Types returns the sorted names of all known types, or nil before
// Initialize.
func (db *DB) Types() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var names []string
	for n := range db.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store keeps named snapshots.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/vmcore/internal/core"
)

// ErrNotFound is returned when no snapshot has the requested name.
var ErrNotFound = errors.New("snapshot not found")

// A Store holds encoded snapshots by name.
type Store interface {
	Save(name string, s *core.Snapshot) error
	Load(name string) (*core.Snapshot, error)
	Delete(name string) error
	// List returns the stored names with the given prefix, sorted.
	List(prefix string) ([]string, error)
	Close() error
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, "\x00\n") {
		return fmt.Errorf("bad snapshot name %q", name)
	}
	return nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMem returns a Store that keeps snapshots in memory.
func NewMem() Store {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Save(name string, s *core.Snapshot) error {
	if err := checkName(name); err != nil {
		return err
	}
	b, err := s.Marshal()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = b
	return nil
}

func (m *memStore) Load(name string) (*core.Snapshot, error) {
	m.mu.Lock()
	b, ok := m.data[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return core.UnmarshalSnapshot(b)
}

func (m *memStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.data, name)
	return nil
}

func (m *memStore) List(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *memStore) Close() error { return nil }

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"golang.org/x/vmcore/internal/core"
)

// Snapshots are stored under this key prefix.
const keyPrefix = "snapshot/"

type badgerStore struct {
	db     *badger.DB
	logger log.Logger
}

// Options configures a badger-backed Store.
type Options struct {
	// Dir holds the database. It is created if missing. If empty, the
	// store lives in memory only.
	Dir string
	// MaxMemMB sizes badger's memtables.
	MaxMemMB int
	Logger   log.Logger
}

// Open opens a badger-backed Store.
func Open(opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	logger := log.With(opts.Logger, "component", "store")
	var bo badger.Options
	if opts.Dir == "" {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir failed: %w", err)
		}
		bo = badger.DefaultOptions(opts.Dir)
	}
	memTable := int64(min(max(opts.MaxMemMB/4, 8), 64)) << 20
	bo = bo.
		// Snapshots are already zstd-compressed.
		WithCompression(options.None).
		WithNumMemtables(2).
		WithMemTableSize(memTable).
		WithBaseTableSize(memTable).
		WithMetricsEnabled(false).
		WithLogger(badgerLogger{logger})

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open store failed: %w", err)
	}
	level.Debug(logger).Log("msg", "store opened", "dir", opts.Dir)
	return &badgerStore{db: db, logger: logger}, nil
}

func (b *badgerStore) Save(name string, s *core.Snapshot) error {
	if err := checkName(name); err != nil {
		return err
	}
	v, err := s.Marshal()
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+name), v)
	})
}

func (b *badgerStore) Load(name string) (*core.Snapshot, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return core.UnmarshalSnapshot(raw)
}

func (b *badgerStore) Delete(name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(keyPrefix + name)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, name)
			}
			return err
		}
		return txn.Delete(key)
	})
}

func (b *badgerStore) List(prefix string) ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(keyPrefix + prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	return names, err
}

func (b *badgerStore) Close() error {
	return b.db.Close()
}

// badgerLogger sends badger's logging to a go-kit logger.
type badgerLogger struct {
	logger log.Logger
}

func (l badgerLogger) Errorf(f string, args ...any) {
	level.Error(l.logger).Log("msg", strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (l badgerLogger) Warningf(f string, args ...any) {
	level.Warn(l.logger).Log("msg", strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (l badgerLogger) Infof(f string, args ...any) {
	level.Debug(l.logger).Log("msg", strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (l badgerLogger) Debugf(f string, args ...any) {
	level.Debug(l.logger).Log("msg", strings.TrimSpace(fmt.Sprintf(f, args...)))
}

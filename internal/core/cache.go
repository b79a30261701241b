// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-delve/delve/pkg/dwarf/op"

	"golang.org/x/vmcore/arch"
)

// A CachedSpace keeps recently read pages of another AddressSpace.
// Register state is never cached. Flush must be called whenever the
// inferior may have run.
type CachedSpace struct {
	space AddressSpace
	pages *ristretto.Cache[uint64, []byte]
}

var _ AddressSpace = (*CachedSpace)(nil)

// NewCachedSpace caches up to maxBytes of the memory of space.
func NewCachedSpace(space AddressSpace, maxBytes int64) (*CachedSpace, error) {
	pages, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: 10 * max(maxBytes/PageSize, 1),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedSpace{space: space, pages: pages}, nil
}

func (c *CachedSpace) Arch() *arch.Architecture {
	return c.space.Arch()
}

func (c *CachedSpace) ReadAt(b []byte, a Address) error {
	start, n := a, len(b)
	for len(b) > 0 {
		page := AlignDown(a, PageSize)
		off := a.Sub(page)
		k := min(int64(len(b)), PageSize-off)
		data, ok := c.pages.Get(uint64(page))
		if !ok {
			data = make([]byte, PageSize)
			if err := c.space.ReadAt(data, page); err != nil {
				// A partially readable page is not cached.
				if err := c.space.ReadAt(b[:k], a); err != nil {
					return &MemoryError{Addr: start, Len: int64(n)}
				}
				b = b[k:]
				a = a.Add(k)
				continue
			}
			c.pages.Set(uint64(page), data, PageSize)
			c.pages.Wait()
		}
		copy(b[:k], data[off:])
		b = b[k:]
		a = a.Add(k)
	}
	return nil
}

func (c *CachedSpace) ReadWord(a Address) (uint64, error) {
	return readWord(c, a)
}

func (c *CachedSpace) RegisterContext(tid uint64) (*op.DwarfRegisters, error) {
	return c.space.RegisterContext(tid)
}

func (c *CachedSpace) ResolveThread(idAddr Address) (*Thread, error) {
	t, err := c.space.ResolveThread(idAddr)
	if err != nil {
		return nil, err
	}
	return NewThread(c, t.TID()), nil
}

// Flush drops all cached pages.
func (c *CachedSpace) Flush() {
	c.pages.Clear()
}

// Close releases the cache and closes the underlying space.
func (c *CachedSpace) Close() error {
	c.pages.Close()
	return Close(c.space)
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"strings"
)

// A Mapping represents a contiguous subset of the inferior's address space.
type Mapping struct {
	min  Address
	max  Address
	perm Perm

	// Where the data came from, for printing only.
	source string

	// At most max-min bytes. Bytes past the end of contents read as zero.
	contents []byte
}

// Min returns the lowest virtual address of the mapping.
func (m *Mapping) Min() Address {
	return m.min
}

// Max returns the virtual address of the byte just beyond the mapping.
func (m *Mapping) Max() Address {
	return m.max
}

// Size returns int64(Max-Min)
func (m *Mapping) Size() int64 {
	return m.max.Sub(m.min)
}

// Perm returns the permissions on the mapping.
func (m *Mapping) Perm() Perm {
	return m.perm
}

// Source returns a description of where the mapping's data came from,
// or "" if unknown.
func (m *Mapping) Source() string {
	return m.source
}

// A Perm represents the permissions allowed for a Mapping.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var a [3]string
	b := a[:0]
	if p&Read != 0 {
		b = append(b, "Read")
	}
	if p&Write != 0 {
		b = append(b, "Write")
	}
	if p&Exec != 0 {
		b = append(b, "Exec")
	}
	if len(b) == 0 {
		b = append(b, "None")
	}
	return strings.Join(b, "|")
}

// Short returns the rwx rendering of p.
func (p Perm) Short() string {
	s := []byte("---")
	if p&Read != 0 {
		s[0] = 'r'
	}
	if p&Write != 0 {
		s[1] = 'w'
	}
	if p&Exec != 0 {
		s[2] = 'x'
	}
	return string(s)
}

// PageSize is the granularity of the page table. We assume that OS pages
// are at least 4K in size, so every mapping starts and ends at a multiple
// of 4K.
const PageSize = 1 << 12

// We divide the other 64-12 = 52 bits into levels in a page table.
type pageTable0 [1 << 10]*Mapping
type pageTable1 [1 << 10]*pageTable0
type pageTable2 [1 << 10]*pageTable1
type pageTable3 [1 << 10]*pageTable2
type pageTable4 [1 << 12]*pageTable3

// findMapping is simple enough that it inlines.
func (t *pageTable4) findMapping(a Address) *Mapping {
	t3 := t[a>>52]
	if t3 == nil {
		return nil
	}
	t2 := t3[a>>42%(1<<10)]
	if t2 == nil {
		return nil
	}
	t1 := t2[a>>32%(1<<10)]
	if t1 == nil {
		return nil
	}
	t0 := t1[a>>22%(1<<10)]
	if t0 == nil {
		return nil
	}
	return t0[a>>12%(1<<10)]
}

func (t *pageTable4) addMapping(m *Mapping) error {
	if m.min%PageSize != 0 {
		return fmt.Errorf("mapping start %v isn't a multiple of 4096", m.min)
	}
	if m.max%PageSize != 0 {
		return fmt.Errorf("mapping end %v isn't a multiple of 4096", m.max)
	}
	for a := m.min; a < m.max; a += PageSize {
		if t.findMapping(a) != nil {
			return fmt.Errorf("mapping [%v %v] overlaps another mapping at %v", m.min, m.max, a)
		}
	}
	for a := m.min; a < m.max; a += PageSize {
		i3 := a >> 52
		t3 := t[i3]
		if t3 == nil {
			t3 = new(pageTable3)
			t[i3] = t3
		}
		i2 := a >> 42 % (1 << 10)
		t2 := t3[i2]
		if t2 == nil {
			t2 = new(pageTable2)
			t3[i2] = t2
		}
		i1 := a >> 32 % (1 << 10)
		t1 := t2[i1]
		if t1 == nil {
			t1 = new(pageTable1)
			t2[i1] = t1
		}
		i0 := a >> 22 % (1 << 10)
		t0 := t1[i0]
		if t0 == nil {
			t0 = new(pageTable0)
			t1[i0] = t0
		}
		t0[a>>12%(1<<10)] = m
	}
	return nil
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"debug/elf"
	"sort"
)

// CodeRanges is a sorted set of half-open address ranges known to hold
// machine code.
type CodeRanges struct {
	r []codeRange
}

type codeRange struct {
	min, max Address
}

// Add records [min, max) as code.
func (c *CodeRanges) Add(min, max Address) {
	if min >= max {
		return
	}
	c.r = append(c.r, codeRange{min, max})
	sort.Slice(c.r, func(i, j int) bool { return c.r[i].min < c.r[j].min })
	// Merge overlapping ranges.
	out := c.r[:1]
	for _, r := range c.r[1:] {
		last := &out[len(out)-1]
		if r.min <= last.max {
			last.max = last.max.Max(r.max)
			continue
		}
		out = append(out, r)
	}
	c.r = out
}

// IsInKnownCode reports whether pc lies in one of the ranges.
func (c *CodeRanges) IsInKnownCode(pc Address) bool {
	i := sort.Search(len(c.r), func(i int) bool { return c.r[i].max > pc })
	return i < len(c.r) && c.r[i].min <= pc
}

// Len returns the number of disjoint ranges.
func (c *CodeRanges) Len() int {
	return len(c.r)
}

// ExecRegions returns the executable mappings of p as code ranges.
func ExecRegions(p *SnapshotSpace) *CodeRanges {
	c := new(CodeRanges)
	for _, m := range p.mappings {
		if m.perm&Exec != 0 {
			c.Add(m.min, m.max)
		}
	}
	return c
}

// ELFRegions returns the executable segments of f, each moved by bias,
// as code ranges.
func ELFRegions(f *elf.File, bias int64) *CodeRanges {
	c := new(CodeRanges)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 {
			continue
		}
		min := Address(p.Vaddr).Add(bias)
		c.Add(min, min.Add(int64(p.Memsz)))
	}
	return c
}

// Merge adds the ranges of d to c.
func (c *CodeRanges) Merge(d *CodeRanges) {
	for _, r := range d.r {
		c.Add(r.min, r.max)
	}
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package typedb

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// A Table is a resolved name to layout table, as published by the
// inferior's metadata source.
type Table struct {
	Types []Type `yaml:"types" json:"types"`
}

// Add appends a type with the given fields to the table.
func (tab *Table) Add(name string, size int64, fields ...Field) {
	tab.Types = append(tab.Types, Type{Name: name, Size: size, Fields: fields})
}

// LoadTable reads a table in YAML form. JSON input is accepted too.
// Unknown keys are an error.
func LoadTable(r io.Reader) (Table, error) {
	var tab Table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tab); err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, fmt.Errorf("%w: empty input", ErrBadTable)
		}
		return Table{}, fmt.Errorf("%w: %v", ErrBadTable, err)
	}
	return tab, nil
}

// Encode writes tab in the form LoadTable reads.
func (tab Table) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(tab); err != nil {
		return err
	}
	return enc.Close()
}

// index validates tab and returns private copies of its types by name.
func (tab Table) index() (map[string]*Type, error) {
	types := make(map[string]*Type, len(tab.Types))
	for _, t := range tab.Types {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: type with no name", ErrBadTable)
		}
		if _, dup := types[t.Name]; dup {
			return nil, fmt.Errorf("%w: type %s listed twice", ErrBadTable, t.Name)
		}
		if t.Size < 0 {
			return nil, fmt.Errorf("%w: type %s has size %d", ErrBadTable, t.Name, t.Size)
		}
		nt := &Type{
			Name:   t.Name,
			Size:   t.Size,
			Fields: append([]Field(nil), t.Fields...),
			index:  make(map[string]int, len(t.Fields)),
		}
		for i, f := range nt.Fields {
			if _, dup := nt.index[f.Name]; dup || f.Name == "" {
				return nil, fmt.Errorf("%w: bad or duplicate field %q in %s", ErrBadTable, f.Name, t.Name)
			}
			if f.Offset < 0 || f.Size < 0 {
				return nil, fmt.Errorf("%w: field %s.%s at %d size %d", ErrBadTable, t.Name, f.Name, f.Offset, f.Size)
			}
			if t.Size > 0 && f.Offset+f.Size > t.Size {
				return nil, fmt.Errorf("%w: field %s.%s extends past end of type", ErrBadTable, t.Name, f.Name)
			}
			if f.IsAddress && f.Size != 4 && f.Size != 8 {
				return nil, fmt.Errorf("%w: address field %s.%s has size %d", ErrBadTable, t.Name, f.Name, f.Size)
			}
			nt.index[f.Name] = i
		}
		types[t.Name] = nt
	}
	return types, nil
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package typedb

import (
	"debug/dwarf"
	"fmt"
	"strings"
)

// TableFromDWARF builds a table from the struct types described by d.
// If names is non-empty, only those structs are included and each of
// them must be present.
func TableFromDWARF(d *dwarf.Data, ptrSize int64, names ...string) (Table, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	seen := make(map[string]bool)
	var tab Table

	r := d.Reader()
	for e, err := r.Next(); e != nil; e, err = r.Next() {
		if err != nil {
			return Table{}, fmt.Errorf("failed to read DWARF: %v", err)
		}
		if e.Tag != dwarf.TagStructType {
			continue
		}
		dt, err := d.Type(e.Offset)
		if err != nil {
			continue
		}
		st, ok := dt.(*dwarf.StructType)
		if !ok || st.Incomplete || strings.HasPrefix(st.StructName, "struct {") {
			continue
		}
		name := st.StructName
		if seen[name] || (len(want) > 0 && !want[name]) {
			continue
		}
		seen[name] = true
		t := Type{Name: name, Size: dwarfSize(st, ptrSize)}
		for _, f := range st.Field {
			ft := stripTypedefs(f.Type)
			_, isPtr := ft.(*dwarf.PtrType)
			t.Fields = append(t.Fields, Field{
				Name:      f.Name,
				Offset:    f.ByteOffset,
				Size:      dwarfSize(f.Type, ptrSize),
				IsAddress: isPtr,
			})
		}
		tab.Types = append(tab.Types, t)
	}
	for _, n := range names {
		if !seen[n] {
			return Table{}, &MismatchError{Type: n, Err: ErrUnknownType}
		}
	}
	return tab, nil
}

func stripTypedefs(dt dwarf.Type) dwarf.Type {
	for {
		x, ok := dt.(*dwarf.TypedefType)
		if !ok {
			return dt
		}
		dt = x.Type
	}
}

// dwarfSize is used to compute the size of a DWARF type.
// dt.Size() is wrong when it returns a negative number.
// This function implements just enough to correct the bad behavior.
func dwarfSize(dt dwarf.Type, ptrSize int64) int64 {
	s := dt.Size()
	if s >= 0 {
		return s
	}
	switch x := dt.(type) {
	case *dwarf.FuncType, *dwarf.PtrType:
		return ptrSize
	case *dwarf.ArrayType:
		return x.Count * dwarfSize(x.Type, ptrSize)
	case *dwarf.TypedefType:
		return dwarfSize(x.Type, ptrSize)
	}
	return 0
}

// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/go-delve/delve/pkg/dwarf/regnum"

	"golang.org/x/vmcore/arch"
)

// ReadCore reads a Linux ELF core file and returns a Snapshot of the
// process that dumped core. Memory not present in the core file (mapped
// text, MADV_DONTDUMP regions) is kept as mappings without data.
func ReadCore(coreFile string) (*Snapshot, error) {
	f, err := os.Open(coreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open core file: %v", err)
	}
	defer f.Close()

	e, err := elf.NewFile(f)
	if err != nil {
		return nil, err
	}
	if e.Type != elf.ET_CORE {
		return nil, fmt.Errorf("%s is not a core file", coreFile)
	}
	if e.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("unsupported elf class %s", e.Class)
	}
	s := &Snapshot{OS: "linux"}
	switch e.Machine {
	case elf.EM_X86_64:
		s.Arch = "amd64"
	case elf.EM_AARCH64:
		s.Arch = "arm64"
	case elf.EM_RISCV:
		s.Arch = "riscv64"
	default:
		return nil, fmt.Errorf("unknown arch %s", e.Machine)
	}

	// Load virtual memory mappings.
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_LOAD {
			if err := readLoad(s, f, prog); err != nil {
				return nil, err
			}
		}
	}
	// Load notes (threads, file mapping information).
	for _, prog := range e.Progs {
		if prog.Type == elf.PT_NOTE {
			if err := readNote(s, f, e, prog.Off, prog.Filesz); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func readLoad(s *Snapshot, f *os.File, prog *elf.Prog) error {
	var perm Perm
	if prog.Flags&elf.PF_R != 0 {
		perm |= Read
	}
	if prog.Flags&elf.PF_W != 0 {
		perm |= Write
	}
	if prog.Flags&elf.PF_X != 0 {
		perm |= Exec
	}
	if perm == 0 {
		return nil
	}
	seg := Segment{
		Addr:   prog.Vaddr,
		Size:   Align(prog.Memsz, PageSize),
		Perm:   perm,
		Source: fmt.Sprintf("%s@%x", f.Name(), prog.Off),
	}
	if prog.Filesz > 0 {
		// Data backing this mapping is in the core file. We may only
		// have a prefix of it; the rest reads as zero.
		seg.Data = make([]byte, prog.Filesz)
		if _, err := f.ReadAt(seg.Data, int64(prog.Off)); err != nil {
			return fmt.Errorf("can't read %s at %x: %v", f.Name(), prog.Off, err)
		}
	} else {
		seg.Source = ""
	}
	s.Segments = append(s.Segments, seg)
	return nil
}

func readNote(s *Snapshot, f *os.File, e *elf.File, off, size uint64) error {
	const NT_FILE elf.NType = 0x46494c45

	b := make([]byte, size)
	_, err := f.ReadAt(b, int64(off))
	if err != nil {
		return err
	}
	for len(b) >= 12 {
		namesz := e.ByteOrder.Uint32(b)
		b = b[4:]
		descsz := e.ByteOrder.Uint32(b)
		b = b[4:]
		typ := elf.NType(e.ByteOrder.Uint32(b))
		b = b[4:]
		if uint64(namesz) > uint64(len(b)) || namesz == 0 {
			return fmt.Errorf("truncated note")
		}
		name := string(b[:namesz-1])
		b = b[min(uint64(len(b)), uint64(namesz+3)/4*4):]
		if uint64(descsz) > uint64(len(b)) {
			return fmt.Errorf("truncated note %s", name)
		}
		desc := b[:descsz]
		b = b[min(uint64(len(b)), uint64(descsz+3)/4*4):]

		if name != "CORE" {
			continue
		}
		switch typ {
		case NT_FILE:
			if err := readNTFile(s, e, desc); err != nil {
				return fmt.Errorf("reading NT_FILE: %v", err)
			}
		case elf.NT_PRSTATUS:
			// An OS thread.
			if err := readPRStatus(s, e, desc); err != nil {
				return fmt.Errorf("reading NT_PRSTATUS: %v", err)
			}
		case elf.NT_PRPSINFO:
			if err := readPRPSInfo(s, desc); err != nil {
				return fmt.Errorf("reading NT_PRPSINFO: %v", err)
			}
		}
	}
	return nil
}

// readNTFile labels segments with the names of the files mapped there.
func readNTFile(s *Snapshot, e *elf.File, desc []byte) error {
	if len(desc) < 16 {
		return fmt.Errorf("short descriptor")
	}
	count := e.ByteOrder.Uint64(desc)
	desc = desc[8:]
	desc = desc[8:] // page size
	if count > uint64(len(desc))/24 {
		return fmt.Errorf("short descriptor for %d files", count)
	}
	filenames := string(desc[3*8*count:])
	desc = desc[:3*8*count]

	for i := uint64(0); i < count; i++ {
		min := e.ByteOrder.Uint64(desc)
		desc = desc[8:]
		max := e.ByteOrder.Uint64(desc)
		desc = desc[8:]
		desc = desc[8:] // file offset in pages

		var name string
		j := strings.IndexByte(filenames, 0)
		if j >= 0 {
			name = filenames[:j]
			filenames = filenames[j+1:]
		} else {
			name = filenames
			filenames = ""
		}
		for k := range s.Segments {
			seg := &s.Segments[k]
			if seg.Addr >= min && seg.Addr < max && seg.Source == "" {
				seg.Source = name
			}
		}
	}
	return nil
}

func readPRPSInfo(s *Snapshot, desc []byte) error {
	r := bytes.NewReader(desc)
	prpsinfo := &linuxPrPsInfo{}
	if err := binary.Read(r, binary.LittleEndian, prpsinfo); err != nil {
		return err
	}
	s.Args = strings.Trim(string(prpsinfo.Args[:]), "\x00 ")
	return nil
}

func readPRStatus(s *Snapshot, e *elf.File, desc []byte) error {
	// Linux
	//   sys/procfs.h:
	//     struct elf_prstatus {
	//       ...
	//       pid_t	pr_pid;
	//       ...
	//       elf_gregset_t pr_reg;	/* GP registers */
	//       ...
	//     };
	// 32 = offsetof(prstatus_t, pr_pid), 112 = offsetof(prstatus_t, pr_reg)
	// on all 64-bit Linux targets.
	if len(desc) < 112 {
		return fmt.Errorf("short prstatus")
	}
	tid := uint64(e.ByteOrder.Uint32(desc[32 : 32+4]))
	var order []uint64
	switch s.Arch {
	case "amd64":
		order = amd64GregOrder
	case "arm64":
		order = arm64GregOrder
	case "riscv64":
		order = riscv64GregOrder
	}
	if len(desc) < 112+8*len(order) {
		return fmt.Errorf("short register set for %s", s.Arch)
	}
	reg := desc[112:]
	regs := make(map[uint64]uint64, len(order))
	for i, n := range order {
		if n == skipReg {
			continue
		}
		regs[n] = e.ByteOrder.Uint64(reg[8*i:])
	}
	s.AddThread(tid, regs)
	return nil
}

const skipReg = ^uint64(0)

// Register order of elf_gregset_t, as listed in sys/user.h.
var amd64GregOrder = []uint64{
	regnum.AMD64_R15, regnum.AMD64_R14, regnum.AMD64_R13, regnum.AMD64_R12,
	regnum.AMD64_Rbp, regnum.AMD64_Rbx, regnum.AMD64_R11, regnum.AMD64_R10,
	regnum.AMD64_R9, regnum.AMD64_R8, regnum.AMD64_Rax, regnum.AMD64_Rcx,
	regnum.AMD64_Rdx, regnum.AMD64_Rsi, regnum.AMD64_Rdi,
	skipReg, // orig_rax
	regnum.AMD64_Rip,
	skipReg, // cs
	skipReg, // eflags
	regnum.AMD64_Rsp,
}

// x0-x30, sp, pc.
var arm64GregOrder = func() []uint64 {
	var o []uint64
	for i := uint64(0); i <= 30; i++ {
		o = append(o, regnum.ARM64_X0+i)
	}
	return append(o, regnum.ARM64_SP, regnum.ARM64_PC)
}()

// pc, x1-x31.
var riscv64GregOrder = func() []uint64 {
	o := []uint64{arch.RISCV64_PC}
	for i := uint64(1); i <= 31; i++ {
		o = append(o, i)
	}
	return o
}()

// linuxPrPsInfo is the info embedded in NT_PRPSINFO.
type linuxPrPsInfo struct {
	State                uint8
	Sname                int8
	Zomb                 uint8
	Nice                 int8
	_                    [4]uint8
	Flag                 uint64
	Uid, Gid             uint32
	Pid, Ppid, Pgrp, Sid int32
	Fname                [16]uint8 // filename of executables
	Args                 [80]uint8 // first part of program args
}

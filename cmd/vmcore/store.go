// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"golang.org/x/vmcore/internal/core"
)

var (
	cmdConvert = &cobra.Command{
		Use:   "convert <corefile> <snapshot>",
		Short: "convert an ELF core file to a snapshot file",
		Args:  cobra.ExactArgs(2),
		RunE:  runConvert,
	}

	cmdStore = &cobra.Command{
		Use:   "store",
		Short: "manage stored snapshots",
	}

	cmdStoreSave = &cobra.Command{
		Use:   "save <name>",
		Short: "store the snapshot of the current target",
		Args:  cobra.ExactArgs(1),
		RunE:  runStoreSave,
	}

	cmdStoreLoad = &cobra.Command{
		Use:   "load <name> <snapshot>",
		Short: "write a stored snapshot to a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runStoreLoad,
	}

	cmdStoreList = &cobra.Command{
		Use:   "list [<prefix>]",
		Short: "list stored snapshots",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStoreList,
	}

	cmdStoreRm = &cobra.Command{
		Use:   "rm <name>...",
		Short: "delete stored snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runStoreRm,
	}
)

func init() {
	cmdStore.AddCommand(cmdStoreSave, cmdStoreLoad, cmdStoreList, cmdStoreRm)
}

func writeSnapshot(path string, s *core.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := s.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runConvert(cmd *cobra.Command, args []string) error {
	s, err := core.ReadCore(args[0])
	if err != nil {
		return err
	}
	if err := writeSnapshot(args[1], s); err != nil {
		return err
	}
	level.Info(logger).Log("msg", "converted", "core", args[0], "snapshot", args[1],
		"segments", len(s.Segments), "threads", len(s.Threads))
	return nil
}

func runStoreSave(cmd *cobra.Command, args []string) error {
	t, err := openOne()
	if err != nil {
		return err
	}
	if t.snap == nil {
		return errors.New("only snapshots and core files can be stored")
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Save(args[0], t.snap)
}

func runStoreLoad(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	s, err := st.Load(args[0])
	if err != nil {
		return err
	}
	return writeSnapshot(args[1], s)
}

func runStoreList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	names, err := st.List(prefix)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(cmd.OutOrStdout(), n)
	}
	return nil
}

func runStoreRm(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	for _, n := range args {
		if err := st.Delete(n); err != nil {
			return err
		}
	}
	return nil
}

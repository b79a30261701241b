// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"golang.org/x/vmcore/internal/core"
	"golang.org/x/vmcore/internal/frame"
	"golang.org/x/vmcore/internal/thread"
)

var (
	cmdThreads = &cobra.Command{
		Use:   "threads <thread address>...",
		Short: "print a summary of runtime threads",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runThreads,
	}

	cmdFrames = &cobra.Command{
		Use:   "frames <thread address>...",
		Short: "print the call frames of runtime threads",
		Long: `Print the call frames of runtime threads, innermost first.
With several targets, each is walked concurrently.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFrames,
	}

	cmdGuess = &cobra.Command{
		Use:   "guess <thread address>...",
		Short: "guess the current frame of runtime threads from their stacks",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGuess,
	}

	cmdRegs = &cobra.Command{
		Use:   "regs <tid>",
		Short: "print the registers of an OS thread",
		Args:  cobra.ExactArgs(1),
		RunE:  runRegs,
	}

	cmdRead = &cobra.Command{
		Use:   "read <address> [<n>]",
		Short: "read a chunk of memory",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runRead,
	}

	cmdMappings = &cobra.Command{
		Use:   "mappings",
		Short: "print virtual memory mappings of a snapshot",
		Args:  cobra.NoArgs,
		RunE:  runMappings,
	}

	cmdTypes = &cobra.Command{
		Use:   "types",
		Short: "print the runtime type table",
		Args:  cobra.NoArgs,
		RunE:  runTypes,
	}
)

func init() {
	cmdFrames.Flags().Bool("regs", false, "print where callee-saved registers live in the outermost frame")
}

func runThreads(cmd *cobra.Command, args []string) error {
	refs, err := parseAddresses(args)
	if err != nil {
		return err
	}
	t, err := openOne()
	if err != nil {
		return err
	}
	a := t.threads()
	for _, ref := range refs {
		a.PrintSummary(cmd.OutOrStdout(), ref)
	}
	return nil
}

func runFrames(cmd *cobra.Command, args []string) error {
	refs, err := parseAddresses(args)
	if err != nil {
		return err
	}
	showRegs, err := cmd.Flags().GetBool("regs")
	if err != nil {
		return err
	}
	ts, err := openTargets()
	if err != nil {
		return err
	}

	// Sessions share nothing, so targets are walked in parallel. Output
	// is collected per target and printed in order.
	out := make([]bytes.Buffer, len(ts))
	var g errgroup.Group
	for i, t := range ts {
		i, t := i, t
		g.Go(func() error {
			w := &out[i]
			if len(ts) > 1 {
				fmt.Fprintf(w, "== %s\n", t.name)
			}
			return printFrames(w, t, refs, showRegs)
		})
	}
	err = g.Wait()
	for i := range out {
		cmd.OutOrStdout().Write(out[i].Bytes())
	}
	return err
}

func printFrames(w io.Writer, t *target, refs []core.Address, showRegs bool) error {
	a := t.threads()
	for _, ref := range refs {
		fmt.Fprintf(w, "thread %v\n", ref)
		st, err := a.Walk(ref, conf.FrameLimit)
		if errors.Is(err, thread.ErrNoInformation) {
			fmt.Fprintf(w, "  no frames\n")
			continue
		}
		if st == nil {
			// A layout mismatch ends the session's usefulness.
			if a.Err() != nil {
				return fmt.Errorf("%s: %w", t.name, err)
			}
			fmt.Fprintf(w, "  %v\n", err)
			continue
		}
		if st.Guessed {
			fmt.Fprintf(w, "  (guessed from the stack)\n")
		}
		for i, f := range st.Frames {
			fmt.Fprintf(w, "  #%-3d %v%s\n", i, f, t.funcName(f))
		}
		if err != nil {
			fmt.Fprintf(w, "  stopped: %v\n", err)
		}
		if showRegs {
			st.Regs.Print(w)
		}
	}
	return nil
}

// funcName returns " in NAME+OFF" for a frame whose pc has a symbol.
func (t *target) funcName(f *frame.Frame) string {
	if t.funcs == nil || !f.HasPC() {
		return ""
	}
	name, ok := t.funcs.FuncName(f.PC)
	if !ok {
		return ""
	}
	entry, _ := t.funcs.FuncEntry(f.PC)
	return fmt.Sprintf(" in %s+%d", name, f.PC.Sub(entry))
}

func runGuess(cmd *cobra.Command, args []string) error {
	refs, err := parseAddresses(args)
	if err != nil {
		return err
	}
	t, err := openOne()
	if err != nil {
		return err
	}
	a := t.threads()
	w := cmd.OutOrStdout()
	for _, ref := range refs {
		f, err := a.CurrentFrameGuess(ref)
		if err != nil {
			fmt.Fprintf(w, "thread %v: %v\n", ref, err)
			continue
		}
		fmt.Fprintf(w, "thread %v: %v%s\n", ref, f, t.funcName(f))
	}
	return nil
}

func runRegs(cmd *cobra.Command, args []string) error {
	tid, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("can't parse %s as a thread id", args[0])
	}
	t, err := openOne()
	if err != nil {
		return err
	}
	regs, err := t.space.RegisterContext(tid)
	if err != nil {
		return err
	}
	a := t.space.Arch()
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 1, ' ', 0)
	for i := 0; i < regs.CurrentSize(); i++ {
		if regs.Reg(uint64(i)) == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%#x\n", a.RegName(uint64(i)), regs.Uint64Val(uint64(i)))
	}
	return tw.Flush()
}

func runRead(cmd *cobra.Command, args []string) error {
	a, err := parseAddress(args[0])
	if err != nil {
		return err
	}
	n := int64(256)
	if len(args) > 1 {
		if n, err = strconv.ParseInt(args[1], 10, 64); err != nil || n <= 0 {
			return fmt.Errorf("can't parse %s as a byte count", args[1])
		}
	}
	t, err := openOne()
	if err != nil {
		return err
	}
	b := make([]byte, n)
	if err := t.space.ReadAt(b, a); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for i, x := range b {
		if i%16 == 0 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%v:", a.Add(int64(i)))
		}
		fmt.Fprintf(w, " %02x", x)
	}
	fmt.Fprintln(w)
	return nil
}

func runMappings(cmd *cobra.Command, args []string) error {
	t, err := openOne()
	if err != nil {
		return err
	}
	if t.p == nil {
		return errors.New("mappings are only known for snapshots")
	}
	return printMappings(cmd.OutOrStdout(), t.p)
}

func printMappings(w io.Writer, p *core.SnapshotSpace) error {
	if args := p.Args(); args != "" {
		fmt.Fprintf(w, "command: %s\n", args)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "min\tmax\tperm\tsource\t\n")
	for _, m := range p.Mappings() {
		fmt.Fprintf(tw, "%v\t%v\t%s\t%s\t\n", m.Min(), m.Max(), m.Perm().Short(), m.Source())
	}
	return tw.Flush()
}

func runTypes(cmd *cobra.Command, args []string) error {
	t, err := openOne()
	if err != nil {
		return err
	}
	db, err := t.sess.DB()
	if err != nil {
		return err
	}
	names := db.Types()
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "no type table; use --types or --exe")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 1, ' ', 0)
	for _, n := range names {
		typ, err := db.LookupType(n)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\tsize %d\t\n", typ.Name, typ.Size)
		for _, f := range typ.Fields {
			addr := ""
			if f.IsAddress {
				addr = "address"
			}
			fmt.Fprintf(tw, "  %s\t+%d\t%d\t%s\n", f.Name, f.Offset, f.Size, addr)
		}
	}
	return tw.Flush()
}

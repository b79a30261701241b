// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The vmcore tool inspects the runtime threads of a stopped process, a
// remote target, or a snapshot of one.
// Run "vmcore help" for a list of commands.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"golang.org/x/vmcore/internal/config"
	"golang.org/x/vmcore/internal/core"
)

var (
	cfg struct {
		file string

		snapshot []string
		core     []string
		remote   []string
		stored   []string
		pid      int

		exe   string
		bias  int64
		types string

		logLevel   string
		guessRange int64
		maxStack   int64
		limit      int
		cache      int64
	}

	conf   = config.Default()
	logger = log.NewNopLogger()
)

var (
	cmdRoot = &cobra.Command{
		Use:   "vmcore",
		Short: "inspect runtime threads and stacks of a process or snapshot",
		Long: `vmcore reads the thread descriptors of a managed runtime and
reconstructs their call frames. A target is given by one of --snapshot,
--core, --stored, --remote or --pid. Runtime structure layouts come from
--types, or from the debug info of --exe.

Without a command, vmcore starts an interactive shell.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		Args:              cobra.NoArgs,
	}
)

func init() {
	// Set here rather than in the literal: runRoot refers to cmdRoot.
	cmdRoot.Run = runRoot

	f := cmdRoot.PersistentFlags()
	f.StringVar(&cfg.file, "config", "", "config file (YAML)")
	f.StringArrayVar(&cfg.snapshot, "snapshot", nil, "snapshot file to read; may be repeated")
	f.StringArrayVar(&cfg.core, "core", nil, "ELF core file to read; may be repeated")
	f.StringArrayVar(&cfg.stored, "stored", nil, "stored snapshot to read; may be repeated")
	f.StringArrayVar(&cfg.remote, "remote", nil, "address of a vmcore server; may be repeated")
	f.IntVar(&cfg.pid, "pid", 0, "attach to the stopped process with this pid (linux)")
	f.StringVar(&cfg.exe, "exe", "", "executable of the target, for symbols, code ranges and layouts")
	f.Int64Var(&cfg.bias, "bias", 0, "load bias of --exe")
	f.StringVar(&cfg.types, "types", "", "runtime type table (YAML or JSON)")

	f.StringVar(&cfg.logLevel, "log-level", "", "log level: debug, info, warn, error or none")
	f.Int64Var(&cfg.guessRange, "guess-range", 0, "bytes of stack scanned when guessing a frame")
	f.Int64Var(&cfg.maxStack, "max-stack", 0, "largest plausible stack, in bytes")
	f.IntVar(&cfg.limit, "limit", 0, "most frames printed per thread")
	f.Int64Var(&cfg.cache, "cache", -1, "page cache size in bytes for live and remote targets; 0 disables")

	cmdRoot.AddCommand(
		cmdThreads, cmdFrames, cmdGuess, cmdRegs, cmdRead, cmdMappings,
		cmdConvert, cmdStore, cmdServe, cmdTypes,
	)
}

// setup loads the config file and applies flags over it.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfg.file)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("log-level") {
		c.LogLevel = cfg.logLevel
	}
	if f.Changed("guess-range") {
		c.Guess.Range = cfg.guessRange
	}
	if f.Changed("max-stack") {
		c.Guess.MaxStack = cfg.maxStack
	}
	if f.Changed("limit") {
		c.FrameLimit = cfg.limit
	}
	if f.Changed("cache") {
		c.CacheBytes = cfg.cache
	}
	if err := c.Validate(); err != nil {
		return err
	}
	conf = c
	logger = conf.Logger(os.Stderr)
	return nil
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

// parseAddress parses a hex address, with or without a 0x prefix.
func parseAddress(s string) (core.Address, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse %q as an address", s)
	}
	return core.Address(n), nil
}

func parseAddresses(args []string) ([]core.Address, error) {
	refs := make([]core.Address, 0, len(args))
	for _, s := range args {
		a, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		refs = append(refs, a)
	}
	return refs, nil
}

// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runRoot runs an interactive shell. Each line is run as a vmcore
// command against the targets of the original command line, which stay
// open until the shell exits.
func runRoot(cmd *cobra.Command, args []string) {
	defer closeTargets()
	if _, err := openTargets(); err != nil {
		exitf("%v\n", err)
	}

	var items []readline.PrefixCompleterInterface
	for _, c := range cmdRoot.Commands() {
		items = append(items, readline.PcItem(c.Name()))
	}
	items = append(items, readline.PcItem("quit"))

	history := ""
	if dir, err := os.UserCacheDir(); err == nil {
		history = filepath.Join(dir, "vmcore", "history")
		os.MkdirAll(filepath.Dir(history), 0755)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(vmcore) ",
		HistoryFile:     history,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		exitf("%v\n", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			exitf("%v\n", err)
		}
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		if words[0] == "quit" || words[0] == "exit" {
			return
		}
		sub, rest, err := cmdRoot.Find(words)
		if err != nil || sub == cmdRoot {
			fmt.Fprintf(rl.Stderr(), "unknown command %q\n", words[0])
			continue
		}
		if err := runShellCommand(sub, rest); err != nil {
			fmt.Fprintf(rl.Stderr(), "%v\n", err)
		}
	}
}

// runShellCommand runs c with args against freshly read target memory,
// resetting its own flags afterwards.
func runShellCommand(c *cobra.Command, args []string) error {
	flushTargets()
	defer c.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		c.Flags().Set(f.Name, f.DefValue)
		c.Flags().Lookup(f.Name).Changed = false
	})
	if err := c.ParseFlags(args); err != nil {
		return err
	}
	args = c.Flags().Args()
	if err := c.ValidateArgs(args); err != nil {
		return err
	}
	if c.RunE != nil {
		return c.RunE(c, args)
	}
	if c.Run != nil {
		c.Run(c, args)
		return nil
	}
	return c.Help()
}

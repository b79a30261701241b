// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"net"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"golang.org/x/vmcore/internal/core"
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "serve the target to remote vmcore clients",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	cmdServe.Flags().String("listen", "localhost:7070", "address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, err := cmd.Flags().GetString("listen")
	if err != nil {
		return err
	}
	t, err := openOne()
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "serving", "target", t.name, "addr", l.Addr(), "arch", t.space.Arch())
	return core.NewRemoteServer(t.space, t.os).Serve(l)
}

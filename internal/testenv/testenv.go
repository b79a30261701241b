// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testenv helps tests that need a live inferior.
package testenv

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"
)

const helperEnv = "VMCORE_TEST_HELPER"

// MustHavePtrace skips t unless the host can attach to its own children.
func MustHavePtrace(t testing.TB) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skipf("ptrace not supported on %s", runtime.GOOS)
	}
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		t.Skipf("ptrace registers not supported on %s", runtime.GOARCH)
	}
	// Scope 2 and 3 forbid attaching without privileges.
	if b, err := os.ReadFile("/proc/sys/kernel/yama/ptrace_scope"); err == nil {
		if s := strings.TrimSpace(string(b)); s == "2" || s == "3" {
			t.Skipf("ptrace_scope is %s", s)
		}
	}
}

// RunHelper runs f and then sleeps forever if the test binary was started
// by StartHelper with this name. Call it at the top of the helper test.
func RunHelper(name string, f func() any) {
	if os.Getenv(helperEnv) != name {
		return
	}
	result := f()
	for {
		time.Sleep(time.Hour)
		runtime.KeepAlive(result)
	}
}

// StartHelper re-runs the test binary with only the test called name,
// which must call RunHelper. The process is killed when t ends.
func StartHelper(t testing.TB, name string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^"+name+"$")
	cmd.Env = append(os.Environ(), helperEnv+"="+name)
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting helper: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	// Give the helper time to reach its loop.
	time.Sleep(100 * time.Millisecond)
	return cmd
}

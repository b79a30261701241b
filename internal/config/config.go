// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the settings of the vmcore tools.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/yaml.v3"

	"golang.org/x/vmcore/internal/guess"
	"golang.org/x/vmcore/internal/thread"
)

// Config is the contents of a config file. Zero fields take defaults.
type Config struct {
	// OS and Arch override what the target reports.
	OS   string `yaml:"os,omitempty"`
	Arch string `yaml:"arch,omitempty"`

	LogLevel string `yaml:"log_level"`

	Guess struct {
		Range    int64 `yaml:"range"`
		MaxStack int64 `yaml:"max_stack"`
	} `yaml:"guess"`

	FrameLimit int `yaml:"frame_limit"`

	// CacheBytes sizes the page cache in front of live and remote
	// targets. 0 disables it.
	CacheBytes int64 `yaml:"cache_bytes"`

	Remote struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"remote"`

	Store struct {
		Dir      string `yaml:"dir"`
		MaxMemMB int    `yaml:"max_mem_mb"`
	} `yaml:"store"`

	Names thread.Names `yaml:"names"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{
		LogLevel:   "info",
		FrameLimit: thread.DefaultFrameLimit,
		CacheBytes: 64 << 20,
		Names:      thread.DefaultNames(),
	}
	c.Guess.Range = guess.DefaultRange
	c.Guess.MaxStack = guess.DefaultMaxStack
	c.Remote.Timeout = 10 * time.Second
	c.Store.MaxMemMB = 256
	return c
}

// Load reads the config file at path over the defaults. A missing file
// is not an error.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := c.Decode(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Decode reads YAML from r over c and validates the result.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return c.Validate()
}

// Validate checks c for values no tool can use.
func (c *Config) Validate() error {
	if _, err := levelOption(c.LogLevel); err != nil {
		return err
	}
	switch {
	case c.Guess.Range <= 0:
		return fmt.Errorf("guess.range must be positive, not %d", c.Guess.Range)
	case c.Guess.MaxStack <= 0:
		return fmt.Errorf("guess.max_stack must be positive, not %d", c.Guess.MaxStack)
	case c.FrameLimit <= 0:
		return fmt.Errorf("frame_limit must be positive, not %d", c.FrameLimit)
	case c.CacheBytes < 0:
		return fmt.Errorf("cache_bytes must not be negative")
	case c.Remote.Timeout <= 0:
		return fmt.Errorf("remote.timeout must be positive, not %v", c.Remote.Timeout)
	}
	if c.Names == (thread.Names{}) {
		c.Names = thread.DefaultNames()
	}
	return nil
}

// Encode writes c as YAML.
func (c *Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Logger returns a logfmt logger writing to w, filtered at c's level.
func (c *Config) Logger(w io.Writer) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	opt, err := levelOption(c.LogLevel)
	if err != nil {
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}

func levelOption(s string) (level.Option, error) {
	switch s {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	case "none":
		return level.AllowNone(), nil
	}
	return nil, fmt.Errorf("unknown log level %q", s)
}

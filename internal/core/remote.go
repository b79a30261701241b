// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"time"

	"github.com/go-delve/delve/pkg/dwarf/op"

	"golang.org/x/vmcore/arch"
)

// For regularity, each method has a unique Request and a Response type even
// when not strictly necessary.

type HelloRequest struct{}

type HelloResponse struct {
	Arch string
	OS   string
}

type ReadAtRequest struct {
	Addr uint64
	Len  int
}

type ReadAtResponse struct {
	Data []byte
	Kind ErrorKind
	Err  string
}

type RegistersRequest struct {
	TID uint64
}

type RegistersResponse struct {
	Regs map[uint64]uint64
	Kind ErrorKind
	Err  string
}

type ResolveThreadRequest struct {
	Addr uint64
}

type ResolveThreadResponse struct {
	TID  uint64
	Kind ErrorKind
	Err  string
}

// An ErrorKind carries the class of a server-side error across the wire
// so clients can match it with errors.Is.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindOther
	KindNotMapped
	KindNoSuchThread
)

func errorKind(err error) (ErrorKind, string) {
	switch {
	case err == nil:
		return KindNone, ""
	case errors.Is(err, ErrNotMapped):
		return KindNotMapped, err.Error()
	case errors.Is(err, ErrNoSuchThread):
		return KindNoSuchThread, err.Error()
	}
	return KindOther, err.Error()
}

func kindError(k ErrorKind, msg string) error {
	switch k {
	case KindNone:
		return nil
	case KindNotMapped:
		return fmt.Errorf("%s: %w", msg, ErrNotMapped)
	case KindNoSuchThread:
		return fmt.Errorf("%s: %w", msg, ErrNoSuchThread)
	}
	return errors.New(msg)
}

// A RemoteServer exports an AddressSpace over net/rpc.
type RemoteServer struct {
	space AddressSpace
	os    string
}

// NewRemoteServer returns a server for space. os is reported to clients.
func NewRemoteServer(space AddressSpace, os string) *RemoteServer {
	return &RemoteServer{space: space, os: os}
}

// ServeConn serves a single client on conn until it disconnects.
func (s *RemoteServer) ServeConn(conn io.ReadWriteCloser) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Space", s); err != nil {
		return err
	}
	srv.ServeConn(conn)
	return nil
}

// Serve accepts clients on l until l is closed.
func (s *RemoteServer) Serve(l net.Listener) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Space", s); err != nil {
		return err
	}
	srv.Accept(l)
	return nil
}

func (s *RemoteServer) Hello(req *HelloRequest, resp *HelloResponse) error {
	resp.Arch = s.space.Arch().Name
	resp.OS = s.os
	return nil
}

func (s *RemoteServer) ReadAt(req *ReadAtRequest, resp *ReadAtResponse) error {
	if req.Len < 0 || req.Len > maxRemoteRead {
		return fmt.Errorf("bad read length %d", req.Len)
	}
	b := make([]byte, req.Len)
	err := s.space.ReadAt(b, Address(req.Addr))
	resp.Kind, resp.Err = errorKind(err)
	if err == nil {
		resp.Data = b
	}
	return nil
}

func (s *RemoteServer) Registers(req *RegistersRequest, resp *RegistersResponse) error {
	regs, err := s.space.RegisterContext(req.TID)
	resp.Kind, resp.Err = errorKind(err)
	if err != nil {
		return nil
	}
	resp.Regs = make(map[uint64]uint64)
	for i := 0; i < regs.CurrentSize(); i++ {
		if r := regs.Reg(uint64(i)); r != nil {
			resp.Regs[uint64(i)] = r.Uint64Val
		}
	}
	return nil
}

func (s *RemoteServer) ResolveThread(req *ResolveThreadRequest, resp *ResolveThreadResponse) error {
	t, err := s.space.ResolveThread(Address(req.Addr))
	resp.Kind, resp.Err = errorKind(err)
	if err == nil {
		resp.TID = t.TID()
	}
	return nil
}

const maxRemoteRead = 1 << 24

// A RemoteSpace is an AddressSpace served by a RemoteServer. Every call
// is bounded by the timeout given to NewRemoteSpace.
type RemoteSpace struct {
	client  *rpc.Client
	arch    *arch.Architecture
	os      string
	timeout time.Duration
}

var _ AddressSpace = (*RemoteSpace)(nil)

// DialRemote connects to a RemoteServer listening at addr.
func DialRemote(network, addr string, timeout time.Duration) (*RemoteSpace, error) {
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewRemoteSpace(conn, timeout)
}

// NewRemoteSpace speaks to a RemoteServer over conn. A zero timeout
// means calls wait indefinitely.
func NewRemoteSpace(conn io.ReadWriteCloser, timeout time.Duration) (*RemoteSpace, error) {
	s := &RemoteSpace{
		client:  rpc.NewClient(conn),
		timeout: timeout,
	}
	var resp HelloResponse
	if err := s.call("Space.Hello", &HelloRequest{}, &resp); err != nil {
		s.client.Close()
		return nil, err
	}
	a, err := arch.Lookup(resp.Arch)
	if err != nil {
		s.client.Close()
		return nil, err
	}
	s.arch = a
	s.os = resp.OS
	return s, nil
}

func (s *RemoteSpace) call(method string, req, resp any) error {
	c := s.client.Go(method, req, resp, make(chan *rpc.Call, 1))
	var expire <-chan time.Time
	if s.timeout > 0 {
		t := time.NewTimer(s.timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-c.Done:
		if errors.Is(c.Error, rpc.ErrShutdown) {
			return ErrClosed
		}
		return c.Error
	case <-expire:
		return fmt.Errorf("%s: %w", method, ErrTimeout)
	}
}

func (s *RemoteSpace) Arch() *arch.Architecture {
	return s.arch
}

// OS returns the operating system reported by the server.
func (s *RemoteSpace) OS() string {
	return s.os
}

func (s *RemoteSpace) ReadAt(b []byte, a Address) error {
	var resp ReadAtResponse
	if err := s.call("Space.ReadAt", &ReadAtRequest{Addr: uint64(a), Len: len(b)}, &resp); err != nil {
		return err
	}
	if resp.Kind == KindNotMapped {
		return &MemoryError{Addr: a, Len: int64(len(b))}
	}
	if err := kindError(resp.Kind, resp.Err); err != nil {
		return err
	}
	if len(resp.Data) != len(b) {
		return fmt.Errorf("remote read at %v: got %d bytes, want %d", a, len(resp.Data), len(b))
	}
	copy(b, resp.Data)
	return nil
}

func (s *RemoteSpace) ReadWord(a Address) (uint64, error) {
	return readWord(s, a)
}

func (s *RemoteSpace) RegisterContext(tid uint64) (*op.DwarfRegisters, error) {
	var resp RegistersResponse
	if err := s.call("Space.Registers", &RegistersRequest{TID: tid}, &resp); err != nil {
		return nil, err
	}
	if err := kindError(resp.Kind, resp.Err); err != nil {
		return nil, err
	}
	return s.arch.NewRegisters(resp.Regs), nil
}

func (s *RemoteSpace) ResolveThread(idAddr Address) (*Thread, error) {
	var resp ResolveThreadResponse
	if err := s.call("Space.ResolveThread", &ResolveThreadRequest{Addr: uint64(idAddr)}, &resp); err != nil {
		return nil, err
	}
	if err := kindError(resp.Kind, resp.Err); err != nil {
		return nil, err
	}
	return NewThread(s, resp.TID), nil
}

// Close disconnects from the server.
func (s *RemoteSpace) Close() error {
	return s.client.Close()
}

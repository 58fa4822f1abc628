// Package server is the interface side's connection acceptor: it binds a
// TCP port, accepts a single adapter connection at a time (spec.md's
// Non-goals exclude multi-client concurrency), and pumps commands into the
// debugger core and events back out.
package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/unrealscript-debugger/bridge/internal/common"
	"github.com/unrealscript-debugger/bridge/internal/debugger"
	"github.com/unrealscript-debugger/bridge/internal/transport/ring"
)

// Environment variable names controlling port selection, matching the
// original implementation's determine_port/determine_try_num.
const (
	PortVar        = "UC_DEBUGGER_PORT"
	PortTryNumVar  = "UC_DEBUGGER_PORT_TRY_NUM"
	defaultPort    = 12345
	defaultTries   = 10
)

// Options configure Serve.
type Options struct {
	// Port is the base port to bind; if 0, the PortVar environment variable
	// or defaultPort is used.
	Port int
	// PortTries is how many consecutive ports to attempt on EADDRINUSE; if
	// 0, the PortTryNumVar environment variable or defaultTries is used.
	PortTries int
}

// Server accepts the adapter's TCP connection and bridges it to a
// debugger.Debugger.
type Server struct {
	dbg  *debugger.Debugger
	opts Options
	ln   net.Listener
}

// New creates a Server bound to no socket yet; call Serve to listen.
func New(dbg *debugger.Debugger, opts Options) *Server {
	return &Server{dbg: dbg, opts: opts}
}

func determinePort(opts Options) int {
	if opts.Port != 0 {
		return opts.Port
	}
	if v := os.Getenv(PortVar); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return defaultPort
}

func determineTryNum(opts Options) int {
	if opts.PortTries != 0 {
		return opts.PortTries
	}
	if v := os.Getenv(PortTryNumVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultTries
}

// createListener binds the first free port starting at the configured
// base, retrying only on EADDRINUSE, paced by a rate limiter so a long
// run of in-use ports doesn't spin the CPU.
func createListener(opts Options) (net.Listener, error) {
	port := determinePort(opts)
	tries := determineTryNum(opts)
	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)

	var lastErr error
	for i := 0; i < tries; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port+i))
		if err == nil {
			return ln, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		limiter.Wait(context.Background())
	}
	return nil, lastErr
}

// Serve binds a port (unless a listener is already set on s.ln) and runs
// the accept loop until Accept returns an error. Only one connection is
// served at a time: each accepted connection is handled to completion
// before the next Accept, so a second adapter waits until the first
// disconnects.
func (s *Server) Serve() error {
	ln := s.ln
	if ln == nil {
		var err error
		ln, err = createListener(s.opts)
		if err != nil {
			return err
		}
		s.ln = ln
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.handleConnection(conn)
	}
}

// Addr returns the bound address, valid only after Serve has started
// listening (or after createListener succeeds in a test harness calling
// it directly).
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	eventsCh := s.dbg.NewConnection()
	done := make(chan struct{})
	defer close(done)

	go pumpEvents(conn, eventsCh, done)

	var r *ring.Ring
	defer func() {
		if r != nil {
			r.Close()
		}
	}()

	for {
		cmd, err := readCommand(conn)
		if err != nil {
			return
		}
		if cmd.Kind == common.CmdInitialize && cmd.Initialize != nil {
			var openErr error
			r, openErr = ring.Open(cmd.Initialize.RingPath)
			if openErr != nil {
				return
			}
		}

		result := s.dbg.HandleCommand(cmd)
		if r == nil {
			continue
		}
		switch result.Action {
		case debugger.ActionCallback:
			writeResponse(r, result.Single)
		case debugger.ActionMultiStepCallback:
			for _, resp := range result.Multi {
				writeResponse(r, resp)
			}
		}
	}
}

func readCommand(conn net.Conn) (common.UnrealCommand, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return common.UnrealCommand{}, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return common.UnrealCommand{}, err
	}
	var cmd common.UnrealCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return common.UnrealCommand{}, err
	}
	return cmd, nil
}

func writeResponse(r *ring.Ring, resp common.UnrealResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	r.Send(payload)
}

func pumpEvents(conn net.Conn, events <-chan common.UnrealEvent, done <-chan struct{}) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
			if _, err := conn.Write(lenBuf[:]); err != nil {
				return
			}
			if _, err := conn.Write(payload); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Package transport implements the hybrid adapter<->interface channel: a
// length-delimited TCP leg carries commands and asynchronous events, and a
// shared-memory ring buffer carries ordered synchronous command responses.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/unrealscript-debugger/bridge/internal/common"
	"github.com/unrealscript-debugger/bridge/internal/transport/ring"
)

// DefaultTimeout bounds how long a synchronous request waits for its
// response on the ring buffer before giving up.
const DefaultTimeout = 5 * time.Second

// TimeoutError reports that no synchronous response arrived in time.
type TimeoutError struct{}

func (TimeoutError) Error() string { return "timed out waiting for interface response" }

// ProtocolError reports that the interface replied with an unexpected
// response variant for the command that was issued.
type ProtocolError struct{ Reason string }

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// ConnectionError wraps any I/O failure talking to the interface.
type ConnectionError struct{ Err error }

func (e *ConnectionError) Error() string { return "connection error: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// Connection is the adapter-facing capability for talking to the
// interface: a command channel (TCP) paired with an ordered response
// channel (shared-memory ring).
type Connection interface {
	Initialize(version common.Version, stackHack bool, logLevel *string) (common.Version, error)
	AddBreakpoint(bp common.Breakpoint) (common.Breakpoint, error)
	RemoveBreakpoint(bp common.Breakpoint) (common.Breakpoint, error)
	StackTrace(req common.StackTraceRequest) (common.StackTraceResponse, error)
	WatchCount(kind common.WatchKind, parent common.VariableIndex) (int64, error)
	Evaluate(frame common.FrameIndex, expr string) ([]common.Variable, error)
	Variables(kind common.WatchKind, frame common.FrameIndex, variable common.VariableIndex, start, count uint32) ([]common.Variable, bool, error)
	Pause() error
	Go() error
	Next() error
	StepIn() error
	StepOut() error
	Disconnect() error
	// Events returns the channel onto which asynchronous interface events
	// are delivered.
	Events() <-chan common.UnrealEvent
	Close() error
}

// DefaultConnection is the production Connection: TCP for commands/events,
// a shared-memory ring buffer for synchronous responses.
type DefaultConnection struct {
	conn net.Conn

	sendMu sync.Mutex
	ring   *ring.Ring
	ringPath string

	events chan common.UnrealEvent
	done   chan struct{}
}

// Connect dials the interface's TCP port, creates a fresh ring buffer, and
// starts reading events. It sends no command; the caller must call
// Initialize as the very first command so the interface learns the ring's
// path.
func Connect(addr string) (*DefaultConnection, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	r, path, err := ring.CreateTemp()
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Err: err}
	}
	c := &DefaultConnection{
		conn:     conn,
		ring:     r,
		ringPath: path,
		events:   make(chan common.UnrealEvent, 64),
		done:     make(chan struct{}),
	}
	go c.readEvents()
	return c, nil
}

func (c *DefaultConnection) Events() <-chan common.UnrealEvent { return c.events }

// Close shuts down the TCP connection and releases the ring buffer.
func (c *DefaultConnection) Close() error {
	close(c.done)
	c.ring.Close()
	return c.conn.Close()
}

func (c *DefaultConnection) sendCommand(cmd common.UnrealCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := c.conn.Write(lenBuf[:]); err != nil {
		return &ConnectionError{Err: err}
	}
	if _, err := c.conn.Write(payload); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

func (c *DefaultConnection) recvResponse() (common.UnrealResponse, error) {
	raw, err := c.ring.Receive(DefaultTimeout)
	if err != nil {
		if err == ring.ErrTimeout {
			return common.UnrealResponse{}, TimeoutError{}
		}
		return common.UnrealResponse{}, &ConnectionError{Err: err}
	}
	var resp common.UnrealResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return common.UnrealResponse{}, &ProtocolError{Reason: "malformed response: " + err.Error()}
	}
	return resp, nil
}

// readEvents drains the TCP back-channel for asynchronous event frames,
// pushing each onto the adapter-facing events channel.
func (c *DefaultConnection) readEvents() {
	defer close(c.events)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, size)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return
		}
		var evt common.UnrealEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			continue
		}
		select {
		case c.events <- evt:
		case <-c.done:
			return
		}
	}
}

func (c *DefaultConnection) Initialize(version common.Version, stackHack bool, logLevel *string) (common.Version, error) {
	cmd := common.UnrealCommand{
		Kind: common.CmdInitialize,
		Initialize: &common.InitializeCommand{
			RingPath:  c.ringPath,
			Version:   version,
			StackHack: stackHack,
			LogLevel:  logLevel,
		},
	}
	if err := c.sendCommand(cmd); err != nil {
		return common.Version{}, err
	}
	resp, err := c.recvResponse()
	if err != nil {
		return common.Version{}, err
	}
	if resp.Kind != common.RespInitialized || resp.InterfaceVersion == nil {
		return common.Version{}, &ProtocolError{Reason: "expected initialized response"}
	}
	return *resp.InterfaceVersion, nil
}

func (c *DefaultConnection) AddBreakpoint(bp common.Breakpoint) (common.Breakpoint, error) {
	if err := c.sendCommand(common.UnrealCommand{Kind: common.CmdAddBreakpoint, Breakpoint: &bp}); err != nil {
		return common.Breakpoint{}, err
	}
	resp, err := c.recvResponse()
	if err != nil {
		return common.Breakpoint{}, err
	}
	if resp.Kind != common.RespBreakpointAdded || resp.BreakpointAdded == nil {
		return common.Breakpoint{}, &ProtocolError{Reason: "expected breakpointAdded response"}
	}
	return *resp.BreakpointAdded, nil
}

func (c *DefaultConnection) RemoveBreakpoint(bp common.Breakpoint) (common.Breakpoint, error) {
	if err := c.sendCommand(common.UnrealCommand{Kind: common.CmdRemoveBreakpoint, Breakpoint: &bp}); err != nil {
		return common.Breakpoint{}, err
	}
	resp, err := c.recvResponse()
	if err != nil {
		return common.Breakpoint{}, err
	}
	if resp.Kind != common.RespBreakpointRemoved || resp.BreakpointRemoved == nil {
		return common.Breakpoint{}, &ProtocolError{Reason: "expected breakpointRemoved response"}
	}
	return *resp.BreakpointRemoved, nil
}

func (c *DefaultConnection) StackTrace(req common.StackTraceRequest) (common.StackTraceResponse, error) {
	if err := c.sendCommand(common.UnrealCommand{Kind: common.CmdStackTrace, StackTrace: &req}); err != nil {
		return common.StackTraceResponse{}, err
	}
	resp, err := c.recvResponse()
	if err != nil {
		return common.StackTraceResponse{}, err
	}
	if resp.Kind != common.RespStack || resp.Stack == nil {
		return common.StackTraceResponse{}, &ProtocolError{Reason: "expected stack response"}
	}
	return *resp.Stack, nil
}

func (c *DefaultConnection) WatchCount(kind common.WatchKind, parent common.VariableIndex) (int64, error) {
	cmd := common.UnrealCommand{Kind: common.CmdWatchCount, WatchCount: &common.WatchCountCommand{Kind: kind, Parent: parent}}
	if err := c.sendCommand(cmd); err != nil {
		return 0, err
	}
	resp, err := c.recvResponse()
	if err != nil {
		return 0, err
	}
	if resp.Kind != common.RespWatchCount || resp.Count == nil {
		return 0, &ProtocolError{Reason: "expected watchCount response"}
	}
	return *resp.Count, nil
}

func (c *DefaultConnection) Evaluate(frame common.FrameIndex, expr string) ([]common.Variable, error) {
	cmd := common.UnrealCommand{Kind: common.CmdEvaluate, Evaluate: &common.EvaluateCommand{Frame: frame, Expression: expr}}
	if err := c.sendCommand(cmd); err != nil {
		return nil, err
	}
	resp, err := c.recvResponse()
	if err != nil {
		return nil, err
	}
	if resp.Kind != common.RespEvaluate || resp.Variables == nil {
		return nil, &ProtocolError{Reason: "expected evaluate response"}
	}
	return resp.Variables.Variables, nil
}

func (c *DefaultConnection) Variables(kind common.WatchKind, frame common.FrameIndex, variable common.VariableIndex, start, count uint32) ([]common.Variable, bool, error) {
	cmd := common.UnrealCommand{Kind: common.CmdVariables, Variables: &common.VariablesCommand{
		Kind: kind, Frame: frame, Variable: variable, Start: start, Count: count,
	}}
	if err := c.sendCommand(cmd); err != nil {
		return nil, false, err
	}
	resp, err := c.recvResponse()
	if err != nil {
		return nil, false, err
	}
	if resp.Kind != common.RespVariables || resp.Variables == nil {
		return nil, false, &ProtocolError{Reason: "expected variables response"}
	}
	return resp.Variables.Variables, resp.Variables.Invalidated, nil
}

func (c *DefaultConnection) Pause() error    { return c.sendSimple(common.CmdPause) }
func (c *DefaultConnection) Go() error       { return c.sendSimple(common.CmdGo) }
func (c *DefaultConnection) Next() error     { return c.sendSimple(common.CmdNext) }
func (c *DefaultConnection) StepIn() error   { return c.sendSimple(common.CmdStepIn) }
func (c *DefaultConnection) StepOut() error  { return c.sendSimple(common.CmdStepOut) }
func (c *DefaultConnection) Disconnect() error { return c.sendSimple(common.CmdDisconnect) }

// sendSimple fires off a command with no synchronous response expected.
func (c *DefaultConnection) sendSimple(kind string) error {
	return c.sendCommand(common.UnrealCommand{Kind: kind})
}

var _ Connection = (*DefaultConnection)(nil)

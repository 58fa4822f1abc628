package transport

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"testing"

	"github.com/unrealscript-debugger/bridge/internal/common"
	"github.com/unrealscript-debugger/bridge/internal/transport/ring"
)

// serveFake plays the interface side of the wire: it accepts one
// connection, reads commands one at a time, and calls respond to produce
// each reply, which it writes to the ring buffer path learned from the
// initialize command.
func serveFake(t *testing.T, ln net.Listener, n int, respond func(cmd common.UnrealCommand) common.UnrealResponse) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	var ringPath string
	for i := 0; i < n; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, size)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		var cmd common.UnrealCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			t.Errorf("bad command: %v", err)
			return
		}
		if cmd.Kind == common.CmdInitialize && cmd.Initialize != nil {
			ringPath = cmd.Initialize.RingPath
		}

		resp := respond(cmd)
		respBytes, err := json.Marshal(resp)
		if err != nil {
			t.Errorf("marshal response: %v", err)
			return
		}
		r, err := ring.Open(ringPath)
		if err != nil {
			t.Errorf("open ring: %v", err)
			return
		}
		sendErr := r.Send(respBytes)
		r.Close()
		if sendErr != nil {
			t.Errorf("send response: %v", sendErr)
			return
		}
	}
}

func TestConnectPerformsInitializeHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	want := common.Version{Major: 2, Minor: 1, Patch: 0}
	go serveFake(t, ln, 1, func(cmd common.UnrealCommand) common.UnrealResponse {
		return common.UnrealResponse{Kind: common.RespInitialized, InterfaceVersion: &want}
	})

	conn, err := Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	got, err := conn.Initialize(common.Version{Major: 2, Minor: 0, Patch: 0}, false, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got != want {
		t.Fatalf("got version %+v, want %+v", got, want)
	}
}

func TestAddBreakpointRoundTrips(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go serveFake(t, ln, 2, func(cmd common.UnrealCommand) common.UnrealResponse {
		switch cmd.Kind {
		case common.CmdInitialize:
			v := common.Version{}
			return common.UnrealResponse{Kind: common.RespInitialized, InterfaceVersion: &v}
		case common.CmdAddBreakpoint:
			return common.UnrealResponse{Kind: common.RespBreakpointAdded, BreakpointAdded: cmd.Breakpoint}
		default:
			t.Fatalf("unexpected command kind: %s", cmd.Kind)
			return common.UnrealResponse{}
		}
	})

	conn, err := Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Initialize(common.Version{}, false, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := common.NewBreakpoint("MYPACKAGE.MYCLASS", 42)
	got, err := conn.AddBreakpoint(want)
	if err != nil {
		t.Fatalf("AddBreakpoint: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestEventsAreDeliveredOnEventsChannel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		serverConn, err := ln.Accept()
		if err != nil {
			return
		}
		defer serverConn.Close()

		var lenBuf [4]byte
		if _, err := io.ReadFull(serverConn, lenBuf[:]); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, size)
		if _, err := io.ReadFull(serverConn, body); err != nil {
			return
		}
		var cmd common.UnrealCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			return
		}
		v := common.Version{}
		resp := common.UnrealResponse{Kind: common.RespInitialized, InterfaceVersion: &v}
		respBytes, _ := json.Marshal(resp)
		r, err := ring.Open(cmd.Initialize.RingPath)
		if err != nil {
			return
		}
		r.Send(respBytes)
		r.Close()

		logMsg := "stopped at breakpoint"
		evt := common.UnrealEvent{Kind: common.EventStopped, Log: &logMsg}
		evtBytes, _ := json.Marshal(evt)
		var evtLenBuf [4]byte
		binary.BigEndian.PutUint32(evtLenBuf[:], uint32(len(evtBytes)))
		serverConn.Write(evtLenBuf[:])
		serverConn.Write(evtBytes)
	}()

	conn, err := Connect(ln.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Initialize(common.Version{}, false, nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	evt := <-conn.Events()
	if evt.Kind != common.EventStopped {
		t.Fatalf("got event kind %q, want %q", evt.Kind, common.EventStopped)
	}
}

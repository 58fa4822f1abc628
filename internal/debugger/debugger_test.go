package debugger

import (
	"testing"
	"time"

	"github.com/unrealscript-debugger/bridge/internal/common"
)

type recordingSender struct {
	sent [][]byte
}

func (r *recordingSender) Send(data []byte) {
	r.sent = append(r.sent, data)
}

func newTestDebugger(t *testing.T) (*Debugger, *recordingSender) {
	t.Helper()
	resetGlobalForTest()
	sender := &recordingSender{}
	d := Init(sender, nil)
	return d, sender
}

// resetGlobalForTest clears the package singleton between tests; production
// code never does this (Init is meant to run exactly once per process).
func resetGlobalForTest() {
	global.mu.Lock()
	global.dbg = nil
	global.mu.Unlock()
}

func TestInitPanicsOnSecondCall(t *testing.T) {
	_, _ = newTestDebugger(t)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on second Init")
		}
	}()
	Init(&recordingSender{}, nil)
}

func TestAddThenRemoveBreakpointRoundTrips(t *testing.T) {
	d, _ := newTestDebugger(t)

	bp := common.NewBreakpoint("MYPACKAGE.MYCLASS", 10)
	res := d.HandleCommand(common.UnrealCommand{Kind: common.CmdAddBreakpoint, Breakpoint: &bp})
	if res.Action != ActionCallback || res.Single.Kind != common.RespBreakpointAdded {
		t.Fatalf("unexpected add result: %+v", res)
	}

	info, ok := d.ClassMap().Get("MYPACKAGE.MYCLASS")
	if !ok || len(info.Breakpoints) != 1 || info.Breakpoints[0] != 10 {
		t.Fatalf("breakpoint not recorded: %+v", info)
	}

	res = d.HandleCommand(common.UnrealCommand{Kind: common.CmdRemoveBreakpoint, Breakpoint: &bp})
	if res.Action != ActionCallback || res.Single.Kind != common.RespBreakpointRemoved {
		t.Fatalf("unexpected remove result: %+v", res)
	}
	info, _ = d.ClassMap().Get("MYPACKAGE.MYCLASS")
	if len(info.Breakpoints) != 0 {
		t.Fatalf("breakpoint not removed: %+v", info)
	}
}

func TestHandleCommandWaitsForPendingVariableRequest(t *testing.T) {
	d, _ := newTestDebugger(t)

	d.LockList(common.WatchKindLocal)
	d.AddAWatch(common.WatchKindLocal, common.Scope, "x", "", false)

	done := make(chan struct{})
	go func() {
		d.HandleCommand(common.UnrealCommand{Kind: common.CmdGo})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("HandleCommand returned before UnlockList")
	case <-time.After(20 * time.Millisecond):
	}

	watched := d.UnlockList()
	if len(watched) != 1 || watched[0].Name != "x" {
		t.Fatalf("unexpected watch list: %+v", watched)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleCommand never unblocked after UnlockList")
	}
}

func TestSendToUnrealReceivesRawBytes(t *testing.T) {
	d, sender := newTestDebugger(t)
	d.SendRaw([]byte("hello"))
	if len(sender.sent) != 1 || string(sender.sent[0]) != "hello" {
		t.Fatalf("got %v", sender.sent)
	}
}

func TestExecutionControlCommandsForwardToEngine(t *testing.T) {
	cases := []string{
		common.CmdPause, common.CmdGo, common.CmdNext,
		common.CmdStepIn, common.CmdStepOut, common.CmdDisconnect,
	}
	for _, kind := range cases {
		d, sender := newTestDebugger(t)
		res := d.HandleCommand(common.UnrealCommand{Kind: kind})
		if res.Action != ActionNothing {
			t.Fatalf("%s: expected ActionNothing, got %v", kind, res.Action)
		}
		if len(sender.sent) != 1 || string(sender.sent[0]) != kind {
			t.Fatalf("%s: expected one forwarded command %q, got %v", kind, kind, sender.sent)
		}
	}
}

func TestAsciiCallbackAppendsNulTerminator(t *testing.T) {
	var got []byte
	cb := AsciiCallback{Deliver: func(b []byte) { got = b }}
	cb.Send([]byte("abc"))
	if string(got) != "abc\x00" {
		t.Fatalf("got %q", got)
	}
}

func TestUtf16CallbackDefersWhenNotInBreak(t *testing.T) {
	rt := NewGameRuntime()
	called := false
	cb := Utf16Callback{
		Deliver:     func(length int32, buf []uint16) { called = true },
		GameRuntime: rt,
		InBreak:     func() bool { return false },
	}
	cb.Send([]byte("x"))
	if called {
		t.Fatal("callback invoked directly while not in break")
	}
	rt.Tick()
	if !called {
		t.Fatal("callback never ran after Tick")
	}
}

func TestUtf16CallbackInvokesDirectlyWhenInBreak(t *testing.T) {
	rt := NewGameRuntime()
	called := false
	cb := Utf16Callback{
		Deliver:     func(length int32, buf []uint16) { called = true },
		GameRuntime: rt,
		InBreak:     func() bool { return true },
	}
	cb.Send([]byte("x"))
	if !called {
		t.Fatal("callback should run synchronously while in break")
	}
}

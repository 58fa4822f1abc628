package applog

import "testing"

func TestLogfFiltersBelowMinLevel(t *testing.T) {
	l := New("", LevelWarn, 10)
	l.Logf(LevelInfo, "adapter", "should not appear")
	l.Logf(LevelError, "adapter", "should appear")

	all := l.All()
	if len(all) != 1 {
		t.Fatalf("got %d entries, want 1", len(all))
	}
	if all[0].Message != "should appear" {
		t.Fatalf("got message %q", all[0].Message)
	}
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	l := New("", LevelDebug, 3)
	for i := 0; i < 5; i++ {
		l.Logf(LevelInfo, "adapter", "entry-%d", i)
	}
	all := l.All()
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	if all[0].Message != "entry-2" || all[2].Message != "entry-4" {
		t.Fatalf("unexpected ring contents: %+v", all)
	}
}

func TestSubscribeReceivesNewEntries(t *testing.T) {
	l := New("", LevelDebug, 10)
	id, ch := l.Subscribe()
	defer l.Unsubscribe(id)

	l.Logf(LevelInfo, "adapter", "hello")
	entry := <-ch
	if entry.Message != "hello" {
		t.Fatalf("got %q", entry.Message)
	}
}

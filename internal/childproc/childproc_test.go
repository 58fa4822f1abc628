package childproc

import (
	"testing"
	"time"
)

func TestStartAndStopPlainProcess(t *testing.T) {
	p := New(Config{Command: "sleep", Args: []string{"5"}})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.PID() == 0 {
		t.Fatal("expected nonzero PID after start")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestOnExitCalledForNaturallyExitingProcess(t *testing.T) {
	p := New(Config{Command: "true"})
	done := make(chan int, 1)
	p.OnExit = func(code int) { done <- code }
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("got exit code %d, want 0", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnExit")
	}
}

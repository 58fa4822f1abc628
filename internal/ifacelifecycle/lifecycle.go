// Package ifacelifecycle bootstraps the interface side of the bridge: it
// is the Go analogue of original_source's lifetime.rs, run once per process
// from cmd/interface's exported entry points.
package ifacelifecycle

import (
	"fmt"
	"sync"

	"github.com/unrealscript-debugger/bridge/internal/applog"
	"github.com/unrealscript-debugger/bridge/internal/debugger"
	"github.com/unrealscript-debugger/bridge/internal/server"
)

var once sync.Once

// Logger is the process-wide diagnostic logger, initialized by Initialize
// and used by every recovered-panic wrapper in cmd/interface.
var Logger *applog.Logger

// Options configure the bootstrap sequence.
type Options struct {
	LogPath     string
	LogLevel    applog.Level
	SourceRoots []string
	Port        int
	PortTries   int
}

// Initialize wires up the primary (ASCII) callback ABI: assert-once,
// start the logger, build the Debugger singleton, and spawn the
// connection-accepting server on its own goroutine. It mirrors
// lifetime.rs::initialize.
func Initialize(deliver func(nullTerminated []byte), opts Options) (*debugger.Debugger, error) {
	var dbg *debugger.Debugger
	var err error
	ranTwice := true
	once.Do(func() {
		ranTwice = false
		Logger = applog.New(opts.LogPath, opts.LogLevel, 4000)
		sender := debugger.AsciiCallback{Deliver: deliver}
		dbg = debugger.Init(sender, opts.SourceRoots)
		err = startServer(dbg, opts)
	})
	if ranTwice {
		panic("ifacelifecycle: Initialize called more than once")
	}
	return dbg, err
}

// VaInitialized wires up the alternate (UTF-16, game-runtime-deferred)
// callback ABI, mirroring lifetime.rs::va_initialized.
func VaInitialized(deliver func(length int32, utf16NullTerminated []uint16), opts Options) (*debugger.Debugger, *debugger.GameRuntime, error) {
	var dbg *debugger.Debugger
	var rt *debugger.GameRuntime
	var err error
	ranTwice := true
	once.Do(func() {
		ranTwice = false
		Logger = applog.New(opts.LogPath, opts.LogLevel, 4000)
		rt = debugger.NewGameRuntime()
		dbg = debugger.Init(nil, opts.SourceRoots) // sender set below, once dbg exists
		sender := debugger.Utf16Callback{
			Deliver:     deliver,
			GameRuntime: rt,
			InBreak:     dbg.InBreak,
		}
		dbg.SetSender(sender)
		err = startServer(dbg, opts)
	})
	if ranTwice {
		panic("ifacelifecycle: Initialize called more than once")
	}
	return dbg, rt, err
}

func startServer(dbg *debugger.Debugger, opts Options) error {
	srv := server.New(dbg, server.Options{Port: opts.Port, PortTries: opts.PortTries})
	go func() {
		if err := srv.Serve(); err != nil && Logger != nil {
			Logger.Logf(applog.LevelError, "interface", "server exited: %v", err)
		}
	}()
	return nil
}

// Recover is deferred at the top of every cmd/interface exported function.
// Go has no process-wide panic hook; per-entry-point recovery is the
// idiomatic analogue, logging instead of tearing down the host engine.
func Recover(entryPoint string) {
	if r := recover(); r != nil {
		if Logger != nil {
			Logger.Logf(applog.LevelError, "interface", "recovered panic in %s: %v", entryPoint, r)
		} else {
			fmt.Printf("ifacelifecycle: recovered panic in %s: %v\n", entryPoint, r)
		}
	}
}

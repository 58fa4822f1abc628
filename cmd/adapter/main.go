// Command adapter is the standalone DAP-speaking half of the debugger
// bridge: it talks the Debug Adapter Protocol over stdin/stdout to the
// editor, and once launched or attached, the hybrid TCP+ring transport to
// the interface loaded inside the game engine.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/google/go-dap"

	"github.com/unrealscript-debugger/bridge/internal/adapter"
	"github.com/unrealscript-debugger/bridge/internal/applog"
	"github.com/unrealscript-debugger/bridge/internal/childproc"
	"github.com/unrealscript-debugger/bridge/internal/common"
	"github.com/unrealscript-debugger/bridge/internal/config"
	"github.com/unrealscript-debugger/bridge/internal/dapcodec"
	"github.com/unrealscript-debugger/bridge/internal/transport"
)

// adapterVersion is this adapter's own build version, exchanged with the
// interface during the handshake.
var adapterVersion = common.Version{Major: 1, Minor: 0, Patch: 0}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Default()
	if wd, err := os.Getwd(); err == nil {
		if loaded, err := config.Load(wd); err == nil {
			cfg = loaded
		}
	}

	logPath := ""
	if cfg.Log.Directory != "" {
		logPath = cfg.Log.Directory + string(os.PathSeparator) + "adapter.log"
	}
	logger := applog.New(logPath, applog.ParseLevel(cfg.Log.Level), 0)
	defer logger.Close()

	reader := dapcodec.NewReader(bufio.NewReader(os.Stdin))
	writer := dapcodec.NewWriter(os.Stdout)
	out := &stdioWriter{w: writer}

	sess := &session{
		cfg:    cfg,
		logger: logger,
		reader: reader,
		writer: out,
	}
	defer func() {
		if sess.child != nil {
			sess.child.Stop()
		}
	}()

	if err := sess.loop(); err != nil {
		logger.Logf(applog.LevelError, "adapter", "debugger session failed: %v", err)
		fmt.Fprintf(os.Stderr, "adapter: %v\n", err)
		return 1
	}
	return 0
}

// session holds everything needed to run the main message loop: the raw
// frames read from the editor, the writer back to it, and (once a launch
// or attach request has been handled) the connected adapter.
type session struct {
	cfg    *config.Config
	logger *applog.Logger
	reader *dapcodec.Reader
	writer *stdioWriter

	connected *adapter.ConnectedAdapter
	client    adapter.ClientConfig
	child     *childproc.Process
}

// loop reads frames until the stream closes or a disconnect request is
// handled, dispatching each one either to the pre-connection handlers
// (initialize/launch/attach) or to the connected adapter's Accept.
func (s *session) loop() error {
	for {
		msg, err := s.reader.Next()
		if err != nil {
			return nil
		}

		command, _ := msg["command"].(string)
		seqFloat, _ := msg["seq"].(float64)
		seq := int(seqFloat)
		args, _ := msg["arguments"].(map[string]interface{})

		shutdown, err := s.dispatch(seq, command, args)
		if err != nil {
			s.writer.Respond(seq, command, false, err.Error(), nil)
			continue
		}
		if shutdown {
			return nil
		}
	}
}

func (s *session) dispatch(seq int, command string, args map[string]interface{}) (bool, error) {
	switch command {
	case "initialize":
		return false, s.handleInitialize(seq, args)
	case "launch":
		return false, s.handleLaunchOrAttach(seq, command, args, true)
	case "attach":
		return false, s.handleLaunchOrAttach(seq, command, args, false)
	}

	if s.connected == nil {
		return false, fmt.Errorf("request %q received before launch/attach", command)
	}

	body, err := s.connected.Accept(adapter.NewRequest(seq, command, args))
	if err != nil {
		return false, err
	}
	s.writer.Respond(seq, command, true, "", body)

	if command == "disconnect" {
		return true, nil
	}
	return false, nil
}

func (s *session) handleInitialize(seq int, args map[string]interface{}) error {
	if v, ok := args["linesStartAt1"].(bool); ok {
		s.client.OneBasedLines = v
	} else {
		s.client.OneBasedLines = true
	}
	if v, ok := args["supportsInvalidatedEvent"].(bool); ok {
		s.client.SupportsInvalidatedEvent = v
	}

	caps := dap.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsEvaluateForHovers:        true,
	}
	s.writer.Respond(seq, "initialize", true, "", caps)
	return nil
}

func (s *session) handleLaunchOrAttach(seq int, command string, args map[string]interface{}, isLaunch bool) error {
	host, _ := args["host"].(string)
	if host == "" {
		host = "127.0.0.1"
	}
	port := s.cfg.Port
	if p, ok := args["port"].(float64); ok {
		port = int(p)
	}
	if roots, ok := args["sourceRoots"].([]interface{}); ok {
		var sourceRoots []string
		for _, r := range roots {
			if str, ok := r.(string); ok {
				sourceRoots = append(sourceRoots, str)
			}
		}
		s.client.SourceRoots = sourceRoots
	} else {
		s.client.SourceRoots = s.cfg.SourceRoots
	}
	if v, ok := args["enableStackHack"].(bool); ok {
		s.client.EnableStackHack = v
	} else {
		s.client.EnableStackHack = s.cfg.EnableStackHack
	}

	if isLaunch {
		if cmdPath, ok := args["program"].(string); ok && cmdPath != "" {
			var cmdArgs []string
			if rawArgs, ok := args["args"].([]interface{}); ok {
				for _, a := range rawArgs {
					if str, ok := a.(string); ok {
						cmdArgs = append(cmdArgs, str)
					}
				}
			}
			s.child = childproc.New(childproc.Config{Command: cmdPath, Args: cmdArgs})
			if err := s.child.Start(); err != nil {
				return fmt.Errorf("failed to launch game process: %w", err)
			}
		}
	}

	conn, err := transport.Connect(fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("failed to connect to debugger interface: %w", err)
	}

	s.connected = adapter.New(s.writer, conn, s.client, s.logger)
	s.connected.Child = s.child
	if isLaunch {
		s.connected.SetAutoResumePending()
	}
	if err := s.connected.Handshake(adapterVersion); err != nil {
		return err
	}

	go s.pumpEvents(conn)

	s.writer.Respond(seq, command, true, "", nil)
	return nil
}

func (s *session) pumpEvents(conn transport.Connection) {
	for evt := range conn.Events() {
		name, body := s.connected.ProcessEvent(evt)
		if name == "" {
			continue
		}
		s.writer.SendEvent(name, body)
	}
}

// stdioWriter implements adapter.ResponseWriter over a dapcodec.Writer.
type stdioWriter struct {
	w *dapcodec.Writer
}

func (s *stdioWriter) Respond(requestSeq int, command string, success bool, message string, body interface{}) error {
	return s.w.WriteNext(func(seq int64) interface{} {
		return &dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: int(seq), Type: "response"},
			RequestSeq:      requestSeq,
			Success:         success,
			Command:         command,
			Message:         message,
			Body:            body,
		}
	})
}

func (s *stdioWriter) SendEvent(event string, body interface{}) error {
	return s.w.WriteNext(func(seq int64) interface{} {
		return &dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: int(seq), Type: "event"},
			Event:           event,
			Body:            body,
		}
	})
}

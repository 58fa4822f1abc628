// Package adapter is the adapter side's I/O loop: it owns the DAP session
// with the editor and translates each request into calls against the
// transport connection to the interface.
package adapter

import (
	"strconv"
	"strings"

	"github.com/google/go-dap"

	"github.com/unrealscript-debugger/bridge/internal/adaptererr"
	"github.com/unrealscript-debugger/bridge/internal/applog"
	"github.com/unrealscript-debugger/bridge/internal/childproc"
	"github.com/unrealscript-debugger/bridge/internal/classmap"
	"github.com/unrealscript-debugger/bridge/internal/common"
	"github.com/unrealscript-debugger/bridge/internal/transport"
	"github.com/unrealscript-debugger/bridge/internal/varref"
)

// unrealThreadID is the one and only thread id this adapter ever reports;
// the engine's debugger supports a single thread of script execution.
const unrealThreadID = 1

// AdapterMessage is one unit of adapter input: a DAP request, an interface
// event, or a shutdown signal; exactly one field is set. The loop in
// cmd/adapter does not use it: it reads requests straight from the DAP
// reader and forwards events from a separate goroutine.
type AdapterMessage struct {
	Request  *dapRequest
	Event    *common.UnrealEvent
	Shutdown bool
}

// dapRequest is a decoded DAP request: the raw frame plus its command name
// and seq, with arguments left as a map for per-command unmarshaling.
type dapRequest struct {
	Seq     int
	Command string
	Args    map[string]interface{}
}

// NewRequest builds the request value Accept dispatches on, from a decoded
// DAP frame's seq, command name and arguments map.
func NewRequest(seq int, command string, args map[string]interface{}) *dapRequest {
	return &dapRequest{Seq: seq, Command: command, Args: args}
}

// ConnectedAdapter is a debug adapter after the interface connection has
// been established.
type ConnectedAdapter struct {
	Writer   ResponseWriter
	Conn     transport.Connection
	Config   ClientConfig
	Logger   *applog.Logger
	Child    *childproc.Process

	classMap *classmap.Map

	// autoResumePending is set once after an auto-attach launch, and
	// consumed by the very first Stopped event: that event is suppressed
	// and a Go command is issued instead, matching the auto-resume rule.
	autoResumePending bool
}

// ResponseWriter is the minimal surface ConnectedAdapter needs to talk back
// to the DAP client: send a response to a request, or emit an
// out-of-band event.
type ResponseWriter interface {
	Respond(requestSeq int, command string, success bool, message string, body interface{}) error
	SendEvent(event string, body interface{}) error
}

// New constructs a ConnectedAdapter over an already-connected transport.
func New(writer ResponseWriter, conn transport.Connection, config ClientConfig, logger *applog.Logger) *ConnectedAdapter {
	return &ConnectedAdapter{
		Writer:   writer,
		Conn:     conn,
		Config:   config,
		Logger:   logger,
		classMap: classmap.New(config.SourceRoots),
	}
}

// Handshake performs the version exchange with the interface and emits the
// DAP Initialized event once it completes, warning the client first if the
// two components disagree on version.
func (a *ConnectedAdapter) Handshake(adapterVersion common.Version) error {
	interfaceVersion, err := a.Conn.Initialize(adapterVersion, a.Config.EnableStackHack, nil)
	if err != nil {
		return err
	}

	switch interfaceVersion.Compare(adapterVersion) {
	case -1:
		a.Writer.SendEvent("output", dap.OutputEventBody{
			Category: "console",
			Output:   "The debugger interface version is outdated. Please re-run the installation task to update.",
		})
	case 1:
		a.Writer.SendEvent("output", dap.OutputEventBody{
			Category: "console",
			Output:   "The Unrealscript debugger extension is older than the interface version installed in Unreal. Please update the extension.",
		})
	}

	return a.Writer.SendEvent("initialized", nil)
}

// SetAutoResumePending marks that the next Stopped event should be
// silently acknowledged with a Go command instead of forwarded, used after
// an auto-attach launch.
func (a *ConnectedAdapter) SetAutoResumePending() { a.autoResumePending = true }

// Accept dispatches one decoded DAP request, returning the response body
// (nil for an acknowledgement-only response) or an error to report as a
// DAP error response.
func (a *ConnectedAdapter) Accept(req *dapRequest) (interface{}, error) {
	if a.Logger != nil {
		a.Logger.Logf(applog.LevelDebug, "adapter", "dispatching request %s", req.Command)
	}
	switch req.Command {
	case "setBreakpoints":
		return a.setBreakpoints(req.Args)
	case "threads":
		return a.threads()
	case "configurationDone":
		return nil, nil
	case "disconnect":
		return nil, a.disconnect()
	case "stackTrace":
		return a.stackTrace(req.Args)
	case "scopes":
		return a.scopes(req.Args)
	case "variables":
		return a.variables(req.Args)
	case "evaluate":
		return a.evaluate(req.Args)
	case "pause":
		return nil, a.Conn.Pause()
	case "continue":
		return nil, a.Conn.Go()
	case "next":
		return nil, a.Conn.Next()
	case "stepIn":
		return nil, a.Conn.StepIn()
	case "stepOut":
		return nil, a.Conn.StepOut()
	default:
		return nil, adaptererr.UnhandledCommand(req.Command)
	}
}

func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt64(args map[string]interface{}, key string) (int64, bool) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

func (a *ConnectedAdapter) setBreakpoints(args map[string]interface{}) (interface{}, error) {
	source, _ := args["source"].(map[string]interface{})
	path := argString(source, "path")

	info, err := classmap.Make(path)
	if err != nil {
		return nil, adaptererr.BadFilename(path)
	}
	qualified := strings.ToUpper(info.Qualify())
	info = a.classMap.EntryOrInsert(qualified, info)

	for _, line := range info.Breakpoints {
		removed, err := a.Conn.RemoveBreakpoint(common.NewBreakpoint(qualified, line))
		if err != nil {
			return nil, err
		}
		if removed.Line != line {
			panic("adapter: interface breakpoint state diverged from adapter's record")
		}
	}
	info.Breakpoints = nil

	var dapBreakpoints []map[string]interface{}
	rawBreakpoints, _ := args["breakpoints"].([]interface{})
	for _, rb := range rawBreakpoints {
		bpArgs, _ := rb.(map[string]interface{})
		line, ok := argInt64(bpArgs, "line")
		if !ok {
			continue
		}
		translated := a.Config.translateLineIn(int32(line))
		added, err := a.Conn.AddBreakpoint(common.NewBreakpoint(qualified, translated))
		if err != nil {
			return nil, err
		}
		info.Breakpoints = append(info.Breakpoints, added.Line)
		dapBreakpoints = append(dapBreakpoints, map[string]interface{}{
			"verified": true,
			"line":     a.Config.translateLineOut(added.Line),
			"source": map[string]interface{}{
				"name": info.Qualify(),
				"path": info.FileName,
			},
		})
	}

	return map[string]interface{}{"breakpoints": dapBreakpoints}, nil
}

func (a *ConnectedAdapter) threads() (interface{}, error) {
	return dap.ThreadsResponseBody{
		Threads: []dap.Thread{{Id: unrealThreadID, Name: "main"}},
	}, nil
}

func (a *ConnectedAdapter) disconnect() error {
	err := a.Conn.Disconnect()
	if a.Child != nil {
		a.Child.Stop()
	}
	return err
}

func (a *ConnectedAdapter) stackTrace(args map[string]interface{}) (interface{}, error) {
	startFrame, _ := argInt64(args, "startFrame")
	levels, _ := argInt64(args, "levels")

	sf, err := common.CreateFrameIndex(startFrame)
	if err != nil {
		return nil, adaptererr.LimitExceeded(err.Error())
	}
	if levels < 0 || levels > int64(^uint32(0)) {
		return nil, adaptererr.LimitExceeded("levels out of range")
	}

	resp, err := a.Conn.StackTrace(common.StackTraceRequest{StartFrame: sf, Levels: uint32(levels)})
	if err != nil {
		return nil, err
	}

	frames := make([]dap.StackFrame, 0, len(resp.Frames))
	for i, f := range resp.Frames {
		canonical := strings.ToUpper(f.QualifiedName)
		info, _ := a.classMap.Translate(canonical)
		var source dap.Source
		if info != nil {
			source = dap.Source{Name: info.Qualify(), Path: info.FileName}
		}
		frames = append(frames, dap.StackFrame{
			Id:     int(sf) + i,
			Name:   f.FunctionName,
			Line:   int(a.Config.translateLineOut(f.Line)),
			Column: 1,
			Source: &source,
		})
	}
	return dap.StackTraceResponseBody{StackFrames: frames, TotalFrames: len(frames)}, nil
}

func (a *ConnectedAdapter) scopes(args map[string]interface{}) (interface{}, error) {
	frameID, _ := argInt64(args, "frameId")
	frame, err := common.CreateFrameIndex(frameID)
	if err != nil {
		return nil, adaptererr.LimitExceeded(err.Error())
	}

	scopes := []dap.Scope{
		a.makeScope("self", common.WatchKindGlobal, frame),
		a.makeScope("locals", common.WatchKindLocal, frame),
	}
	return dap.ScopesResponseBody{Scopes: scopes}, nil
}

// makeScope only asks the engine for a child count when frame is the top
// frame; the engine's watch lists are always built against the frame
// currently in break, so any other frame's scope is reported childless.
func (a *ConnectedAdapter) makeScope(name string, kind common.WatchKind, frame common.FrameIndex) dap.Scope {
	ref := varref.New(kind, frame, common.Scope)
	var count int64
	if frame == common.TopFrame {
		count, _ = a.Conn.WatchCount(kind, common.Scope)
	}
	return dap.Scope{
		Name:               name,
		VariablesReference: int(ref.ToInt()),
		NamedVariables:     int(count),
		Expensive:          false,
	}
}

func (a *ConnectedAdapter) variables(args map[string]interface{}) (interface{}, error) {
	refInt, _ := argInt64(args, "variablesReference")
	ref, ok := varref.FromInt(uint64(refInt))
	if !ok {
		return dap.VariablesResponseBody{}, nil
	}

	start, _ := argInt64(args, "start")
	count, _ := argInt64(args, "count")

	vars, invalidated, err := a.Conn.Variables(ref.Kind(), ref.Frame(), ref.Variable(), uint32(start), uint32(count))
	if err != nil {
		return nil, err
	}

	dapVars := make([]dap.Variable, 0, len(vars))
	for _, v := range vars {
		childRef := uint64(0)
		if v.HasChildren {
			childRef = varref.New(ref.Kind(), ref.Frame(), v.Index).ToInt()
		}
		dapVars = append(dapVars, dap.Variable{
			Name:               v.Name,
			Value:              v.Value,
			Type:               v.Type,
			VariablesReference: int(childRef),
		})
	}

	if invalidated && a.Config.SupportsInvalidatedEvent && !a.Config.EnableStackHack {
		a.Writer.SendEvent("invalidated", dap.InvalidatedEventBody{Areas: []string{"variables"}})
	}
	return dap.VariablesResponseBody{Variables: dapVars}, nil
}

func (a *ConnectedAdapter) evaluate(args map[string]interface{}) (interface{}, error) {
	expression := argString(args, "expression")
	if isInvalidExpression(expression) {
		return dap.EvaluateResponseBody{Result: expression, VariablesReference: 0}, nil
	}

	frameID, _ := argInt64(args, "frameId")
	frame, err := common.CreateFrameIndex(frameID)
	if err != nil {
		return nil, adaptererr.LimitExceeded(err.Error())
	}

	vars, err := a.Conn.Evaluate(frame, expression)
	if err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return nil, adaptererr.WatchError(expression)
	}
	v := vars[0]
	childRef := uint64(0)
	if v.HasChildren {
		childRef = varref.New(common.WatchKindUser, frame, v.Index).ToInt()
	}
	return dap.EvaluateResponseBody{
		Result:             v.Value,
		Type:               v.Type,
		VariablesReference: int(childRef),
	}, nil
}

// ProcessEvent translates one interface event into a DAP event name and
// body to forward, or returns an empty name if it should be swallowed (the
// auto-resume rule, or an event kind with no DAP analogue).
func (a *ConnectedAdapter) ProcessEvent(evt common.UnrealEvent) (string, interface{}) {
	switch evt.Kind {
	case common.EventStopped:
		if a.autoResumePending {
			a.autoResumePending = false
			a.Conn.Go()
			return "", nil
		}
		return "stopped", dap.StoppedEventBody{Reason: "breakpoint", ThreadId: unrealThreadID, AllThreadsStopped: true}
	case common.EventDisconnect:
		return "terminated", dap.TerminatedEventBody{}
	case common.EventLog:
		if evt.Log == nil {
			return "", nil
		}
		return "output", dap.OutputEventBody{Category: "console", Output: *evt.Log}
	default:
		return "", nil
	}
}

// ParseLine parses a base-10 string as an int32. Nothing in this module
// calls it; launch/attach arguments are read as JSON numbers.
func ParseLine(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

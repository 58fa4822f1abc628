// Package debugger is the interface-side dispatch core: a process-wide
// singleton holding all debugger state, reached by every exported C entry
// point the engine calls into.
package debugger

import (
	"sync"
	"sync/atomic"

	"github.com/unrealscript-debugger/bridge/internal/classmap"
	"github.com/unrealscript-debugger/bridge/internal/common"
)

// CommandAction classifies how the caller of HandleCommand should deliver
// the result back to the adapter.
type CommandAction int

const (
	// ActionNothing means the command produced no response to send (an
	// event will follow separately, if anything).
	ActionNothing CommandAction = iota
	// ActionCallback means Single holds exactly one framed response to
	// push onto the ring buffer.
	ActionCallback
	// ActionMultiStepCallback means Multi holds an ordered sequence of
	// framed responses, each to be pushed in turn. No command handled by
	// HandleCommand currently returns it.
	ActionMultiStepCallback
)

// CommandResult is what HandleCommand returns for the caller (the
// per-connection pump in internal/server) to act on.
type CommandResult struct {
	Action CommandAction
	Single common.UnrealResponse
	Multi  []common.UnrealResponse
}

// global is the package-level singleton slot. Its mutex guards only the
// dbg pointer; the Debugger's own state is guarded by Debugger.mu, apart
// from the atomic in-break flag.
var global = struct {
	mu  sync.Mutex
	dbg *Debugger
}{}

// Init installs the process-wide Debugger. It may be called exactly once;
// a second call panics, mirroring the original's `assert!` on double
// initialization (the interface is a fatal-on-violation boundary: double
// init means the host engine loaded the library twice into one process,
// which is a configuration error worth crashing loudly for).
func Init(sender SendToUnreal, sourceRoots []string) *Debugger {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.dbg != nil {
		panic("debugger: Init called more than once")
	}
	d := &Debugger{
		classMap: classmap.New(sourceRoots),
		sender:   sender,
	}
	d.variableRequestCond = sync.NewCond(&d.mu)
	global.dbg = d
	return d
}

// Global returns the process-wide Debugger, or nil if Init has not run.
func Global() *Debugger {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.dbg
}

// Debugger holds all mutable interface-side state.
type Debugger struct {
	mu sync.Mutex

	classMap *classmap.Map
	sender   SendToUnreal

	// inBreak is read from engine callback threads without holding mu, so
	// it is a separate atomic rather than a mutex-guarded bool.
	inBreak atomic.Bool

	// pendingVariableRequest and variableRequestCond implement the
	// watch-list lock/unlock protocol: while a variable request is
	// pending, HandleCommand blocks rather than interleaving with it.
	pendingVariableRequest bool
	variableRequestCond    *sync.Cond

	// watchList accumulates AddAWatch calls between LockList/UnlockList.
	watchList []common.Variable

	events chan common.UnrealEvent

	stackHack bool
	version   common.Version

	// classHierarchy records AddClassToHierarchy's (class, parent) pairs.
	// BuildClassHierarchy and EditorLoadClass are no-ops per spec: the
	// class name they'd report duplicates data already present in the
	// call stack, so there is nothing further for either to compute here.
	classHierarchy map[string]string

	// callStack and currentObject track CallStackAdd/SetCurrentObjectName
	// between CallStackClear calls; handleStackTrace reports callStack.
	callStack     []string
	currentObject string

	// currentLine is the last line EditorGotoLine reported.
	currentLine int32
}

// NewConnection registers the (single, per spec.md's no-multi-client
// Non-goal) event channel a connected adapter drains asynchronous events
// from.
func (d *Debugger) NewConnection() <-chan common.UnrealEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = make(chan common.UnrealEvent, 64)
	return d.events
}

// Emit pushes an event to the connected adapter, if any, without blocking
// forever on a slow or absent consumer.
func (d *Debugger) Emit(evt common.UnrealEvent) {
	d.mu.Lock()
	ch := d.events
	d.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- evt:
	default:
	}
}

// SetInBreak updates the atomic in-break flag the alternate ABI's sender
// consults to decide whether to dispatch directly or defer.
func (d *Debugger) SetInBreak(v bool) { d.inBreak.Store(v) }

// InBreak reports whether the engine is currently stopped at a breakpoint.
func (d *Debugger) InBreak() bool { return d.inBreak.Load() }

// LockList begins a watch-enumeration batch. The kind parameter is
// accepted but discarded: the lock is global, not per-kind, matching the
// original implementation exactly.
func (d *Debugger) LockList(_ common.WatchKind) {
	d.mu.Lock()
	d.pendingVariableRequest = true
	d.watchList = nil
	d.mu.Unlock()
}

// AddAWatch appends one variable to the batch started by LockList,
// assigning it a fresh VariableIndex scoped to this batch, and returns
// that index. kind and parent are accepted (matching the engine's entry
// point signature) but not themselves stored: the batch they scope is
// already isolated by the LockList/UnlockList pairing.
func (d *Debugger) AddAWatch(kind common.WatchKind, parent common.VariableIndex, name, value string, hasChildren bool) common.VariableIndex {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := common.VariableIndex(len(d.watchList) + 1)
	d.watchList = append(d.watchList, common.Variable{
		Name:        name,
		Value:       value,
		Index:       idx,
		HasChildren: hasChildren,
	})
	return idx
}

// ClearWatch discards the in-progress watch batch without ending it.
func (d *Debugger) ClearWatch(_ common.WatchKind) {
	d.mu.Lock()
	d.watchList = nil
	d.mu.Unlock()
}

// ClearAWatch is the second engine entry point for the same operation as
// ClearWatch: it discards the in-progress watch batch without ending it.
func (d *Debugger) ClearAWatch(_ common.WatchKind) {
	d.mu.Lock()
	d.watchList = nil
	d.mu.Unlock()
}

// UnlockList ends the batch, releasing any HandleCommand call blocked on
// PendingVariableRequest. The accumulated watch list is left in place (the
// next LockList clears it) since handleVariables/handleWatchCount read it
// after HandleCommand resumes; the returned slice is a copy for callers
// (tests, mainly) that want the batch's contents directly.
func (d *Debugger) UnlockList() []common.Variable {
	d.mu.Lock()
	result := append([]common.Variable{}, d.watchList...)
	d.pendingVariableRequest = false
	d.variableRequestCond.Broadcast()
	d.mu.Unlock()
	return result
}

// PendingVariableRequest reports whether a LockList/UnlockList batch is in
// progress.
func (d *Debugger) PendingVariableRequest() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingVariableRequest
}

// SetSender installs the callback ABI implementation after construction,
// needed by the alternate ABI whose Utf16Callback captures the Debugger's
// own InBreak method.
func (d *Debugger) SetSender(sender SendToUnreal) {
	d.mu.Lock()
	d.sender = sender
	d.mu.Unlock()
}

// ClassMap exposes the class map for callers that need to register or
// resolve classes directly (e.g. BuildClassHierarchy's no-op still needs
// to answer class-info queries elsewhere).
func (d *Debugger) ClassMap() *classmap.Map { return d.classMap }

// AddClassToHierarchy records a (class, parent) edge reported by the
// engine while it walks the class tree at startup.
func (d *Debugger) AddClassToHierarchy(className, parentName string) {
	d.mu.Lock()
	if d.classHierarchy == nil {
		d.classHierarchy = make(map[string]string)
	}
	d.classHierarchy[className] = parentName
	d.mu.Unlock()
}

// ClearClassHierarchy discards all recorded class/parent edges.
func (d *Debugger) ClearClassHierarchy() {
	d.mu.Lock()
	d.classHierarchy = nil
	d.mu.Unlock()
}

// EditorGotoLine records the line the engine last reported stopping at.
func (d *Debugger) EditorGotoLine(line int32) {
	d.mu.Lock()
	d.currentLine = line
	d.mu.Unlock()
}

// AddLineToLog emits a console log line as an event to the connected
// adapter.
func (d *Debugger) AddLineToLog(text string) {
	line := text
	d.Emit(common.UnrealEvent{Kind: common.EventLog, Log: &line})
}

// CallStackClear resets the recorded call stack ahead of a fresh
// CallStackAdd sequence.
func (d *Debugger) CallStackClear() {
	d.mu.Lock()
	d.callStack = nil
	d.mu.Unlock()
}

// CallStackAdd appends one frame (innermost first, matching the engine's
// reporting order) to the recorded call stack.
func (d *Debugger) CallStackAdd(className string) {
	d.mu.Lock()
	d.callStack = append(d.callStack, className)
	d.mu.Unlock()
}

// SetCurrentObjectName records the object the engine is currently
// executing a function on.
func (d *Debugger) SetCurrentObjectName(objectName string) {
	d.mu.Lock()
	d.currentObject = objectName
	d.mu.Unlock()
}

// HandleCommand dispatches one command from the adapter. It first waits
// (on variableRequestCond) for any in-progress watch-enumeration batch to
// finish, exactly as the original's dispatch_command loop does, so that a
// command cannot observe a half-populated watch list.
func (d *Debugger) HandleCommand(cmd common.UnrealCommand) CommandResult {
	d.mu.Lock()
	for d.pendingVariableRequest {
		d.variableRequestCond.Wait()
	}
	d.mu.Unlock()

	switch cmd.Kind {
	case common.CmdInitialize:
		return d.handleInitialize(cmd)
	case common.CmdAddBreakpoint:
		return d.handleAddBreakpoint(cmd)
	case common.CmdRemoveBreakpoint:
		return d.handleRemoveBreakpoint(cmd)
	case common.CmdStackTrace:
		return d.handleStackTrace(cmd)
	case common.CmdWatchCount:
		return d.handleWatchCount()
	case common.CmdEvaluate:
		return d.handleEvaluate(cmd)
	case common.CmdVariables:
		return d.handleVariables(cmd)
	case common.CmdPause, common.CmdGo, common.CmdNext, common.CmdStepIn, common.CmdStepOut, common.CmdDisconnect:
		return d.handleExecutionControl(cmd.Kind)
	default:
		return CommandResult{Action: ActionNothing}
	}
}

func (d *Debugger) handleInitialize(cmd common.UnrealCommand) CommandResult {
	if cmd.Initialize == nil {
		return CommandResult{Action: ActionNothing}
	}
	d.mu.Lock()
	d.stackHack = cmd.Initialize.StackHack
	d.version = common.Version{Major: 1, Minor: 0, Patch: 0}
	version := d.version
	d.mu.Unlock()
	return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
		Kind: common.RespInitialized, InterfaceVersion: &version,
	}}
}

// handleAddBreakpoint implements "remove-then-add" semantics at the
// per-breakpoint level by simply appending: the adapter side (C2) is
// responsible for the remove-all-then-add-all round trip described in
// spec.md; the interface only ever sees individual add/remove commands.
func (d *Debugger) handleAddBreakpoint(cmd common.UnrealCommand) CommandResult {
	if cmd.Breakpoint == nil {
		return CommandResult{Action: ActionNothing}
	}
	info, _ := d.classMap.Get(cmd.Breakpoint.QualifiedName)
	if info == nil {
		info = &classmap.Info{PackageName: "", ClassName: cmd.Breakpoint.QualifiedName}
		d.classMap.Insert(cmd.Breakpoint.QualifiedName, info)
	}
	info.Breakpoints = append(info.Breakpoints, cmd.Breakpoint.Line)
	bp := *cmd.Breakpoint
	return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
		Kind: common.RespBreakpointAdded, BreakpointAdded: &bp,
	}}
}

func (d *Debugger) handleRemoveBreakpoint(cmd common.UnrealCommand) CommandResult {
	if cmd.Breakpoint == nil {
		return CommandResult{Action: ActionNothing}
	}
	info, ok := d.classMap.Get(cmd.Breakpoint.QualifiedName)
	if ok {
		for i, line := range info.Breakpoints {
			if line == cmd.Breakpoint.Line {
				info.Breakpoints = append(info.Breakpoints[:i], info.Breakpoints[i+1:]...)
				break
			}
		}
	}
	bp := *cmd.Breakpoint
	return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
		Kind: common.RespBreakpointRemoved, BreakpointRemoved: &bp,
	}}
}

// handleStackTrace reports the recorded call stack, innermost frame
// first, paginated by the request's StartFrame/Levels.
func (d *Debugger) handleStackTrace(cmd common.UnrealCommand) CommandResult {
	d.mu.Lock()
	stack := d.callStack
	d.mu.Unlock()

	if cmd.StackTrace == nil {
		return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
			Kind: common.RespStack, Stack: &common.StackTraceResponse{},
		}}
	}

	start := int(cmd.StackTrace.StartFrame)
	levels := int(cmd.StackTrace.Levels)
	if start > len(stack) {
		start = len(stack)
	}
	end := len(stack)
	if levels > 0 && start+levels < end {
		end = start + levels
	}

	frames := make([]common.StackFrame, 0, end-start)
	for i := start; i < end; i++ {
		frames = append(frames, common.StackFrame{
			FunctionName:  stack[i],
			QualifiedName: stack[i],
		})
	}
	return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
		Kind: common.RespStack, Stack: &common.StackTraceResponse{Frames: frames},
	}}
}

func (d *Debugger) handleWatchCount() CommandResult {
	d.mu.Lock()
	count := int64(len(d.watchList))
	d.mu.Unlock()
	return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
		Kind: common.RespWatchCount, Count: &count,
	}}
}

// handleEvaluate looks up the most recently completed watch batch for a
// variable whose name matches the requested expression, mirroring the
// original's "evaluate == add a user watch, then read it back" flow.
func (d *Debugger) handleEvaluate(cmd common.UnrealCommand) CommandResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matches []common.Variable
	if cmd.Evaluate != nil {
		for _, v := range d.watchList {
			if v.Name == cmd.Evaluate.Expression {
				matches = append(matches, v)
				break
			}
		}
	}
	return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
		Kind: common.RespEvaluate, Variables: &common.VariablesResult{Variables: matches},
	}}
}

// handleVariables pages through the current watch batch.
func (d *Debugger) handleVariables(cmd common.UnrealCommand) CommandResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cmd.Variables == nil {
		return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
			Kind: common.RespVariables, Variables: &common.VariablesResult{},
		}}
	}
	start := int(cmd.Variables.Start)
	if start > len(d.watchList) {
		start = len(d.watchList)
	}
	end := len(d.watchList)
	if cmd.Variables.Count > 0 && start+int(cmd.Variables.Count) < end {
		end = start + int(cmd.Variables.Count)
	}
	return CommandResult{Action: ActionCallback, Single: common.UnrealResponse{
		Kind: common.RespVariables, Variables: &common.VariablesResult{
			Variables: append([]common.Variable{}, d.watchList[start:end]...),
		},
	}}
}

// handleExecutionControl forwards a Pause/Go/Next/StepIn/StepOut/Disconnect
// command straight to the engine over the callback ABI. These six carry no
// ring response -- transport.DefaultConnection.sendSimple never calls
// recvResponse for them -- so the acknowledgement the adapter sees is the
// TCP send completing, not a round trip back through HandleCommand's caller.
func (d *Debugger) handleExecutionControl(kind string) CommandResult {
	d.SendRaw([]byte(kind))
	return CommandResult{Action: ActionNothing}
}

// SendRaw pushes bytes to the engine via the configured callback ABI.
// handleExecutionControl uses it; it is exported so bytes can also be sent
// without going through HandleCommand.
func (d *Debugger) SendRaw(data []byte) {
	if d.sender == nil {
		panic("debugger: SendRaw called with no sender configured")
	}
	d.sender.Send(data)
}

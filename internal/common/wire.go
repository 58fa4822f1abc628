package common

// UnrealCommand is a command sent adapter -> interface over the TCP leg of
// the transport. Exactly one field is meaningful per Kind.
type UnrealCommand struct {
	Kind string `json:"kind"`

	Initialize *InitializeCommand `json:"initialize,omitempty"`
	Breakpoint *Breakpoint        `json:"breakpoint,omitempty"`
	StackTrace *StackTraceRequest `json:"stackTrace,omitempty"`
	WatchCount *WatchCountCommand `json:"watchCount,omitempty"`
	Evaluate   *EvaluateCommand   `json:"evaluate,omitempty"`
	Variables  *VariablesCommand  `json:"variables,omitempty"`
}

// Command kind discriminants. Kept as string constants rather than an enum
// for straightforward JSON round-tripping with no custom marshaler.
const (
	CmdInitialize      = "initialize"
	CmdAddBreakpoint   = "addBreakpoint"
	CmdRemoveBreakpoint = "removeBreakpoint"
	CmdStackTrace      = "stackTrace"
	CmdWatchCount      = "watchCount"
	CmdEvaluate        = "evaluate"
	CmdVariables       = "variables"
	CmdPause           = "pause"
	CmdGo              = "go"
	CmdNext            = "next"
	CmdStepIn          = "stepIn"
	CmdStepOut         = "stepOut"
	CmdDisconnect      = "disconnect"
)

// InitializeCommand is the very first command sent on a new connection; it
// tells the interface where to find the shared-memory ring buffer and what
// adapter version/options are in effect.
type InitializeCommand struct {
	RingPath   string  `json:"ringPath"`
	Version    Version `json:"version"`
	StackHack  bool    `json:"stackHack"`
	LogLevel   *string `json:"logLevel,omitempty"`
}

// WatchCountCommand requests the number of children under a watch parent.
type WatchCountCommand struct {
	Kind   WatchKind     `json:"kind"`
	Parent VariableIndex `json:"parent"`
}

// EvaluateCommand requests evaluation of a watch expression in a frame.
type EvaluateCommand struct {
	Frame      FrameIndex `json:"frame"`
	Expression string     `json:"expression"`
}

// VariablesCommand requests a page of a watch's children.
type VariablesCommand struct {
	Kind     WatchKind     `json:"kind"`
	Frame    FrameIndex    `json:"frame"`
	Variable VariableIndex `json:"variable"`
	Start    uint32        `json:"start"`
	Count    uint32        `json:"count"`
}

// UnrealResponse is the synchronous reply to an UnrealCommand, delivered
// over the shared-memory ring. Exactly one field is meaningful per Kind.
type UnrealResponse struct {
	Kind string `json:"kind"`

	InterfaceVersion *Version            `json:"interfaceVersion,omitempty"`
	BreakpointAdded  *Breakpoint         `json:"breakpointAdded,omitempty"`
	BreakpointRemoved *Breakpoint        `json:"breakpointRemoved,omitempty"`
	Stack            *StackTraceResponse `json:"stack,omitempty"`
	Count            *int64              `json:"count,omitempty"`
	Variables        *VariablesResult    `json:"variables,omitempty"`
}

const (
	RespInitialized       = "initialized"
	RespBreakpointAdded   = "breakpointAdded"
	RespBreakpointRemoved = "breakpointRemoved"
	RespStack             = "stack"
	RespWatchCount        = "watchCount"
	RespEvaluate          = "evaluate"
	RespVariables         = "variables"
)

// VariablesResult is the payload of a Variables/Evaluate response.
type VariablesResult struct {
	Variables   []Variable `json:"variables"`
	Invalidated bool       `json:"invalidated"`
}

// UnrealEvent is an asynchronous event sent interface -> adapter over the
// TCP back-channel.
type UnrealEvent struct {
	Kind string  `json:"kind"`
	Log  *string `json:"log,omitempty"`
}

const (
	EventLog        = "log"
	EventStopped    = "stopped"
	EventDisconnect = "disconnect"
)

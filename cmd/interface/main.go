// Command interface is the in-process half of the debugger bridge: a
// c-shared library the game engine loads directly and calls into through a
// fixed catalog of exported C entry points. It has no main of its own in
// the conventional sense — cgo requires package main, but execution begins
// the first time the engine calls SetCallback or IPCSetCallbackUC.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef void (*ascii_callback_t)(const char*);
typedef void (*va_callback_t)(int32_t, const uint16_t*);

static void call_ascii_callback(ascii_callback_t cb, const char* data) {
    if (cb != NULL) {
        cb(data);
    }
}

static void call_va_callback(va_callback_t cb, int32_t length, const uint16_t* data) {
    if (cb != NULL) {
        cb(length, data);
    }
}
*/
import "C"

import (
	"os"
	"strconv"
	"sync"
	"unsafe"

	"github.com/unrealscript-debugger/bridge/internal/applog"
	"github.com/unrealscript-debugger/bridge/internal/classmap"
	"github.com/unrealscript-debugger/bridge/internal/common"
	"github.com/unrealscript-debugger/bridge/internal/config"
	"github.com/unrealscript-debugger/bridge/internal/debugger"
	"github.com/unrealscript-debugger/bridge/internal/ifacelifecycle"
)

func main() {}

const (
	portVar       = "PORT_VAR"
	portTryNumVar = "PORT_TRY_NUM_VAR"
)

var (
	gameRuntimeMu sync.Mutex
	gameRuntime   *debugger.GameRuntime
)

// buildOptions loads the on-disk config the same way cmd/adapter does, then
// lets the engine-supplied env vars (spec.md's PORT_VAR/PORT_TRY_NUM_VAR)
// override the port settings: the engine that loads this library has no
// other way to tell it which port the adapter will try first.
func buildOptions() ifacelifecycle.Options {
	cfg := config.Default()
	if wd, err := os.Getwd(); err == nil {
		if loaded, err := config.Load(wd); err == nil {
			cfg = loaded
		}
	}

	logPath := ""
	if cfg.Log.Directory != "" {
		logPath = cfg.Log.Directory + string(os.PathSeparator) + "interface.log"
	}

	opts := ifacelifecycle.Options{
		LogPath:     logPath,
		LogLevel:    applog.ParseLevel(cfg.Log.Level),
		SourceRoots: cfg.SourceRoots,
		Port:        cfg.Port,
	}
	if v := os.Getenv(portVar); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			opts.Port = p
		}
	}
	if v := os.Getenv(portTryNumVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.PortTries = n
		}
	}
	return opts
}

func dbg() *debugger.Debugger { return debugger.Global() }

//export SetCallback
func SetCallback(fn C.ascii_callback_t) {
	defer ifacelifecycle.Recover("SetCallback")
	deliver := func(data []byte) {
		cstr := C.CString(string(data))
		defer C.free(unsafe.Pointer(cstr))
		C.call_ascii_callback(fn, cstr)
	}
	if _, err := ifacelifecycle.Initialize(deliver, buildOptions()); err != nil {
		return
	}
}

//export IPCSetCallbackUC
func IPCSetCallbackUC(fn C.va_callback_t) {
	defer ifacelifecycle.Recover("IPCSetCallbackUC")
	deliver := func(length int32, data []uint16) {
		var ptr *C.uint16_t
		if len(data) > 0 {
			ptr = (*C.uint16_t)(unsafe.Pointer(&data[0]))
		}
		C.call_va_callback(fn, C.int32_t(length), ptr)
	}
	_, rt, err := ifacelifecycle.VaInitialized(deliver, buildOptions())
	if err != nil {
		return
	}
	gameRuntimeMu.Lock()
	gameRuntime = rt
	gameRuntimeMu.Unlock()
}

//export IPCNotifyBeginTick
func IPCNotifyBeginTick() {
	defer ifacelifecycle.Recover("IPCNotifyBeginTick")
	gameRuntimeMu.Lock()
	rt := gameRuntime
	gameRuntimeMu.Unlock()
	if rt != nil {
		rt.Tick()
	}
}

//export IPCNotifyDebugInfo
func IPCNotifyDebugInfo() C.uint32_t {
	defer ifacelifecycle.Recover("IPCNotifyDebugInfo")
	return 1
}

//export IPCnFringeSupport
func IPCnFringeSupport() {
	defer ifacelifecycle.Recover("IPCnFringeSupport")
}

//export IPCSendCommandToVS
func IPCSendCommandToVS(command *C.char) C.int32_t {
	defer ifacelifecycle.Recover("IPCSendCommandToVS")
	d := dbg()
	if d == nil {
		return -1
	}
	switch C.GoString(command) {
	case "go":
		d.HandleCommand(common.UnrealCommand{Kind: common.CmdGo})
	case "pause":
		d.HandleCommand(common.UnrealCommand{Kind: common.CmdPause})
	default:
		return -1
	}
	return 0
}

//export AddClassToHierarchy
func AddClassToHierarchy(className, parentName *C.char) {
	defer ifacelifecycle.Recover("AddClassToHierarchy")
	if d := dbg(); d != nil {
		d.AddClassToHierarchy(C.GoString(className), C.GoString(parentName))
	}
}

//export ClearClassHierarchy
func ClearClassHierarchy() {
	defer ifacelifecycle.Recover("ClearClassHierarchy")
	if d := dbg(); d != nil {
		d.ClearClassHierarchy()
	}
}

//export BuildClassHierarchy
func BuildClassHierarchy() {
	defer ifacelifecycle.Recover("BuildClassHierarchy")
}

//export EditorLoadClass
func EditorLoadClass(className *C.char) {
	defer ifacelifecycle.Recover("EditorLoadClass")
}

//export ClearWatch
func ClearWatch(kind C.int32_t) {
	defer ifacelifecycle.Recover("ClearWatch")
	if d := dbg(); d != nil {
		d.ClearWatch(common.WatchKindFromInt(int32(kind)))
	}
}

//export ClearAWatch
func ClearAWatch(kind C.int32_t) {
	defer ifacelifecycle.Recover("ClearAWatch")
	if d := dbg(); d != nil {
		d.ClearAWatch(common.WatchKindFromInt(int32(kind)))
	}
}

//export AddAWatch
func AddAWatch(kind, parent C.int32_t, name, value *C.char) C.int32_t {
	defer ifacelifecycle.Recover("AddAWatch")
	d := dbg()
	if d == nil {
		return 0
	}
	idx := d.AddAWatch(
		common.WatchKindFromInt(int32(kind)),
		common.VariableIndex(parent),
		C.GoString(name),
		C.GoString(value),
		false,
	)
	return C.int32_t(idx)
}

//export LockList
func LockList(kind C.int32_t) {
	defer ifacelifecycle.Recover("LockList")
	if d := dbg(); d != nil {
		d.LockList(common.WatchKindFromInt(int32(kind)))
	}
}

//export UnlockList
func UnlockList(kind C.int32_t) {
	defer ifacelifecycle.Recover("UnlockList")
	if d := dbg(); d != nil {
		d.UnlockList()
	}
}

//export AddBreakpoint
func AddBreakpoint(className *C.char, line C.int32_t) {
	defer ifacelifecycle.Recover("AddBreakpoint")
	d := dbg()
	if d == nil {
		return
	}
	qualified := C.GoString(className)
	info, ok := d.ClassMap().Get(qualified)
	if !ok {
		info = &classmap.Info{ClassName: qualified}
		d.ClassMap().Insert(qualified, info)
	}
	info.Breakpoints = append(info.Breakpoints, int32(line))
}

//export RemoveBreakpoint
func RemoveBreakpoint(className *C.char, line C.int32_t) {
	defer ifacelifecycle.Recover("RemoveBreakpoint")
	d := dbg()
	if d == nil {
		return
	}
	qualified := C.GoString(className)
	info, ok := d.ClassMap().Get(qualified)
	if !ok {
		return
	}
	for i, l := range info.Breakpoints {
		if l == int32(line) {
			info.Breakpoints = append(info.Breakpoints[:i], info.Breakpoints[i+1:]...)
			break
		}
	}
}

//export EditorGotoLine
func EditorGotoLine(line C.int32_t, highlight C.int32_t) {
	defer ifacelifecycle.Recover("EditorGotoLine")
	if d := dbg(); d != nil {
		d.EditorGotoLine(int32(line))
	}
}

//export AddLineToLog
func AddLineToLog(text *C.char) {
	defer ifacelifecycle.Recover("AddLineToLog")
	if d := dbg(); d != nil {
		d.AddLineToLog(C.GoString(text))
	}
}

//export CallStackClear
func CallStackClear() {
	defer ifacelifecycle.Recover("CallStackClear")
	if d := dbg(); d != nil {
		d.CallStackClear()
	}
}

//export CallStackAdd
func CallStackAdd(className *C.char) {
	defer ifacelifecycle.Recover("CallStackAdd")
	if d := dbg(); d != nil {
		d.CallStackAdd(C.GoString(className))
	}
}

//export SetCurrentObjectName
func SetCurrentObjectName(objectName *C.char) {
	defer ifacelifecycle.Recover("SetCurrentObjectName")
	if d := dbg(); d != nil {
		d.SetCurrentObjectName(C.GoString(objectName))
	}
}

//export ShowDllForm
func ShowDllForm() {
	defer ifacelifecycle.Recover("ShowDllForm")
}

//export DebugWindowState
func DebugWindowState(state C.int32_t) {
	defer ifacelifecycle.Recover("DebugWindowState")
}

//export GameEnded
func GameEnded() {
	defer ifacelifecycle.Recover("GameEnded")
	if d := dbg(); d != nil {
		d.Emit(common.UnrealEvent{Kind: common.EventDisconnect})
	}
}

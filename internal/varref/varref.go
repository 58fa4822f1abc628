// Package varref implements the bijective packing of (WatchKind, FrameIndex,
// VariableIndex) into the single integer DAP uses to identify a
// variablesReference. The layout keeps the packed value within 2^53-1 so
// JSON-numeric DAP clients can round-trip it without precision loss: 2 bits
// of kind, 21 bits of frame index, 30 bits of variable index (53 bits
// total), biased by +1 so that 0 is reserved to mean "no children" without
// colliding with the all-zero triple (WatchKindLocal, TopFrame, Scope).
package varref

import "github.com/unrealscript-debugger/bridge/internal/common"

const (
	variableBits = 30
	frameBits    = 21
	variableMask = (uint64(1) << variableBits) - 1
	frameMask    = (uint64(1) << frameBits) - 1
	maxFrame     = frameMask
	maxVariable  = variableMask
)

// Reference is a decoded variablesReference.
type Reference struct {
	kind     common.WatchKind
	frame    common.FrameIndex
	variable common.VariableIndex
}

// New constructs a Reference from its parts.
func New(kind common.WatchKind, frame common.FrameIndex, variable common.VariableIndex) Reference {
	return Reference{kind: kind, frame: frame, variable: variable}
}

// Kind returns the watch kind.
func (r Reference) Kind() common.WatchKind { return r.kind }

// Frame returns the frame index.
func (r Reference) Frame() common.FrameIndex { return r.frame }

// Variable returns the variable index.
func (r Reference) Variable() common.VariableIndex { return r.variable }

// ToInt packs the reference into the wire value. The packed triple is
// biased by +1 so that (WatchKindLocal, TopFrame, Scope) — the locals
// scope of the top stack frame, the most common reference of all — never
// packs to the reserved 0 sentinel.
func (r Reference) ToInt() uint64 {
	if uint64(r.frame) > maxFrame {
		panic("varref: frame index exceeds representable range")
	}
	if uint64(r.variable) > maxVariable {
		panic("varref: variable index exceeds representable range")
	}
	packed := (uint64(r.kind) << (frameBits + variableBits)) |
		(uint64(r.frame) << variableBits) |
		uint64(r.variable)
	return packed + 1
}

// FromInt unpacks a wire value back into a Reference. 0 always decodes to
// (Reference{}, false); any other value is un-biased before unpacking.
func FromInt(v uint64) (Reference, bool) {
	if v == 0 {
		return Reference{}, false
	}
	packed := v - 1
	kind := common.WatchKind(packed >> (frameBits + variableBits))
	frame := common.FrameIndex((packed >> variableBits) & frameMask)
	variable := common.VariableIndex(packed & variableMask)
	return Reference{kind: kind, frame: frame, variable: variable}, true
}

package debugger

import "unicode/utf16"

// SendToUnreal abstracts the one thing the engine gives the interface: a
// way to push bytes back into a registered callback. Two implementations
// exist because the engine exposes two documented callback ABIs.
type SendToUnreal interface {
	Send(data []byte)
}

// AsciiCallback is the primary ABI: the engine callback expects a single
// null-terminated ASCII buffer pointer.
type AsciiCallback struct {
	// Deliver is supplied by cmd/interface, wrapping the actual C function
	// pointer handed in by the engine.
	Deliver func(nullTerminated []byte)
}

// Send appends the NUL terminator the primary ABI callback expects.
func (a AsciiCallback) Send(data []byte) {
	buf := make([]byte, len(data)+1)
	copy(buf, data)
	a.Deliver(buf)
}

// Utf16Callback is the alternate ("VA") ABI: the engine callback expects a
// length plus a null-terminated UTF-16LE buffer, and additionally requires
// that sends while the engine is not in a break state be deferred onto the
// game's own thread rather than invoked directly.
type Utf16Callback struct {
	Deliver     func(length int32, utf16NullTerminated []uint16)
	GameRuntime *GameRuntime
	InBreak     func() bool
}

// Send transcodes to UTF-16LE with a trailing NUL, then either invokes the
// callback directly (engine is in break, so calling back in is safe) or
// defers it onto the game runtime's single-threaded queue.
func (u Utf16Callback) Send(data []byte) {
	encoded := utf16.Encode([]rune(string(data)))
	buf := make([]uint16, len(encoded)+1)
	copy(buf, encoded)

	send := func() { u.Deliver(int32(len(buf)), buf) }
	if u.InBreak != nil && u.InBreak() {
		send()
		return
	}
	u.GameRuntime.Spawn(send)
}

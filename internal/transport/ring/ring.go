// Package ring implements a fixed-capacity, single-producer/single-consumer
// shared-memory ring buffer used to carry synchronous command responses
// from the interface to the adapter without stalling behind asynchronous
// event traffic on the TCP leg of the transport.
//
// The buffer is backed by a memory-mapped file so the producer (interface,
// in-process inside the game engine) and the consumer (adapter, a separate
// OS process) can share it purely by path, the same way the reference
// implementation hands the interface a path to an OS-level shared memory
// segment in its very first command.
package ring

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Capacity is the fixed ring buffer size: 16 MiB.
const Capacity = 16 * 1024 * 1024

// headerSize reserves two 8-byte atomically-accessed cursors at the front
// of the mapped region: the write cursor (producer-owned) and the read
// cursor (consumer-owned). The remainder of the mapping is the data area.
const headerSize = 16

// ErrTimeout is returned by Receive when no message arrived within the
// given timeout.
var ErrTimeout = fmt.Errorf("ring: receive timed out")

// ErrTooLarge is returned by Send when a message does not fit in the ring's
// data area at all (independent of current occupancy).
var ErrTooLarge = fmt.Errorf("ring: message exceeds ring capacity")

// Ring is a single-producer/single-consumer byte-message ring buffer backed
// by a memory-mapped file.
type Ring struct {
	file *os.File
	mmap []byte
	data []byte // mmap[headerSize:]

	writeCursor *uint64 // producer-owned
	readCursor  *uint64 // consumer-owned

	mu       sync.Mutex
	cond     *sync.Cond
	isClosed bool
}

// CreateTemp creates a new ring buffer backed by a fresh temp file and
// returns it along with the path the producer side should be given.
func CreateTemp() (*Ring, string, error) {
	f, err := os.CreateTemp("", "ucdebugger-ring-*.bin")
	if err != nil {
		return nil, "", fmt.Errorf("ring: create temp file: %w", err)
	}
	path := f.Name()
	if err := f.Truncate(int64(headerSize + Capacity)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("ring: truncate: %w", err)
	}
	r, err := newFromFile(f)
	if err != nil {
		os.Remove(path)
		return nil, "", err
	}
	return r, path, nil
}

// Open attaches to an existing ring buffer file created by CreateTemp.
func Open(path string) (*Ring, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ring: open %s: %w", path, err)
	}
	return newFromFile(f)
}

func newFromFile(f *os.File) (*Ring, error) {
	mm, err := unix.Mmap(int(f.Fd()), 0, headerSize+Capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ring: mmap: %w", err)
	}
	r := &Ring{
		file:        f,
		mmap:        mm,
		data:        mm[headerSize:],
		writeCursor: (*uint64)(unsafe.Pointer(&mm[0])),
		readCursor:  (*uint64)(unsafe.Pointer(&mm[8])),
	}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// Close unmaps and closes the backing file. It does not remove the file;
// the creator of a temp ring is responsible for that, using the path
// CreateTemp returned and os.Remove.
func (r *Ring) Close() error {
	r.mu.Lock()
	r.isClosed = true
	r.cond.Broadcast()
	r.mu.Unlock()
	if err := unix.Munmap(r.mmap); err != nil {
		return err
	}
	return r.file.Close()
}

// Send (producer side) writes a length-prefixed message into the ring,
// blocking only long enough to wait for free space.
//
// Waiting is done by polling with a short sleep, since the whole point of
// the shared mapping is that producer and consumer are different OS
// processes that cannot share a Go channel or condition variable.
func (r *Ring) Send(msg []byte) error {
	total := 4 + len(msg)
	if total > len(r.data) {
		return ErrTooLarge
	}
	for {
		if r.closed() {
			return fmt.Errorf("ring: closed")
		}
		if r.freeSpace() >= total {
			break
		}
		time.Sleep(time.Millisecond)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(msg)))

	wc := atomic.LoadUint64(r.writeCursor)
	r.writeBytes(wc, lenBuf[:])
	r.writeBytes(wc+4, msg)
	atomic.StoreUint64(r.writeCursor, wc+uint64(total))
	return nil
}

// Receive (consumer side) blocks until a message is available or the
// timeout elapses.
func (r *Ring) Receive(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if r.available() >= 4 {
			rc := atomic.LoadUint64(r.readCursor)
			var lenBuf [4]byte
			r.readBytes(rc, lenBuf[:])
			msgLen := binary.BigEndian.Uint32(lenBuf[:])
			total := 4 + int(msgLen)
			if r.available() >= total {
				msg := make([]byte, msgLen)
				r.readBytes(rc+4, msg)
				atomic.StoreUint64(r.readCursor, rc+uint64(total))
				return msg, nil
			}
		}
		if r.closed() {
			return nil, fmt.Errorf("ring: closed")
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *Ring) closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isClosed
}

// freeSpace and available treat the data area as a simple linear buffer
// bounded by Capacity; wraparound is not supported; a full buffer blocks
// the producer until the consumer catches up and both cursors can be reset.
// This is sufficient for the bridge's usage pattern: one outstanding
// synchronous response at a time, always fully drained before the next.
func (r *Ring) freeSpace() int {
	wc := atomic.LoadUint64(r.writeCursor)
	rc := atomic.LoadUint64(r.readCursor)
	if wc == rc {
		atomic.StoreUint64(r.writeCursor, 0)
		atomic.StoreUint64(r.readCursor, 0)
		return len(r.data)
	}
	return len(r.data) - int(wc)
}

func (r *Ring) available() int {
	wc := atomic.LoadUint64(r.writeCursor)
	rc := atomic.LoadUint64(r.readCursor)
	return int(wc - rc)
}

func (r *Ring) writeBytes(offset uint64, b []byte) {
	copy(r.data[offset:], b)
}

func (r *Ring) readBytes(offset uint64, b []byte) {
	copy(b, r.data[offset:])
}

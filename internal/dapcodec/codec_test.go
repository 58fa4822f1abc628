package dapcodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
)

func frame(t *testing.T, body map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	buf.WriteString("Content-Length: ")
	buf.WriteString(itoa(len(payload)))
	buf.WriteString("\r\n\r\n")
	buf.Write(payload)
	return buf.Bytes()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestReaderDecodesSingleFrame(t *testing.T) {
	body := map[string]interface{}{"seq": float64(1), "type": "request", "command": "initialize"}
	data := frame(t, body)
	r := NewReader(bytes.NewReader(data))
	got, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["command"] != "initialize" {
		t.Fatalf("got %+v", got)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderDecodesMultipleFramesInSequence(t *testing.T) {
	var data []byte
	for i := 0; i < 3; i++ {
		data = append(data, frame(t, map[string]interface{}{"seq": float64(i), "type": "request"})...)
	}
	r := NewReader(bytes.NewReader(data))
	for i := 0; i < 3; i++ {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if int(got["seq"].(float64)) != i {
			t.Fatalf("frame %d: got seq %v", i, got["seq"])
		}
	}
}

func TestReaderRejectsBadHeaderKey(t *testing.T) {
	data := []byte("Content-Lenght: 2\r\n\r\n{}")
	r := NewReader(bytes.NewReader(data))
	_, err := r.Next()
	if _, ok := err.(*FramingError); !ok {
		t.Fatalf("expected FramingError, got %v", err)
	}
}

func TestReaderRejectsBadSeparator(t *testing.T) {
	data := []byte("Content-Length: 2\r\nXX\r\n{}")
	r := NewReader(bytes.NewReader(data))
	_, err := r.Next()
	if _, ok := err.(*FramingError); !ok {
		t.Fatalf("expected FramingError, got %v", err)
	}
}

// chunkedReader drips bytes one at a time and fails the read with
// errInterrupted before every byte, so every Next() call is abandoned
// partway through the frame; calling Next() again must still produce the
// correct frame with no lost or duplicated bytes.
type chunkedReader struct {
	data        []byte
	pos         int
	interrupted bool
}

var errInterrupted = errors.New("read interrupted")

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	if !c.interrupted {
		c.interrupted = true
		return 0, errInterrupted
	}
	c.interrupted = false
	p[0] = c.data[c.pos]
	c.pos++
	return 1, nil
}

func TestReaderIsCancellationSafeAcrossByteAtATimeReads(t *testing.T) {
	body := map[string]interface{}{"seq": float64(7), "type": "request", "command": "threads"}
	data := frame(t, body)
	r := NewReader(&chunkedReader{data: data})
	var got map[string]interface{}
	for {
		var err error
		got, err = r.Next()
		if err == nil {
			break
		}
		if err != errInterrupted {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got["command"] != "threads" {
		t.Fatalf("got %+v", got)
	}
}

func TestReaderReportsOrderlyEOFAtFrameBoundary(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderReportsErrorOnTruncatedBody(t *testing.T) {
	data := []byte("Content-Length: 10\r\n\r\n{\"a\":1}")
	r := NewReader(bytes.NewReader(data))
	_, err := r.Next()
	if err == nil {
		t.Fatal("expected an error for truncated body")
	}
}

func TestWriterSeqIsMonotonicFromOne(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	first := w.NextSeq()
	second := w.NextSeq()
	if first != 1 {
		t.Fatalf("expected first seq 1, got %d", first)
	}
	if second <= first {
		t.Fatalf("expected strictly increasing seq, got %d then %d", first, second)
	}
}

func TestWriteNextKeepsSeqMonotonicAcrossGoroutines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	const n = 100
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			w.WriteNext(func(seq int64) interface{} {
				return map[string]interface{}{"seq": seq}
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	r := NewReader(&buf)
	var last float64
	for i := 0; i < n; i++ {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		seq := got["seq"].(float64)
		if seq <= last {
			t.Fatalf("frame %d: seq %v did not strictly increase from %v", i, seq, last)
		}
		last = seq
	}
}

func TestWriterProducesValidContentLengthFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Write(map[string]interface{}{"seq": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := NewReader(&buf)
	got, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error reading back written frame: %v", err)
	}
	if got["seq"].(float64) != 1 {
		t.Fatalf("got %+v", got)
	}
}

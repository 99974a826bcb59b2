package codec

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultRingSize is the capacity used by decoders unless configured otherwise
const DefaultRingSize = 512

// ErrOverflow is returned by Ring.Write when bytes were dropped and, exactly once,
// by the next Ring.ReadByte after that.
var ErrOverflow = errors.New("ring buffer overflow")

// Ring is a fixed-capacity circular byte buffer. Writes never overwrite unread
// bytes: whatever does not fit is dropped and the overflow is surfaced to the
// reader once.
type Ring struct {
	mu        sync.Mutex
	buf       []byte
	head      int // next byte to read
	size      int
	overflow  bool
	overflows uint64
}

// NewRing creates a ring buffer holding up to capacity bytes
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid ring buffer capacity: %d", capacity)
	}
	return &Ring{buf: make([]byte, capacity)}, nil
}

// Write stores as many bytes of p as fit. If any byte is dropped it returns
// the number stored together with ErrOverflow.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(len(p), len(r.buf)-r.size)
	tail := (r.head + r.size) % len(r.buf)
	for i := 0; i < n; i++ {
		r.buf[tail] = p[i]
		tail = (tail + 1) % len(r.buf)
	}
	r.size += n

	if n < len(p) {
		r.overflow = true
		r.overflows++
		return n, ErrOverflow
	}
	return n, nil
}

// ReadByte returns the oldest unread byte, io.EOF when the buffer is empty, or
// ErrOverflow once after a write dropped data. The overflow rejection does not
// consume a byte.
func (r *Ring) ReadByte() (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.overflow {
		r.overflow = false
		return 0, ErrOverflow
	}
	if r.size == 0 {
		return 0, io.EOF
	}

	b := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return b, nil
}

// Len returns the number of unread bytes
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the buffer capacity
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Overflows returns how many writes have dropped bytes since creation
func (r *Ring) Overflows() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overflows
}

// Reset discards unread bytes and any pending overflow rejection. The overflow
// counter is kept.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.size = 0
	r.overflow = false
}

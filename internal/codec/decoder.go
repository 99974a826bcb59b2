package codec

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"
)

type state uint8

const (
	stateSeek1 state = iota
	stateSeek2
	stateReadPayload
	stateCheck0
	stateCheck1
)

// WithRingSize sets the capacity of the decoder's ring buffer
func WithRingSize(size int) func(*Decoder) {
	return func(d *Decoder) {
		d.ringSize = size
	}
}

// Stats is a point-in-time copy of the decoder counters
type Stats struct {
	Frames         uint64
	ChecksumErrors uint64
	Overflows      uint64
}

// Decoder recovers fixed-length payloads from a noisy byte stream. Bytes are
// written into an internal ring buffer and frames are pulled out lazily.
//
// Write and the frame readers may be used from different goroutines, but frames
// must be pulled from one goroutine at a time.
type Decoder struct {
	ring        *Ring
	ringSize    int
	payloadSize int

	state   state
	payload []byte
	n       int
	ck0     byte
	ck1     byte

	frames         atomic.Uint64
	checksumErrors atomic.Uint64
}

// NewDecoder creates a decoder for payloads of exactly payloadSize bytes
func NewDecoder(payloadSize int, options ...func(*Decoder)) (*Decoder, error) {
	d := Decoder{
		ringSize:    DefaultRingSize,
		payloadSize: payloadSize,
	}

	for _, option := range options {
		option(&d)
	}

	if payloadSize <= 0 {
		return nil, fmt.Errorf("invalid payload size: %d", payloadSize)
	}
	if d.ringSize < FrameSize(payloadSize) {
		return nil, fmt.Errorf("ring size %d cannot hold a %d byte frame", d.ringSize, FrameSize(payloadSize))
	}

	ring, err := NewRing(d.ringSize)
	if err != nil {
		return nil, err
	}

	d.ring = ring
	d.payload = make([]byte, payloadSize)
	return &d, nil
}

// Write buffers raw bytes from the transport. A returned ErrOverflow means some
// bytes were dropped; the decoder resynchronizes on its own.
func (d *Decoder) Write(p []byte) (int, error) {
	return d.ring.Write(p)
}

// Next consumes buffered bytes until a valid frame is found or the buffer runs
// dry. It never blocks. The returned payload is a copy owned by the caller.
func (d *Decoder) Next() ([]byte, bool) {
	for {
		b, err := d.ring.ReadByte()
		switch {
		case errors.Is(err, io.EOF):
			return nil, false

		case errors.Is(err, ErrOverflow):
			d.reset()
			continue
		}

		if d.feed(b) {
			d.frames.Add(1)
			return append([]byte(nil), d.payload...), true
		}
	}
}

// Frames returns a lazy sequence of the payloads currently decodable from the
// buffer. The sequence ends when buffered bytes run out and can be ranged over
// again once more bytes are written.
func (d *Decoder) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			frame, ok := d.Next()
			if !ok || !yield(frame) {
				return
			}
		}
	}
}

// Stats returns the decoder counters
func (d *Decoder) Stats() Stats {
	return Stats{
		Frames:         d.frames.Load(),
		ChecksumErrors: d.checksumErrors.Load(),
		Overflows:      d.ring.Overflows(),
	}
}

// PayloadSize returns the payload length this decoder expects
func (d *Decoder) PayloadSize() int {
	return d.payloadSize
}

func (d *Decoder) reset() {
	d.state = stateSeek1
	d.n = 0
	d.ck0 = 0
	d.ck1 = 0
}

// feed advances the frame state machine by one byte and reports whether a
// complete, valid frame is now in d.payload.
func (d *Decoder) feed(b byte) bool {
	switch d.state {
	case stateSeek1:
		if b == StartByte1 {
			d.state = stateSeek2
		}

	case stateSeek2:
		switch b {
		case StartByte2:
			d.state = stateReadPayload
			d.n = 0
			d.ck0 = 0
			d.ck1 = 0
		case StartByte1:
			// a repeated first start byte may still open a frame
		default:
			d.state = stateSeek1
		}

	case stateReadPayload:
		d.payload[d.n] = b
		d.n++
		d.ck0 += b
		d.ck1 += d.ck0
		if d.n == d.payloadSize {
			d.state = stateCheck0
		}

	case stateCheck0:
		if b != d.ck0 {
			d.checksumErrors.Add(1)
			d.reset()
			return false
		}
		d.state = stateCheck1

	case stateCheck1:
		ok := b == d.ck1
		if !ok {
			d.checksumErrors.Add(1)
		}
		d.reset()
		return ok
	}

	return false
}

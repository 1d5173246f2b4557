// Package pgwire implements the replication-stream framing layer used to
// talk to a PostgreSQL server over the physical replication protocol
// (§4.B): a ring buffer fed by a blocking reader, and a decoder for the
// tagged CopyData/CopyBoth messages that ride on top of it. This plays the
// same role the teacher's internal/network package plays for its own
// line-oriented protocol, generalized from bufio.Scanner line splitting to
// PostgreSQL's length-prefixed binary message framing.
package pgwire

import (
	"io"

	"github.com/leengari/pgward/internal/perr"
)

// defaultCapacity is large enough to hold several maximum-size WAL data
// messages without reallocating on the common path.
const defaultCapacity = 256 * 1024

// RingBuffer is a growable byte ring fed by repeated reads from an
// underlying connection. The producer (Fill) appends bytes at end; the
// consumer (Advance) retires bytes at start. Unlike a fixed-size ring, it
// grows when a single message does not fit, since PostgreSQL places no
// hard cap on a CopyData message's length.
type RingBuffer struct {
	buf    []byte
	start  int
	end    int
	reader io.Reader
}

// NewRingBuffer wraps r (a net.Conn or tls.Conn, typically) in a
// RingBuffer with a sensible starting capacity.
func NewRingBuffer(r io.Reader) *RingBuffer {
	return &RingBuffer{
		buf:    make([]byte, defaultCapacity),
		reader: r,
	}
}

// Len reports how many unconsumed bytes are currently buffered.
func (b *RingBuffer) Len() int { return b.end - b.start }

// Peek returns the unconsumed bytes without advancing the cursor. The
// returned slice aliases the buffer and is invalidated by the next Fill.
func (b *RingBuffer) Peek() []byte { return b.buf[b.start:b.end] }

// Advance retires n bytes from the front of the buffer, compacting when the
// buffer is fully consumed or the consumed prefix exceeds half the buffer.
func (b *RingBuffer) Advance(n int) {
	b.start += n
	if b.start > 0 && (b.start == b.end || b.start > len(b.buf)/2) {
		copy(b.buf, b.buf[b.start:b.end])
		b.end -= b.start
		b.start = 0
	}
}

// ensureCapacity grows buf so at least n more bytes can be appended after
// end, compacting first if that alone is enough.
func (b *RingBuffer) ensureCapacity(n int) {
	if len(b.buf)-b.end >= n {
		return
	}
	if b.start > 0 {
		copy(b.buf, b.buf[b.start:b.end])
		b.end -= b.start
		b.start = 0
		if len(b.buf)-b.end >= n {
			return
		}
	}
	needed := b.end + n
	grown := make([]byte, needed*2)
	copy(grown, b.buf[:b.end])
	b.buf = grown
}

// Fill performs one blocking read into the buffer and does not retry. Go's
// net.Conn Read never reports EAGAIN directly — a short read simply
// returns fewer bytes than requested — so short reads are retried by
// FillUntil's loop instead. A read that returns zero bytes with a nil
// error is reported as a Network error.
func (b *RingBuffer) Fill() (int, error) {
	b.ensureCapacity(4096)
	n, err := b.reader.Read(b.buf[b.end:])
	b.end += n
	if n == 0 && err == nil {
		return 0, perr.New(perr.Network, "zero-length read with nil error")
	}
	return n, err
}

// FillUntil blocks, performing repeated Fill calls, until at least n bytes
// are buffered or an error (including io.EOF) occurs.
func (b *RingBuffer) FillUntil(n int) error {
	for b.Len() < n {
		if _, err := b.Fill(); err != nil {
			return err
		}
	}
	return nil
}

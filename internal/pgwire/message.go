package pgwire

import (
	"encoding/binary"

	"github.com/leengari/pgward/internal/perr"
)

// Kind is a wire message's leading tag byte (§4.B).
type Kind byte

const (
	KindCopyData         Kind = 'd'
	KindCopyDone         Kind = 'c'
	KindErrorResponse    Kind = 'E'
	KindCopyFail         Kind = 'f'
	KindCopyBothResponse Kind = 'W'
	KindCopyOutResponse  Kind = 'H'
	KindCommandComplete  Kind = 'C'
	KindDataRow          Kind = 'D'
	KindRowDescription   Kind = 'T'
	KindReadyForQuery    Kind = 'Z'
	KindNoticeResponse   Kind = 'N'
)

// Message is one decoded frontend/backend protocol message: a 1-byte tag,
// a 4-byte big-endian length (self-inclusive, per PostgreSQL's wire
// protocol), and the body following it.
type Message struct {
	Kind   Kind
	Length uint32 // as declared on the wire, including the length field itself
	Data   []byte // body, i.e. everything after the length field
}

// consumeCopyStreamStart blocks on rb until one full message is buffered,
// and returns it without advancing rb's cursor — the caller must call
// consumeCopyStreamEnd (Advance) once it is done with Data, matching
// §4.B's two-phase consume/advance API.
func consumeCopyStreamStart(rb *RingBuffer) (Message, error) {
	const headerLen = 5 // 1 tag byte + 4 length bytes
	if err := rb.FillUntil(headerLen); err != nil {
		return Message{}, err
	}
	peek := rb.Peek()
	kind := Kind(peek[0])
	length := binary.BigEndian.Uint32(peek[1:5])
	if length < 4 {
		return Message{}, perr.New(perr.UnexpectedMessageKind, "message length smaller than its own field")
	}

	total := 1 + int(length) // tag byte + length-prefixed body
	if err := rb.FillUntil(total); err != nil {
		return Message{}, err
	}
	peek = rb.Peek()
	return Message{
		Kind:   kind,
		Length: length,
		Data:   peek[headerLen:total],
	}, nil
}

// consumeCopyStreamEnd advances rb past the message returned by
// consumeCopyStreamStart.
func consumeCopyStreamEnd(rb *RingBuffer, msg Message) {
	rb.Advance(1 + int(msg.Length))
}

// Reader reads a sequence of tagged protocol messages off a RingBuffer,
// exposing the consume-start/consume-end pair as a single blocking Next.
type Reader struct {
	rb *RingBuffer
}

// NewReader builds a Reader over an already-open RingBuffer.
func NewReader(rb *RingBuffer) *Reader {
	return &Reader{rb: rb}
}

// Next blocks until one full message is available, returns a copy of its
// body (safe to retain past the next Next call) and advances past it.
func (r *Reader) Next() (Kind, []byte, error) {
	msg, err := consumeCopyStreamStart(r.rb)
	if err != nil {
		return 0, nil, err
	}
	body := make([]byte, len(msg.Data))
	copy(body, msg.Data)
	consumeCopyStreamEnd(r.rb, msg)
	return msg.Kind, body, nil
}

// ErrorResponse parses the field=value pairs of an 'E'/'N' message body
// (each field is a 1-byte code, a NUL-terminated string, terminated by a
// final NUL byte) into a map keyed by field code.
func ErrorResponse(body []byte) map[byte]string {
	fields := make(map[byte]string)
	i := 0
	for i < len(body) {
		code := body[i]
		if code == 0 {
			break
		}
		i++
		start := i
		for i < len(body) && body[i] != 0 {
			i++
		}
		fields[code] = string(body[start:i])
		i++ // skip the terminating NUL
	}
	return fields
}

package pgwire

import "encoding/binary"

// EncodeQuery frames a simple-query protocol 'Q' message (used to issue
// IDENTIFY_SYSTEM, TIMELINE_HISTORY and START_REPLICATION, none of which
// need the extended query protocol).
func EncodeQuery(query string) []byte {
	body := append([]byte(query), 0) // NUL-terminated
	return frame('Q', body)
}

// EncodeCopyData frames an outgoing CopyData message, used for
// StandbyStatusUpdate replies during replication (§4.H).
func EncodeCopyData(payload []byte) []byte {
	return frame('d', payload)
}

// EncodeCopyDone frames the CopyDone message a client sends to end
// replication cleanly (§4.H, "on any shutdown signal, send CopyDone").
func EncodeCopyDone() []byte {
	return frame('c', nil)
}

// frame writes tag + 4-byte big-endian self-inclusive length + body,
// matching the wire layout Message/consumeCopyStreamStart expect to read
// back (§4.B).
func frame(tag byte, body []byte) []byte {
	length := 4 + len(body)
	out := make([]byte, 1+length)
	out[0] = tag
	binary.BigEndian.PutUint32(out[1:5], uint32(length))
	copy(out[5:], body)
	return out
}

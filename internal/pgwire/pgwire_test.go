package pgwire

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/leengari/pgward/internal/pgtypes"
)

func TestRingBufferFillAndMessage(t *testing.T) {
	body := []byte("hello")
	msg := make([]byte, 0, 5+len(body))
	msg = append(msg, 'd')
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(4+len(body)))
	msg = append(msg, lenBuf...)
	msg = append(msg, body...)

	rb := NewRingBuffer(bytes.NewReader(msg))
	reader := NewReader(rb)

	kind, data, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if kind != KindCopyData {
		t.Fatalf("kind = %q, want %q", kind, KindCopyData)
	}
	if !bytes.Equal(data, body) {
		t.Fatalf("data = %q, want %q", data, body)
	}
}

func TestStandbyStatusUpdateRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	buf := StandbyStatusUpdate(pgtypes.LSN(100), pgtypes.LSN(90), pgtypes.LSN(80), now, true)
	if buf[0] != 'r' {
		t.Fatalf("tag = %q, want 'r'", buf[0])
	}
	if got := binary.BigEndian.Uint64(buf[1:9]); got != 100 {
		t.Fatalf("received = %d, want 100", got)
	}
	if buf[34] != 1 {
		t.Fatalf("replyRequested byte = %d, want 1", buf[34])
	}
}

func TestDecodeReplicationMessageWAL(t *testing.T) {
	body := make([]byte, 25+3)
	body[0] = 'w'
	binary.BigEndian.PutUint64(body[1:9], 1000)
	binary.BigEndian.PutUint64(body[9:17], 2000)
	copy(body[25:], []byte("abc"))

	wal, ka, err := DecodeReplicationMessage(body)
	if err != nil {
		t.Fatalf("DecodeReplicationMessage: %v", err)
	}
	if ka != nil {
		t.Fatalf("unexpected keepalive")
	}
	if wal.DataStart != 1000 || wal.WALEnd != 2000 {
		t.Fatalf("DataStart/WALEnd = %d/%d, want 1000/2000", wal.DataStart, wal.WALEnd)
	}
	if !bytes.Equal(wal.Payload, []byte("abc")) {
		t.Fatalf("Payload = %q, want abc", wal.Payload)
	}
}

func TestDecodeBaseBackupFrameNewTablespace(t *testing.T) {
	body := append([]byte{'n'}, []byte("pg_default\x00/data/tblspc\x00")...)
	frame, err := DecodeBaseBackupFrame(body)
	if err != nil {
		t.Fatalf("DecodeBaseBackupFrame: %v", err)
	}
	if frame.TablespaceName != "pg_default" || frame.TablespacePath != "/data/tblspc" {
		t.Fatalf("got %+v", frame)
	}
}

func TestErrorResponseFields(t *testing.T) {
	body := append([]byte{'S'}, []byte("ERROR\x00")...)
	body = append(body, 'C')
	body = append(body, []byte("58030\x00")...)
	body = append(body, 0)
	fields := ErrorResponse(body)
	if fields['S'] != "ERROR" || fields['C'] != "58030" {
		t.Fatalf("got %+v", fields)
	}
}

package pgwire

import (
	"encoding/binary"
	"time"

	"github.com/leengari/pgward/internal/perr"
	"github.com/leengari/pgward/internal/pgtypes"
)

// pgEpoch is 2000-01-01 00:00:00 UTC, the origin PostgreSQL uses for the
// microsecond timestamps embedded in replication messages.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// WALData is the payload of a replication CopyData message tagged 'w'
// (§4.H): a WAL data chunk plus the server's view of send/flush progress.
type WALData struct {
	DataStart pgtypes.LSN
	WALEnd    pgtypes.LSN
	SendTime  time.Time
	Payload   []byte
}

// Keepalive is the payload of a replication CopyData message tagged 'k'.
type Keepalive struct {
	WALEnd        pgtypes.LSN
	SendTime      time.Time
	ReplyRequested bool
}

// DecodeReplicationMessage dispatches a CopyData body (body[0] is the
// sub-message tag 'w' or 'k') into a WALData or Keepalive value.
func DecodeReplicationMessage(body []byte) (*WALData, *Keepalive, error) {
	if len(body) < 1 {
		return nil, nil, perr.New(perr.ShortData, "empty replication CopyData body")
	}
	switch body[0] {
	case 'w':
		if len(body) < 25 {
			return nil, nil, perr.New(perr.ShortData, "short XLogData header")
		}
		return &WALData{
			DataStart: pgtypes.LSN(binary.BigEndian.Uint64(body[1:9])),
			WALEnd:    pgtypes.LSN(binary.BigEndian.Uint64(body[9:17])),
			SendTime:  decodePGTime(binary.BigEndian.Uint64(body[17:25])),
			Payload:   body[25:],
		}, nil, nil
	case 'k':
		if len(body) < 18 {
			return nil, nil, perr.New(perr.ShortData, "short primary keepalive")
		}
		return nil, &Keepalive{
			WALEnd:         pgtypes.LSN(binary.BigEndian.Uint64(body[1:9])),
			SendTime:       decodePGTime(binary.BigEndian.Uint64(body[9:17])),
			ReplyRequested: body[17] != 0,
		}, nil
	default:
		return nil, nil, perr.New(perr.UnexpectedMessageKind, "unrecognized replication sub-message tag")
	}
}

// StandbyStatusUpdate encodes a 'r' status-update reply frame, sent on
// every 'w' and 'k' frame per §4.H.
func StandbyStatusUpdate(received, flushed, applied pgtypes.LSN, now time.Time, replyRequested bool) []byte {
	buf := make([]byte, 35)
	buf[0] = 'r'
	binary.BigEndian.PutUint64(buf[1:9], uint64(received))
	binary.BigEndian.PutUint64(buf[9:17], uint64(flushed))
	binary.BigEndian.PutUint64(buf[17:25], uint64(applied))
	binary.BigEndian.PutUint64(buf[25:33], encodePGTime(now))
	if replyRequested {
		buf[34] = 1
	}
	return buf
}

func decodePGTime(micros uint64) time.Time {
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond)
}

func encodePGTime(t time.Time) uint64 {
	return uint64(t.Sub(pgEpoch) / time.Microsecond)
}

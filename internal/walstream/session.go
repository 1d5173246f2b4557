package walstream

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/leengari/pgward/internal/pgtypes"
	"github.com/leengari/pgward/internal/pgwire"
)

// Session is one authenticated replication connection: a raw socket plus
// the buffered reader §4.B describes. Authentication itself (the startup
// packet, SASL/MD5 negotiation, TLS handshake) is treated as an external
// collaborator per §1 ("TLS handshake primitives beyond the authentication
// contract" are out of scope) — Session assumes the connection is already
// past that point and in the simple-query phase.
type Session struct {
	conn net.Conn
	rb   *pgwire.RingBuffer
}

// NewSession wraps an already-authenticated connection.
func NewSession(conn net.Conn) *Session {
	return &Session{conn: conn, rb: pgwire.NewRingBuffer(conn)}
}

func (s *Session) sendQuery(query string) error {
	_, err := s.conn.Write(pgwire.EncodeQuery(query))
	return err
}

// simpleQueryResult is the minimal subset of a simple-query response this
// client cares about: the DataRow field values of the first (and only)
// row, as text.
type simpleQueryResult struct {
	fields []string
}

// runSimpleQuery issues query and collects the first DataRow's fields,
// skipping RowDescription and consuming through CommandComplete +
// ReadyForQuery.
func (s *Session) runSimpleQuery(query string) (*simpleQueryResult, error) {
	if err := s.sendQuery(query); err != nil {
		return nil, fmt.Errorf("walstream: send %q: %w", query, err)
	}

	reader := pgwire.NewReader(s.rb)
	var result *simpleQueryResult
	for {
		kind, body, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("walstream: reading response to %q: %w", query, err)
		}
		switch kind {
		case pgwire.KindDataRow:
			if result == nil {
				result = &simpleQueryResult{fields: decodeDataRow(body)}
			}
		case pgwire.KindCommandComplete:
			// fall through to ReadyForQuery
		case pgwire.KindReadyForQuery:
			return result, nil
		case pgwire.KindErrorResponse:
			fields := pgwire.ErrorResponse(body)
			return nil, fmt.Errorf("walstream: server error for %q: %s", query, fields['M'])
		case pgwire.KindRowDescription, pgwire.KindNoticeResponse:
			// ignored
		default:
			// CopyBothResponse etc. should never appear here.
		}
	}
}

func decodeDataRow(body []byte) []string {
	if len(body) < 2 {
		return nil
	}
	numFields := int(binary.BigEndian.Uint16(body[0:2]))
	fields := make([]string, numFields)
	pos := 2
	for i := 0; i < numFields; i++ {
		n := int32(binary.BigEndian.Uint32(body[pos : pos+4]))
		pos += 4
		if n < 0 {
			continue
		}
		fields[i] = string(body[pos : pos+int(n)])
		pos += int(n)
	}
	return fields
}

// SystemIdentity is the parsed response to IDENTIFY_SYSTEM.
type SystemIdentity struct {
	SystemID string
	Timeline pgtypes.TimelineID
	XLogPos  pgtypes.LSN
	DBName   string
}

// IdentifySystem issues IDENTIFY_SYSTEM (§4.H handshake step).
func (s *Session) IdentifySystem() (*SystemIdentity, error) {
	res, err := s.runSimpleQuery("IDENTIFY_SYSTEM")
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.fields) < 3 {
		return nil, fmt.Errorf("walstream: malformed IDENTIFY_SYSTEM response")
	}
	tli, err := strconv.ParseUint(res.fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("walstream: IDENTIFY_SYSTEM timeline: %w", err)
	}
	lsn, err := pgtypes.ParseLSN(res.fields[2])
	if err != nil {
		return nil, fmt.Errorf("walstream: IDENTIFY_SYSTEM xlogpos: %w", err)
	}
	ident := &SystemIdentity{
		SystemID: res.fields[0],
		Timeline: pgtypes.TimelineID(tli),
		XLogPos:  lsn,
	}
	if len(res.fields) > 3 {
		ident.DBName = res.fields[3]
	}
	return ident, nil
}

// SlotPosition is the confirmed replay position READ_REPLICATION_SLOT
// reports for a physical slot (PG>=15, §4.H handshake step 2).
type SlotPosition struct {
	SlotType    string
	RestartLSN  pgtypes.LSN
	Timeline    pgtypes.TimelineID
}

// ReadReplicationSlot issues READ_REPLICATION_SLOT <slot>.
func (s *Session) ReadReplicationSlot(slot string) (*SlotPosition, error) {
	res, err := s.runSimpleQuery(fmt.Sprintf("READ_REPLICATION_SLOT %s", slot))
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.fields) < 3 || res.fields[1] == "" {
		return nil, nil // slot has no confirmed position yet / does not exist
	}
	lsn, err := pgtypes.ParseLSN(res.fields[1])
	if err != nil {
		return nil, fmt.Errorf("walstream: READ_REPLICATION_SLOT restart_lsn: %w", err)
	}
	tli, err := strconv.ParseUint(res.fields[2], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("walstream: READ_REPLICATION_SLOT timeline: %w", err)
	}
	return &SlotPosition{SlotType: res.fields[0], RestartLSN: lsn, Timeline: pgtypes.TimelineID(tli)}, nil
}

// TimelineHistory issues TIMELINE_HISTORY <tli> and returns the raw
// ".history" file content (§4.H: "fetch TIMELINE_HISTORY if tli>1 and the
// .history file is absent locally").
func (s *Session) TimelineHistory(tli pgtypes.TimelineID) (fileName string, content []byte, err error) {
	if err := s.sendQuery(fmt.Sprintf("TIMELINE_HISTORY %d", tli)); err != nil {
		return "", nil, err
	}
	reader := pgwire.NewReader(s.rb)
	for {
		kind, body, err := reader.Next()
		if err != nil {
			return "", nil, err
		}
		switch kind {
		case pgwire.KindDataRow:
			fields := decodeDataRow(body)
			if len(fields) >= 2 {
				fileName = fields[0]
				content = []byte(fields[1])
			}
		case pgwire.KindCommandComplete:
		case pgwire.KindReadyForQuery:
			return fileName, content, nil
		case pgwire.KindErrorResponse:
			f := pgwire.ErrorResponse(body)
			return "", nil, fmt.Errorf("walstream: TIMELINE_HISTORY error: %s", f['M'])
		}
	}
}

// StartReplication issues START_REPLICATION and blocks until the server
// responds with CopyBothResponse, after which the caller reads the stream
// with NextCopyMessage. The command issued is the PHYSICAL
// START_REPLICATION form of §4.H.
func (s *Session) StartReplication(slot string, tli pgtypes.TimelineID, lsn pgtypes.LSN) error {
	query := fmt.Sprintf("START_REPLICATION SLOT %s PHYSICAL %s TIMELINE %d", slot, lsn.String(), tli)
	if err := s.sendQuery(query); err != nil {
		return err
	}
	reader := pgwire.NewReader(s.rb)
	kind, body, err := reader.Next()
	if err != nil {
		return fmt.Errorf("walstream: awaiting CopyBothResponse: %w", err)
	}
	switch kind {
	case pgwire.KindCopyBothResponse:
		return nil
	case pgwire.KindErrorResponse:
		f := pgwire.ErrorResponse(body)
		return fmt.Errorf("walstream: START_REPLICATION error: %s", f['M'])
	default:
		return fmt.Errorf("walstream: unexpected message kind %q awaiting CopyBothResponse", kind)
	}
}

// StartBaseBackup issues BASE_BACKUP and blocks until the server responds
// with CopyOutResponse (or CopyBothResponse, for servers that multiplex
// WAL onto the same connection), after which the caller drives the
// stream with NextCopyMessage/pgwire.DecodeBaseBackupFrame (§4.G).
func (s *Session) StartBaseBackup(label string) error {
	query := fmt.Sprintf("BASE_BACKUP (LABEL '%s', MANIFEST 'yes')", label)
	if err := s.sendQuery(query); err != nil {
		return err
	}
	reader := pgwire.NewReader(s.rb)
	kind, body, err := reader.Next()
	if err != nil {
		return fmt.Errorf("walstream: awaiting base-backup CopyOutResponse: %w", err)
	}
	switch kind {
	case pgwire.KindCopyOutResponse, pgwire.KindCopyBothResponse:
		return nil
	case pgwire.KindErrorResponse:
		f := pgwire.ErrorResponse(body)
		return fmt.Errorf("walstream: BASE_BACKUP error: %s", f['M'])
	default:
		return fmt.Errorf("walstream: unexpected message kind %q awaiting base-backup start", kind)
	}
}

// AwaitCommandComplete drains the CommandComplete/ReadyForQuery pair a
// server sends once it has finished writing a CopyData stream (§4.G, end
// of the base-backup stream).
func (s *Session) AwaitCommandComplete() error {
	reader := pgwire.NewReader(s.rb)
	for {
		kind, body, err := reader.Next()
		if err != nil {
			return err
		}
		switch kind {
		case pgwire.KindCommandComplete:
		case pgwire.KindReadyForQuery:
			return nil
		case pgwire.KindErrorResponse:
			f := pgwire.ErrorResponse(body)
			return fmt.Errorf("walstream: error after base-backup stream: %s", f['M'])
		}
	}
}

// NextCopyMessage blocks for the next CopyData/CopyDone frame during an
// active replication stream.
func (s *Session) NextCopyMessage() (pgwire.Kind, []byte, error) {
	reader := pgwire.NewReader(s.rb)
	return reader.Next()
}

// SendReply writes a StandbyStatusUpdate CopyData frame back to the
// server (§4.H, "on every 'w' and 'k' frame, reply with a
// StandbyStatusUpdate").
func (s *Session) SendReply(payload []byte) error {
	_, err := s.conn.Write(pgwire.EncodeCopyData(payload))
	return err
}

// SendCopyDone ends replication cleanly (§4.H shutdown path).
func (s *Session) SendCopyDone() error {
	_, err := s.conn.Write(pgwire.EncodeCopyDone())
	return err
}

// AfterCopyDone reads the terminating DataRow+CommandComplete pair the
// server sends after a timeline-switch CopyDone, extracting the next
// (tli, lsn) to follow (§4.H).
func (s *Session) AfterCopyDone() (pgtypes.TimelineID, pgtypes.LSN, error) {
	reader := pgwire.NewReader(s.rb)
	var fields []string
	for {
		kind, body, err := reader.Next()
		if err != nil {
			return 0, 0, err
		}
		switch kind {
		case pgwire.KindDataRow:
			fields = decodeDataRow(body)
		case pgwire.KindCommandComplete:
		case pgwire.KindReadyForQuery:
			if len(fields) < 2 {
				return 0, 0, fmt.Errorf("walstream: malformed timeline-switch row")
			}
			tli, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return 0, 0, err
			}
			lsn, err := pgtypes.ParseLSN(fields[1])
			if err != nil {
				return 0, 0, err
			}
			return pgtypes.TimelineID(tli), lsn, nil
		case pgwire.KindErrorResponse:
			f := pgwire.ErrorResponse(body)
			return 0, 0, fmt.Errorf("walstream: error after CopyDone: %s", f['M'])
		}
	}
}

// Close closes the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

package walrecord

import (
	"github.com/leengari/pgward/internal/perr"
	"github.com/leengari/pgward/internal/pgtypes"
)

// PhysicalSpans locates the byte ranges in a raw segment buffer that back
// a record's totalLen logical bytes starting at startLSN, skipping any
// interleaved page headers exactly as segCursor.read does. It exists so
// the WAL filter tool (§4.L) can mutate a record's bytes in place without
// disturbing page headers, instead of re-encoding and risking a different
// length.
func PhysicalSpans(data []byte, segNo uint64, pageSize, segSize int, startLSN pgtypes.LSN, totalLen int) ([][2]int, error) {
	cur, err := newSegCursor(data, segNo, pageSize, segSize)
	if err != nil {
		return nil, err
	}
	// absPos is defined (in lsn()) as segNo*segSize+absPos, i.e. it already
	// counts page-header bytes as part of the address space the way real
	// WAL LSNs do, so the target position is a direct assignment, not a
	// read() advance (which would double-skip header bytes).
	want := int(startLSN) - int(segNo)*segSize
	if want < cur.absPos || want > len(data) {
		return nil, perr.New(perr.HeaderInconsistent, "startLSN outside this segment's bounds")
	}
	cur.absPos = want

	var spans [][2]int
	remaining := totalLen
	for remaining > 0 {
		if err := cur.crossPageHeaderIfNeeded(); err != nil {
			return nil, err
		}
		if cur.absPos >= len(cur.data) {
			return nil, perr.New(perr.ShortData, "segment exhausted while spanning record")
		}
		avail := cur.pageSize - (cur.absPos % cur.pageSize)
		if cur.absPos == 0 {
			avail = cur.pageSize - LongPageHeaderSize
		}
		take := avail
		if take > remaining {
			take = remaining
		}
		spans = append(spans, [2]int{cur.absPos, cur.absPos + take})
		cur.absPos += take
		remaining -= take
	}
	return spans, nil
}

// ReadLogical concatenates the bytes spans cover, in order — the inverse
// of WriteLogical, used to recover a record's exact original bytes for
// CRC recomputation without re-serializing it.
func ReadLogical(data []byte, spans [][2]int) []byte {
	out := make([]byte, 0, spanTotal(spans))
	for _, sp := range spans {
		out = append(out, data[sp[0]:sp[1]]...)
	}
	return out
}

func spanTotal(spans [][2]int) int {
	n := 0
	for _, sp := range spans {
		n += sp[1] - sp[0]
	}
	return n
}

// WriteLogical scatters payload across spans in order; len(payload) must
// equal the sum of each span's length.
func WriteLogical(data []byte, spans [][2]int, payload []byte) error {
	off := 0
	for _, sp := range spans {
		n := sp[1] - sp[0]
		if off+n > len(payload) {
			return perr.New(perr.ShortData, "payload shorter than spans require")
		}
		copy(data[sp[0]:sp[1]], payload[off:off+n])
		off += n
	}
	if off != len(payload) {
		return perr.New(perr.ShortData, "payload longer than spans cover")
	}
	return nil
}

// EncodeHeaderBytes exposes the 24-byte XLogRecord header encoding so
// callers outside this package (the WAL filter tool) can build a
// replacement header without duplicating the field layout.
func EncodeHeaderBytes(h RecordHeader) []byte {
	return encodeRecordHeader(h)
}

// Package walfilter implements the WAL filter tool of §4.L: decoding a
// set of WAL segment files, converting records matching a predicate into
// NOOP records in place, and recomputing their CRC — without touching
// any other record's bytes, so xl_prev chains and segment length stay
// exactly as they were. Grounded in the teacher's internal/wal package
// for the idea of walking fixed-size binary records in a buffer, built on
// this module's own internal/walrecord codec (§4.C) and internal/crc
// (§4.A).
package walfilter

import (
	"fmt"
	"io"
	"os"

	"github.com/leengari/pgward/internal/crc"
	"github.com/leengari/pgward/internal/pgtypes"
	"github.com/leengari/pgward/internal/walrecord"
)

// Heap opcode layout (xl_info bits 4-6, masked by heapOpMask), not part
// of internal/walrecord's generic decode surface since only this filter
// tool needs to recognize HEAP DELETE specifically (§4.L).
const (
	heapOpMask   = 0x70
	heapOpDelete = 0x10
)

// Predicate decides whether a decoded record should become a NOOP.
type Predicate func(rec *walrecord.Record) bool

// XIDSet builds a Predicate matching records whose xl_xid or toplevel_xid
// is in ids (§4.L, "XID list filter").
func XIDSet(ids map[uint32]bool) Predicate {
	return func(rec *walrecord.Record) bool {
		if ids[rec.Header.Xid] {
			return true
		}
		return rec.HasToplevel && ids[rec.ToplevelXid]
	}
}

// CollectDeleteXIDs is pass 1 of the DELETE filter (§4.L): walks segment,
// recording the XID of every HEAP DELETE record.
func CollectDeleteXIDs(segment []byte, segNo uint64, pageSize, segSize int) (map[uint32]bool, error) {
	dec, err := walrecord.NewDecoder(segment, segNo, pageSize, segSize)
	if err != nil {
		return nil, err
	}
	ids := make(map[uint32]bool)
	for {
		rec, partial, err := dec.NextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if partial != nil || rec == nil {
			break
		}
		if isHeapDelete(rec) {
			ids[rec.Header.Xid] = true
		}
	}
	return ids, nil
}

func isHeapDelete(rec *walrecord.Record) bool {
	return rec.Header.Rmid == walrecord.RMHeapID && rec.Header.Info&heapOpMask == heapOpDelete
}

// Result reports how many records a filter pass touched.
type Result struct {
	RecordsSeen    int
	RecordsFiltered int
}

// ApplyToSegment is pass 2: walks segment, and for every record match
// selects, rewrites its header in place (xl_rmid=RM_XLOG_ID,
// xl_info=XLOG_NOOP) and recomputes the CRC over its untouched original
// body, leaving every other byte — including xl_tot_len and every other
// record — exactly as it was (§4.L: "the next record's xl_prev is not
// changed; byte length is preserved").
//
// Records that straddle this segment's end are left unmodified even if
// they would otherwise match: filtering a cross-segment record would
// require mutating bytes of the adjoining segment too, which ApplyToSegment
// does not attempt.
func ApplyToSegment(segment []byte, segNo uint64, pageSize, segSize int, match Predicate) (Result, error) {
	dec, err := walrecord.NewDecoder(segment, segNo, pageSize, segSize)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for {
		rec, partial, err := dec.NextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}
		if partial != nil || rec == nil {
			break
		}
		res.RecordsSeen++
		if !match(rec) {
			continue
		}
		if err := noopifyInPlace(segment, segNo, pageSize, segSize, rec); err != nil {
			return res, fmt.Errorf("walfilter: noop-ify record at %s: %w", rec.StartLSN, err)
		}
		res.RecordsFiltered++
	}
	return res, nil
}

// noopifyInPlace rewrites exactly the 24 header bytes of rec in segment,
// recomputing the CRC over rec's original (untouched) body bytes.
func noopifyInPlace(segment []byte, segNo uint64, pageSize, segSize int, rec *walrecord.Record) error {
	fullSpans, err := walrecord.PhysicalSpans(segment, segNo, pageSize, segSize, rec.StartLSN, int(rec.Header.TotLen))
	if err != nil {
		return err
	}
	raw := walrecord.ReadLogical(segment, fullSpans)
	body := raw[walrecord.XLogRecordHeaderSize:]

	newHeader := rec.Header
	newHeader.Rmid = walrecord.RMXLogID
	newHeader.Info = walrecord.XLogNoop

	headerNoCRC := walrecord.EncodeHeaderBytes(newHeader)[:walrecord.XLogRecordHeaderSize-4]
	newHeader.CRC = crc.RecordCRC(body, headerNoCRC)
	headerBytes := walrecord.EncodeHeaderBytes(newHeader)

	headerSpans, err := walrecord.PhysicalSpans(segment, segNo, pageSize, segSize, rec.StartLSN, walrecord.XLogRecordHeaderSize)
	if err != nil {
		return err
	}
	return walrecord.WriteLogical(segment, headerSpans, headerBytes)
}

// FilterFile loads one on-disk WAL segment, applies match in place, and
// writes the result back to the same path (§4.L: "re-emits them").
func FilterFile(path string, pageSize, segSize int, match Predicate) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("walfilter: read %s: %w", path, err)
	}

	_, segNo, err := pgtypes.SegmentNumberFromName(baseName(path), uint64(segSize))
	if err != nil {
		return Result{}, fmt.Errorf("walfilter: %s: %w", path, err)
	}

	res, err := ApplyToSegment(data, segNo, pageSize, segSize, match)
	if err != nil {
		return res, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return res, fmt.Errorf("walfilter: write %s: %w", path, err)
	}
	return res, nil
}

// DeleteFilterFile runs the two-pass DELETE filter (§4.L) over a single
// segment file: collect HEAP DELETE XIDs, then NOOP every record whose
// xl_xid or toplevel_xid is in that set.
func DeleteFilterFile(path string, pageSize, segSize int) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("walfilter: read %s: %w", path, err)
	}
	_, segNo, err := pgtypes.SegmentNumberFromName(baseName(path), uint64(segSize))
	if err != nil {
		return Result{}, fmt.Errorf("walfilter: %s: %w", path, err)
	}

	ids, err := CollectDeleteXIDs(data, segNo, pageSize, segSize)
	if err != nil {
		return Result{}, fmt.Errorf("walfilter: pass 1 %s: %w", path, err)
	}

	res, err := ApplyToSegment(data, segNo, pageSize, segSize, XIDSet(ids))
	if err != nil {
		return res, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return res, fmt.Errorf("walfilter: write %s: %w", path, err)
	}
	return res, nil
}

func baseName(path string) string {
	i := len(path) - 1
	for ; i >= 0; i-- {
		if path[i] == '/' {
			break
		}
	}
	return path[i+1:]
}

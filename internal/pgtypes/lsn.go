// Package pgtypes holds the small shared value types of the PostgreSQL wire
// and file formats: LSN, TimelineID, RelFileLocator and ForkNumber (§3).
package pgtypes

import (
	"fmt"
	"strconv"
	"strings"
)

// LSN is an unsigned 64-bit byte offset into the logical WAL stream,
// rendered "HHHHHHHH/LLLLLLLL".
type LSN uint64

// InvalidLSN is the zero value; no valid WAL position is ever zero.
const InvalidLSN LSN = 0

func (l LSN) String() string {
	return fmt.Sprintf("%X/%X", uint32(l>>32), uint32(l))
}

// ParseLSN parses the "HHHHHHHH/LLLLLLLL" textual form.
func ParseLSN(s string) (LSN, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("pgtypes: malformed LSN %q", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("pgtypes: malformed LSN hi %q: %w", s, err)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("pgtypes: malformed LSN lo %q: %w", s, err)
	}
	return LSN(hi<<32 | lo), nil
}

// SegmentNumber returns LSN / segsize, the WAL segment this LSN falls in.
func (l LSN) SegmentNumber(segSize uint64) uint64 {
	return uint64(l) / segSize
}

// OffsetInSegment returns the byte offset of this LSN within its segment.
func (l LSN) OffsetInSegment(segSize uint64) uint64 {
	return uint64(l) % segSize
}

// SegmentsPerXLogID is the number of segments per "logical" 4GiB XLogId unit,
// used when rendering segment file names.
func SegmentsPerXLogID(segSize uint64) uint64 {
	return 0x100000000 / segSize
}

// TimelineID is an unsigned 32-bit timeline identifier; starts at 1.
type TimelineID uint32

// SegmentName renders the PostgreSQL-compatible 24-hex-digit segment file
// name for (tli, segment number) given the segment size.
func SegmentName(tli TimelineID, segNo uint64, segSize uint64) string {
	perID := SegmentsPerXLogID(segSize)
	xlogID := segNo / perID
	segID := segNo % perID
	return fmt.Sprintf("%08X%08X%08X", uint32(tli), uint32(xlogID), uint32(segID))
}

// SegmentNumberFromName parses a 24-hex-digit segment file name (optionally
// with a ".partial" suffix already stripped) into (tli, segment number).
func SegmentNumberFromName(name string, segSize uint64) (TimelineID, uint64, error) {
	name = strings.TrimSuffix(name, ".partial")
	if len(name) != 24 {
		return 0, 0, fmt.Errorf("pgtypes: malformed segment name %q", name)
	}
	tli, err := strconv.ParseUint(name[0:8], 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("pgtypes: malformed segment tli %q: %w", name, err)
	}
	xlogID, err := strconv.ParseUint(name[8:16], 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("pgtypes: malformed segment xlogid %q: %w", name, err)
	}
	segID, err := strconv.ParseUint(name[16:24], 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("pgtypes: malformed segment segid %q: %w", name, err)
	}
	perID := SegmentsPerXLogID(segSize)
	return TimelineID(tli), xlogID*perID + segID, nil
}

// HistoryFileName renders the PostgreSQL-compatible ".history" file name for
// a timeline.
func HistoryFileName(tli TimelineID) string {
	return fmt.Sprintf("%08X.history", uint32(tli))
}

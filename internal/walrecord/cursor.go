package walrecord

import (
	"github.com/leengari/pgward/internal/perr"
	"github.com/leengari/pgward/internal/pgtypes"
)

// segCursor walks a WAL segment's raw bytes (page headers included),
// presenting a "logical" record byte stream that transparently skips page
// headers, the way §4.C's page-crossing assembly describes: "skips the
// SIZE_OF_XLOG_SHORT_PHD of page N+1, and concatenates the remainder".
type segCursor struct {
	data     []byte
	pageSize int
	segSize  int
	segNo    uint64
	tli      pgtypes.TimelineID
	version  int

	absPos int // byte offset into data, header bytes included

	long LongPageHeader
}

// newSegCursor opens a cursor at the start of a segment and parses its long
// page header.
func newSegCursor(data []byte, segNo uint64, pageSize, segSize int) (*segCursor, error) {
	if pageSize == 0 {
		pageSize = XLogBlockSize
	}
	if segSize == 0 {
		segSize = DefaultSegmentSize
	}
	long, err := decodeLongPageHeader(data)
	if err != nil {
		return nil, err
	}
	version, err := CheckMagic(long.Magic)
	if err != nil {
		return nil, err
	}
	return &segCursor{
		data:     data,
		pageSize: pageSize,
		segSize:  segSize,
		segNo:    segNo,
		tli:      long.TLI,
		version:  version,
		absPos:   LongPageHeaderSize,
		long:     long,
	}, nil
}

// lsn returns the LSN corresponding to the cursor's current absolute
// position: LSN addresses the continuous file byte stream directly, so
// header bytes occupy real LSN space.
func (c *segCursor) lsn() pgtypes.LSN {
	return pgtypes.LSN(c.segNo*uint64(c.segSize) + uint64(c.absPos))
}

func (c *segCursor) atSegmentEnd() bool {
	return c.absPos >= len(c.data)
}

// crossPageHeaderIfNeeded consumes the short page header when the cursor
// sits exactly at the start of a non-first page.
func (c *segCursor) crossPageHeaderIfNeeded() error {
	if c.absPos == 0 || c.absPos%c.pageSize != 0 {
		return nil
	}
	if c.absPos+ShortPageHeaderSize > len(c.data) {
		return perr.New(perr.ShortData, "short page header at segment tail")
	}
	sh, err := decodeShortPageHeader(c.data[c.absPos:])
	if err != nil {
		return err
	}
	if _, err := CheckMagic(sh.Magic); err != nil {
		return err
	}
	if sh.Info&XLPLongHeader != 0 {
		return perr.New(perr.HeaderInconsistent, "unexpected long header mid-segment")
	}
	c.absPos += ShortPageHeaderSize
	return nil
}

// read pulls n logical bytes, transparently skipping page headers as it
// crosses page boundaries. Returns a short read (fewer than n bytes, with
// io-style error) when the segment ends first — the caller uses this to
// build a PartialRecord carry.
func (c *segCursor) read(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if err := c.crossPageHeaderIfNeeded(); err != nil {
			return out, err
		}
		if c.absPos >= len(c.data) {
			return out, perr.New(perr.ShortData, "segment exhausted")
		}
		avail := c.pageSize - (c.absPos % c.pageSize)
		if c.absPos == 0 {
			avail = c.pageSize - LongPageHeaderSize
		}
		remaining := n - len(out)
		take := avail
		if take > remaining {
			take = remaining
		}
		end := c.absPos + take
		if end > len(c.data) {
			end = len(c.data)
		}
		out = append(out, c.data[c.absPos:end]...)
		consumed := end - c.absPos
		c.absPos = end
		if consumed < take {
			// Ran off the end of the physical buffer entirely.
			return out, perr.New(perr.ShortData, "segment exhausted")
		}
	}
	return out, nil
}

// alignTo8 advances the cursor's logical position to the next 8-byte
// aligned boundary, skipping any page header encountered along the way.
// PostgreSQL pads each record to an 8-byte boundary in the logical stream.
func (c *segCursor) alignTo8() error {
	for c.absPos%8 != 0 {
		if _, err := c.read(1); err != nil {
			return err
		}
	}
	return nil
}

// peekUint32 returns the little-endian uint32 at the cursor's current
// position without advancing it, or ok=false if fewer than 4 bytes
// remain; used by the decode loop to recognize end-of-segment padding
// (a zero xl_tot_len) versus a genuine record.
func (c *segCursor) peekUint32() (uint32, bool) {
	pos := c.absPos
	if pos+4 > len(c.data) {
		return 0, false
	}
	return byteOrder.Uint32(c.data[pos : pos+4]), true
}

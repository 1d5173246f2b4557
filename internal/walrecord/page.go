package walrecord

import (
	"encoding/binary"
	"fmt"

	"github.com/leengari/pgward/internal/perr"
	"github.com/leengari/pgward/internal/pgtypes"
)

// byteOrder matches the teacher's wal.ByteOrder convention: WAL file
// integers are read and written little-endian (the replication wire
// protocol handled by internal/pgwire is big-endian instead).
var byteOrder = binary.LittleEndian

// ShortPageHeader is written at the start of every WAL page after the
// first one in a segment.
type ShortPageHeader struct {
	Magic   Magic
	Info    uint16
	TLI     pgtypes.TimelineID
	PageLSN pgtypes.LSN
	RemLen  uint32 // xlp_rem_len: remaining bytes of a straddling record
}

// LongPageHeader is written at the start of the first page of a segment.
type LongPageHeader struct {
	ShortPageHeader
	SegSize uint32
	BlockSz uint32
}

// decodeShortPageHeader reads a ShortPageHeader from the front of buf.
func decodeShortPageHeader(buf []byte) (ShortPageHeader, error) {
	if len(buf) < ShortPageHeaderSize {
		return ShortPageHeader{}, perr.New(perr.ShortData, "short page header")
	}
	h := ShortPageHeader{
		Magic:   Magic(byteOrder.Uint16(buf[0:2])),
		Info:    byteOrder.Uint16(buf[2:4]),
		TLI:     pgtypes.TimelineID(byteOrder.Uint32(buf[4:8])),
		PageLSN: pgtypes.LSN(byteOrder.Uint64(buf[8:16])),
		RemLen:  byteOrder.Uint32(buf[16:20]),
	}
	return h, nil
}

func encodeShortPageHeader(h ShortPageHeader) []byte {
	buf := make([]byte, ShortPageHeaderSize)
	byteOrder.PutUint16(buf[0:2], uint16(h.Magic))
	byteOrder.PutUint16(buf[2:4], h.Info)
	byteOrder.PutUint32(buf[4:8], uint32(h.TLI))
	byteOrder.PutUint64(buf[8:16], uint64(h.PageLSN))
	byteOrder.PutUint32(buf[16:20], h.RemLen)
	return buf
}

// decodeLongPageHeader reads a LongPageHeader from the front of buf.
func decodeLongPageHeader(buf []byte) (LongPageHeader, error) {
	short, err := decodeShortPageHeader(buf)
	if err != nil {
		return LongPageHeader{}, err
	}
	if len(buf) < LongPageHeaderSize {
		return LongPageHeader{}, perr.New(perr.ShortData, "long page header")
	}
	if short.Info&XLPLongHeader == 0 {
		return LongPageHeader{}, perr.New(perr.HeaderInconsistent, "first page missing XLP_LONG_HEADER")
	}
	return LongPageHeader{
		ShortPageHeader: short,
		SegSize:         byteOrder.Uint32(buf[20:24]),
		BlockSz:         byteOrder.Uint32(buf[24:28]),
	}, nil
}

func encodeLongPageHeader(h LongPageHeader) []byte {
	buf := make([]byte, LongPageHeaderSize)
	copy(buf, encodeShortPageHeader(h.ShortPageHeader))
	byteOrder.PutUint32(buf[20:24], h.SegSize)
	byteOrder.PutUint32(buf[24:28], h.BlockSz)
	return buf
}

// CheckMagic validates a page's magic against the closed set of §4.C and
// returns the PostgreSQL major version it implies.
func CheckMagic(m Magic) (int, error) {
	v, ok := VersionFromMagic(m)
	if !ok {
		return 0, perr.New(perr.InvalidMagic, fmt.Sprintf("unrecognized WAL magic 0x%04X", uint16(m)))
	}
	return v, nil
}

package walrecord

import (
	"github.com/leengari/pgward/internal/crc"
	"github.com/leengari/pgward/internal/pgtypes"
)

// Encode is the pure inverse of decodeBody/decodeRecordHeader: it renders a
// Record back into the exact XLogRecord byte layout, recomputing xl_tot_len
// and the CRC last, the way the header comment requires ("compute CRC
// last").
func Encode(r *Record) []byte {
	return EncodeVersioned(r, 18)
}

// EncodeVersioned is Encode with an explicit PostgreSQL major version,
// needed only to pick the pre-15 vs >=15 FPI compression-flag layout when
// re-emitting a block that carries a compressed image.
func EncodeVersioned(r *Record, version int) []byte {
	body := encodeBody(r, version)

	hdr := r.Header
	hdr.TotLen = uint32(XLogRecordHeaderSize + len(body))

	headerBuf := encodeRecordHeader(hdr)
	sum := crc.RecordCRC(body, headerBuf[:XLogRecordHeaderSize-4])
	hdr.CRC = sum
	headerBuf = encodeRecordHeader(hdr)

	out := make([]byte, 0, len(headerBuf)+len(body))
	out = append(out, headerBuf...)
	out = append(out, body...)
	return out
}

func encodeBody(r *Record, version int) []byte {
	var out []byte

	for _, ref := range r.BlockRefs {
		out = append(out, ref.BlockID)
		out = append(out, encodeBlockHeader(ref, version)...)
	}

	if r.HasToplevel {
		out = append(out, XLRBlockIDTopLevelXid)
		buf := make([]byte, 4)
		byteOrder.PutUint32(buf, r.ToplevelXid)
		out = append(out, buf...)
	}

	if r.HasOrigin {
		out = append(out, XLRBlockIDOrigin)
		buf := make([]byte, 2)
		byteOrder.PutUint16(buf, r.Origin)
		out = append(out, buf...)
	}

	if r.MainDataLen <= 255 {
		out = append(out, XLRBlockIDDataShort, byte(r.MainDataLen))
	} else {
		out = append(out, XLRBlockIDDataLong)
		buf := make([]byte, 4)
		byteOrder.PutUint32(buf, r.MainDataLen)
		out = append(out, buf...)
	}

	for _, ref := range r.BlockRefs {
		if ref.HasImage {
			out = append(out, ref.Image...)
		}
		if ref.HasData {
			out = append(out, ref.Data...)
		}
	}
	out = append(out, r.MainData...)

	return out
}

func encodeBlockHeader(ref BlockRef, version int) []byte {
	var out []byte

	forkFlags := uint8(ref.Fork) & BkpBlockForkMask
	if ref.HasImage {
		forkFlags |= BkpBlockHasImage
	}
	if ref.HasData {
		forkFlags |= BkpBlockHasData
	}
	if ref.SameRel {
		forkFlags |= BkpBlockSameRel
	}
	if ref.WillInit {
		forkFlags |= BkpBlockWillInit
	}
	out = append(out, forkFlags)

	dataLenBuf := make([]byte, 2)
	byteOrder.PutUint16(dataLenBuf, ref.DataLen)
	out = append(out, dataLenBuf...)

	if ref.HasImage {
		imgBuf := make([]byte, 5)
		byteOrder.PutUint16(imgBuf[0:2], ref.BimgLen)
		byteOrder.PutUint16(imgBuf[2:4], ref.HoleOffset)
		imgBuf[4] = ref.BimgInfo
		out = append(out, imgBuf...)

		compressed := fpiIsCompressed(version, ref.BimgInfo)
		hasHole := ref.BimgInfo&BkpImageHasHole != 0
		if compressed && hasHole {
			holeBuf := make([]byte, 2)
			byteOrder.PutUint16(holeBuf, ref.HoleLength)
			out = append(out, holeBuf...)
		}
	}

	if !ref.SameRel {
		locBuf := make([]byte, 12)
		byteOrder.PutUint32(locBuf[0:4], ref.Locator.SpcOID)
		byteOrder.PutUint32(locBuf[4:8], ref.Locator.DBOID)
		byteOrder.PutUint32(locBuf[8:12], ref.Locator.RelNum)
		out = append(out, locBuf...)
	}

	blkBuf := make([]byte, 4)
	byteOrder.PutUint32(blkBuf, uint32(ref.BlockNum))
	out = append(out, blkBuf...)

	return out
}

// EncodePage renders a Record as it would sit at the front of a fresh
// segment, with its long page header prepended and zero padding up to
// segSize — used by tests to build a standalone single-record segment.
func EncodePage(r *Record, version int, tli pgtypes.TimelineID, segSize int) ([]byte, error) {
	magic, ok := MagicForVersion(version)
	if !ok {
		return nil, errUnknownVersion(version)
	}
	long := LongPageHeader{
		ShortPageHeader: ShortPageHeader{
			Magic:   magic,
			Info:    XLPLongHeader,
			TLI:     tli,
			PageLSN: r.StartLSN,
		},
		SegSize: uint32(segSize),
		BlockSz: XLogBlockSize,
	}
	buf := make([]byte, 0, segSize)
	buf = append(buf, encodeLongPageHeader(long)...)
	buf = append(buf, EncodeVersioned(r, version)...)
	for len(buf) < segSize {
		buf = append(buf, 0)
	}
	return buf, nil
}

type errUnknownVersion int

func (e errUnknownVersion) Error() string {
	return "walrecord: unknown postgresql version"
}

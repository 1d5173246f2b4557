package walrecord

import (
	"io"

	"github.com/leengari/pgward/internal/crc"
	"github.com/leengari/pgward/internal/perr"
	"github.com/leengari/pgward/internal/pgtypes"
)

// PartialRecord carries a record that straddled the end of a segment: the
// decoder hands this back instead of erroring, so the caller can fetch the
// next segment and resume with Decoder.Continue.
type PartialRecord struct {
	Header    RecordHeader
	StartLSN  pgtypes.LSN
	Collected []byte // header bytes plus whatever body bytes were read so far
	Want      int    // body bytes still missing, or -1 while the header itself is incomplete
}

// Decoder decodes XLogRecords out of one WAL segment's bytes, in order,
// transparently reassembling records that cross page boundaries within the
// segment (§4.C). Records that run past the end of the segment come back
// as a PartialRecord via NextRecord's carry return.
type Decoder struct {
	cur     *segCursor
	version int
}

// NewDecoder opens a decoder over a full segment's raw bytes.
func NewDecoder(segment []byte, segNo uint64, pageSize, segSize int) (*Decoder, error) {
	cur, err := newSegCursor(segment, segNo, pageSize, segSize)
	if err != nil {
		return nil, err
	}
	return &Decoder{cur: cur, version: cur.version}, nil
}

// Version is the PostgreSQL major version implied by this segment's magic.
func (d *Decoder) Version() int { return d.version }

// NextRecord decodes the next record. It returns (rec, nil, nil) on a
// complete record, (nil, partial, nil) when the record runs off the end of
// the segment, and (nil, nil, io.EOF) when only header-less zero padding
// remains (normal end of an open/recycled segment).
func (d *Decoder) NextRecord() (*Record, *PartialRecord, error) {
	if err := d.cur.alignTo8(); err != nil {
		return nil, nil, io.EOF
	}
	// alignTo8 is a no-op when absPos is already 8-byte aligned, which is
	// also true exactly at a page boundary; cross the short page header
	// explicitly here so a record starting at the very top of a
	// non-first page gets the right StartLSN and doesn't peek into the
	// header bytes instead of the record.
	if err := d.cur.crossPageHeaderIfNeeded(); err != nil {
		return nil, nil, io.EOF
	}
	if d.cur.atSegmentEnd() {
		return nil, nil, io.EOF
	}

	startLSN := d.cur.lsn()

	peek, ok := d.cur.peekUint32()
	if !ok {
		return nil, nil, io.EOF
	}
	if peek == 0 {
		// Zero padding to end of segment: no partial header present.
		return nil, nil, io.EOF
	}

	headerBytes, err := d.cur.read(XLogRecordHeaderSize)
	if err != nil {
		// Fewer than a header's worth of bytes left: carry as a partial
		// with an empty header, the caller will re-decode the header once
		// the next segment's bytes are appended.
		return nil, &PartialRecord{StartLSN: startLSN, Collected: headerBytes, Want: -1}, nil
	}

	hdr := decodeRecordHeader(headerBytes)
	if hdr.TotLen == 0 {
		return nil, nil, io.EOF
	}
	if hdr.TotLen < uint32(XLogRecordHeaderSize) {
		return nil, nil, perr.New(perr.HeaderInconsistent, "xl_tot_len shorter than record header")
	}

	bodyLen := int(hdr.TotLen) - XLogRecordHeaderSize
	body, err := d.cur.read(bodyLen)
	if err != nil {
		collected := append(append([]byte{}, headerBytes...), body...)
		return nil, &PartialRecord{
			Header:    hdr,
			StartLSN:  startLSN,
			Collected: collected,
			Want:      bodyLen - len(body),
		}, nil
	}

	rec, err := decodeBody(hdr, startLSN, body, d.version)
	if err != nil {
		return nil, nil, err
	}

	sum := crc.RecordCRC(body, headerBytes[:XLogRecordHeaderSize-4])
	if sum != hdr.CRC {
		return nil, nil, perr.New(perr.CrcMismatch, "record CRC mismatch")
	}

	return rec, nil, nil
}

// Continue resumes a PartialRecord against the bytes of the next segment in
// timeline order, returning the completed record.
func Continue(p *PartialRecord, nextSegment []byte, segNo uint64, pageSize, segSize int, version int) (*Record, error) {
	cur, err := newSegCursor(nextSegment, segNo, pageSize, segSize)
	if err != nil {
		return nil, err
	}

	collected := append([]byte{}, p.Collected...)

	if p.Want == -1 {
		need := XLogRecordHeaderSize - len(collected)
		chunk, err := cur.read(need)
		collected = append(collected, chunk...)
		if err != nil || len(collected) < XLogRecordHeaderSize {
			return nil, perr.New(perr.ShortData, "record header still incomplete after segment boundary")
		}
		hdr := decodeRecordHeader(collected[:XLogRecordHeaderSize])
		p.Header = hdr
		p.Want = int(hdr.TotLen) - XLogRecordHeaderSize
		collected = collected[XLogRecordHeaderSize:]
	}

	chunk, err := cur.read(p.Want)
	if err != nil {
		return nil, perr.Wrap(perr.ShortData, "record still incomplete after second segment boundary", err)
	}
	body := append(collected, chunk...)

	rec, err := decodeBody(p.Header, p.StartLSN, body, version)
	if err != nil {
		return nil, err
	}

	headerBuf := encodeRecordHeader(p.Header)
	sum := crc.RecordCRC(body, headerBuf[:XLogRecordHeaderSize-4])
	if sum != p.Header.CRC {
		return nil, perr.New(perr.CrcMismatch, "record CRC mismatch across segment boundary")
	}
	return rec, nil
}

func decodeRecordHeader(buf []byte) RecordHeader {
	return RecordHeader{
		TotLen: byteOrder.Uint32(buf[0:4]),
		Xid:    byteOrder.Uint32(buf[4:8]),
		Prev:   pgtypes.LSN(byteOrder.Uint64(buf[8:16])),
		Info:   buf[16],
		Rmid:   buf[17],
		// buf[18:20] is 2 bytes of padding.
		CRC: byteOrder.Uint32(buf[20:24]),
	}
}

func encodeRecordHeader(h RecordHeader) []byte {
	buf := make([]byte, XLogRecordHeaderSize)
	byteOrder.PutUint32(buf[0:4], h.TotLen)
	byteOrder.PutUint32(buf[4:8], h.Xid)
	byteOrder.PutUint64(buf[8:16], uint64(h.Prev))
	buf[16] = h.Info
	buf[17] = h.Rmid
	byteOrder.PutUint32(buf[20:24], h.CRC)
	return buf
}

// decodeBody decodes the block-reference + main-data section that follows
// the 24-byte XLogRecord header, per §4.C's block-header decode loop.
func decodeBody(hdr RecordHeader, startLSN pgtypes.LSN, body []byte, version int) (*Record, error) {
	rec := &Record{
		Header:     hdr,
		StartLSN:   startLSN,
		MaxBlockID: -1,
	}

	pos := 0
	lastBlockID := -1
	var pendingRefs []*BlockRef

	for {
		if pos >= len(body) {
			return nil, perr.New(perr.HeaderInconsistent, "record body truncated before main data marker")
		}
		marker := body[pos]
		pos++

		switch marker {
		case XLRBlockIDDataShort:
			if pos >= len(body) {
				return nil, perr.New(perr.ShortData, "truncated short main-data length")
			}
			rec.MainDataLen = uint32(body[pos])
			pos++
			goto readPayloads

		case XLRBlockIDDataLong:
			if pos+4 > len(body) {
				return nil, perr.New(perr.ShortData, "truncated long main-data length")
			}
			rec.MainDataLen = byteOrder.Uint32(body[pos : pos+4])
			pos += 4
			goto readPayloads

		case XLRBlockIDOrigin:
			if pos+2 > len(body) {
				return nil, perr.New(perr.ShortData, "truncated origin")
			}
			rec.HasOrigin = true
			rec.Origin = byteOrder.Uint16(body[pos : pos+2])
			pos += 2

		case XLRBlockIDTopLevelXid:
			if pos+4 > len(body) {
				return nil, perr.New(perr.ShortData, "truncated toplevel xid")
			}
			rec.HasToplevel = true
			rec.ToplevelXid = byteOrder.Uint32(body[pos : pos+4])
			pos += 4

		default:
			if marker > XLRMaxBlockID {
				return nil, perr.New(perr.BlockIDOutOfOrder, "unrecognized block id marker")
			}
			if int(marker) <= lastBlockID {
				return nil, perr.New(perr.BlockIDOutOfOrder, "block_id not strictly increasing")
			}
			lastBlockID = int(marker)

			ref := &BlockRef{BlockID: marker}
			var err error
			pos, err = decodeBlockHeader(body, pos, ref, version)
			if err != nil {
				return nil, err
			}
			pendingRefs = append(pendingRefs, ref)
			if int(marker) > rec.MaxBlockID {
				rec.MaxBlockID = int(marker)
			}
		}
	}

readPayloads:
	var lastLocator pgtypes.RelFileLocator
	haveLocator := false
	for _, ref := range pendingRefs {
		if ref.SameRel {
			if !haveLocator {
				return nil, perr.New(perr.SameRelWithoutPrior, "SAME_REL flag with no prior locator")
			}
			ref.Locator = lastLocator
		} else {
			lastLocator = ref.Locator
			haveLocator = true
		}

		if ref.HasImage {
			if pos+int(ref.BimgLen) > len(body) {
				return nil, perr.New(perr.ShortData, "truncated block image")
			}
			ref.Image = body[pos : pos+int(ref.BimgLen)]
			pos += int(ref.BimgLen)
		}
		if ref.HasData {
			if pos+int(ref.DataLen) > len(body) {
				return nil, perr.New(perr.ShortData, "truncated block data")
			}
			ref.Data = body[pos : pos+int(ref.DataLen)]
			pos += int(ref.DataLen)
		}
		rec.BlockRefs = append(rec.BlockRefs, *ref)
	}

	if pos+int(rec.MainDataLen) > len(body) {
		return nil, perr.New(perr.ShortData, "truncated main data")
	}
	rec.MainData = body[pos : pos+int(rec.MainDataLen)]
	pos += int(rec.MainDataLen)

	return rec, nil
}

// decodeBlockHeader parses one block reference's fixed+variable header
// fields starting at pos (which already follows the block_id byte),
// returning the new position.
func decodeBlockHeader(body []byte, pos int, ref *BlockRef, version int) (int, error) {
	if pos >= len(body) {
		return pos, perr.New(perr.ShortData, "truncated block fork_flags")
	}
	forkFlags := body[pos]
	pos++
	ref.Fork = pgtypes.ForkNumber(forkFlags & BkpBlockForkMask)
	ref.HasImage = forkFlags&BkpBlockHasImage != 0
	ref.HasData = forkFlags&BkpBlockHasData != 0
	ref.SameRel = forkFlags&BkpBlockSameRel != 0
	ref.WillInit = forkFlags&BkpBlockWillInit != 0

	if pos+2 > len(body) {
		return pos, perr.New(perr.ShortData, "truncated block data_len")
	}
	ref.DataLen = byteOrder.Uint16(body[pos : pos+2])
	pos += 2

	if ref.HasImage {
		if pos+4 > len(body) {
			return pos, perr.New(perr.ShortData, "truncated block image header")
		}
		ref.BimgLen = byteOrder.Uint16(body[pos : pos+2])
		ref.HoleOffset = byteOrder.Uint16(body[pos+2 : pos+4])
		pos += 4
		if pos >= len(body) {
			return pos, perr.New(perr.ShortData, "truncated bimg_info")
		}
		ref.BimgInfo = body[pos]
		pos++

		compressed := fpiIsCompressed(version, ref.BimgInfo)
		hasHole := ref.BimgInfo&BkpImageHasHole != 0
		if compressed && hasHole {
			if pos+2 > len(body) {
				return pos, perr.New(perr.ShortData, "truncated hole_length")
			}
			ref.HoleLength = byteOrder.Uint16(body[pos : pos+2])
			pos += 2
		} else if hasHole {
			ref.HoleLength = XLogBlockSize - ref.BimgLen
		}
		if !compressed && ref.BimgLen != XLogBlockSize-ref.HoleLength && hasHole {
			return pos, perr.New(perr.FpiFlagInconsistent, "uncompressed image length inconsistent with hole")
		}
	}

	if !ref.SameRel {
		if pos+12 > len(body) {
			return pos, perr.New(perr.ShortData, "truncated relfilelocator")
		}
		ref.Locator = pgtypes.RelFileLocator{
			SpcOID: byteOrder.Uint32(body[pos : pos+4]),
			DBOID:  byteOrder.Uint32(body[pos+4 : pos+8]),
			RelNum: byteOrder.Uint32(body[pos+8 : pos+12]),
		}
		pos += 12
	}

	if pos+4 > len(body) {
		return pos, perr.New(perr.ShortData, "truncated blkno")
	}
	ref.BlockNum = pgtypes.BlockNumber(byteOrder.Uint32(body[pos : pos+4]))
	pos += 4

	return pos, nil
}

package brt

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/leengari/pgward/internal/perr"
	"github.com/leengari/pgward/internal/pgtypes"
)

// FormatMagic tags a serialized block-ref table file.
const FormatMagic uint32 = 0x42525401 // "BRT" + version 1

var byteOrder = binary.LittleEndian

// serializedEntryHeader is the fixed-size prefix §4.E calls
// SerializedEntry: {locator, fork, limit_block, nchunks}.
type serializedEntryHeader struct {
	SpcOID     uint32
	DBOID      uint32
	RelNum     uint32
	Fork       uint8
	LimitBlock uint32
	NChunks    uint16
}

const serializedEntryHeaderSize = 4 + 4 + 4 + 1 + 4 + 2

// Write serializes t to w: magic, then each relation's entries sorted by
// (spcOid, dbOid, relNumber, fork), trailing zero-usage chunks trimmed
// from nchunks, followed by per-chunk usage counts and raw chunk bytes,
// and a final all-zero sentinel entry.
func Write(w io.Writer, t *Table) error {
	bw := bufio.NewWriter(w)

	var magicBuf [4]byte
	byteOrder.PutUint32(magicBuf[:], FormatMagic)
	if _, err := bw.Write(magicBuf[:]); err != nil {
		return err
	}

	for _, key := range t.Relations() {
		e := t.entries[key]
		trimmed := trimTrailingEmpty(e.chunks)

		hdr := serializedEntryHeader{
			SpcOID:     key.Locator.SpcOID,
			DBOID:      key.Locator.DBOID,
			RelNum:     key.Locator.RelNum,
			Fork:       uint8(key.Fork),
			LimitBlock: uint32(e.LimitBlock),
			NChunks:    uint16(len(trimmed)),
		}
		if err := writeEntryHeader(bw, hdr); err != nil {
			return err
		}

		for _, c := range trimmed {
			usage := 0
			if c != nil {
				usage = c.usage
			}
			if err := binary.Write(bw, byteOrder, uint16(usage)); err != nil {
				return err
			}
		}
		for _, c := range trimmed {
			if c == nil || c.usage == 0 {
				continue
			}
			for _, word := range c.data {
				if err := binary.Write(bw, byteOrder, word); err != nil {
					return err
				}
			}
		}
	}

	sentinel := serializedEntryHeader{}
	if err := writeEntryHeader(bw, sentinel); err != nil {
		return err
	}

	return bw.Flush()
}

func trimTrailingEmpty(chunks []*chunk) []*chunk {
	n := len(chunks)
	for n > 0 && (chunks[n-1] == nil || chunks[n-1].usage == 0) {
		n--
	}
	return chunks[:n]
}

func writeEntryHeader(w io.Writer, h serializedEntryHeader) error {
	buf := make([]byte, serializedEntryHeaderSize)
	byteOrder.PutUint32(buf[0:4], h.SpcOID)
	byteOrder.PutUint32(buf[4:8], h.DBOID)
	byteOrder.PutUint32(buf[8:12], h.RelNum)
	buf[12] = h.Fork
	byteOrder.PutUint32(buf[13:17], h.LimitBlock)
	byteOrder.PutUint16(buf[17:19], h.NChunks)
	_, err := w.Write(buf)
	return err
}

func readEntryHeader(r io.Reader) (serializedEntryHeader, error) {
	buf := make([]byte, serializedEntryHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return serializedEntryHeader{}, err
	}
	return serializedEntryHeader{
		SpcOID:     byteOrder.Uint32(buf[0:4]),
		DBOID:      byteOrder.Uint32(buf[4:8]),
		RelNum:     byteOrder.Uint32(buf[8:12]),
		Fork:       buf[12],
		LimitBlock: byteOrder.Uint32(buf[13:17]),
		NChunks:    byteOrder.Uint16(buf[17:19]),
	}, nil
}

func (h serializedEntryHeader) isSentinel() bool {
	return h == (serializedEntryHeader{})
}

// Read parses a serialized block-ref table written by Write. It reads the
// stream with a small buffered reader (§4.E's "fills a small 4 KiB read
// buffer") and walks entries via repeated reads, the Go analogue of
// get_next_relation + get_blocks.
func Read(r io.Reader) (*Table, error) {
	br := bufio.NewReaderSize(r, 4096)

	var magicBuf [4]byte
	if _, err := io.ReadFull(br, magicBuf[:]); err != nil {
		return nil, err
	}
	if byteOrder.Uint32(magicBuf[:]) != FormatMagic {
		return nil, perr.New(perr.BrtCorrupt, "bad block-ref table magic")
	}

	t := New()
	for {
		hdr, err := readEntryHeader(br)
		if err != nil {
			return nil, perr.Wrap(perr.BrtCorrupt, "reading entry header", err)
		}
		if hdr.isSentinel() {
			break
		}

		usages := make([]int, hdr.NChunks)
		for i := range usages {
			var u uint16
			if err := binary.Read(br, byteOrder, &u); err != nil {
				return nil, perr.Wrap(perr.BrtCorrupt, "reading chunk usage", err)
			}
			usages[i] = int(u)
		}

		e := newEntry()
		e.LimitBlock = pgtypes.BlockNumber(hdr.LimitBlock)
		e.chunks = make([]*chunk, hdr.NChunks)
		for i, usage := range usages {
			if usage == 0 {
				continue
			}
			c := &chunk{usage: usage}
			wordCount := usage
			if usage == MaxEntriesPerChunk {
				wordCount = BitmapWords
			}
			c.data = make([]uint16, wordCount)
			for w := range c.data {
				if err := binary.Read(br, byteOrder, &c.data[w]); err != nil {
					return nil, perr.Wrap(perr.BrtCorrupt, "reading chunk words", err)
				}
			}
			e.chunks[i] = c
		}

		key := pgtypes.RelFileKey{
			Locator: pgtypes.RelFileLocator{SpcOID: hdr.SpcOID, DBOID: hdr.DBOID, RelNum: hdr.RelNum},
			Fork:    pgtypes.ForkNumber(hdr.Fork),
		}
		t.entries[key] = e
	}

	return t, nil
}

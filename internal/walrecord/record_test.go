package walrecord

import (
	"bytes"
	"io"
	"testing"

	"github.com/leengari/pgward/internal/pgtypes"
)

func sampleRecord(rmid uint8, mainData []byte) *Record {
	return &Record{
		Header: RecordHeader{
			Xid:  42,
			Prev: pgtypes.LSN(LongPageHeaderSize),
			Info: 0,
			Rmid: rmid,
		},
		MaxBlockID:  -1,
		MainDataLen: uint32(len(mainData)),
		MainData:    mainData,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := sampleRecord(RMXactID, []byte("hello world"))
	segment, err := EncodePage(rec, 16, pgtypes.TimelineID(1), DefaultSegmentSize)
	if err != nil {
		t.Fatalf("EncodePage: %v", err)
	}

	dec, err := NewDecoder(segment, 0, XLogBlockSize, DefaultSegmentSize)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if dec.Version() != 16 {
		t.Fatalf("version = %d, want 16", dec.Version())
	}

	got, partial, err := dec.NextRecord()
	if err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if partial != nil {
		t.Fatalf("unexpected partial record")
	}
	if !bytes.Equal(got.MainData, []byte("hello world")) {
		t.Fatalf("MainData = %q, want %q", got.MainData, "hello world")
	}
	if got.Header.Xid != 42 {
		t.Fatalf("Xid = %d, want 42", got.Header.Xid)
	}
	if got.RmgrName() != "Transaction" {
		t.Fatalf("RmgrName = %q, want Transaction", got.RmgrName())
	}

	_, _, err = dec.NextRecord()
	if err != io.EOF {
		t.Fatalf("second NextRecord err = %v, want io.EOF", err)
	}
}

func TestEncodeWithBlockRef(t *testing.T) {
	rec := sampleRecord(RMHeapID, []byte("main"))
	rec.MaxBlockID = 0
	rec.BlockRefs = []BlockRef{
		{
			BlockID: 0,
			Fork:    pgtypes.MainForkNum,
			HasData: true,
			DataLen: 3,
			Locator: pgtypes.RelFileLocator{SpcOID: 1, DBOID: 2, RelNum: 3},
			BlockNum: 7,
			Data:    []byte("abc"),
		},
	}

	segment, err := EncodePage(rec, 16, pgtypes.TimelineID(1), DefaultSegmentSize)
	if err != nil {
		t.Fatalf("EncodePage: %v", err)
	}
	dec, err := NewDecoder(segment, 0, XLogBlockSize, DefaultSegmentSize)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	got, partial, err := dec.NextRecord()
	if err != nil {
		t.Fatalf("NextRecord: %v", err)
	}
	if partial != nil {
		t.Fatalf("unexpected partial record")
	}
	if len(got.BlockRefs) != 1 {
		t.Fatalf("len(BlockRefs) = %d, want 1", len(got.BlockRefs))
	}
	ref := got.BlockRefs[0]
	if !bytes.Equal(ref.Data, []byte("abc")) {
		t.Fatalf("block data = %q, want abc", ref.Data)
	}
	if ref.BlockNum != 7 {
		t.Fatalf("BlockNum = %d, want 7", ref.BlockNum)
	}
	if ref.Locator.RelNum != 3 {
		t.Fatalf("RelNum = %d, want 3", ref.Locator.RelNum)
	}
	if got.DataTotal() != uint32(len("main")+len("abc")) {
		t.Fatalf("DataTotal = %d, want %d", got.DataTotal(), len("main")+len("abc"))
	}
}

func TestCrcMismatchDetected(t *testing.T) {
	rec := sampleRecord(RMXactID, []byte("payload"))
	segment, err := EncodePage(rec, 16, pgtypes.TimelineID(1), DefaultSegmentSize)
	if err != nil {
		t.Fatalf("EncodePage: %v", err)
	}
	// Flip a byte inside the main data payload, after the header.
	segment[LongPageHeaderSize+XLogRecordHeaderSize] ^= 0xFF

	dec, err := NewDecoder(segment, 0, XLogBlockSize, DefaultSegmentSize)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	_, _, err = dec.NextRecord()
	if err == nil {
		t.Fatalf("expected CRC mismatch error, got nil")
	}
}

func TestCheckMagicUnknown(t *testing.T) {
	if _, err := CheckMagic(Magic(0xDEAD)); err == nil {
		t.Fatalf("expected error for unknown magic")
	}
}

func TestVersionMagicRoundTrip(t *testing.T) {
	for v := 13; v <= 18; v++ {
		m, ok := MagicForVersion(v)
		if !ok {
			t.Fatalf("MagicForVersion(%d) not ok", v)
		}
		got, ok := VersionFromMagic(m)
		if !ok || got != v {
			t.Fatalf("VersionFromMagic(%v) = %d,%v want %d,true", m, got, ok, v)
		}
	}
}

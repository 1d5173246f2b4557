package walfilter

import (
	"io"
	"testing"

	"github.com/leengari/pgward/internal/pgtypes"
	"github.com/leengari/pgward/internal/walrecord"
)

const testSegSize = walrecord.DefaultSegmentSize

func alignUp8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// buildSegment uses EncodePage to get a correctly-magicked long page
// header plus the first record, then patches the remaining records
// back-to-back (8-byte aligned) into the zero-padded tail EncodePage
// already produced at full segment size.
func buildSegment(t *testing.T, recs []*walrecord.Record) []byte {
	t.Helper()
	if len(recs) == 0 {
		t.Fatal("buildSegment: need at least one record")
	}
	buf, err := walrecord.EncodePage(recs[0], 16, pgtypes.TimelineID(1), testSegSize)
	if err != nil {
		t.Fatalf("EncodePage: %v", err)
	}

	cur := alignUp8(walrecord.LongPageHeaderSize + len(walrecord.EncodeVersioned(recs[0], 16)))
	for _, r := range recs[1:] {
		enc := walrecord.EncodeVersioned(r, 16)
		copy(buf[cur:], enc)
		cur = alignUp8(cur + len(enc))
	}
	return buf
}

func sampleHeapRecord(xid uint32, rmid uint8, info uint8, mainData []byte) *walrecord.Record {
	return &walrecord.Record{
		Header: walrecord.RecordHeader{
			Xid:  xid,
			Info: info,
			Rmid: rmid,
		},
		MaxBlockID:  -1,
		MainDataLen: uint32(len(mainData)),
		MainData:    mainData,
	}
}

func decodeAll(t *testing.T, segment []byte) []*walrecord.Record {
	t.Helper()
	dec, err := walrecord.NewDecoder(segment, 0, walrecord.XLogBlockSize, testSegSize)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	var out []*walrecord.Record
	for {
		rec, partial, err := dec.NextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextRecord: %v", err)
		}
		if partial != nil || rec == nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

func TestXIDSetFilterNoopifiesOnlyMatchingRecord(t *testing.T) {
	rec1 := sampleHeapRecord(100, walrecord.RMHeapID, 0x00, []byte("insert"))
	rec2 := sampleHeapRecord(200, walrecord.RMHeapID, heapOpDelete, []byte("delete"))
	rec3 := sampleHeapRecord(300, walrecord.RMXactID, 0x00, []byte("commit"))
	segment := buildSegment(t, []*walrecord.Record{rec1, rec2, rec3})
	originalLen := len(segment)

	res, err := ApplyToSegment(segment, 0, walrecord.XLogBlockSize, testSegSize, XIDSet(map[uint32]bool{200: true}))
	if err != nil {
		t.Fatalf("ApplyToSegment: %v", err)
	}
	if res.RecordsSeen != 3 || res.RecordsFiltered != 1 {
		t.Fatalf("res = %+v, want seen=3 filtered=1", res)
	}
	if len(segment) != originalLen {
		t.Fatalf("segment length changed: %d vs %d", len(segment), originalLen)
	}

	got := decodeAll(t, segment)
	if len(got) != 3 {
		t.Fatalf("decoded %d records, want 3", len(got))
	}
	if got[0].Header.Rmid != walrecord.RMHeapID || got[0].Header.Xid != 100 {
		t.Fatalf("record 0 was mutated: %+v", got[0].Header)
	}
	if got[1].Header.Rmid != walrecord.RMXLogID || got[1].Header.Info != walrecord.XLogNoop {
		t.Fatalf("record 1 was not NOOP-ified: %+v", got[1].Header)
	}
	if got[1].Header.Xid != 200 {
		t.Fatalf("record 1's xid changed: %d, want 200", got[1].Header.Xid)
	}
	if got[2].Header.Rmid != walrecord.RMXactID || got[2].Header.Xid != 300 {
		t.Fatalf("record 2 was mutated: %+v", got[2].Header)
	}
}

func TestDeleteFilterTwoPass(t *testing.T) {
	rec1 := sampleHeapRecord(10, walrecord.RMHeapID, heapOpDelete, []byte("del"))
	rec2 := sampleHeapRecord(10, walrecord.RMHeapID, 0x00, []byte("ins-same-xid"))
	rec3 := sampleHeapRecord(20, walrecord.RMHeapID, 0x00, []byte("ins-other-xid"))
	segment := buildSegment(t, []*walrecord.Record{rec1, rec2, rec3})

	ids, err := CollectDeleteXIDs(segment, 0, walrecord.XLogBlockSize, testSegSize)
	if err != nil {
		t.Fatalf("CollectDeleteXIDs: %v", err)
	}
	if !ids[10] || ids[20] {
		t.Fatalf("ids = %v, want only 10", ids)
	}

	res, err := ApplyToSegment(segment, 0, walrecord.XLogBlockSize, testSegSize, XIDSet(ids))
	if err != nil {
		t.Fatalf("ApplyToSegment: %v", err)
	}
	if res.RecordsFiltered != 2 {
		t.Fatalf("filtered = %d, want 2 (both xid-10 records)", res.RecordsFiltered)
	}

	got := decodeAll(t, segment)
	if got[0].Header.Rmid != walrecord.RMXLogID || got[1].Header.Rmid != walrecord.RMXLogID {
		t.Fatalf("both xid-10 records should be NOOP: %+v / %+v", got[0].Header, got[1].Header)
	}
	if got[2].Header.Rmid != walrecord.RMHeapID {
		t.Fatalf("xid-20 record should be untouched: %+v", got[2].Header)
	}
}

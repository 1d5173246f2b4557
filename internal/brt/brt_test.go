package brt

import (
	"bytes"
	"testing"

	"github.com/leengari/pgward/internal/pgtypes"
)

func testKey(relnum uint32) pgtypes.RelFileKey {
	return pgtypes.RelFileKey{
		Locator: pgtypes.RelFileLocator{SpcOID: 1, DBOID: 2, RelNum: relnum},
		Fork:    pgtypes.MainForkNum,
	}
}

func TestMarkModifiedIdempotent(t *testing.T) {
	tbl := New()
	key := testKey(100)

	tbl.MarkBlockModified(key, 5)
	tbl.MarkBlockModified(key, 5)
	tbl.MarkBlockModified(key, 5)

	blocks := tbl.Get(key).Blocks()
	if len(blocks) != 1 || blocks[0] != 5 {
		t.Fatalf("blocks = %v, want [5]", blocks)
	}
}

func TestMarkModifiedMonotoneOrdering(t *testing.T) {
	tbl := New()
	key := testKey(200)

	for _, b := range []pgtypes.BlockNumber{50, 3, 999, 1, 17} {
		tbl.MarkBlockModified(key, b)
	}

	blocks := tbl.Get(key).Blocks()
	for i := 1; i < len(blocks); i++ {
		if blocks[i] <= blocks[i-1] {
			t.Fatalf("blocks not strictly increasing: %v", blocks)
		}
	}
	want := []pgtypes.BlockNumber{1, 3, 17, 50, 999}
	if len(blocks) != len(want) {
		t.Fatalf("blocks = %v, want %v", blocks, want)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Fatalf("blocks = %v, want %v", blocks, want)
		}
	}
}

func TestArrayToBitmapPromotion(t *testing.T) {
	tbl := New()
	key := testKey(300)

	for b := 0; b < MaxEntriesPerChunk+5; b++ {
		tbl.MarkBlockModified(key, pgtypes.BlockNumber(b))
	}

	blocks := tbl.Get(key).Blocks()
	if len(blocks) != MaxEntriesPerChunk+5 {
		t.Fatalf("len(blocks) = %d, want %d", len(blocks), MaxEntriesPerChunk+5)
	}
	for i, b := range blocks {
		if b != pgtypes.BlockNumber(i) {
			t.Fatalf("blocks[%d] = %d, want %d", i, b, i)
		}
	}
}

// TestBitmapUpperHalf marks a chunk-offset at and beyond 16384 (the word
// index past the bitmap's first 1024 words) after array->bitmap promotion,
// guarding against the bitmap being undersized to only half of
// BlocksPerChunk's offset range.
func TestBitmapUpperHalf(t *testing.T) {
	tbl := New()
	key := testKey(301)

	for b := 0; b < MaxEntriesPerChunk-1; b++ {
		tbl.MarkBlockModified(key, pgtypes.BlockNumber(b))
	}
	tbl.MarkBlockModified(key, 20000)
	tbl.MarkBlockModified(key, BlocksPerChunk-1)

	blocks := tbl.Get(key).Blocks()
	last := blocks[len(blocks)-1]
	if last != BlocksPerChunk-1 {
		t.Fatalf("last block = %d, want %d", last, BlocksPerChunk-1)
	}
	found20000 := false
	for _, b := range blocks {
		if b == 20000 {
			found20000 = true
		}
	}
	if !found20000 {
		t.Fatalf("block 20000 missing from %v", blocks)
	}
}

// TestSetLimitBlockTruncatesUpperHalfBitmap exercises clearBitmapFrom's
// boundary-word logic for a limit landing past word 1023 of a bitmap
// chunk.
func TestSetLimitBlockTruncatesUpperHalfBitmap(t *testing.T) {
	tbl := New()
	key := testKey(302)

	for b := 0; b < MaxEntriesPerChunk-1; b++ {
		tbl.MarkBlockModified(key, pgtypes.BlockNumber(b))
	}
	tbl.MarkBlockModified(key, 20000)
	tbl.MarkBlockModified(key, 25000)

	tbl.SetLimitBlock(key, 20001)
	blocks := tbl.Get(key).Blocks()
	for _, b := range blocks {
		if b > 20000 {
			t.Fatalf("block %d exceeds limit_block 20001", b)
		}
	}
	found20000 := false
	for _, b := range blocks {
		if b == 20000 {
			found20000 = true
		}
	}
	if !found20000 {
		t.Fatalf("block 20000 should survive truncation at limit 20001, got %v", blocks)
	}
}

func TestSetLimitBlockTruncates(t *testing.T) {
	tbl := New()
	key := testKey(400)
	for _, b := range []pgtypes.BlockNumber{1, 2, 3, 100, 200} {
		tbl.MarkBlockModified(key, b)
	}

	tbl.SetLimitBlock(key, 50)
	blocks := tbl.Get(key).Blocks()
	want := []pgtypes.BlockNumber{1, 2, 3}
	if len(blocks) != len(want) {
		t.Fatalf("blocks = %v, want %v", blocks, want)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Fatalf("blocks = %v, want %v", blocks, want)
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	tbl := New()
	keyA := testKey(10)
	keyB := testKey(5)
	for _, b := range []pgtypes.BlockNumber{0, 1, 2, 40000} {
		tbl.MarkBlockModified(keyA, b)
	}
	tbl.MarkBlockModified(keyB, 7)

	var buf bytes.Buffer
	if err := Write(&buf, tbl); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	for _, key := range []pgtypes.RelFileKey{keyA, keyB} {
		wantEntry := tbl.Get(key)
		gotEntry := got.Get(key)
		if gotEntry == nil {
			t.Fatalf("missing entry for key %+v", key)
		}
		wantBlocks := wantEntry.Blocks()
		gotBlocks := gotEntry.Blocks()
		if len(wantBlocks) != len(gotBlocks) {
			t.Fatalf("key %+v: blocks = %v, want %v", key, gotBlocks, wantBlocks)
		}
		for i := range wantBlocks {
			if wantBlocks[i] != gotBlocks[i] {
				t.Fatalf("key %+v: blocks = %v, want %v", key, gotBlocks, wantBlocks)
			}
		}
	}
}

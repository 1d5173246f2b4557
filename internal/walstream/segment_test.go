package walstream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leengari/pgward/internal/pgtypes"
)

func TestOpenSegmentAllocatesZeroed(t *testing.T) {
	dir := t.TempDir()
	const segSize = 1 << 16

	seg, err := OpenSegment(dir, "000000010000000000000001", segSize)
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	defer seg.Close()

	st, err := os.Stat(filepath.Join(dir, "000000010000000000000001.partial"))
	if err != nil {
		t.Fatalf("stat partial: %v", err)
	}
	if st.Size() != segSize {
		t.Fatalf("partial size = %d, want %d", st.Size(), segSize)
	}
}

func TestSegmentSealRenamesAtomically(t *testing.T) {
	dir := t.TempDir()
	const segSize = 1 << 16
	name := "000000010000000000000001"

	seg, err := OpenSegment(dir, name, segSize)
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	if err := seg.WriteAt(0, []byte("hello")); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := seg.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, name+".partial")); !os.IsNotExist(err) {
		t.Fatalf("partial file should no longer exist, stat err = %v", err)
	}
	st, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("stat sealed segment: %v", err)
	}
	if st.Size() != segSize {
		t.Fatalf("sealed size = %d, want %d", st.Size(), segSize)
	}

	// Seal and Close are both idempotent after sealing.
	if err := seg.Close(); err != nil {
		t.Fatalf("Close after Seal should be a no-op, got %v", err)
	}
}

func TestOpenSegmentRejectsCorruptSize(t *testing.T) {
	dir := t.TempDir()
	const segSize = 1 << 16
	name := "000000010000000000000002"

	if err := os.WriteFile(filepath.Join(dir, name+".partial"), []byte("not a full segment"), 0644); err != nil {
		t.Fatalf("seed corrupt partial: %v", err)
	}

	if _, err := OpenSegment(dir, name, segSize); err == nil {
		t.Fatalf("expected an error opening a corrupt-size partial segment")
	}
}

func TestLatestOnDiskPicksHighestSealedSegment(t *testing.T) {
	dir := t.TempDir()
	const segSize = 1 << 16

	for _, segNo := range []uint64{0, 1, 2} {
		name := pgtypes.SegmentName(1, segNo, segSize)
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, segSize), 0644); err != nil {
			t.Fatalf("seed segment %s: %v", name, err)
		}
	}
	// A .partial file must not be considered "sealed".
	partialName := pgtypes.SegmentName(1, 3, segSize) + ".partial"
	if err := os.WriteFile(filepath.Join(dir, partialName), make([]byte, segSize), 0644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	tli, lsn, ok, err := LatestOnDisk(dir, segSize)
	if err != nil {
		t.Fatalf("LatestOnDisk: %v", err)
	}
	if !ok {
		t.Fatalf("expected a sealed segment to be found")
	}
	if tli != 1 {
		t.Fatalf("tli = %d, want 1", tli)
	}
	wantLSN := uint64(3 * segSize) // resume point is just past segment 2
	if uint64(lsn) != wantLSN {
		t.Fatalf("lsn = %d, want %d", uint64(lsn), wantLSN)
	}
}

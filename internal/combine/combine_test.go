package combine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/leengari/pgward/internal/brt"
	"github.com/leengari/pgward/internal/catalog"
	"github.com/leengari/pgward/internal/pgtypes"
)

const testBlockSize = 16

func buildBlock(tag string, n int) []byte {
	b := make([]byte, testBlockSize)
	copy(b, []byte(fmt.Sprintf("%s-%04d", tag, n)))
	return b
}

func backupWithType(dir string, typ catalog.BackupType, label, parent string) *catalog.Backup {
	info := catalog.NewInfo(filepath.Join(dir, "backup.info"))
	info.SetString(catalog.KeyType, string(typ))
	info.SetString(catalog.KeyLabel, label)
	info.SetString(catalog.KeyParentLabel, parent)
	info.SetString(catalog.KeyServer, "srv")
	return &catalog.Backup{Dir: dir, Info: info}
}

func writeBRT(t *testing.T, path string, key pgtypes.RelFileKey, blocks []int, limit pgtypes.BlockNumber) {
	t.Helper()
	table := brt.New()
	for _, b := range blocks {
		table.MarkBlockModified(key, pgtypes.BlockNumber(b))
	}
	if limit != 0 {
		table.SetLimitBlock(key, limit)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create brt: %v", err)
	}
	defer f.Close()
	if err := brt.Write(f, table); err != nil {
		t.Fatalf("write brt: %v", err)
	}
}

// TestCombineScenario5 reproduces §8 scenario 5: a FULL backup's 100-block
// relation, an INCREMENTAL that modifies block 50 and extends to 120
// blocks, and a second INCREMENTAL that truncates to 80 blocks with no
// further block changes.
func TestCombineScenario5(t *testing.T) {
	root := t.TempDir()
	relPath := "base/1/16384"
	key := pgtypes.RelFileKey{
		Locator: pgtypes.RelFileLocator{SpcOID: 1664, DBOID: 1, RelNum: 16384},
		Fork:    pgtypes.MainForkNum,
	}

	// FULL: 100 blocks, all tagged "FULL".
	fullDir := filepath.Join(root, "full")
	fullRel := filepath.Join(fullDir, "data", relPath)
	if err := os.MkdirAll(filepath.Dir(fullRel), 0755); err != nil {
		t.Fatal(err)
	}
	fullFile, err := os.Create(fullRel)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		if _, err := fullFile.Write(buildBlock("FULL", i)); err != nil {
			t.Fatal(err)
		}
	}
	fullFile.Close()
	full := backupWithType(fullDir, catalog.TypeFull, "full1", "")

	// INC1: modifies block 50, extends to 120 blocks.
	inc1Dir := filepath.Join(root, "inc1")
	inc1DeltaPath := filepath.Join(inc1Dir, "data", relPath+DeltaSuffix)
	if err := os.MkdirAll(filepath.Dir(inc1DeltaPath), 0755); err != nil {
		t.Fatal(err)
	}
	inc1Blocks := []int{50}
	for b := 100; b < 120; b++ {
		inc1Blocks = append(inc1Blocks, b)
	}
	deltaFile, err := os.Create(inc1DeltaPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range inc1Blocks {
		if _, err := deltaFile.Write(buildBlock("INC1", b)); err != nil {
			t.Fatal(err)
		}
	}
	deltaFile.Close()
	writeBRT(t, filepath.Join(inc1Dir, "data", relPath+BRTSuffix), key, inc1Blocks, 0)
	inc1 := backupWithType(inc1Dir, catalog.TypeIncremental, "inc1", "full1")

	// INC2: truncates to 80 blocks, no block changes of its own.
	inc2Dir := filepath.Join(root, "inc2")
	inc2DeltaPath := filepath.Join(inc2Dir, "data", relPath+DeltaSuffix)
	if err := os.MkdirAll(filepath.Dir(inc2DeltaPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inc2DeltaPath, nil, 0644); err != nil {
		t.Fatal(err)
	}
	writeBRT(t, filepath.Join(inc2Dir, "data", relPath+BRTSuffix), key, nil, 80)
	inc2 := backupWithType(inc2Dir, catalog.TypeIncremental, "inc2", "inc1")

	targetBase := filepath.Join(root, "target")
	chain := []*catalog.Backup{full, inc1, inc2}
	if err := Combine(chain, Options{Mode: AsIs, TargetBase: targetBase, BlockSize: testBlockSize}); err != nil {
		t.Fatalf("Combine: %v", err)
	}

	out, err := os.ReadFile(filepath.Join(targetBase, relPath))
	if err != nil {
		t.Fatalf("read combined relation: %v", err)
	}
	if len(out) != 80*testBlockSize {
		t.Fatalf("combined size = %d, want %d", len(out), 80*testBlockSize)
	}
	for i := 0; i < 80; i++ {
		got := out[i*testBlockSize : (i+1)*testBlockSize]
		want := buildBlock("FULL", i)
		if i == 50 {
			want = buildBlock("INC1", i)
		}
		if string(got) != string(want) {
			t.Fatalf("block %d = %q, want %q", i, got, want)
		}
	}
}

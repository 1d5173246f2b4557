package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBackup(t *testing.T, root, label, parent string, typ BackupType) {
	t.Helper()
	dir := filepath.Join(root, "backup", label)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	info := NewInfo(infoPathForDir(dir))
	info.SetString(KeyLabel, label)
	info.SetString(KeyParentLabel, parent)
	info.SetString(KeyType, string(typ))
	info.SetStatus(StatusValid)
	if err := info.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestScanAndResolve(t *testing.T) {
	root := t.TempDir()
	writeBackup(t, root, "20260101T000000", "", TypeFull)
	writeBackup(t, root, "20260102T000000", "20260101T000000", TypeIncremental)
	writeBackup(t, root, "20260103T000000", "20260102T000000", TypeIncremental)

	cat, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(cat.Backups) != 3 {
		t.Fatalf("len(Backups) = %d, want 3", len(cat.Backups))
	}

	oldest, err := cat.Resolve("oldest", false)
	if err != nil {
		t.Fatalf("Resolve(oldest): %v", err)
	}
	if oldest.Info.Label() != "20260101T000000" {
		t.Fatalf("oldest = %s, want 20260101T000000", oldest.Info.Label())
	}

	latest, err := cat.Resolve("latest", false)
	if err != nil {
		t.Fatalf("Resolve(latest): %v", err)
	}
	if latest.Info.Label() != "20260103T000000" {
		t.Fatalf("latest = %s, want 20260103T000000", latest.Info.Label())
	}

	byPrefix, err := cat.Resolve("20260102", false)
	if err != nil {
		t.Fatalf("Resolve(prefix): %v", err)
	}
	if byPrefix.Info.Label() != "20260102T000000" {
		t.Fatalf("byPrefix = %s", byPrefix.Info.Label())
	}
}

func TestChainTraversal(t *testing.T) {
	root := t.TempDir()
	writeBackup(t, root, "A", "", TypeFull)
	writeBackup(t, root, "B", "A", TypeIncremental)
	writeBackup(t, root, "C", "B", TypeIncremental)

	cat, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	c, err := cat.ByLabel("C")
	if err != nil {
		t.Fatalf("ByLabel: %v", err)
	}

	root_, err := cat.Root(c)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root_.Info.Label() != "A" {
		t.Fatalf("Root = %s, want A", root_.Info.Label())
	}

	chain, err := cat.Chain(c)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	labels := []string{chain[0].Info.Label(), chain[1].Info.Label(), chain[2].Info.Label()}
	want := []string{"A", "B", "C"}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("chain = %v, want %v", labels, want)
		}
	}

	a, _ := cat.ByLabel("A")
	if _, err := cat.Parent(a); err == nil {
		t.Fatalf("expected error asking FULL backup for parent")
	}

	child, err := cat.Child(a)
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	if child.Info.Label() != "B" {
		t.Fatalf("Child(A) = %s, want B", child.Info.Label())
	}
}

func TestRetentionAndDelete(t *testing.T) {
	root := t.TempDir()
	writeBackup(t, root, "A", "", TypeFull)

	cat, err := Scan(root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	a, _ := cat.ByLabel("A")

	if err := cat.Retain(a); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if err := cat.Delete(a, false); err == nil {
		t.Fatalf("expected delete refused on retained backup")
	}
	if err := cat.Delete(a, true); err != nil {
		t.Fatalf("Delete(force): %v", err)
	}
	if len(cat.Backups) != 0 {
		t.Fatalf("Backups not removed after Delete")
	}
}

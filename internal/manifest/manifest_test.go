package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestEmitParseRoundTrip(t *testing.T) {
	m := &Manifest{
		Version: 1,
		Files: []FileEntry{
			{Path: "base/1/2", Size: 8192, ChecksumAlgorithm: ChecksumSHA256, Checksum: "deadbeef"},
		},
	}

	var buf bytes.Buffer
	if err := Emit(&buf, m); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	parsed, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Files) != 1 || parsed.Files[0].Path != "base/1/2" {
		t.Fatalf("got %+v", parsed)
	}
	if parsed.ManifestChecksum == "" {
		t.Fatalf("expected non-empty manifest checksum")
	}
}

func TestVerifyFileChecksum(t *testing.T) {
	content := []byte("block contents")
	sum := sha256.Sum256(content)
	m := &Manifest{
		Files: []FileEntry{
			{Path: "base/1/2", ChecksumAlgorithm: ChecksumSHA256, Checksum: hex.EncodeToString(sum[:])},
		},
	}

	if err := m.VerifyFile("base/1/2", content); err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if err := m.VerifyFile("base/1/2", []byte("tampered")); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
	if err := m.VerifyFile("missing", content); err == nil {
		t.Fatalf("expected file-missing error")
	}
}

func TestParseDetectsTamperedChecksum(t *testing.T) {
	m := &Manifest{Version: 1}
	var buf bytes.Buffer
	if err := Emit(&buf, m); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	tampered := bytes.Replace(buf.Bytes(), []byte(m.ManifestChecksum), []byte(m.ManifestChecksum[:len(m.ManifestChecksum)-1]+"0"), 1)
	if _, err := Parse(bytes.NewReader(tampered)); err == nil {
		t.Fatalf("expected tampered-manifest checksum error")
	}
}

package mgmt

import (
	"bytes"
	"fmt"
	"io"

	"github.com/leengari/pgward/internal/codec"
)

func compressBytes(kind codec.Kind, plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := codec.NewCompressor(kind, &buf, 0)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressBytes(kind codec.Kind, compressed []byte) ([]byte, error) {
	r, err := codec.NewDecompressor(kind, bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("mgmt: decompress read: %w", err)
	}
	return out, nil
}

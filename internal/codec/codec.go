// Package codec wraps the byte-stream compressors §1 treats as external
// collaborators ("bzip2/gzip/lz4/zstd codec libraries... assumed available
// as byte-stream compress/decompress") with a single small interface, so
// the base-backup receiver and WAL shipping path can pick a codec by the
// file extension the server reports without caring which library backs it.
package codec

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Kind identifies a compression method by the tar/WAL-segment extension
// PostgreSQL uses.
type Kind string

const (
	None  Kind = ""
	Gzip  Kind = "gz"
	LZ4   Kind = "lz4"
	Zstd  Kind = "zstd"
	Bzip2 Kind = "bz2"
)

// KindFromExt maps a final compression extension such as ".gz" to a Kind;
// a compound extension like ".tar.gz" is not recognized and maps to None.
func KindFromExt(ext string) Kind {
	switch ext {
	case ".gz":
		return Gzip
	case ".lz4":
		return LZ4
	case ".zstd", ".zst":
		return Zstd
	case ".bz2":
		return Bzip2
	default:
		return None
	}
}

// Decompressor wraps an underlying reader, decoding one Kind of stream.
// Finished reports true once a Read has returned io.EOF, i.e. the stream
// has reached its logical end: callers loop reading until
// Finished()==true, matching §4.A's "caller loops until finished=true".
type Decompressor interface {
	io.ReadCloser
	Finished() bool
}

// NewDecompressor opens a streaming decoder of the given kind over r.
func NewDecompressor(kind Kind, r io.Reader) (Decompressor, error) {
	switch kind {
	case None:
		return &passthroughReader{r: bufio.NewReader(r)}, nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("codec: gzip reader: %w", err)
		}
		return &gzipDecompressor{zr: zr}, nil
	case LZ4:
		return &lz4Decompressor{zr: lz4.NewReader(r)}, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd reader: %w", err)
		}
		return &zstdDecompressor{zr: zr}, nil
	case Bzip2:
		zr, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: bzip2 reader: %w", err)
		}
		return &bzip2Decompressor{zr: zr}, nil
	default:
		return nil, fmt.Errorf("codec: unknown kind %q", kind)
	}
}

// Compressor wraps an underlying writer, encoding one Kind of stream.
// Close flushes and finalizes (the "last_chunk: bool" signal of §4.A is
// implicit in Close — every call after the last chunk must be Close, never
// another Write).
type Compressor interface {
	io.WriteCloser
}

// NewCompressor opens a streaming encoder of the given kind over w.
func NewCompressor(kind Kind, w io.Writer, level int) (Compressor, error) {
	switch kind {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		zw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, fmt.Errorf("codec: gzip writer: %w", err)
		}
		return zw, nil
	case LZ4:
		zw := lz4.NewWriter(w)
		return zw, nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("codec: zstd writer: %w", err)
		}
		return zw, nil
	case Bzip2:
		zw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
		if err != nil {
			return nil, fmt.Errorf("codec: bzip2 writer: %w", err)
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("codec: unknown kind %q", kind)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type passthroughReader struct {
	r    *bufio.Reader
	done bool
}

func (p *passthroughReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if err == io.EOF {
		p.done = true
	}
	return n, err
}
func (p *passthroughReader) Close() error  { return nil }
func (p *passthroughReader) Finished() bool { return p.done }

type gzipDecompressor struct {
	zr   *gzip.Reader
	done bool
}

func (g *gzipDecompressor) Read(b []byte) (int, error) {
	n, err := g.zr.Read(b)
	if err == io.EOF {
		g.done = true
	}
	return n, err
}
func (g *gzipDecompressor) Close() error  { return g.zr.Close() }
func (g *gzipDecompressor) Finished() bool { return g.done }

type lz4Decompressor struct {
	zr   *lz4.Reader
	done bool
}

func (l *lz4Decompressor) Read(b []byte) (int, error) {
	n, err := l.zr.Read(b)
	if err == io.EOF {
		l.done = true
	}
	return n, err
}
func (l *lz4Decompressor) Close() error  { return nil }
func (l *lz4Decompressor) Finished() bool { return l.done }

type zstdDecompressor struct {
	zr   *zstd.Decoder
	done bool
}

func (z *zstdDecompressor) Read(b []byte) (int, error) {
	n, err := z.zr.Read(b)
	if err == io.EOF {
		z.done = true
	}
	return n, err
}
func (z *zstdDecompressor) Close() error  { z.zr.Close(); return nil }
func (z *zstdDecompressor) Finished() bool { return z.done }

type bzip2Decompressor struct {
	zr   *bzip2.Reader
	done bool
}

func (b *bzip2Decompressor) Read(p []byte) (int, error) {
	n, err := b.zr.Read(p)
	if err == io.EOF {
		b.done = true
	}
	return n, err
}
func (b *bzip2Decompressor) Close() error  { return b.zr.Close() }
func (b *bzip2Decompressor) Finished() bool { return b.done }

// Package walstream implements the WAL streaming client (§4.H): the
// START_REPLICATION handshake and loop, segment file lifecycle, and
// timeline-switch handling. Grounded structurally in the teacher's
// internal/wal/writer.go (open-or-create, pre-allocate, atomic rename on
// seal) generalized from a single growing log file to PostgreSQL's
// fixed-size, name-addressed segment files.
package walstream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/leengari/pgward/internal/pgtypes"
)

// SegmentFile owns the on-disk lifecycle of one WAL segment: the
// "<name>.partial" file while open, sealed to "<name>" on completion
// (§4.H, "Segment file lifecycle").
type SegmentFile struct {
	dir     string
	name    string
	segSize int64
	f       *os.File
}

// OpenSegment opens (allocating if absent) the "<name>.partial" file for
// the given segment in dir. A pre-existing file must be either empty or
// exactly segSize bytes; anything else is corruption (§4.H).
func OpenSegment(dir, name string, segSize int64) (*SegmentFile, error) {
	path := filepath.Join(dir, name+".partial")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("walstream: open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("walstream: stat %s: %w", path, err)
	}

	switch st.Size() {
	case 0:
		if err := allocateZeroed(f, segSize); err != nil {
			f.Close()
			return nil, err
		}
	case segSize:
		// Pre-existing partial segment; append from where we left off.
	default:
		f.Close()
		return nil, fmt.Errorf("walstream: %s has corrupt size %d (want 0 or %d)", path, st.Size(), segSize)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &SegmentFile{dir: dir, name: name, segSize: segSize, f: f}, nil
}

// allocateZeroed writes exactly n zero bytes and rewinds, matching §4.H's
// "allocate exactly segsize zero bytes then rewind".
func allocateZeroed(f *os.File, n int64) error {
	const chunk = 1 << 20
	buf := make([]byte, chunk)
	var written int64
	for written < n {
		take := chunk
		if remaining := n - written; remaining < chunk {
			take = int(remaining)
		}
		w, err := f.Write(buf[:take])
		if err != nil {
			return fmt.Errorf("walstream: preallocate %s: %w", f.Name(), err)
		}
		written += int64(w)
	}
	return nil
}

// WriteAt writes payload at the segment-relative byte offset and fsyncs,
// so a seal (rename) never races an unflushed tail (§5: "a segment is
// sealed only after the last byte whose LSN maps into it has been
// fsynced").
func (s *SegmentFile) WriteAt(offset int64, payload []byte) error {
	if _, err := s.f.WriteAt(payload, offset); err != nil {
		return fmt.Errorf("walstream: write %s at %d: %w", s.name, offset, err)
	}
	return s.f.Sync()
}

// Seal fsyncs and renames "<name>.partial" to "<name>", the atomic
// completion step (§4.H).
func (s *SegmentFile) Seal() error {
	if s.f == nil {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	s.f = nil
	from := filepath.Join(s.dir, s.name+".partial")
	to := filepath.Join(s.dir, s.name)
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("walstream: seal %s: %w", s.name, err)
	}
	return nil
}

// Close closes the underlying file without renaming, leaving the
// ".partial" name in place — the "partial close (shutdown)" path of
// §4.H. Idempotent: safe to call after Seal.
func (s *SegmentFile) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// LatestOnDisk scans dir for the highest-numbered sealed (non-.partial)
// segment file for any timeline, used for resume-mode start position
// selection (§4.H, priority 1).
func LatestOnDisk(dir string, segSize uint64) (pgtypes.TimelineID, pgtypes.LSN, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("walstream: read %s: %w", dir, err)
	}

	var (
		found   bool
		bestTLI pgtypes.TimelineID
		bestSeg uint64
	)
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) != 24 {
			continue
		}
		tli, segNo, err := pgtypes.SegmentNumberFromName(e.Name(), segSize)
		if err != nil {
			continue
		}
		if !found || segNo > bestSeg {
			found, bestTLI, bestSeg = true, tli, segNo
		}
	}
	if !found {
		return 0, 0, false, nil
	}
	// The next byte after this segment's end is where streaming resumes.
	return bestTLI, pgtypes.LSN((bestSeg + 1) * segSize), true, nil
}

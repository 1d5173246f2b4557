package combine

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/leengari/pgward/internal/catalog"
)

// Archive supplements §4.I with pgmoneta's archive.c on-demand archive
// command (recorded in SPEC_FULL.md's "Supplemented features"): combine
// chain into a scratch directory exactly as Combine does, then tar the
// whole tree up for operator pickup as a single file, distinct from
// shipping it out via a storage.Backend. Grounded in this module's own
// internal/basebackup extraction code's use of archive/tar, mirrored here
// for writing instead of reading.
func Archive(chain []*catalog.Backup, destTar string) error {
	scratch, err := os.MkdirTemp("", "pgward-archive-*")
	if err != nil {
		return fmt.Errorf("combine: archive scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := Combine(chain, Options{Mode: AsIs, TargetBase: scratch}); err != nil {
		return fmt.Errorf("combine: archive: %w", err)
	}

	out, err := os.Create(destTar)
	if err != nil {
		return fmt.Errorf("combine: create %s: %w", destTar, err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	if err := filepath.Walk(scratch, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(scratch, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		return writeTarEntry(tw, p, rel, info)
	}); err != nil {
		tw.Close()
		return fmt.Errorf("combine: archive walk: %w", err)
	}
	return tw.Close()
}

func writeTarEntry(tw *tar.Writer, path, rel string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, target)
		if err != nil {
			return err
		}
		hdr.Name = rel
		return tw.WriteHeader(hdr)
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = rel
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leengari/pgward/internal/perr"
)

// Backup is one scanned backup directory: its parsed Info plus the
// directory it lives in.
type Backup struct {
	Dir  string
	Info *Info
}

// Catalog holds every backup found under a server's backup/ directory,
// sorted lexicographically by label (labels are timestamps, so label
// order is chronological order, per §4.D).
type Catalog struct {
	ServerRoot string
	Backups    []*Backup
}

// Scan opens serverRoot/backup, lists subdirectories, parses each
// backup.info and returns the populated Catalog.
func Scan(serverRoot string) (*Catalog, error) {
	backupRoot := filepath.Join(serverRoot, "backup")
	entries, err := os.ReadDir(backupRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{ServerRoot: serverRoot}, nil
		}
		return nil, fmt.Errorf("catalog: read %s: %w", backupRoot, err)
	}

	cat := &Catalog{ServerRoot: serverRoot}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(backupRoot, e.Name())
		infoPath := infoPathForDir(dir)
		if _, err := os.Stat(infoPath); err != nil {
			continue
		}
		info, err := LoadInfo(infoPath)
		if err != nil {
			return nil, err
		}
		cat.Backups = append(cat.Backups, &Backup{Dir: dir, Info: info})
	}

	sort.Slice(cat.Backups, func(i, j int) bool {
		return cat.Backups[i].Info.Label() < cat.Backups[j].Info.Label()
	})
	return cat, nil
}

// Resolve implements the `oldest | newest | latest | <label-prefix>`
// identifier grammar of §4.D. "latest" is an alias for "newest". Unless
// includeInvalid is set, only STATUS=1 backups are eligible.
func (c *Catalog) Resolve(identifier string, includeInvalid bool) (*Backup, error) {
	candidates := c.eligible(includeInvalid)
	if len(candidates) == 0 {
		return nil, perr.New(perr.BackupNotFound, "no backups in catalog")
	}

	switch identifier {
	case "oldest":
		return candidates[0], nil
	case "newest", "latest":
		return candidates[len(candidates)-1], nil
	default:
		var match *Backup
		for _, b := range candidates {
			if strings.HasPrefix(b.Info.Label(), identifier) {
				if match != nil {
					return nil, perr.New(perr.BackupNotFound, "label prefix is ambiguous")
				}
				match = b
			}
		}
		if match == nil {
			return nil, perr.New(perr.BackupNotFound, fmt.Sprintf("no backup matches %q", identifier))
		}
		return match, nil
	}
}

func (c *Catalog) eligible(includeInvalid bool) []*Backup {
	if includeInvalid {
		return c.Backups
	}
	var out []*Backup
	for _, b := range c.Backups {
		if b.Info.Status() == StatusValid {
			out = append(out, b)
		}
	}
	return out
}

// ByLabel looks a backup up by its exact label, regardless of status.
func (c *Catalog) ByLabel(label string) (*Backup, error) {
	for _, b := range c.Backups {
		if b.Info.Label() == label {
			return b, nil
		}
	}
	return nil, perr.New(perr.BackupNotFound, fmt.Sprintf("no backup labeled %q", label))
}

// Parent returns b's parent backup. It is an error to ask a FULL backup
// for its parent.
func (c *Catalog) Parent(b *Backup) (*Backup, error) {
	if b.Info.Type() == TypeFull {
		return nil, perr.New(perr.NoParent, "full backups have no parent")
	}
	return c.ByLabel(b.Info.ParentLabel())
}

// Root walks b's parent chain until it reaches the FULL backup at its
// base.
func (c *Catalog) Root(b *Backup) (*Backup, error) {
	cur := b
	for cur.Info.Type() != TypeFull {
		parent, err := c.Parent(cur)
		if err != nil {
			return nil, err
		}
		cur = parent
	}
	return cur, nil
}

// Chain returns the full parent chain from the root FULL backup down to
// and including b, in oldest-first order — the input to incremental
// combine (§4.I).
func (c *Catalog) Chain(b *Backup) ([]*Backup, error) {
	chain := []*Backup{b}
	cur := b
	for cur.Info.Type() != TypeFull {
		parent, err := c.Parent(cur)
		if err != nil {
			return nil, err
		}
		chain = append([]*Backup{parent}, chain...)
		cur = parent
	}
	return chain, nil
}

// Child returns the single backup (if any) whose parent_label is b's
// label. The server design does not permit more than one child per
// backup; a second match is an error rather than silently picking one.
func (c *Catalog) Child(b *Backup) (*Backup, error) {
	var match *Backup
	for _, candidate := range c.Backups {
		if candidate.Info.Type() != TypeIncremental {
			continue
		}
		if candidate.Info.ParentLabel() == b.Info.Label() {
			if match != nil {
				return nil, fmt.Errorf("catalog: backup %s has more than one child", b.Info.Label())
			}
			match = candidate
		}
	}
	if match == nil {
		return nil, perr.New(perr.BackupNotFound, "no child backup")
	}
	return match, nil
}

// Retain sets the KEEP bit, persisting the change.
func (c *Catalog) Retain(b *Backup) error {
	b.Info.SetKeep(true)
	return b.Info.Save()
}

// Expunge clears the KEEP bit, persisting the change.
func (c *Catalog) Expunge(b *Backup) error {
	b.Info.SetKeep(false)
	return b.Info.Save()
}

// Delete removes a backup directory. Refused when KEEP is set unless
// force is true, in which case the bit is cleared first.
func (c *Catalog) Delete(b *Backup, force bool) error {
	if b.Info.Keep() {
		if !force {
			return perr.New(perr.AlreadyRetained, "backup is retained; pass force to delete anyway")
		}
		if err := c.Expunge(b); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(b.Dir); err != nil {
		return fmt.Errorf("catalog: remove %s: %w", b.Dir, err)
	}
	for i, candidate := range c.Backups {
		if candidate == b {
			c.Backups = append(c.Backups[:i], c.Backups[i+1:]...)
			break
		}
	}
	return nil
}

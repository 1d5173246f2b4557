// Package local implements the no-op local storage backend (§4.J): the
// backup tree is already on disk under the catalog's own directory
// structure, so Setup/Execute/Teardown have nothing to do beyond
// satisfying the storage.Backend interface and (for completeness) letting
// the workflow orchestrator still log a uniform "upload" step.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leengari/pgward/internal/storage"
)

// Backend is the local no-op storage tier.
type Backend struct {
	logger *slog.Logger
}

// New returns a local Backend.
func New(logger *slog.Logger) *Backend {
	return &Backend{logger: logger}
}

func (b *Backend) Name() string { return "local" }

func (b *Backend) Setup(ctx context.Context, nodes storage.Nodes) error { return nil }

// Execute verifies the target tree exists; per §4.J, "files are already
// on disk" so there is no copy to perform.
func (b *Backend) Execute(ctx context.Context, nodes storage.Nodes) error {
	base := nodes.String(storage.NodeTargetBase)
	if base == "" {
		return nil
	}
	if _, err := os.Stat(base); err != nil {
		return fmt.Errorf("local: target base %s: %w", base, err)
	}
	if b.logger != nil {
		b.logger.Info("local storage tier confirmed on-disk", "path", base)
	}
	return nil
}

func (b *Backend) Teardown(ctx context.Context, nodes storage.Nodes) error { return nil }

// ShipFile performs no copy: WAL segments land on local disk via the
// authoritative write path already. It stats the file's final path and
// reports only stat errors other than the file being absent; a missing
// file returns nil.
func (b *Backend) ShipFile(ctx context.Context, localPath, remoteRelPath string) error {
	_, err := os.Stat(filepath.Join(filepath.Dir(localPath), remoteRelPath))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

package mgmt

import (
	"fmt"
	"log/slog"

	"github.com/leengari/pgward/internal/config"
	"github.com/leengari/pgward/internal/storage"
	"github.com/leengari/pgward/internal/storage/local"
	"github.com/leengari/pgward/internal/storage/s3store"
	"github.com/leengari/pgward/internal/storage/sshstore"
)

// buildBackends resolves a server's configured storage backend names
// (§4.J) into concrete Backend instances, one per kind. This is the
// daemon-side home for the "pluggable" part of storage tiering: the core
// packages (local/sshstore/s3store) only know their own Config, never
// each other, to avoid an import cycle back through internal/storage.
func buildBackends(cfgs []*config.StorageConfig, logger *slog.Logger) ([]storage.Backend, error) {
	backends := make([]storage.Backend, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Kind {
		case "local":
			backends = append(backends, local.New(logger))
		case "ssh":
			backends = append(backends, sshstore.New(sshstore.Config{
				Host:           c.Host,
				Port:           c.Port,
				User:           c.User,
				PrivateKeyPath: c.KeyPath,
				Ciphers:        c.Ciphers,
				RemoteBaseDir:  c.BaseDir,
			}, logger))
		case "s3":
			backends = append(backends, s3store.New(s3store.Config{
				Bucket:    c.Bucket,
				Region:    c.Region,
				Endpoint:  c.Endpoint,
				AccessKey: c.AccessKey,
				SecretKey: c.SecretKey,
			}, logger))
		default:
			return nil, fmt.Errorf("mgmt: unknown storage backend kind %q for %q", c.Kind, c.Name)
		}
	}
	return backends, nil
}

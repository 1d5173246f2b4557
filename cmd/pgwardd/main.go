// Command pgwardd is the long-running daemon (§4.H, §5, §9): one WAL
// streaming Client per configured server plus a management Server
// answering the CLI's requests, sharing a single config.ProcessState the
// way §9's "Global state" section describes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/leengari/pgward/internal/config"
	"github.com/leengari/pgward/internal/logging"
	"github.com/leengari/pgward/internal/mgmt"
	"github.com/leengari/pgward/internal/storage"
	"github.com/leengari/pgward/internal/storage/s3store"
	"github.com/leengari/pgward/internal/storage/sshstore"
	"github.com/leengari/pgward/internal/walstream"
)

// fileConfig is the on-disk shape a deployment's config file is unmarshaled
// into before being lifted into the core's config.Config. Parsing an
// actual YAML/INI file is the external collaborator §1 names; this one
// JSON shape is pgwardd's own minimal stand-in so the daemon has
// something concrete to load at startup.
type fileConfig struct {
	MgmtAddr string `json:"mgmt_addr"`
	Servers  []struct {
		Name            string   `json:"name"`
		Host            string   `json:"host"`
		Port            int      `json:"port"`
		User            string   `json:"user"`
		ReplicationSlot string   `json:"replication_slot"`
		WALDirectory    string   `json:"wal_directory"`
		BackupDirectory string   `json:"backup_directory"`
		SegmentSize     int      `json:"segment_size"`
		StorageBackends []string `json:"storage_backends"`
	} `json:"servers"`
	Storage []struct {
		Name      string   `json:"name"`
		Kind      string   `json:"kind"`
		BaseDir   string   `json:"base_dir"`
		Host      string   `json:"host"`
		Port      int      `json:"port"`
		User      string   `json:"user"`
		KeyPath   string   `json:"key_path"`
		Ciphers   []string `json:"ciphers"`
		Bucket    string   `json:"bucket"`
		Region    string   `json:"region"`
		Endpoint  string   `json:"endpoint"`
		AccessKey string   `json:"access_key"`
		SecretKey string   `json:"secret_key"`
	} `json:"storage"`
}

func loadConfig(path string) (*config.Config, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("pgwardd: read config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, "", fmt.Errorf("pgwardd: parse config: %w", err)
	}

	cfg := &config.Config{}
	for _, s := range fc.Servers {
		cfg.Servers = append(cfg.Servers, &config.ServerConfig{
			Name:            s.Name,
			Host:            s.Host,
			Port:            s.Port,
			User:            s.User,
			ReplicationSlot: s.ReplicationSlot,
			WALDirectory:    s.WALDirectory,
			BackupDirectory: s.BackupDirectory,
			SegmentSize:     s.SegmentSize,
			StorageBackends: s.StorageBackends,
		})
	}
	for _, s := range fc.Storage {
		cfg.Storage = append(cfg.Storage, &config.StorageConfig{
			Name:      s.Name,
			Kind:      s.Kind,
			BaseDir:   s.BaseDir,
			Host:      s.Host,
			Port:      s.Port,
			User:      s.User,
			KeyPath:   s.KeyPath,
			Ciphers:   s.Ciphers,
			Bucket:    s.Bucket,
			Region:    s.Region,
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
		})
	}
	mgmtAddr := fc.MgmtAddr
	if mgmtAddr == "" {
		mgmtAddr = "127.0.0.1:7070"
	}
	return cfg, mgmtAddr, nil
}

// dialServer opens a raw TCP connection to srv and wraps it as a
// walstream.Session. The startup packet / authentication handshake is the
// external collaborator §1 scopes out of this core: a real deployment
// plugs that in here, ahead of NewSession, without this function's
// callers needing to change.
func dialServer(ctx context.Context, srv *config.ServerConfig) (*walstream.Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", srv.Host, srv.Port))
	if err != nil {
		return nil, fmt.Errorf("pgwardd: dial %s: %w", srv.Name, err)
	}
	return walstream.NewSession(conn), nil
}

func main() {
	configPath := flag.String("config", "/etc/pgward/pgwardd.json", "path to the daemon config file")
	flag.Parse()

	logger, closeLog := logging.SetupLogger()
	defer closeLog()

	cfg, mgmtAddr, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	state := config.NewProcessState(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, srv := range cfg.Servers {
		srv := srv
		backends, err := buildShipperFor(state, srv, logger)
		if err != nil {
			logger.Error("storage setup failed", "server", srv.Name, "error", err)
			os.Exit(1)
		}

		client := walstream.NewClient(
			srv.Name, srv.WALDirectory, srv.ReplicationSlot, int64(srv.SegmentSize),
			func(ctx context.Context) (*walstream.Session, error) { return dialServer(ctx, srv) },
			logger,
		)
		client.Shipper = backends

		go func() {
			srv.Runtime().TryAcquire(config.OpWALStream)
			defer srv.Runtime().Release(config.OpWALStream)
			if err := client.Run(ctx); err != nil {
				logger.Error("WAL streaming stopped", "server", srv.Name, "error", err)
			}
		}()
	}

	mgmtServer := &mgmt.Server{
		State:  state,
		Logger: logger,
		Dial:   dialServer,
	}

	ln, err := net.Listen("tcp", mgmtAddr)
	if err != nil {
		logger.Error("management listener failed", "addr", mgmtAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("pgwardd started", "mgmt_addr", mgmtAddr, "servers", len(cfg.Servers))

	if err := mgmtServer.Serve(ln); err != nil {
		logger.Error("management server stopped", "error", err)
		os.Exit(1)
	}
}

// buildShipperFor constructs the first non-local configured storage
// backend as a FileShipper, for synchronous WAL duplication (§4.H: staged
// writes never block the authoritative local write, but the shipping
// itself still happens inline per chunk). A purely local setup has no
// remote copy to stage, so a nil Shipper there is correct, not a gap.
func buildShipperFor(state *config.ProcessState, srv *config.ServerConfig, logger *slog.Logger) (storage.FileShipper, error) {
	for _, c := range state.Config.StorageFor(srv) {
		switch c.Kind {
		case "ssh":
			return sshstore.New(sshstore.Config{
				Host:           c.Host,
				Port:           c.Port,
				User:           c.User,
				PrivateKeyPath: c.KeyPath,
				Ciphers:        c.Ciphers,
				RemoteBaseDir:  c.BaseDir,
			}, logger), nil
		case "s3":
			return s3store.New(s3store.Config{
				Bucket:    c.Bucket,
				Region:    c.Region,
				Endpoint:  c.Endpoint,
				AccessKey: c.AccessKey,
				SecretKey: c.SecretKey,
			}, logger), nil
		case "local":
			continue
		default:
			return nil, fmt.Errorf("pgwardd: unknown storage backend kind %q for %q", c.Kind, c.Name)
		}
	}
	return nil, nil
}

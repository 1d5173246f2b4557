package mgmt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/leengari/pgward/internal/basebackup"
	"github.com/leengari/pgward/internal/catalog"
	"github.com/leengari/pgward/internal/config"
	"github.com/leengari/pgward/internal/perr"
	"github.com/leengari/pgward/internal/storage"
	"github.com/leengari/pgward/internal/walstream"
	"github.com/leengari/pgward/internal/workflow"
)

// Dialer opens a fresh replication-protocol session to a configured
// server, past authentication (§4.B: authentication itself is an
// external collaborator). The daemon supplies the concrete dial function;
// mgmt only needs the resulting Session.
type Dialer func(ctx context.Context, srv *config.ServerConfig) (*walstream.Session, error)

// BackupRequest is the payload for CmdBackup (§6 CLI sketch, "backup").
type BackupRequest struct {
	Server      string `json:"server"`
	Incremental bool   `json:"incremental"`
}

// BackupResult is the payload of a successful CmdBackup Response.
type BackupResult struct {
	Label string `json:"label"`
}

// HandleBackup runs one full backup workflow (§4.G base-backup receive,
// §4.J storage upload, §4.D catalog finalize) for req.Server, guarded by
// that server's OpBackup runtime lock (§5: "at most one of each of
// {backup, restore, archive, delete, retention} at a time").
func HandleBackup(ctx context.Context, state *config.ProcessState, dial Dialer, req BackupRequest, logger *slog.Logger) (Response, error) {
	srv := state.Config.Server(req.Server)
	if srv == nil {
		return Response{}, perr.New(perr.BackupNotFound, fmt.Sprintf("unknown server %q", req.Server))
	}
	rt := srv.Runtime()
	if !rt.TryAcquire(config.OpBackup) {
		return Response{}, perr.New(perr.BackupAlreadyActive, fmt.Sprintf("server %q already has an active backup", req.Server))
	}
	defer rt.Release(config.OpBackup)

	label := time.Now().UTC().Format("20060102150405")
	backupDir := filepath.Join(srv.BackupDirectory, "backup", label)
	if err := os.MkdirAll(filepath.Join(backupDir, "data"), 0755); err != nil {
		return Response{}, fmt.Errorf("mgmt: mkdir %s: %w", backupDir, err)
	}

	info := catalog.NewInfo(filepath.Join(backupDir, "backup.info"))
	info.SetString(catalog.KeyLabel, label)
	info.SetString(catalog.KeyServer, srv.Name)
	info.SetInt64(catalog.KeyStatus, int64(catalog.StatusInvalid))

	backupType := catalog.TypeFull
	if req.Incremental {
		cat, err := catalog.Scan(srv.BackupDirectory)
		if err != nil {
			return Response{}, err
		}
		parent, err := cat.Resolve("latest", false)
		if err != nil {
			return Response{}, fmt.Errorf("mgmt: incremental backup requires a prior backup: %w", err)
		}
		backupType = catalog.TypeIncremental
		info.SetString(catalog.KeyParentLabel, parent.Info.Label())
	}
	info.SetString(catalog.KeyType, string(backupType))
	if err := info.Save(); err != nil {
		return Response{}, err
	}

	backend := &catalog.Backup{Dir: backupDir, Info: info}

	nodes := workflow.Nodes{
		storage.NodeServerID:   srv.Name,
		storage.NodeLabel:      label,
		storage.NodeTargetBase: backupDir,
	}

	nodeList := []workflow.Node{receiveNode(srv, dial, label, backupDir, logger)}
	backends, err := buildBackends(state.Config.StorageFor(srv), logger)
	if err != nil {
		return Response{}, err
	}
	for _, b := range backends {
		nodeList = append(nodeList, workflow.StorageNode{Backend: b})
	}
	nodeList = append(nodeList, workflow.CatalogFinalizeNode{Backup: backend})

	wf := workflow.New("backup", nodeList...)
	outcome := wf.Run(ctx, nodes)
	if !outcome.Success() {
		return Response{}, fmt.Errorf("mgmt: backup %s failed: %w", label, outcome.Err)
	}

	data, err := json.Marshal(BackupResult{Label: label})
	if err != nil {
		return Response{}, err
	}
	return Response{Status: true, Data: data}, nil
}

// receiveNode wraps the base-backup receive step (§4.G) as a workflow
// Node: dial a fresh session, issue BASE_BACKUP, and stream every frame
// into a Receiver rooted at backupDir.
func receiveNode(srv *config.ServerConfig, dial Dialer, label, backupDir string, logger *slog.Logger) workflow.Node {
	return workflow.FuncNode{
		NodeName: "base-backup-receive",
		OnExecute: func(ctx context.Context, nodes workflow.Nodes) error {
			sess, err := dial(ctx, srv)
			if err != nil {
				return fmt.Errorf("base-backup-receive: dial: %w", err)
			}
			defer sess.Close()

			if err := sess.StartBaseBackup(label); err != nil {
				return fmt.Errorf("base-backup-receive: %w", err)
			}

			var buckets *basebackup.Buckets
			recv := basebackup.NewReceiver(backupDir, buckets, func(total int64) {
				srv.Runtime().SetProgress(total)
			})
			if err := basebackup.RunStream(sess, recv); err != nil {
				return err
			}
			// No additional tablespaces beyond the primary data directory
			// are tracked at this layer (§4.G's 'n' frames populate them
			// as they arrive); Finish still needs calling to flush the
			// last archive and create the (possibly empty) pg_tblspc link
			// directory.
			return recv.Finish(nil)
		},
	}
}

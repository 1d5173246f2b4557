// Package storage implements the pluggable storage tiering backends of
// §4.J: local (no-op), SSH/SFTP and S3, behind one small capability
// interface the workflow orchestrator (§4.K) drives. The backend shape (a
// name plus setup/execute/teardown lifecycle methods) follows §4.J/§4.K's
// own operation list; no teacher package defines a comparable lifecycle
// type.
package storage

import (
	"context"
)

// Well-known node-map keys a workflow threads through a backend's
// lifecycle (§4.K). Backends only read the keys relevant to them.
const (
	NodeServerID    = "server_id"
	NodeLabel       = "label"
	NodeTargetBase  = "target_base"  // local backup tree root to upload
	NodeTargetRoot  = "target_root"  // per-tablespace materialization root
	NodePriorBase   = "prior_base"   // previous backup's tree, for dedup comparisons
)

// Nodes is the typed map threaded through a workflow's stages (§4.K).
// Values are loosely typed (matching the spec's "typed node-map" note,
// §9: "model as a trait or an array of function pointers with a
// context"); callers type-assert the entries they expect.
type Nodes map[string]any

func (n Nodes) String(key string) string {
	v, _ := n[key].(string)
	return v
}

// Backend is the common storage-tiering interface of §4.J: name, an
// optional session-opening setup, the upload itself, an optional listing
// capability (S3 only), and teardown.
type Backend interface {
	Name() string
	Setup(ctx context.Context, nodes Nodes) error
	Execute(ctx context.Context, nodes Nodes) error
	Teardown(ctx context.Context, nodes Nodes) error
}

// Lister is implemented by backends that can enumerate remote objects
// (S3; §4.J "list(nodes) -> Deque<string> (optional, S3)").
type Lister interface {
	List(ctx context.Context, nodes Nodes) ([]string, error)
}

// FileShipper is the lower-level per-file interface WAL segment shipping
// (§4.H, "WAL files may also be duplicated... to remote storage backends
// synchronously per write") uses directly, beneath the node-map Backend
// interface full backup uploads go through.
type FileShipper interface {
	ShipFile(ctx context.Context, localPath, remoteRelPath string) error
}

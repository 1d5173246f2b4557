// Package config holds the in-memory configuration shape the core expects
// to be handed (§9, "Global state": a single owned ProcessState{Config,
// Servers} constructed once and passed by reference into every
// component). Parsing a YAML/INI file into this shape is explicitly out
// of scope per §1 ("YAML/INI configuration loaders" are external
// collaborators) — this package only defines the struct the CLI's loader
// populates.
package config

import (
	"sync/atomic"

	"github.com/leengari/pgward/internal/pgtypes"
)

// StorageConfig names one configured storage backend and its
// backend-specific settings (§4.J). Only one of the backend-specific
// fields is meaningful per Kind.
type StorageConfig struct {
	Name string
	Kind string // "local", "ssh", "s3"

	// local: BaseDir is the local directory backups already live under.
	// ssh: BaseDir is the remote directory to upload under.
	BaseDir string

	// ssh
	Host     string
	Port     int
	User     string
	KeyPath  string
	Ciphers  []string

	// s3
	Bucket    string
	Region    string
	Endpoint  string // non-empty selects path-style addressing
	AccessKey string
	SecretKey string
}

// ServerConfig is one monitored PostgreSQL server.
type ServerConfig struct {
	Name string
	Host string
	Port int
	User string

	ReplicationSlot string
	WALDirectory     string
	BackupDirectory  string

	SegmentSize int // bytes; default 16 MiB
	WorkerPool  int // size of this server's worker pool (§4.K)

	StorageBackends []string // names referencing Config.Storage

	// runtime, not loaded from any file: per-server active-operation
	// locks, one per concurrent operation class (§5).
	runtime ServerRuntime
}

// Runtime returns this server's shared runtime counters/locks.
func (s *ServerConfig) Runtime() *ServerRuntime { return &s.runtime }

// OperationClass is one of the mutually-exclusive per-server operation
// classes §5 enforces with a compare-and-swap lock.
type OperationClass int

const (
	OpWALStream OperationClass = iota
	OpBackup
	OpRestore
	OpArchive
	OpDelete
	OpRetention
	numOperationClasses
)

// ServerRuntime holds the per-server atomic state §5/§9 describe:
// "shared-memory holds per-server runtime counters (LSN, progress bytes,
// booleans). Only the owning worker/process writes its own server's
// slot." Modeled here as one process's in-memory view of that state,
// since the on-disk/mmap multi-process variant is explicitly out of
// scope (§9).
type ServerRuntime struct {
	active   [numOperationClasses]atomic.Bool
	lsn      atomic.Uint64
	progress atomic.Int64
}

// TryAcquire attempts to take the named operation's lock, matching §5's
// "repository compare-exchange acquires the lock". It returns false
// (ALREADY_ACTIVE) if another operation of that class is already running.
func (r *ServerRuntime) TryAcquire(class OperationClass) bool {
	return r.active[class].CompareAndSwap(false, true)
}

// Release frees the named operation's lock unconditionally: it does not
// track which caller acquired it, so calling it after a failed TryAcquire
// frees the lock the other holder took.
func (r *ServerRuntime) Release(class OperationClass) {
	r.active[class].Store(false)
}

// Active reports whether class is currently held, without acquiring or
// releasing it — for status reporting, where probing via TryAcquire would
// itself mutate the lock it is trying to observe.
func (r *ServerRuntime) Active(class OperationClass) bool {
	return r.active[class].Load()
}

// SetLSN/LSN track the current replication position for status reporting.
func (r *ServerRuntime) SetLSN(lsn pgtypes.LSN) { r.lsn.Store(uint64(lsn)) }
func (r *ServerRuntime) LSN() pgtypes.LSN        { return pgtypes.LSN(r.lsn.Load()) }

// SetProgress/Progress track base-backup bytes-done for status reporting.
func (r *ServerRuntime) SetProgress(n int64) { r.progress.Store(n) }
func (r *ServerRuntime) Progress() int64     { return r.progress.Load() }

// Config is the top-level, fully-resolved in-memory configuration: every
// monitored server plus every declared storage backend.
type Config struct {
	Servers []*ServerConfig
	Storage []*StorageConfig
}

// Server looks up a configured server by name.
func (c *Config) Server(name string) *ServerConfig {
	for _, s := range c.Servers {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// StorageFor resolves a server's configured storage backend names into
// their StorageConfig entries, in declaration order.
func (c *Config) StorageFor(s *ServerConfig) []*StorageConfig {
	out := make([]*StorageConfig, 0, len(s.StorageBackends))
	for _, name := range s.StorageBackends {
		for _, sc := range c.Storage {
			if sc.Name == name {
				out = append(out, sc)
				break
			}
		}
	}
	return out
}

// ProcessState is the single owned instance §9 describes: constructed
// once at process start, passed by reference into every long-running
// component (WAL streaming client, base-backup receiver, storage
// backends, workflow orchestrator).
type ProcessState struct {
	Config *Config
}

// NewProcessState wraps an already-populated Config.
func NewProcessState(cfg *Config) *ProcessState {
	return &ProcessState{Config: cfg}
}

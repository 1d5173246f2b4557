package mgmt

import (
	"encoding/json"
	"fmt"

	"github.com/leengari/pgward/internal/catalog"
	"github.com/leengari/pgward/internal/combine"
	"github.com/leengari/pgward/internal/config"
	"github.com/leengari/pgward/internal/perr"
	"github.com/leengari/pgward/internal/pgtypes"
)

// RestoreRequest is the payload for CmdRestore (§6: "restore").
type RestoreRequest struct {
	Server     string `json:"server"`
	Identifier string `json:"identifier"` // oldest|newest|latest|<label-prefix>
	TargetBase string `json:"target_base"`
	Standby    bool   `json:"standby"`
}

// RestoreResult is the payload of a successful CmdRestore Response.
type RestoreResult struct {
	Label string `json:"label"`
}

// HandleRestore resolves req.Identifier to a backup, walks its chain
// (§4.D), materializes it via incremental combine (§4.I), and writes the
// PostgreSQL-side recovery trigger files (SPEC_FULL.md supplemented
// feature). It assumes the backup chain's files are already resident on
// local storage — fetching a chain from a remote backend first (§4.J's
// "J fetches" in the restore data flow) is this daemon's responsibility
// at a layer above HandleRestore, since the storage.Backend interface as
// built only exposes upload/list, not a generic download (see DESIGN.md).
func HandleRestore(state *config.ProcessState, req RestoreRequest) (Response, error) {
	srv := state.Config.Server(req.Server)
	if srv == nil {
		return Response{}, perr.New(perr.BackupNotFound, fmt.Sprintf("unknown server %q", req.Server))
	}
	rt := srv.Runtime()
	if !rt.TryAcquire(config.OpRestore) {
		return Response{}, perr.New(perr.BackupAlreadyActive, fmt.Sprintf("server %q already has an active restore", req.Server))
	}
	defer rt.Release(config.OpRestore)

	cat, err := catalog.Scan(srv.BackupDirectory)
	if err != nil {
		return Response{}, err
	}
	target, err := cat.Resolve(req.Identifier, false)
	if err != nil {
		return Response{}, err
	}
	chain, err := cat.Chain(target)
	if err != nil {
		return Response{}, err
	}

	if err := combine.Combine(chain, combine.Options{
		Mode:       combine.AsIs,
		TargetBase: req.TargetBase,
		BlockSize:  combine.DefaultBlockSize,
	}); err != nil {
		return Response{}, fmt.Errorf("mgmt: combine %s: %w", target.Info.Label(), err)
	}

	restoreCmd := fmt.Sprintf("pgward restore --server=%s --identifier=latest --target=%%p", srv.Name)
	endTLI, _ := target.Info.GetInt64(catalog.KeyEndTLI)
	if err := combine.WriteRecoverySignal(req.TargetBase, req.Standby, restoreCmd, pgtypes.TimelineID(endTLI)); err != nil {
		return Response{}, fmt.Errorf("mgmt: write recovery signal: %w", err)
	}

	data, err := json.Marshal(RestoreResult{Label: target.Info.Label()})
	if err != nil {
		return Response{}, err
	}
	return Response{Status: true, Data: data}, nil
}

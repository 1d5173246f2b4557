package mgmt

import (
	"encoding/json"
	"fmt"

	"github.com/leengari/pgward/internal/catalog"
	"github.com/leengari/pgward/internal/combine"
	"github.com/leengari/pgward/internal/config"
	"github.com/leengari/pgward/internal/perr"
)

// BackupSummary is one entry of a CmdListBackup response.
type BackupSummary struct {
	Label  string `json:"label"`
	Type   string `json:"type"`
	Parent string `json:"parent,omitempty"`
	Valid  bool   `json:"valid"`
	Keep   bool   `json:"keep"`
}

// HandleListBackup answers CmdListBackup (§6: "list-backup") with every
// backup known for req.Server, in catalog order (chronological, §4.D).
func HandleListBackup(state *config.ProcessState, server string) (Response, error) {
	srv := state.Config.Server(server)
	if srv == nil {
		return Response{}, perr.New(perr.BackupNotFound, fmt.Sprintf("unknown server %q", server))
	}
	cat, err := catalog.Scan(srv.BackupDirectory)
	if err != nil {
		return Response{}, err
	}
	summaries := make([]BackupSummary, 0, len(cat.Backups))
	for _, b := range cat.Backups {
		summaries = append(summaries, BackupSummary{
			Label:  b.Info.Label(),
			Type:   string(b.Info.Type()),
			Parent: b.Info.ParentLabel(),
			Valid:  b.Info.Status() == catalog.StatusValid,
			Keep:   b.Info.Keep(),
		})
	}
	data, err := json.Marshal(summaries)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: true, Data: data}, nil
}

// HandleInfo answers CmdInfo (§6: "info") with one backup's BackupSummary
// (the same fields list-backup reports per backup), resolved by the
// oldest|newest|latest|<prefix> grammar (§4.D).
func HandleInfo(state *config.ProcessState, server, identifier string) (Response, error) {
	b, cat, err := resolveBackup(state, server, identifier, true)
	if err != nil {
		return Response{}, err
	}
	_ = cat
	data, err := json.Marshal(BackupSummary{
		Label:  b.Info.Label(),
		Type:   string(b.Info.Type()),
		Parent: b.Info.ParentLabel(),
		Valid:  b.Info.Status() == catalog.StatusValid,
		Keep:   b.Info.Keep(),
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Status: true, Data: data}, nil
}

// DeleteRequest is the payload for CmdDelete (§6: "delete").
type DeleteRequest struct {
	Server     string `json:"server"`
	Identifier string `json:"identifier"`
	Force      bool   `json:"force"`
}

// HandleDelete answers CmdDelete, refusing a KEEP=true backup unless
// Force is set (§4.D retention invariant).
func HandleDelete(state *config.ProcessState, req DeleteRequest) (Response, error) {
	b, cat, err := resolveBackup(state, req.Server, req.Identifier, true)
	if err != nil {
		return Response{}, err
	}
	if err := cat.Delete(b, req.Force); err != nil {
		return Response{}, err
	}
	return Response{Status: true}, nil
}

// RetentionRequest is the shared payload for CmdRetain/CmdExpunge.
type RetentionRequest struct {
	Server     string `json:"server"`
	Identifier string `json:"identifier"`
}

// HandleRetain answers CmdRetain (§6: "retain") by setting KEEP=true.
func HandleRetain(state *config.ProcessState, req RetentionRequest) (Response, error) {
	b, cat, err := resolveBackup(state, req.Server, req.Identifier, true)
	if err != nil {
		return Response{}, err
	}
	if err := cat.Retain(b); err != nil {
		return Response{}, err
	}
	return Response{Status: true}, nil
}

// HandleExpunge answers CmdExpunge (§6: "expunge") by clearing KEEP.
func HandleExpunge(state *config.ProcessState, req RetentionRequest) (Response, error) {
	b, cat, err := resolveBackup(state, req.Server, req.Identifier, true)
	if err != nil {
		return Response{}, err
	}
	if err := cat.Expunge(b); err != nil {
		return Response{}, err
	}
	return Response{Status: true}, nil
}

// ArchiveRequest is the payload for CmdArchive (§6: "archive"), wrapping
// pgmoneta's archive.c on-demand archive command (SPEC_FULL.md
// supplemented feature).
type ArchiveRequest struct {
	Server     string `json:"server"`
	Identifier string `json:"identifier"`
	DestTar    string `json:"dest_tar"`
}

// HandleArchive answers CmdArchive by combining the requested backup's
// chain and tarring the result to DestTar.
func HandleArchive(state *config.ProcessState, req ArchiveRequest) (Response, error) {
	b, cat, err := resolveBackup(state, req.Server, req.Identifier, false)
	if err != nil {
		return Response{}, err
	}
	chain, err := cat.Chain(b)
	if err != nil {
		return Response{}, err
	}
	if err := combine.Archive(chain, req.DestTar); err != nil {
		return Response{}, fmt.Errorf("mgmt: archive %s: %w", b.Info.Label(), err)
	}
	return Response{Status: true}, nil
}

func resolveBackup(state *config.ProcessState, server, identifier string, includeInvalid bool) (*catalog.Backup, *catalog.Catalog, error) {
	srv := state.Config.Server(server)
	if srv == nil {
		return nil, nil, perr.New(perr.BackupNotFound, fmt.Sprintf("unknown server %q", server))
	}
	cat, err := catalog.Scan(srv.BackupDirectory)
	if err != nil {
		return nil, nil, err
	}
	b, err := cat.Resolve(identifier, includeInvalid)
	if err != nil {
		return nil, nil, err
	}
	return b, cat, nil
}

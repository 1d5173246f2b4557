package mgmt

import (
	"encoding/json"
	"fmt"

	"github.com/leengari/pgward/internal/config"
)

// Command identifies the CLI verb a Request carries (§6's CLI sketch).
// pgmoneta's source assigns MANAGEMENT_ERROR_BACKUP_NOFORK and
// MANAGEMENT_ERROR_BACKUP_NOSERVER the same numeric value — a source bug
// §9's REDESIGN FLAGS says not to replicate — so these are a fresh,
// collision-free enumeration instead of a transliteration of the
// original's constants.
type Command int32

const (
	CmdBackup Command = iota + 1
	CmdRestore
	CmdArchive
	CmdVerify
	CmdDelete
	CmdRetain
	CmdExpunge
	CmdInfo
	CmdAnnotate
	CmdListBackup
	CmdStatus
	CmdStatusDetails
	CmdPing
	CmdReload
	CmdConfLs
	CmdConfGet
	CmdConfSet
	CmdDecrypt
	CmdEncrypt
	CmdDecompress
	CmdCompress
	CmdMode
)

var commandNames = map[Command]string{
	CmdBackup:        "backup",
	CmdRestore:       "restore",
	CmdArchive:       "archive",
	CmdVerify:        "verify",
	CmdDelete:        "delete",
	CmdRetain:        "retain",
	CmdExpunge:       "expunge",
	CmdInfo:          "info",
	CmdAnnotate:      "annotate",
	CmdListBackup:    "list-backup",
	CmdStatus:        "status",
	CmdStatusDetails: "status-details",
	CmdPing:          "ping",
	CmdReload:        "reload",
	CmdConfLs:        "conf-ls",
	CmdConfGet:       "conf-get",
	CmdConfSet:       "conf-set",
	CmdDecrypt:       "decrypt",
	CmdEncrypt:       "encrypt",
	CmdDecompress:    "decompress",
	CmdCompress:      "compress",
	CmdMode:          "mode",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("command(%d)", int32(c))
}

// ParseCommand resolves a CLI verb (§6's sketch) back to its Command,
// for the CLI's own argv parsing.
func ParseCommand(verb string) (Command, bool) {
	for c, name := range commandNames {
		if name == verb {
			return c, true
		}
	}
	return 0, false
}

// pingPayload and statusPayload are the "simplest possible
// request/response pairs (no payload / server counters payload)"
// SPEC_FULL.md calls for, since management.c's own wire semantics for
// these were left unspecified by spec.md.
type pingPayload struct {
	OK bool `json:"ok"`
}

type serverStatus struct {
	Name     string `json:"name"`
	LSN      uint64 `json:"lsn"`
	Progress int64  `json:"progress_bytes"`
	Active   []bool `json:"active"` // indexed by config.OperationClass
}

type statusPayload struct {
	Servers []serverStatus `json:"servers"`
}

// HandlePing answers CmdPing with {ok:true} — the daemon reachability
// check the CLI sketch's `ping` verb needs.
func HandlePing() (Response, error) {
	data, err := json.Marshal(pingPayload{OK: true})
	if err != nil {
		return Response{}, err
	}
	return Response{Status: true, Data: data}, nil
}

// HandleStatus answers CmdStatus/CmdStatusDetails with every configured
// server's runtime counters, reading config.ProcessState directly (no
// intermediate summary object) — "details" and non-details differ only
// in Output formatting at the CLI layer, not in payload shape.
func HandleStatus(state *config.ProcessState) (Response, error) {
	var out statusPayload
	for _, s := range state.Config.Servers {
		rt := s.Runtime()
		active := make([]bool, 0, 6)
		for class := config.OpWALStream; class <= config.OpRetention; class++ {
			active = append(active, rt.Active(class))
		}
		out.Servers = append(out.Servers, serverStatus{
			Name:     s.Name,
			LSN:      uint64(rt.LSN()),
			Progress: rt.Progress(),
			Active:   active,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: true, Data: data}, nil
}

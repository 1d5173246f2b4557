package pgwire

import (
	"encoding/binary"

	"github.com/leengari/pgward/internal/perr"
)

// BaseBackupFrame is one decoded base-backup CopyData sub-message (§4.G):
// the server multiplexes tablespace-archive boundaries, manifest bytes,
// data bytes and progress updates through a single CopyData stream tagged
// by its first byte.
type BaseBackupFrame struct {
	Kind byte // 'n', 'm', 'd', or 'p'

	// 'n': new tablespace archive.
	TablespaceName string
	TablespacePath string

	// 'd'/'m': raw bytes for the current archive/manifest.
	Bytes []byte

	// 'p': cumulative bytes-done progress counter.
	Progress int64
}

// DecodeBaseBackupFrame parses one CopyData body from the base-backup
// stream.
func DecodeBaseBackupFrame(body []byte) (BaseBackupFrame, error) {
	if len(body) < 1 {
		return BaseBackupFrame{}, perr.New(perr.ShortData, "empty base-backup CopyData body")
	}
	switch body[0] {
	case 'n':
		name, rest, err := readCString(body[1:])
		if err != nil {
			return BaseBackupFrame{}, err
		}
		path, _, err := readCString(rest)
		if err != nil {
			return BaseBackupFrame{}, err
		}
		return BaseBackupFrame{Kind: 'n', TablespaceName: name, TablespacePath: path}, nil
	case 'm', 'd':
		return BaseBackupFrame{Kind: body[0], Bytes: body[1:]}, nil
	case 'p':
		if len(body) < 9 {
			return BaseBackupFrame{}, perr.New(perr.ShortData, "short progress frame")
		}
		return BaseBackupFrame{Kind: 'p', Progress: int64(binary.BigEndian.Uint64(body[1:9]))}, nil
	default:
		return BaseBackupFrame{}, perr.New(perr.UnexpectedMessageKind, "unrecognized base-backup frame tag")
	}
}

func readCString(b []byte) (string, []byte, error) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], nil
		}
	}
	return "", nil, perr.New(perr.ShortData, "unterminated string in base-backup frame")
}

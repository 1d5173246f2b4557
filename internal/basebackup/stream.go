package basebackup

import (
	"fmt"

	"github.com/leengari/pgward/internal/pgwire"
	"github.com/leengari/pgward/internal/walstream"
)

// RunStream drives sess's already-started BASE_BACKUP CopyOut stream
// (§4.G) into r, one CopyData frame at a time, until the server ends the
// stream with CommandComplete. The caller is responsible for having
// called sess.StartBaseBackup first.
func RunStream(sess *walstream.Session, r *Receiver) error {
	for {
		kind, body, err := sess.NextCopyMessage()
		if err != nil {
			return fmt.Errorf("basebackup: reading stream: %w", err)
		}
		switch kind {
		case pgwire.KindCopyData:
			frame, err := pgwire.DecodeBaseBackupFrame(body)
			if err != nil {
				return fmt.Errorf("basebackup: decode frame: %w", err)
			}
			if err := r.HandleFrame(frame); err != nil {
				return err
			}
		case pgwire.KindCopyDone:
			return sess.AwaitCommandComplete()
		case pgwire.KindErrorResponse:
			fields := pgwire.ErrorResponse(body)
			return fmt.Errorf("basebackup: server error: %s", fields['M'])
		default:
			return fmt.Errorf("basebackup: unexpected frame kind %q", kind)
		}
	}
}

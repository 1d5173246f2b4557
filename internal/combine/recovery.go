package combine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/leengari/pgward/internal/pgtypes"
)

// WriteRecoverySignal supplements §4.I with pgmoneta's wf_restore.c
// behavior (recorded in SPEC_FULL.md's "Supplemented features"): after a
// combine completes, a restored cluster needs PostgreSQL's own recovery
// trigger file plus a postgresql.auto.conf snippet pointing it at the
// right restore_command and target timeline.
func WriteRecoverySignal(targetBase string, standby bool, restoreCommand string, targetTimeline pgtypes.TimelineID) error {
	signalName := "recovery.signal"
	if standby {
		signalName = "standby.signal"
	}
	if err := os.WriteFile(filepath.Join(targetBase, signalName), nil, 0644); err != nil {
		return fmt.Errorf("combine: write %s: %w", signalName, err)
	}

	conf := fmt.Sprintf("restore_command = %q\nrecovery_target_timeline = '%d'\n", restoreCommand, targetTimeline)
	path := filepath.Join(targetBase, "postgresql.auto.conf")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("combine: open %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.WriteString(conf)
	return err
}

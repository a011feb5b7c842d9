package orchestrator

import (
	"log/slog"
	"time"

	"github.com/pinchtab/veilgate/internal/journal"
	"github.com/pinchtab/veilgate/internal/proc"
)

const orphanExitTimeout = 3 * time.Second

// ReapOrphans closes the journal records a crashed run left open and kills
// their processes that are still alive, so their ports are free before the
// first launch. It returns the number of records closed.
func ReapOrphans(j *journal.Journal) (int, error) {
	orphans, err := j.MarkOrphans(journal.ReasonCrashed)
	if err != nil {
		return 0, err
	}
	for _, rec := range orphans {
		for _, pid := range rec.PIDs() {
			if !proc.IsProcessAlive(pid) {
				continue
			}
			slog.Warn("killing process left by a previous run", "profile", rec.ProfileID, "session", rec.ID, "pid", pid)
			if err := proc.KillPID(pid); err != nil {
				slog.Warn("kill orphaned process failed", "pid", pid, "err", err)
				continue
			}
			if !proc.WaitForExit(pid, orphanExitTimeout) {
				slog.Warn("orphaned process still alive after kill", "pid", pid)
			}
		}
	}
	return len(orphans), nil
}

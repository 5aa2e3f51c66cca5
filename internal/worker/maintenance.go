package worker

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// orphanMaxAge is how long an unowned job directory may sit in the
	// temp root before the sweeper removes it. Directories for in-flight
	// jobs are exempt regardless of age.
	orphanMaxAge = 2 * time.Hour

	sweepSchedule = "@every 15m"
)

// startMaintenance schedules the orphan sweep and returns a stop func.
func (w *Worker) startMaintenance() func() {
	c := cron.New()
	_, err := c.AddFunc(sweepSchedule, w.sweepOrphans)
	if err != nil {
		// The schedule is a constant; this only fires on a bad edit.
		w.logger.Error("maintenance schedule rejected", slog.String("error", err.Error()))
		return func() {}
	}
	c.Start()
	return func() { <-c.Stop().Done() }
}

func (w *Worker) sweepOrphans() {
	removed, err := w.workspace.SweepOrphans(orphanMaxAge, w.activeJobs())
	if err != nil {
		w.logger.Warn("orphan sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		w.logger.Info("orphan sweep removed stale job directories", slog.Int("removed", removed))
	}
}

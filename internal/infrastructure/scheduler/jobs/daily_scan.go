package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/queue"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY SCAN JOB
// ══════════════════════════════════════════════════════════════════════════════

// StaleAfter is how old an analysis may get before the daily scan re-queues
// the student.
const StaleAfter = 7 * 24 * time.Hour

// DailyScanJob finds profiles whose last analysis has gone stale and enqueues
// a fresh analysis for each. The scan itself only reads IDs; the scoring work
// runs on the queue workers.
type DailyScanJob struct {
	profiles risk.ProfileRepository
	tasks    queue.Queue
	log      *logger.Logger
}

// NewDailyScanJob creates the daily scan job.
func NewDailyScanJob(profiles risk.ProfileRepository, tasks queue.Queue, log *logger.Logger) *DailyScanJob {
	return &DailyScanJob{profiles: profiles, tasks: tasks, log: log}
}

// Name implements scheduler.Job.
func (j *DailyScanJob) Name() string { return "daily_scan" }

// Description implements scheduler.Job.
func (j *DailyScanJob) Description() string {
	return "Re-enqueue analysis for profiles whose last analysis went stale"
}

// Run enqueues one analysis task per stale profile of the current academic
// year. Individual failures are logged and skipped so one bad profile cannot
// starve the rest of the scan.
func (j *DailyScanJob) Run(ctx context.Context) error {
	year := shared.AcademicYear(timeutil.AcademicYearOf(timeutil.Now()))
	cutoff := timeutil.Now().Add(-StaleAfter)

	ids, err := j.profiles.ListStale(ctx, year, cutoff)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, id := range ids {
		profile, err := j.profiles.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue // purged between listing and fetch
			}
			j.log.Warn("daily scan: skipping profile",
				logger.ProfileID(id), logger.Err(err))
			continue
		}

		task := newTask(ctx, queue.TaskAnalyzeStudent, map[string]string{
			queue.ArgStudentID:    profile.StudentID,
			queue.ArgAcademicYear: string(year),
		})
		if err := j.tasks.Enqueue(ctx, task); err != nil {
			j.log.Error("daily scan: enqueue failed",
				logger.StudentID(profile.StudentID), logger.Err(err))
			continue
		}
		enqueued++
	}

	j.log.Info("daily scan complete",
		logger.AcademicYear(string(year)),
		logger.Int("stale", len(ids)),
		logger.Int("enqueued", enqueued))
	return nil
}

package jobs

import (
	"context"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/queue"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKFILL PROFILES JOB
// ══════════════════════════════════════════════════════════════════════════════

// BackfillProfilesJob creates bare risk profiles for actively enrolled
// students that have none yet, then enqueues their first analysis. New
// enrollments arriving mid-year are picked up by the next run.
type BackfillProfilesJob struct {
	enrollment feature.EnrollmentSource
	profiles   risk.ProfileRepository
	tasks      queue.Queue
	log        *logger.Logger
}

// NewBackfillProfilesJob creates the backfill job.
func NewBackfillProfilesJob(
	enrollment feature.EnrollmentSource,
	profiles risk.ProfileRepository,
	tasks queue.Queue,
	log *logger.Logger,
) *BackfillProfilesJob {
	return &BackfillProfilesJob{
		enrollment: enrollment,
		profiles:   profiles,
		tasks:      tasks,
		log:        log,
	}
}

// Name implements scheduler.Job.
func (j *BackfillProfilesJob) Name() string { return "backfill_profiles" }

// Description implements scheduler.Job.
func (j *BackfillProfilesJob) Description() string {
	return "Create missing risk profiles for actively enrolled students"
}

// Run backfills the current academic year.
func (j *BackfillProfilesJob) Run(ctx context.Context) error {
	year := shared.AcademicYear(timeutil.AcademicYearOf(timeutil.Now()))

	students, err := j.enrollment.WithoutProfile(ctx, year)
	if err != nil {
		return err
	}

	created := 0
	for _, studentID := range students {
		if _, err := j.profiles.GetOrCreate(ctx, studentID, year); err != nil {
			j.log.Warn("backfill: profile creation failed",
				logger.StudentID(studentID), logger.Err(err))
			continue
		}

		task := newTask(ctx, queue.TaskAnalyzeStudent, map[string]string{
			queue.ArgStudentID:    studentID,
			queue.ArgAcademicYear: string(year),
		})
		if err := j.tasks.Enqueue(ctx, task); err != nil {
			j.log.Error("backfill: enqueue failed",
				logger.StudentID(studentID), logger.Err(err))
			continue
		}
		created++
	}

	j.log.Info("profile backfill complete",
		logger.AcademicYear(string(year)),
		logger.Int("missing", len(students)),
		logger.Int("created", created))
	return nil
}

package jobs

import (
	"context"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP ALERTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// AlertRetention is how long acknowledged alerts are kept before the monthly
// purge removes them.
const AlertRetention = 30 * 24 * time.Hour

// CleanupAlertsJob purges acknowledged alerts past their retention window.
// Unacknowledged alerts are never touched.
type CleanupAlertsJob struct {
	alerts alert.Repository
	log    *logger.Logger
}

// NewCleanupAlertsJob creates the alert cleanup job.
func NewCleanupAlertsJob(alerts alert.Repository, log *logger.Logger) *CleanupAlertsJob {
	return &CleanupAlertsJob{alerts: alerts, log: log}
}

// Name implements scheduler.Job.
func (j *CleanupAlertsJob) Name() string { return "cleanup_alerts" }

// Description implements scheduler.Job.
func (j *CleanupAlertsJob) Description() string {
	return "Purge acknowledged alerts past the retention window"
}

// Run deletes acknowledged alerts older than the retention window.
func (j *CleanupAlertsJob) Run(ctx context.Context) error {
	cutoff := timeutil.Now().Add(-AlertRetention)
	purged, err := j.alerts.PurgeAcknowledgedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	j.log.Info("alert cleanup complete", logger.Int("purged", purged))
	return nil
}

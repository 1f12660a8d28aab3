package alert

import (
	"context"
	"time"
)

// Repository is the persistence port for alerts.
type Repository interface {
	// CreateIfNotInCooldown checks the cooldown for (profile, config) and
	// inserts the alert in the same transaction. It returns false when a
	// previous alert for the pair is younger than the cooldown.
	CreateIfNotInCooldown(ctx context.Context, a *Alert, cooldown time.Duration) (bool, error)

	// GetByID returns an alert, or ErrAlertNotFound.
	GetByID(ctx context.Context, id string) (*Alert, error)

	// LatestForPair returns the most recent alert for (profile, config),
	// or nil when none exists.
	LatestForPair(ctx context.Context, profileID, configID string) (*Alert, error)

	// Acknowledge persists an acknowledgement. The update is conditional on
	// the alert being unacknowledged; a lost race returns ErrAlreadyAcknowledged.
	Acknowledge(ctx context.Context, alertID, userID, notes string) error

	// AppendOutcome persists one notification delivery outcome.
	AppendOutcome(ctx context.Context, alertID string, outcome ChannelOutcome) error

	// ListUnacknowledged returns open alerts for triage, most urgent first.
	ListUnacknowledged(ctx context.Context, limit int) ([]*Alert, error)

	// PurgeAcknowledgedBefore deletes acknowledged alerts older than the
	// cutoff and returns how many were removed.
	PurgeAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ConfigurationRepository is the persistence port for alert rules.
type ConfigurationRepository interface {
	// ListActive returns active configurations for the tenant.
	ListActive(ctx context.Context) ([]*Configuration, error)

	// GetByID returns a configuration, or ErrConfigNotFound.
	GetByID(ctx context.Context, id string) (*Configuration, error)

	// FlagForReview marks a configuration whose template or conditions are
	// malformed, so it is skipped until staff fix it.
	FlagForReview(ctx context.Context, configID string, reason string) error
}

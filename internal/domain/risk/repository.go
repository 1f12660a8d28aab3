package risk

import (
	"context"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// ProfileRepository is the persistence port for risk profiles.
// Implementations must make GetOrCreate race-safe under the unique
// (tenant, student, academic_year) constraint.
type ProfileRepository interface {
	// GetOrCreate returns the profile for (student, year), creating a bare
	// one with zeroed scores if it does not exist.
	GetOrCreate(ctx context.Context, studentID string, year shared.AcademicYear) (*Profile, error)

	// GetByID returns a profile by its ID, or ErrProfileNotFound.
	GetByID(ctx context.Context, id string) (*Profile, error)

	// GetByStudent returns the profile for (student, year), or ErrProfileNotFound.
	GetByStudent(ctx context.Context, studentID string, year shared.AcademicYear) (*Profile, error)

	// UpdateFromScoring persists the scores, factors, indicators and
	// recommendations of one analysis pass as a single atomic write.
	UpdateFromScoring(ctx context.Context, profile *Profile) error

	// MergeIndicators persists a partial indicator map update (pattern
	// markers, triggered indicators) without touching scores.
	MergeIndicators(ctx context.Context, profileID string, patch map[string]interface{}) error

	// SetMonitoring persists the monitoring flags of the profile.
	SetMonitoring(ctx context.Context, profile *Profile) error

	// ListByStudents returns existing profiles for the given students and year.
	// Missing students are simply absent from the result.
	ListByStudents(ctx context.Context, studentIDs []string, year shared.AcademicYear) ([]*Profile, error)

	// ListMonitored returns all monitored profiles for the year.
	ListMonitored(ctx context.Context, year shared.AcademicYear) ([]*Profile, error)

	// ListStale returns profile IDs whose last analysis is older than the
	// cutoff (or has never run), for the daily re-scan.
	ListStale(ctx context.Context, year shared.AcademicYear, cutoff time.Time) ([]string, error)

	// ListAtLeast returns profiles at or above the given level.
	ListAtLeast(ctx context.Context, year shared.AcademicYear, level Level) ([]*Profile, error)

	// WithAnalysisLock runs fn while holding the per-profile analysis lock,
	// serializing concurrent analyses of the same profile.
	WithAnalysisLock(ctx context.Context, profileID string, fn func(ctx context.Context) error) error
}

// IndicatorRepository is the persistence port for configured indicators.
type IndicatorRepository interface {
	// ListActive returns active indicators for the tenant.
	ListActive(ctx context.Context) ([]*Indicator, error)

	// FlagForReview marks a custom indicator whose expression violated the
	// sandbox, so staff can fix or disable it.
	FlagForReview(ctx context.Context, indicatorID string, reason string) error
}

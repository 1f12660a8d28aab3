package intervention

import (
	"context"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// Repository is the persistence port for intervention plans.
type Repository interface {
	// GetByID returns a plan, or ErrPlanNotFound.
	GetByID(ctx context.Context, id string) (*Plan, error)

	// ListByProfile returns the plans attached to a profile, newest first.
	ListByProfile(ctx context.Context, profileID string) ([]*Plan, error)

	// ListEvaluable returns active and completed plans due for an
	// effectiveness evaluation in the given year.
	ListEvaluable(ctx context.Context, year shared.AcademicYear) ([]*Plan, error)

	// UpdateStatus persists a lifecycle transition.
	UpdateStatus(ctx context.Context, plan *Plan) error

	// RecordEvaluation persists the effectiveness score and outcomes text.
	RecordEvaluation(ctx context.Context, plan *Plan) error
}

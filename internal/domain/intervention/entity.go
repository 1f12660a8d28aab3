// Package intervention contains intervention plans built by staff for at-risk
// students and the state machine governing their lifecycle. The effectiveness
// evaluation itself lives in the application layer; this package only models
// the plan aggregate.
package intervention

import (
	"fmt"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// Status is the plan lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// canTransition encodes the allowed state machine edges.
func canTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// Action is one planned step within an intervention plan.
type Action struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Responsible string     `json:"responsible"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Impact      string     `json:"impact,omitempty"` // free-text follow-up note
}

// Plan is the intervention aggregate attached to a risk profile.
type Plan struct {
	ID        string
	TenantID  shared.TenantID
	ProfileID string

	Status      Status
	StartDate   time.Time
	EndDate     *time.Time // planned end, nil for open-ended plans
	ActualEnd   *time.Time
	Coordinator string

	Participants    []string
	Objectives      []string
	Actions         []Action
	SuccessCriteria []string

	// Evaluation outputs, written by the effectiveness evaluator.
	EffectivenessScore *float64 // [0,10]
	Outcomes           string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the plan invariants.
func (p *Plan) Validate() error {
	if !p.Status.IsValid() {
		return shared.WrapError("intervention", "Validate", shared.ErrValidation,
			fmt.Sprintf("unknown status %q", p.Status), nil)
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return shared.WrapError("intervention", "Validate", shared.ErrValidation,
			"end_date before start_date", nil)
	}
	if p.EffectivenessScore != nil && (*p.EffectivenessScore < 0 || *p.EffectivenessScore > 10) {
		return shared.WrapError("intervention", "Validate", shared.ErrValidation,
			fmt.Sprintf("effectiveness score outside [0,10]: %.2f", *p.EffectivenessScore), nil)
	}
	return nil
}

// Transition moves the plan to a new status, enforcing the state machine.
func (p *Plan) Transition(to Status) error {
	if !canTransition(p.Status, to) {
		return shared.WrapError("intervention", "Transition", shared.ErrStateTransition,
			fmt.Sprintf("cannot move plan from %s to %s", p.Status, to), nil)
	}
	p.Status = to
	now := time.Now().UTC()
	if to == StatusCompleted || to == StatusCancelled {
		p.ActualEnd = &now
	}
	p.UpdatedAt = now
	return nil
}

// Evaluable reports whether the plan is in a state where effectiveness can
// be evaluated: active past its start, or completed.
func (p *Plan) Evaluable() bool {
	return p.Status == StatusActive || p.Status == StatusCompleted
}

// EvaluationEnd returns the reference date ending the intervention period:
// the actual end when the plan completed, otherwise the planned end, otherwise
// now for open-ended active plans.
func (p *Plan) EvaluationEnd(now time.Time) time.Time {
	if p.ActualEnd != nil {
		return *p.ActualEnd
	}
	if p.EndDate != nil && p.EndDate.Before(now) {
		return *p.EndDate
	}
	return now
}

// RecordEvaluation stores the evaluator's outputs on the aggregate.
func (p *Plan) RecordEvaluation(score float64, outcomes string) {
	p.EffectivenessScore = &score
	p.Outcomes = outcomes
	p.UpdatedAt = time.Now().UTC()
}

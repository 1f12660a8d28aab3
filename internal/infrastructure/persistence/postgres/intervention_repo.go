package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/intervention"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// InterventionRepo implements intervention.Repository over PostgreSQL.
type InterventionRepo struct {
	conn *Connection
}

// NewInterventionRepo creates a new intervention plan repository.
func NewInterventionRepo(conn *Connection) *InterventionRepo {
	return &InterventionRepo{conn: conn}
}

const planColumns = `
	p.id, p.tenant_id, p.profile_id, p.status,
	p.start_date, p.end_date, p.actual_end_date, p.coordinator,
	p.participants, p.objectives, p.actions, p.success_criteria,
	p.effectiveness_score, p.outcomes, p.created_at, p.updated_at`

// GetByID returns a plan by ID.
func (r *InterventionRepo) GetByID(ctx context.Context, id string) (*intervention.Plan, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	row := r.conn.QueryRow(ctx,
		"SELECT "+planColumns+" FROM intervention_plans p WHERE p.id = $1 AND p.tenant_id = $2",
		id, tenant.String())
	plan, err := scanPlan(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPlanNotFound
		}
		return nil, wrapTransient("GetByID", err)
	}
	return plan, nil
}

// ListByProfile returns the plans attached to a profile, newest first.
func (r *InterventionRepo) ListByProfile(ctx context.Context, profileID string) ([]*intervention.Plan, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+planColumns+` FROM intervention_plans p
		WHERE p.profile_id = $1 AND p.tenant_id = $2
		ORDER BY p.created_at DESC`, profileID, tenant.String())
	if err != nil {
		return nil, wrapTransient("ListByProfile", err)
	}
	defer rows.Close()
	return collectPlans(rows)
}

// ListEvaluable returns active and completed plans for profiles in the given
// year that have no effectiveness score yet.
func (r *InterventionRepo) ListEvaluable(ctx context.Context, year shared.AcademicYear) ([]*intervention.Plan, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+planColumns+` FROM intervention_plans p
		JOIN risk_profiles rp ON rp.id = p.profile_id
		WHERE p.tenant_id = $1
		  AND rp.academic_year = $2
		  AND p.status IN ('active', 'completed')
		  AND p.effectiveness_score IS NULL
		ORDER BY p.start_date`, tenant.String(), year.String())
	if err != nil {
		return nil, wrapTransient("ListEvaluable", err)
	}
	defer rows.Close()
	return collectPlans(rows)
}

// UpdateStatus persists a lifecycle transition.
func (r *InterventionRepo) UpdateStatus(ctx context.Context, plan *intervention.Plan) error {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return err
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE intervention_plans
		SET status = $3, actual_end_date = $4, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`,
		plan.ID, tenant.String(), string(plan.Status), plan.ActualEnd)
	if err != nil {
		return wrapTransient("UpdateStatus", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrPlanNotFound
	}
	return nil
}

// RecordEvaluation persists the effectiveness score and outcomes text.
func (r *InterventionRepo) RecordEvaluation(ctx context.Context, plan *intervention.Plan) error {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return err
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE intervention_plans
		SET effectiveness_score = $3, outcomes = $4, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`,
		plan.ID, tenant.String(), plan.EffectivenessScore, plan.Outcomes)
	if err != nil {
		return wrapTransient("RecordEvaluation", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrPlanNotFound
	}
	return nil
}

func collectPlans(rows pgx.Rows) ([]*intervention.Plan, error) {
	var out []*intervention.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, wrapTransient("scanPlan", err)
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

func scanPlan(row pgx.Row) (*intervention.Plan, error) {
	var (
		plan         intervention.Plan
		tenant       string
		status       string
		participants []byte
		objectives   []byte
		actions      []byte
		criteria     []byte
	)
	err := row.Scan(
		&plan.ID, &tenant, &plan.ProfileID, &status,
		&plan.StartDate, &plan.EndDate, &plan.ActualEnd, &plan.Coordinator,
		&participants, &objectives, &actions, &criteria,
		&plan.EffectivenessScore, &plan.Outcomes, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	plan.TenantID = shared.TenantID(tenant)
	plan.Status = intervention.Status(status)
	if err := json.Unmarshal(participants, &plan.Participants); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(objectives, &plan.Objectives); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actions, &plan.Actions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(criteria, &plan.SuccessCriteria); err != nil {
		return nil, err
	}
	return &plan, nil
}

package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// IndicatorRepo implements risk.IndicatorRepository over PostgreSQL.
type IndicatorRepo struct {
	conn *Connection
}

// NewIndicatorRepo creates a new indicator repository.
func NewIndicatorRepo(conn *Connection) *IndicatorRepo {
	return &IndicatorRepo{conn: conn}
}

const indicatorColumns = `
	id, tenant_id, name, indicator_type,
	threshold_value, threshold_operator, weight, expression,
	applicable_levels, active, flagged_for_review, created_at, updated_at`

// ListActive returns active indicators for the tenant.
func (r *IndicatorRepo) ListActive(ctx context.Context) ([]*risk.Indicator, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+indicatorColumns+` FROM risk_indicators
		WHERE tenant_id = $1 AND active
		ORDER BY created_at`, tenant.String())
	if err != nil {
		return nil, wrapTransient("ListActive", err)
	}
	defer rows.Close()

	var out []*risk.Indicator
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, wrapTransient("ListActive", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// FlagForReview marks an indicator whose expression misbehaved.
func (r *IndicatorRepo) FlagForReview(ctx context.Context, indicatorID string, reason string) error {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return err
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE risk_indicators
		SET flagged_for_review = TRUE, review_reason = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`, indicatorID, tenant.String(), reason)
	if err != nil {
		return wrapTransient("FlagForReview", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.WrapError("risk", "FlagForReview", shared.ErrNotFound,
			"indicator not found", nil)
	}
	return nil
}

func scanIndicator(row pgx.Row) (*risk.Indicator, error) {
	var (
		ind      risk.Indicator
		tenant   string
		indType  string
		operator string
		levels   []byte
	)
	err := row.Scan(
		&ind.ID, &tenant, &ind.Name, &indType,
		&ind.Threshold, &operator, &ind.Weight, &ind.Expression,
		&levels, &ind.Active, &ind.FlaggedForReview, &ind.CreatedAt, &ind.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ind.TenantID = shared.TenantID(tenant)
	ind.Type = risk.IndicatorType(indType)
	ind.Operator = risk.Operator(operator)
	if err := json.Unmarshal(levels, &ind.ApplicableLevels); err != nil {
		return nil, err
	}
	return &ind, nil
}

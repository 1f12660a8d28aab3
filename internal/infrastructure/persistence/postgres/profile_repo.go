package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// ProfileRepo implements risk.ProfileRepository over PostgreSQL.
// The tenant always comes from context; there is no ambient tenant state.
type ProfileRepo struct {
	conn *Connection
}

// NewProfileRepo creates a new profile repository.
func NewProfileRepo(conn *Connection) *ProfileRepo {
	return &ProfileRepo{conn: conn}
}

const profileColumns = `
	id, tenant_id, student_id, academic_year,
	risk_score, risk_level, academic_risk, attendance_risk, behavioral_risk, social_risk,
	dropout_probability, predicted_final_average,
	risk_factors, indicators, recommendations, priority_actions,
	is_monitored, monitoring_started, assigned_to,
	last_analysis, analysis_version, created_at, updated_at`

// GetOrCreate returns the (student, year) profile, creating a bare one if
// needed. The unique constraint makes the create race-safe: a losing insert
// falls back to reading the winner's row.
func (r *ProfileRepo) GetOrCreate(ctx context.Context, studentID string, year shared.AcademicYear) (*risk.Profile, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}

	profile, err := r.GetByStudent(ctx, studentID, year)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	fresh := risk.NewProfile(uuid.NewString(), tenant, studentID, year)
	query := `
		INSERT INTO risk_profiles (id, tenant_id, student_id, academic_year, risk_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = r.conn.Exec(ctx, query,
		fresh.ID, tenant.String(), studentID, year.String(),
		string(fresh.RiskLevel), fresh.CreatedAt, fresh.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return r.GetByStudent(ctx, studentID, year)
		}
		return nil, wrapTransient("GetOrCreate", err)
	}
	return fresh, nil
}

// GetByID returns a profile by ID.
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*risk.Profile, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM risk_profiles WHERE id = $1 AND tenant_id = $2", profileColumns)
	return r.scanOne(r.conn.QueryRow(ctx, query, id, tenant.String()))
}

// GetByStudent returns the profile for (student, year).
func (r *ProfileRepo) GetByStudent(ctx context.Context, studentID string, year shared.AcademicYear) (*risk.Profile, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM risk_profiles
		WHERE tenant_id = $1 AND student_id = $2 AND academic_year = $3`, profileColumns)
	return r.scanOne(r.conn.QueryRow(ctx, query, tenant.String(), studentID, year.String()))
}

// UpdateFromScoring persists one analysis pass as a single atomic write.
func (r *ProfileRepo) UpdateFromScoring(ctx context.Context, p *risk.Profile) error {
	factors, err := json.Marshal(p.RiskFactors)
	if err != nil {
		return shared.WrapError("risk", "UpdateFromScoring", shared.ErrValidation, "encoding risk factors", err)
	}
	indicators, err := json.Marshal(p.Indicators)
	if err != nil {
		return shared.WrapError("risk", "UpdateFromScoring", shared.ErrValidation, "encoding indicators", err)
	}
	recs, err := json.Marshal(p.Recommendations)
	if err != nil {
		return shared.WrapError("risk", "UpdateFromScoring", shared.ErrValidation, "encoding recommendations", err)
	}
	actions, err := json.Marshal(p.PriorityActions)
	if err != nil {
		return shared.WrapError("risk", "UpdateFromScoring", shared.ErrValidation, "encoding priority actions", err)
	}

	query := `
		UPDATE risk_profiles SET
			risk_score = $3, risk_level = $4,
			academic_risk = $5, attendance_risk = $6, behavioral_risk = $7, social_risk = $8,
			dropout_probability = $9, predicted_final_average = $10,
			risk_factors = $11, indicators = $12, recommendations = $13, priority_actions = $14,
			last_analysis = $15, analysis_version = $16, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`
	tag, err := r.conn.Exec(ctx, query,
		p.ID, p.TenantID.String(),
		p.RiskScore, string(p.RiskLevel),
		p.AcademicRisk, p.AttendanceRisk, p.BehavioralRisk, p.SocialRisk,
		p.DropoutProbability, p.PredictedFinalAverage,
		factors, indicators, recs, actions,
		p.LastAnalysis, p.AnalysisVersion)
	if err != nil {
		return wrapTransient("UpdateFromScoring", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProfileNotFound
	}
	return nil
}

// MergeIndicators folds a partial indicator patch into the JSONB column
// without touching the scores.
func (r *ProfileRepo) MergeIndicators(ctx context.Context, profileID string, patch map[string]interface{}) error {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(patch)
	if err != nil {
		return shared.WrapError("risk", "MergeIndicators", shared.ErrValidation, "encoding patch", err)
	}
	query := `
		UPDATE risk_profiles
		SET indicators = indicators || $3::jsonb, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`
	tag, err := r.conn.Exec(ctx, query, profileID, tenant.String(), encoded)
	if err != nil {
		return wrapTransient("MergeIndicators", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProfileNotFound
	}
	return nil
}

// SetMonitoring persists the monitoring flags.
func (r *ProfileRepo) SetMonitoring(ctx context.Context, p *risk.Profile) error {
	query := `
		UPDATE risk_profiles
		SET is_monitored = $3, monitoring_started = $4, assigned_to = $5, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`
	tag, err := r.conn.Exec(ctx, query,
		p.ID, p.TenantID.String(), p.IsMonitored, p.MonitoringStarted, p.AssignedTo)
	if err != nil {
		return wrapTransient("SetMonitoring", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProfileNotFound
	}
	return nil
}

// ListByStudents returns existing profiles for the given students and year.
func (r *ProfileRepo) ListByStudents(ctx context.Context, studentIDs []string, year shared.AcademicYear) ([]*risk.Profile, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM risk_profiles
		WHERE tenant_id = $1 AND academic_year = $2 AND student_id = ANY($3)`, profileColumns)
	rows, err := r.conn.Query(ctx, query, tenant.String(), year.String(), studentIDs)
	if err != nil {
		return nil, wrapTransient("ListByStudents", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListMonitored returns all monitored profiles for the year.
func (r *ProfileRepo) ListMonitored(ctx context.Context, year shared.AcademicYear) ([]*risk.Profile, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM risk_profiles
		WHERE tenant_id = $1 AND academic_year = $2 AND is_monitored
		ORDER BY risk_score DESC`, profileColumns)
	rows, err := r.conn.Query(ctx, query, tenant.String(), year.String())
	if err != nil {
		return nil, wrapTransient("ListMonitored", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// ListStale returns profile IDs due for the daily re-scan.
func (r *ProfileRepo) ListStale(ctx context.Context, year shared.AcademicYear, cutoff time.Time) ([]string, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT id FROM risk_profiles
		WHERE tenant_id = $1 AND academic_year = $2
		  AND (last_analysis IS NULL OR last_analysis < $3)`
	rows, err := r.conn.Query(ctx, query, tenant.String(), year.String(), cutoff)
	if err != nil {
		return nil, wrapTransient("ListStale", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapTransient("ListStale", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAtLeast returns profiles at or above the given level.
func (r *ProfileRepo) ListAtLeast(ctx context.Context, year shared.AcademicYear, level risk.Level) ([]*risk.Profile, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	var levels []string
	for _, l := range []risk.Level{risk.LevelVeryLow, risk.LevelLow, risk.LevelModerate, risk.LevelHigh, risk.LevelCritical} {
		if l.AtLeast(level) {
			levels = append(levels, l.String())
		}
	}
	query := fmt.Sprintf(`
		SELECT %s FROM risk_profiles
		WHERE tenant_id = $1 AND academic_year = $2 AND risk_level = ANY($3)
		ORDER BY risk_score DESC`, profileColumns)
	rows, err := r.conn.Query(ctx, query, tenant.String(), year.String(), levels)
	if err != nil {
		return nil, wrapTransient("ListAtLeast", err)
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// WithAnalysisLock serializes concurrent analyses of one profile through a
// session-level advisory lock on a 64-bit hash of the profile ID. The lock
// is held on a dedicated pooled connection for the whole C1→C7 pass.
func (r *ProfileRepo) WithAnalysisLock(ctx context.Context, profileID string, fn func(ctx context.Context) error) error {
	poolConn, err := r.conn.Pool().Acquire(ctx)
	if err != nil {
		return wrapTransient("WithAnalysisLock", err)
	}
	defer poolConn.Release()

	key := advisoryKey(profileID)
	if _, err := poolConn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return wrapTransient("WithAnalysisLock", err)
	}
	defer func() {
		// Unlock on a fresh context: the job context may already be done.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = poolConn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", key)
	}()

	return fn(ctx)
}

// advisoryKey hashes a profile ID into the advisory-lock keyspace.
func advisoryKey(profileID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("risk_profile:" + profileID))
	return int64(h.Sum64())
}

// ─────────────────────────────────────────────────────────────────────────────
// Row mapping
// ─────────────────────────────────────────────────────────────────────────────

func (r *ProfileRepo) scanOne(row pgx.Row) (*risk.Profile, error) {
	p, err := scanProfile(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProfileNotFound
		}
		return nil, wrapTransient("scan", err)
	}
	return p, nil
}

func (r *ProfileRepo) scanAll(rows pgx.Rows) ([]*risk.Profile, error) {
	var out []*risk.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, wrapTransient("scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (*risk.Profile, error) {
	var (
		p          risk.Profile
		tenant     string
		year       string
		level      string
		factors    []byte
		indicators []byte
		recs       []byte
		actions    []byte
	)
	err := row.Scan(
		&p.ID, &tenant, &p.StudentID, &year,
		&p.RiskScore, &level, &p.AcademicRisk, &p.AttendanceRisk, &p.BehavioralRisk, &p.SocialRisk,
		&p.DropoutProbability, &p.PredictedFinalAverage,
		&factors, &indicators, &recs, &actions,
		&p.IsMonitored, &p.MonitoringStarted, &p.AssignedTo,
		&p.LastAnalysis, &p.AnalysisVersion, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.TenantID = shared.TenantID(tenant)
	p.AcademicYear = shared.AcademicYear(year)
	p.RiskLevel = risk.Level(level)

	if err := json.Unmarshal(factors, &p.RiskFactors); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(indicators, &p.Indicators); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recs, &p.Recommendations); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actions, &p.PriorityActions); err != nil {
		return nil, err
	}
	return &p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Shared helpers
// ─────────────────────────────────────────────────────────────────────────────

func tenantOf(ctx context.Context) (shared.TenantID, error) {
	tenant, ok := shared.TenantFromContext(ctx)
	if !ok {
		return "", shared.WrapError("risk", "tenant", shared.ErrConfiguration,
			"no tenant in context", nil)
	}
	return tenant, nil
}

func wrapTransient(op string, err error) error {
	return shared.WrapError("risk", op, shared.ErrTransient, "postgres", err)
}

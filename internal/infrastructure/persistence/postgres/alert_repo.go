package postgres

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// AlertRepo implements alert.Repository over PostgreSQL.
type AlertRepo struct {
	conn *Connection
}

// NewAlertRepo creates a new alert repository.
func NewAlertRepo(conn *Connection) *AlertRepo {
	return &AlertRepo{conn: conn}
}

const alertColumns = `
	id, tenant_id, profile_id, config_id, student_id,
	title, message, priority, notifications_sent,
	acknowledged, acknowledged_by, acknowledged_at, ack_notes, created_at`

// CreateIfNotInCooldown runs the cooldown check and the insert in one
// transaction over the (profile, config) pair. A transaction-scoped
// advisory lock on the pair serializes concurrent evaluations: a row lock
// cannot fence the check when no prior row exists, and at READ COMMITTED a
// concurrently committed insert stays invisible to the already-planned scan.
func (r *AlertRepo) CreateIfNotInCooldown(ctx context.Context, a *alert.Alert, cooldown time.Duration) (bool, error) {
	created := false
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)",
			alertPairKey(a.ProfileID, a.ConfigID)); err != nil {
			return err
		}

		var lastCreated time.Time
		err := tx.QueryRow(ctx, `
			SELECT created_at FROM alerts
			WHERE profile_id = $1 AND config_id = $2
			ORDER BY created_at DESC
			LIMIT 1`, a.ProfileID, a.ConfigID).Scan(&lastCreated)
		if err != nil && !IsNoRows(err) {
			return err
		}
		if err == nil && cooldown > 0 && time.Since(lastCreated) < cooldown {
			return nil // still in cooldown, not an error
		}

		outcomes, err := json.Marshal(a.NotificationsSent)
		if err != nil {
			return err
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO alerts (id, tenant_id, profile_id, config_id, student_id,
				title, message, priority, notifications_sent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.ID, a.TenantID.String(), a.ProfileID, a.ConfigID, a.StudentID,
			a.Title, a.Message, string(a.Priority), outcomes, a.CreatedAt)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, wrapTransient("CreateIfNotInCooldown", err)
	}
	return created, nil
}

// alertPairKey hashes a (profile, config) pair into the advisory-lock
// keyspace. The namespace prefix keeps it disjoint from the per-profile
// analysis lock, so alert fencing never contends with a running analysis.
func alertPairKey(profileID, configID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("alert_pair:" + profileID + ":" + configID))
	return int64(h.Sum64())
}

// GetByID returns an alert by ID.
func (r *AlertRepo) GetByID(ctx context.Context, id string) (*alert.Alert, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	row := r.conn.QueryRow(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE id = $1 AND tenant_id = $2",
		id, tenant.String())
	a, err := scanAlert(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAlertNotFound
		}
		return nil, wrapTransient("GetByID", err)
	}
	return a, nil
}

// LatestForPair returns the most recent alert for (profile, config).
func (r *AlertRepo) LatestForPair(ctx context.Context, profileID, configID string) (*alert.Alert, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE profile_id = $1 AND config_id = $2
		ORDER BY created_at DESC
		LIMIT 1`, profileID, configID)
	a, err := scanAlert(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, wrapTransient("LatestForPair", err)
	}
	return a, nil
}

// Acknowledge persists an acknowledgement; the first one wins.
func (r *AlertRepo) Acknowledge(ctx context.Context, alertID, userID, notes string) error {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return err
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE alerts
		SET acknowledged = TRUE, acknowledged_by = $3, acknowledged_at = NOW(), ack_notes = $4
		WHERE id = $1 AND tenant_id = $2 AND NOT acknowledged`,
		alertID, tenant.String(), userID, notes)
	if err != nil {
		return wrapTransient("Acknowledge", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already acknowledged; disambiguate for the caller.
		if _, err := r.GetByID(ctx, alertID); err != nil {
			return err
		}
		return shared.ErrAlreadyAcknowledged
	}
	return nil
}

// AppendOutcome records one notification delivery outcome on the alert.
func (r *AlertRepo) AppendOutcome(ctx context.Context, alertID string, outcome alert.ChannelOutcome) error {
	encoded, err := json.Marshal(outcome)
	if err != nil {
		return shared.WrapError("alert", "AppendOutcome", shared.ErrValidation, "encoding outcome", err)
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE alerts
		SET notifications_sent = notifications_sent || $2::jsonb
		WHERE id = $1`, alertID, encoded)
	if err != nil {
		return wrapTransient("AppendOutcome", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAlertNotFound
	}
	return nil
}

// ListUnacknowledged returns open alerts, most urgent and newest first.
func (r *AlertRepo) ListUnacknowledged(ctx context.Context, limit int) ([]*alert.Alert, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE tenant_id = $1 AND NOT acknowledged
		ORDER BY
			CASE priority
				WHEN 'urgent' THEN 0
				WHEN 'high' THEN 1
				WHEN 'normal' THEN 2
				ELSE 3
			END,
			created_at DESC
		LIMIT $2`, tenant.String(), limit)
	if err != nil {
		return nil, wrapTransient("ListUnacknowledged", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, wrapTransient("ListUnacknowledged", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeAcknowledgedBefore deletes acknowledged alerts older than the cutoff.
func (r *AlertRepo) PurgeAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := r.conn.Exec(ctx, `
		DELETE FROM alerts
		WHERE tenant_id = $1 AND acknowledged AND acknowledged_at < $2`,
		tenant.String(), cutoff)
	if err != nil {
		return 0, wrapTransient("PurgeAcknowledgedBefore", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a        alert.Alert
		tenant   string
		priority string
		outcomes []byte
	)
	err := row.Scan(
		&a.ID, &tenant, &a.ProfileID, &a.ConfigID, &a.StudentID,
		&a.Title, &a.Message, &priority, &outcomes,
		&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.AckNotes, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.TenantID = shared.TenantID(tenant)
	a.Priority = alert.Priority(priority)
	if err := json.Unmarshal(outcomes, &a.NotificationsSent); err != nil {
		return nil, err
	}
	return &a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERT CONFIGURATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ConfigRepo implements alert.ConfigurationRepository over PostgreSQL.
type ConfigRepo struct {
	conn *Connection
}

// NewConfigRepo creates a new alert configuration repository.
func NewConfigRepo(conn *Connection) *ConfigRepo {
	return &ConfigRepo{conn: conn}
}

const configColumns = `
	id, tenant_id, name, active,
	risk_level_threshold, risk_score_threshold, indicator_conditions,
	recipients, channels, cooldown_days, message_template, priority,
	flagged_for_review, created_at, updated_at`

// ListActive returns active, unflagged configurations for the tenant.
func (r *ConfigRepo) ListActive(ctx context.Context) ([]*alert.Configuration, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.conn.Query(ctx, `
		SELECT `+configColumns+` FROM alert_configurations
		WHERE tenant_id = $1 AND active
		ORDER BY created_at`, tenant.String())
	if err != nil {
		return nil, wrapTransient("ListActive", err)
	}
	defer rows.Close()

	var out []*alert.Configuration
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, wrapTransient("ListActive", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// GetByID returns a configuration by ID.
func (r *ConfigRepo) GetByID(ctx context.Context, id string) (*alert.Configuration, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	row := r.conn.QueryRow(ctx,
		"SELECT "+configColumns+" FROM alert_configurations WHERE id = $1 AND tenant_id = $2",
		id, tenant.String())
	cfg, err := scanConfig(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrConfigNotFound
		}
		return nil, wrapTransient("GetByID", err)
	}
	return cfg, nil
}

// FlagForReview marks a broken configuration so staff can fix it.
func (r *ConfigRepo) FlagForReview(ctx context.Context, configID string, reason string) error {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return err
	}
	tag, err := r.conn.Exec(ctx, `
		UPDATE alert_configurations
		SET flagged_for_review = TRUE, review_reason = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`, configID, tenant.String(), reason)
	if err != nil {
		return wrapTransient("FlagForReview", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConfigNotFound
	}
	return nil
}

func scanConfig(row pgx.Row) (*alert.Configuration, error) {
	var (
		cfg        alert.Configuration
		tenant     string
		level      *string
		conditions []byte
		recipients []byte
		channels   []byte
		priority   string
	)
	err := row.Scan(
		&cfg.ID, &tenant, &cfg.Name, &cfg.Active,
		&level, &cfg.RiskScoreThreshold, &conditions,
		&recipients, &channels, &cfg.CooldownDays, &cfg.MessageTemplate, &priority,
		&cfg.FlaggedForReview, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	cfg.TenantID = shared.TenantID(tenant)
	cfg.Priority = alert.Priority(priority)
	if level != nil {
		l := risk.Level(*level)
		cfg.RiskLevelThreshold = &l
	}
	if err := json.Unmarshal(conditions, &cfg.IndicatorConditions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipients, &cfg.Recipients); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(channels, &cfg.Channels); err != nil {
		return nil, err
	}
	return &cfg, nil
}

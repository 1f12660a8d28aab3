package alerting

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

// StudentDirectory resolves student display names for message rendering.
type StudentDirectory interface {
	DisplayName(ctx context.Context, studentID string) (string, error)
}

// Engine evaluates active alert configurations against a freshly analyzed
// profile and emits deduplicated alerts. The notification fan-out is
// decoupled through the event bus: the engine records the alert and
// publishes alert.raised; the dispatcher does the sending.
type Engine struct {
	configs ConfigRepo
	alerts  alert.Repository
	names   StudentDirectory
	events  shared.EventPublisher
	log     *logger.Logger
}

// ConfigRepo is the configuration surface the engine needs.
type ConfigRepo interface {
	ListActive(ctx context.Context) ([]*alert.Configuration, error)
	FlagForReview(ctx context.Context, configID string, reason string) error
}

// NewEngine creates the alert rule engine.
func NewEngine(configs ConfigRepo, alerts alert.Repository, names StudentDirectory, events shared.EventPublisher, log *logger.Logger) *Engine {
	return &Engine{configs: configs, alerts: alerts, names: names, events: events, log: log}
}

// Evaluate runs every active configuration against the profile and returns
// the alerts that were emitted. A configuration failing to render is flagged
// for review and skipped; it never aborts the other configurations.
func (e *Engine) Evaluate(ctx context.Context, profile *risk.Profile) ([]*alert.Alert, error) {
	configs, err := e.configs.ListActive(ctx)
	if err != nil {
		return nil, shared.WrapError("alert", "Evaluate", shared.ErrTransient, "listing configurations", err)
	}

	var emitted []*alert.Alert
	for _, cfg := range configs {
		a, err := e.evaluateOne(ctx, cfg, profile)
		if err != nil {
			e.log.Error("alert configuration evaluation failed",
				logger.ProfileID(profile.ID),
				logger.String("config_id", cfg.ID),
				logger.Err(err))
			continue
		}
		if a != nil {
			emitted = append(emitted, a)
		}
	}
	return emitted, nil
}

func (e *Engine) evaluateOne(ctx context.Context, cfg *alert.Configuration, profile *risk.Profile) (*alert.Alert, error) {
	if cfg.FlaggedForReview {
		return nil, nil
	}

	// 1. Risk level threshold (inclusive).
	if cfg.RiskLevelThreshold != nil && !profile.RiskLevel.AtLeast(*cfg.RiskLevelThreshold) {
		return nil, nil
	}
	// 2. Risk score threshold.
	if cfg.RiskScoreThreshold != nil && profile.RiskScore < *cfg.RiskScoreThreshold {
		return nil, nil
	}
	// 3. Per-indicator conditions: all must hold; a missing value skips.
	for _, cond := range cfg.IndicatorConditions {
		value, ok := indicatorValue(profile.Indicators, cond.Indicator)
		if !ok {
			return nil, nil
		}
		hit, err := cond.Operator.Apply(value, cond.Value)
		if err != nil {
			return nil, err
		}
		if !hit {
			return nil, nil
		}
	}

	// 4-5. Render, then insert inside the cooldown transaction.
	message, err := e.render(ctx, cfg, profile)
	if err != nil {
		if flagErr := e.configs.FlagForReview(ctx, cfg.ID, err.Error()); flagErr != nil {
			e.log.Error("flagging broken configuration failed",
				logger.String("config_id", cfg.ID), logger.Err(flagErr))
		}
		return nil, err
	}

	a := &alert.Alert{
		ID:        uuid.NewString(),
		TenantID:  profile.TenantID,
		ProfileID: profile.ID,
		ConfigID:  cfg.ID,
		StudentID: profile.StudentID,
		Title:     cfg.Name,
		Message:   message,
		Priority:  cfg.Priority,
	}
	created, err := e.alerts.CreateIfNotInCooldown(ctx, a, cfg.Cooldown())
	if err != nil {
		return nil, shared.WrapError("alert", "Emit", shared.ErrTransient, "inserting alert", err)
	}
	if !created {
		return nil, nil
	}

	e.log.Info("alert emitted",
		logger.AlertID(a.ID),
		logger.ProfileID(profile.ID),
		logger.String("config_id", cfg.ID),
		logger.String("priority", string(a.Priority)))

	// Notification fan-out is fire-and-forget for the analysis: the
	// dispatcher subscribes to alert.raised and records outcomes itself.
	event := shared.NewAlertRaisedEvent(profile.TenantID, a.ID, profile.ID, cfg.ID, profile.StudentID,
		string(a.Priority), profile.RiskLevel.String(), message)
	if err := e.events.Publish(event); err != nil {
		e.log.Error("publishing alert.raised failed",
			logger.AlertID(a.ID), logger.Err(err))
	}
	return a, nil
}

func (e *Engine) render(ctx context.Context, cfg *alert.Configuration, profile *risk.Profile) (string, error) {
	name, err := e.names.DisplayName(ctx, profile.StudentID)
	if err != nil {
		name = profile.StudentID
	}
	return RenderTemplate(cfg.MessageTemplate, map[string]string{
		PlaceholderStudentName: name,
		PlaceholderRiskLevel:   profile.RiskLevel.String(),
		PlaceholderRiskScore:   fmt.Sprintf("%.0f", profile.RiskScore),
	})
}

// indicatorValue resolves a numeric indicator from the profile's indicator
// map. Values arrive either as float64 or as json.Number-decoded floats.
func indicatorValue(indicators map[string]interface{}, key string) (float64, bool) {
	raw, ok := indicators[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

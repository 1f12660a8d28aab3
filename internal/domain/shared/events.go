package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the analytics pipeline.
const (
	// Profile events
	EventProfileCreated  EventType = "profile.created"
	EventProfileAnalyzed EventType = "profile.analyzed"

	// Pattern events
	EventPatternDetected EventType = "pattern.detected"

	// Alert events
	EventAlertRaised       EventType = "alert.raised"
	EventAlertAcknowledged EventType = "alert.acknowledged"

	// Model events
	EventModelPublished EventType = "model.published"

	// Intervention events
	EventInterventionEvaluated EventType = "intervention.evaluated"

	// System events
	EventJobFailed EventType = "system.job_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a domain event.
type EventHandler func(event Event) error

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventBus is the full publish/subscribe surface.
type EventBus interface {
	EventPublisher
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
	Close() error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ProfileAnalyzedEvent is emitted after a full C1→C7 analysis pass.
type ProfileAnalyzedEvent struct {
	BaseEvent
	StudentID    string  `json:"student_id"`
	AcademicYear string  `json:"academic_year"`
	RiskScore    float64 `json:"risk_score"`
	RiskLevel    string  `json:"risk_level"`
	AlertsRaised int     `json:"alerts_raised"`
}

// Payload implements Event interface.
func (e ProfileAnalyzedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"academic_year": e.AcademicYear,
		"risk_score":    e.RiskScore,
		"risk_level":    e.RiskLevel,
		"alerts_raised": e.AlertsRaised,
	}
}

// NewProfileAnalyzedEvent creates a new ProfileAnalyzedEvent.
func NewProfileAnalyzedEvent(profileID, studentID, year string, score float64, level string, alerts int) ProfileAnalyzedEvent {
	return ProfileAnalyzedEvent{
		BaseEvent:    NewBaseEvent(EventProfileAnalyzed, profileID),
		StudentID:    studentID,
		AcademicYear: year,
		RiskScore:    score,
		RiskLevel:    level,
		AlertsRaised: alerts,
	}
}

// PatternDetectedEvent is emitted when a temporal pattern fires for a profile.
type PatternDetectedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	Pattern   string `json:"pattern"`
	Severity  string `json:"severity"`
}

// Payload implements Event interface.
func (e PatternDetectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"pattern":    e.Pattern,
		"severity":   e.Severity,
	}
}

// NewPatternDetectedEvent creates a new PatternDetectedEvent.
func NewPatternDetectedEvent(profileID, studentID, pattern, severity string) PatternDetectedEvent {
	return PatternDetectedEvent{
		BaseEvent: NewBaseEvent(EventPatternDetected, profileID),
		StudentID: studentID,
		Pattern:   pattern,
		Severity:  severity,
	}
}

// AlertRaisedEvent is emitted when the rule engine emits an alert.
// The notification dispatcher subscribes to this event for fan-out.
type AlertRaisedEvent struct {
	BaseEvent
	Tenant      TenantID `json:"tenant"`
	ProfileID   string   `json:"profile_id"`
	ConfigID    string   `json:"config_id"`
	StudentID   string   `json:"student_id"`
	Priority    string   `json:"priority"`
	RiskLevel   string   `json:"risk_level"`
	MessageBody string   `json:"message_body"`
}

// Payload implements Event interface.
func (e AlertRaisedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"profile_id": e.ProfileID,
		"config_id":  e.ConfigID,
		"student_id": e.StudentID,
		"priority":   e.Priority,
		"risk_level": e.RiskLevel,
	}
}

// NewAlertRaisedEvent creates a new AlertRaisedEvent.
func NewAlertRaisedEvent(tenant TenantID, alertID, profileID, configID, studentID, priority, level, body string) AlertRaisedEvent {
	return AlertRaisedEvent{
		BaseEvent:   NewBaseEvent(EventAlertRaised, alertID),
		Tenant:      tenant,
		ProfileID:   profileID,
		ConfigID:    configID,
		StudentID:   studentID,
		Priority:    priority,
		RiskLevel:   level,
		MessageBody: body,
	}
}

// ModelPublishedEvent is emitted after a training run publishes new artifacts.
// Workers reload the cached predictor when they observe it.
type ModelPublishedEvent struct {
	BaseEvent
	ModelVersion  string  `json:"model_version"`
	SchemaVersion string  `json:"schema_version"`
	F1            float64 `json:"f1"`
	SampleCount   int     `json:"sample_count"`
	Synthetic     int     `json:"synthetic"`
}

// Payload implements Event interface.
func (e ModelPublishedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"model_version":  e.ModelVersion,
		"schema_version": e.SchemaVersion,
		"f1":             e.F1,
		"sample_count":   e.SampleCount,
		"synthetic":      e.Synthetic,
	}
}

// NewModelPublishedEvent creates a new ModelPublishedEvent.
func NewModelPublishedEvent(version, schemaVersion string, f1 float64, samples, synthetic int) ModelPublishedEvent {
	return ModelPublishedEvent{
		BaseEvent:     NewBaseEvent(EventModelPublished, version),
		ModelVersion:  version,
		SchemaVersion: schemaVersion,
		F1:            f1,
		SampleCount:   samples,
		Synthetic:     synthetic,
	}
}

// InterventionEvaluatedEvent is emitted after an effectiveness evaluation.
type InterventionEvaluatedEvent struct {
	BaseEvent
	ProfileID string  `json:"profile_id"`
	AutoScore float64 `json:"auto_score"`
	Summary   string  `json:"summary"`
}

// Payload implements Event interface.
func (e InterventionEvaluatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"profile_id": e.ProfileID,
		"auto_score": e.AutoScore,
		"summary":    e.Summary,
	}
}

// NewInterventionEvaluatedEvent creates a new InterventionEvaluatedEvent.
func NewInterventionEvaluatedEvent(planID, profileID string, autoScore float64, summary string) InterventionEvaluatedEvent {
	return InterventionEvaluatedEvent{
		BaseEvent: NewBaseEvent(EventInterventionEvaluated, planID),
		ProfileID: profileID,
		AutoScore: autoScore,
		Summary:   summary,
	}
}

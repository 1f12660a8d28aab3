// Package alert contains the alert domain: school-configured alert rules,
// emitted alerts and their acknowledgement lifecycle.
package alert

import (
	"fmt"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// Priority orders alerts for staff triage and notification urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid reports whether the priority is one of the known values.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Recipients describes who gets notified when a configuration fires.
type Recipients struct {
	NotifyStudent        bool     `json:"notify_student"`
	NotifyParents        bool     `json:"notify_parents"`
	NotifyMainTeacher    bool     `json:"notify_main_teacher"`
	NotifyAdministration bool     `json:"notify_administration"`
	Additional           []string `json:"additional,omitempty"` // explicit user IDs
}

// ContactRole says in which capacity a contact receives the notification.
type ContactRole string

const (
	RoleStudent        ContactRole = "student"
	RoleParent         ContactRole = "parent"
	RoleMainTeacher    ContactRole = "main_teacher"
	RoleAdministration ContactRole = "administration"
	RoleAdditional     ContactRole = "additional"
)

// Contact is one resolved notification recipient.
type Contact struct {
	UserID string      `json:"user_id"`
	Name   string      `json:"name"`
	Email  string      `json:"email,omitempty"`
	Phone  string      `json:"phone,omitempty"`
	Role   ContactRole `json:"role"`
}

// Address returns the delivery address for the channel, or empty when the
// contact cannot be reached on it.
func (c Contact) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	case ChannelInApp:
		return c.UserID
	default:
		return ""
	}
}

// IndicatorCondition is one extra condition on the fresh feature vector,
// all of which must hold for the configuration to fire.
type IndicatorCondition struct {
	Indicator string        `json:"indicator"` // feature key
	Operator  risk.Operator `json:"operator"`
	Value     float64       `json:"value"`
}

// Configuration is a school-defined alert rule evaluated after each analysis.
type Configuration struct {
	ID       string
	TenantID shared.TenantID
	Name     string
	Active   bool

	// Trigger conditions. A nil threshold means the dimension is not checked.
	RiskLevelThreshold  *risk.Level
	RiskScoreThreshold  *float64
	IndicatorConditions []IndicatorCondition

	Recipients      Recipients
	Channels        []Channel
	CooldownDays    int
	MessageTemplate string
	Priority        Priority

	FlaggedForReview bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks the configuration invariants.
func (c *Configuration) Validate() error {
	if !c.Priority.IsValid() {
		return shared.WrapError("alert", "Validate", shared.ErrValidation,
			fmt.Sprintf("unknown priority %q", c.Priority), nil)
	}
	if c.CooldownDays < 0 {
		return shared.WrapError("alert", "Validate", shared.ErrValidation,
			"cooldown_days must be non-negative", nil)
	}
	if c.RiskLevelThreshold != nil && !c.RiskLevelThreshold.IsValid() {
		return shared.WrapError("alert", "Validate", shared.ErrValidation,
			fmt.Sprintf("unknown risk level %q", *c.RiskLevelThreshold), nil)
	}
	if c.RiskScoreThreshold != nil && (*c.RiskScoreThreshold < 0 || *c.RiskScoreThreshold > 100) {
		return shared.WrapError("alert", "Validate", shared.ErrValidation,
			"risk score threshold outside [0,100]", nil)
	}
	for _, cond := range c.IndicatorConditions {
		if _, err := cond.Operator.Apply(0, 0); err != nil {
			return err
		}
	}
	return nil
}

// Cooldown returns the dedup window as a duration.
func (c *Configuration) Cooldown() time.Duration {
	return time.Duration(c.CooldownDays) * 24 * time.Hour
}

// ChannelOutcome records the result of one notification attempt.
type ChannelOutcome struct {
	Channel   Channel   `json:"channel"`
	Recipient string    `json:"recipient"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Alert is an emitted alert awaiting staff acknowledgement.
type Alert struct {
	ID        string
	TenantID  shared.TenantID
	ProfileID string
	ConfigID  string
	StudentID string

	Title    string
	Message  string
	Priority Priority

	// NotificationsSent records per-channel delivery outcomes, updated as
	// the dispatcher works through the fan-out.
	NotificationsSent []ChannelOutcome

	Acknowledged   bool
	AcknowledgedBy *string
	AcknowledgedAt *time.Time
	AckNotes       string

	CreatedAt time.Time
}

// Acknowledge transitions the alert to acknowledged. Acknowledging twice is
// an error; the first acknowledgement wins.
func (a *Alert) Acknowledge(userID, notes string) error {
	if a.Acknowledged {
		return shared.ErrAlreadyAcknowledged
	}
	now := time.Now().UTC()
	a.Acknowledged = true
	a.AcknowledgedBy = &userID
	a.AcknowledgedAt = &now
	a.AckNotes = notes
	return nil
}

// RecordOutcome appends one delivery outcome.
func (a *Alert) RecordOutcome(o ChannelOutcome) {
	a.NotificationsSent = append(a.NotificationsSent, o)
}

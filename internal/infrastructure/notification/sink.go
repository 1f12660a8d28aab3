// Package notification implements the alert fan-out: it subscribes to
// alert.raised events, resolves the configured recipients, and pushes the
// message through the per-channel sinks, recording every delivery outcome on
// the alert.
package notification

import (
	"context"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
)

// Message is one notification to deliver on a single channel.
type Message struct {
	Channel   alert.Channel
	Recipient string // channel-specific address (email, phone, user ID)
	Subject   string
	Body      string
	Priority  alert.Priority

	// AlertID ties the delivery back to the emitted alert.
	AlertID   string
	StudentID string
}

// Sink delivers messages on one channel. Implementations must be safe for
// concurrent use; the dispatcher calls them from the event bus worker pool.
type Sink interface {
	// Channel returns the channel this sink serves.
	Channel() alert.Channel

	// Send delivers one message. A returned error marks the outcome failed;
	// retries and circuit breaking happen in the dispatcher.
	Send(ctx context.Context, msg Message) error
}

// ContactResolver resolves the recipient flags of an alert configuration
// into concrete contacts.
type ContactResolver interface {
	Contacts(ctx context.Context, studentID string, recipients alert.Recipients) ([]alert.Contact, error)
}

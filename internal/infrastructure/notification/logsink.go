package notification

import (
	"context"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

// LogSink writes deliveries to the structured log instead of an external
// provider. It backs the SMS channel until a gateway contract is signed, and
// doubles as the development sink for every channel.
type LogSink struct {
	channel alert.Channel
	log     *logger.Logger
}

// NewLogSink creates a log-only sink for the given channel.
func NewLogSink(channel alert.Channel, log *logger.Logger) *LogSink {
	return &LogSink{channel: channel, log: log}
}

// Channel implements Sink.
func (s *LogSink) Channel() alert.Channel {
	return s.channel
}

// Send logs the would-be delivery and succeeds.
func (s *LogSink) Send(ctx context.Context, msg Message) error {
	s.log.Info("notification delivered to log sink",
		logger.String("channel", string(s.channel)),
		logger.AlertID(msg.AlertID),
		logger.String("recipient", msg.Recipient),
		logger.String("subject", msg.Subject))
	return nil
}

package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	redisc "github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/persistence/redis"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

// inAppTTL bounds how long an unread in-app notification survives.
const inAppTTL = 30 * 24 * time.Hour

// InAppNotification is the payload pushed onto a user's notification feed.
type InAppNotification struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	StudentID string    `json:"student_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// InAppSink pushes notifications onto per-user Redis feeds that the platform
// frontend polls.
type InAppSink struct {
	cache *redisc.Cache
	log   *logger.Logger
}

// NewInAppSink creates the in-app sink.
func NewInAppSink(cache *redisc.Cache, log *logger.Logger) *InAppSink {
	return &InAppSink{cache: cache, log: log}
}

// Channel implements Sink.
func (s *InAppSink) Channel() alert.Channel {
	return alert.ChannelInApp
}

// Send appends the notification to the recipient's feed.
func (s *InAppSink) Send(ctx context.Context, msg Message) error {
	tenant, ok := shared.TenantFromContext(ctx)
	if !ok {
		return shared.WrapError("notification", "Send", shared.ErrConfiguration,
			"no tenant in context", nil)
	}

	key := feedKey(tenant.String(), msg.Recipient)
	payload := InAppNotification{
		ID:        uuid.NewString(),
		AlertID:   msg.AlertID,
		StudentID: msg.StudentID,
		Title:     msg.Subject,
		Body:      msg.Body,
		Priority:  string(msg.Priority),
		CreatedAt: time.Now().UTC(),
	}

	client := s.cache.Client()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := client.LPush(ctx, key, data).Err(); err != nil {
		return err
	}
	// Cap the feed and refresh its expiry on every push.
	client.LTrim(ctx, key, 0, 99)
	client.Expire(ctx, key, inAppTTL)
	return nil
}

// Feed returns a user's pending notifications, newest first.
func (s *InAppSink) Feed(ctx context.Context, tenant, userID string, limit int) ([]InAppNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := s.cache.Client().LRange(ctx, feedKey(tenant, userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]InAppNotification, 0, len(raw))
	for _, item := range raw {
		var n InAppNotification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			s.log.Warn("skipping undecodable feed entry", logger.Err(err))
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func feedKey(tenant, userID string) string {
	return redisc.PrefixFeed + tenant + ":" + userID
}

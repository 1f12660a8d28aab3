package redis

import (
	"context"
	"errors"

	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODEL VERSION SIGNAL
// ══════════════════════════════════════════════════════════════════════════════

// modelChannel is the pub/sub channel carrying model publications.
const modelChannel = "model.published"

// ModelSignal broadcasts trained model versions so every worker process
// reloads its predictor without restarting. The current version also lives
// under a plain key so late joiners can catch up on boot.
type ModelSignal struct {
	cache  *Cache
	tenant string
	log    *logger.Logger
}

// NewModelSignal creates a model signal for one tenant.
func NewModelSignal(cache *Cache, tenant string, log *logger.Logger) *ModelSignal {
	return &ModelSignal{cache: cache, tenant: tenant, log: log}
}

// Publish records the new model version and notifies subscribers.
func (s *ModelSignal) Publish(ctx context.Context, version string) error {
	key := ModelVersionKey(s.tenant)
	if err := s.cache.SetString(ctx, key, version, TTLModelVersion); err != nil {
		return err
	}
	return s.cache.Publish(ctx, PubSubChannel(modelChannel), version)
}

// Current returns the last published model version, or empty when no model
// has been published yet.
func (s *ModelSignal) Current(ctx context.Context) (string, error) {
	version, err := s.cache.GetString(ctx, ModelVersionKey(s.tenant))
	if errors.Is(err, ErrCacheMiss) {
		return "", nil
	}
	return version, err
}

// Watch invokes reload whenever a new model version is published. It blocks
// until the context is cancelled, so run it in its own goroutine.
func (s *ModelSignal) Watch(ctx context.Context, reload func() error) {
	sub := s.cache.Subscribe(ctx, PubSubChannel(modelChannel))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := reload(); err != nil {
				s.log.Error("model reload failed",
					logger.ModelVersion(msg.Payload), logger.Err(err))
				continue
			}
			s.log.Info("model reloaded", logger.ModelVersion(msg.Payload))
		}
	}
}

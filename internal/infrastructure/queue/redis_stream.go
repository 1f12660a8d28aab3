package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	redisc "github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/persistence/redis"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS STREAMS QUEUE
// ══════════════════════════════════════════════════════════════════════════════

const (
	streamName     = "tasks"
	deadStreamName = "tasks.dead"
	delayedSetName = "tasks.delayed"
	consumerGroup  = "risk-workers"

	// readBlock bounds each XREADGROUP call so shutdown stays responsive.
	readBlock = 5 * time.Second

	// claimIdle is how long a pending task may sit unacked before another
	// consumer claims it (crashed worker recovery).
	claimIdle = 5 * time.Minute

	// claimInterval is how often the claim sweep runs.
	claimInterval = time.Minute

	// retryBaseDelay seeds the redelivery backoff; it doubles per attempt.
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

// RedisQueue is a durable task queue over Redis Streams with a consumer
// group. Delivery is at-least-once; handlers must be idempotent.
type RedisQueue struct {
	client      *goredis.Client
	consumer    string
	concurrency int
	maxAttempts int
	log         *logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// RedisQueueConfig tunes the queue.
type RedisQueueConfig struct {
	// Consumer is this worker's name within the consumer group.
	Consumer string

	// Concurrency is the number of tasks processed in parallel.
	Concurrency int

	// MaxAttempts is the delivery limit before dead-lettering.
	MaxAttempts int
}

// NewRedisQueue creates a queue over an existing Redis connection.
func NewRedisQueue(cache *redisc.Cache, cfg RedisQueueConfig, log *logger.Logger) *RedisQueue {
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &RedisQueue{
		client:      cache.Client(),
		consumer:    cfg.Consumer,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		log:         log,
		handlers:    make(map[string]Handler),
	}
}

// Enqueue appends a task to the stream. Transient Redis failures are retried
// with backoff before surfacing.
func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	if task.Attempt == 0 {
		task.Attempt = 1
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: encoding task %s: %w", task.Name, err)
	}

	return retry.QueueRetrier().Do(ctx, func(ctx context.Context) error {
		return q.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: redisc.QueueKey(streamName),
			Values: map[string]interface{}{"payload": payload},
		}).Err()
	})
}

// Register binds a handler to a task name.
func (q *RedisQueue) Register(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// Start creates the consumer group if needed and launches the consume and
// claim loops.
func (q *RedisQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	err := q.client.XGroupCreateMkStream(ctx, redisc.QueueKey(streamName), consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("queue: creating consumer group: %w", err)
	}

	q.wg.Add(2)
	go q.consumeLoop(ctx)
	go q.claimLoop(ctx)

	q.log.Info("task queue started",
		logger.String("consumer", q.consumer),
		logger.Int("concurrency", q.concurrency))
	return nil
}

// Stop waits for in-flight tasks to finish.
func (q *RedisQueue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *RedisQueue) consumeLoop(ctx context.Context) {
	defer q.wg.Done()

	sem := make(chan struct{}, q.concurrency)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: q.consumer,
			Streams:  []string{redisc.QueueKey(streamName), ">"},
			Count:    int64(q.concurrency),
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			q.log.Warn("task read failed", logger.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				sem <- struct{}{}
				q.wg.Add(1)
				go func(msg goredis.XMessage) {
					defer q.wg.Done()
					defer func() { <-sem }()
					q.process(ctx, msg)
				}(msg)
			}
		}
	}
}

// claimLoop periodically adopts tasks a crashed worker left pending.
func (q *RedisQueue) claimLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDelayed(ctx)
			msgs, _, err := q.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
				Stream:   redisc.QueueKey(streamName),
				Group:    consumerGroup,
				Consumer: q.consumer,
				MinIdle:  claimIdle,
				Start:    "0",
				Count:    int64(q.concurrency),
			}).Result()
			if err != nil {
				if ctx.Err() == nil {
					q.log.Warn("task claim failed", logger.Err(err))
				}
				continue
			}
			for _, msg := range msgs {
				q.process(ctx, msg)
			}
		}
	}
}

func (q *RedisQueue) process(ctx context.Context, msg goredis.XMessage) {
	task, err := decodeTask(msg)
	if err != nil {
		q.log.Error("dropping undecodable task", logger.String("message_id", msg.ID), logger.Err(err))
		q.ack(ctx, msg.ID)
		return
	}

	q.mu.RLock()
	handler, ok := q.handlers[task.Name]
	q.mu.RUnlock()
	if !ok {
		q.log.Error("dropping task with no handler", logger.JobName(task.Name))
		q.deadLetter(ctx, task, ErrUnknownTask)
		q.ack(ctx, msg.ID)
		return
	}

	taskCtx := shared.WithTenant(ctx, shared.TenantID(task.Tenant))
	start := time.Now()
	err = handler(taskCtx, task)
	if err == nil {
		q.log.Info("task completed",
			logger.JobName(task.Name),
			logger.Int("attempt", task.Attempt),
			logger.Latency(time.Since(start)))
		q.ack(ctx, msg.ID)
		return
	}

	q.log.Warn("task failed",
		logger.JobName(task.Name),
		logger.Int("attempt", task.Attempt),
		logger.Err(err))

	if task.Attempt >= q.maxAttempts || retry.IsPermanent(err) {
		q.deadLetter(ctx, task, err)
		q.ack(ctx, msg.ID)
		return
	}

	// Park the next attempt in the delayed set; the claim sweep promotes it
	// back onto the stream once the backoff elapses.
	task.Attempt++
	if enqErr := q.enqueueDelayed(ctx, task, retryDelay(task.Attempt)); enqErr != nil {
		// Leave the message pending; the claim loop will retry it.
		q.log.Error("task requeue failed", logger.JobName(task.Name), logger.Err(enqErr))
		return
	}
	q.ack(ctx, msg.ID)
}

// retryDelay is the wait before the given delivery attempt: 30s before the
// second, doubling per attempt, capped at 10m.
func retryDelay(attempt int) time.Duration {
	if attempt <= 2 {
		return retryBaseDelay
	}
	d := retryBaseDelay << (attempt - 2)
	if d <= 0 || d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}

func (q *RedisQueue) enqueueDelayed(ctx context.Context, task *Task, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: encoding task %s: %w", task.Name, err)
	}
	return q.client.ZAdd(ctx, redisc.QueueKey(delayedSetName), goredis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: string(payload),
	}).Err()
}

// promoteDelayed moves due tasks from the delayed set back onto the stream.
func (q *RedisQueue) promoteDelayed(ctx context.Context) {
	key := redisc.QueueKey(delayedSetName)
	due, err := q.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().Unix(), 10),
		Count: int64(q.concurrency),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.log.Warn("delayed task sweep failed", logger.Err(err))
		}
		return
	}
	for _, payload := range due {
		err := q.client.XAdd(ctx, &goredis.XAddArgs{
			Stream: redisc.QueueKey(streamName),
			Values: map[string]interface{}{"payload": payload},
		}).Err()
		if err != nil {
			if ctx.Err() == nil {
				q.log.Warn("delayed task promote failed", logger.Err(err))
			}
			continue
		}
		q.client.ZRem(ctx, key, payload)
	}
}

func (q *RedisQueue) ack(ctx context.Context, msgID string) {
	stream := redisc.QueueKey(streamName)
	if err := q.client.XAck(ctx, stream, consumerGroup, msgID).Err(); err != nil && ctx.Err() == nil {
		q.log.Warn("task ack failed", logger.String("message_id", msgID), logger.Err(err))
	}
	q.client.XDel(ctx, stream, msgID)
}

func (q *RedisQueue) deadLetter(ctx context.Context, task *Task, cause error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return
	}
	err = q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: redisc.QueueKey(deadStreamName),
		Values: map[string]interface{}{
			"payload": payload,
			"error":   cause.Error(),
		},
	}).Err()
	if err != nil && ctx.Err() == nil {
		q.log.Error("dead-letter write failed", logger.JobName(task.Name), logger.Err(err))
	}
}

func decodeTask(msg goredis.XMessage) (*Task, error) {
	raw, ok := msg.Values["payload"]
	if !ok {
		return nil, fmt.Errorf("message %s has no payload", msg.ID)
	}
	data, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("message %s payload is not a string", msg.ID)
	}
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Redis keys for status publication. The admin panel reads the status key and
// subscribes to the events channel.
const (
	statusKey       = "ingest:status"
	statusEventChan = "ingest:events"
	statusTTL       = 10 * time.Minute
)

// RedisStatusSink implements biz.StatusSink: it stores the latest scheduler
// snapshot under a TTL'd key and publishes circuit events on a pub/sub
// channel. Everything here is best-effort; callers swallow failures.
type RedisStatusSink struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewRedisStatusSink creates a Redis-backed status sink.
func NewRedisStatusSink(data *Data, logger log.Logger) *RedisStatusSink {
	return &RedisStatusSink{
		rdb:    data.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Publish stores the snapshot under the status key with a TTL, so a stalled
// scheduler surfaces as a missing key rather than stale data.
func (s *RedisStatusSink) Publish(ctx context.Context, snapshot *model.StatusSnapshot) error {
	if s.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode status snapshot: %w", err)
	}

	if err := s.rdb.Set(ctx, statusKey, payload, statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// PublishCircuitEvent broadcasts a breaker transition on the events channel.
func (s *RedisStatusSink) PublishCircuitEvent(ctx context.Context, event *model.CircuitEvent) error {
	if s.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode circuit event: %w", err)
	}

	if err := s.rdb.Publish(ctx, statusEventChan, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish circuit event: %w", err)
	}

	s.logger.Infow(
		"msg", "circuit event published",
		"type", event.Type,
		"dependency", event.Dependency,
		"to", event.To,
	)
	return nil
}

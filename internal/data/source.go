package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Redis keys used by the ingestion transport. The marketplace web tier pushes
// raw inbound items onto the queue list and publishes the new-item count on
// the notify channel.
const (
	sourceQueueKey      = "ingest:queue"
	sourceNotifyChannel = "ingest:notify"
)

// RedisSource implements biz.NotificationSource over a Redis list plus a
// pub/sub channel. Push notifications carry the number of newly queued items.
type RedisSource struct {
	rdb    *redis.Client
	logger *log.Helper

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisSource creates a Redis-backed notification source.
func NewRedisSource(data *Data, logger log.Logger) *RedisSource {
	return &RedisSource{
		rdb:    data.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Connect verifies Redis connectivity.
func (s *RedisSource) Connect(ctx context.Context) error {
	if s.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("source connect failed: %w", err)
	}
	return nil
}

// Subscribe switches to push delivery. The returned channel carries the item
// count announced by each notification and is closed when the subscription
// ends.
func (s *RedisSource) Subscribe(ctx context.Context) (<-chan int, error) {
	if s.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub != nil {
		return nil, fmt.Errorf("already subscribed")
	}

	pubsub := s.rdb.Subscribe(ctx, sourceNotifyChannel)

	// Force the subscription to be established before reporting success, so
	// the scheduler can fall back to polling on failure.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	s.pubsub = pubsub
	s.done = make(chan struct{})

	out := make(chan int, 16)
	go s.forward(pubsub.Channel(), out)

	s.logger.Infow("msg", "subscribed to push notifications", "channel", sourceNotifyChannel)
	return out, nil
}

// forward converts raw pub/sub payloads into item counts.
func (s *RedisSource) forward(in <-chan *redis.Message, out chan<- int) {
	defer close(out)

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			n, err := strconv.Atoi(msg.Payload)
			if err != nil || n <= 0 {
				s.logger.Warnw("msg", "ignoring malformed notification", "payload", msg.Payload)
				continue
			}
			select {
			case out <- n:
			default:
				// The scheduler is mid-cycle and its buffer is full; the
				// items stay queued and the next notification covers them.
				s.logger.Debugw("msg", "notification dropped, scheduler busy", "count", n)
			}
		}
	}
}

// FetchLatest pops exactly the newest n items from the queue.
func (s *RedisSource) FetchLatest(ctx context.Context, n int) ([]*model.InboundItem, error) {
	return s.pop(ctx, n)
}

// FetchBatch pops up to maxSize pending items from the queue.
func (s *RedisSource) FetchBatch(ctx context.Context, maxSize int) ([]*model.InboundItem, error) {
	return s.pop(ctx, maxSize)
}

func (s *RedisSource) pop(ctx context.Context, n int) ([]*model.InboundItem, error) {
	if s.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if n <= 0 {
		return nil, nil
	}

	raw, err := s.rdb.LPopCount(ctx, sourceQueueKey, n).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	items := make([]*model.InboundItem, 0, len(raw))
	for _, payload := range raw {
		var item model.InboundItem
		if uerr := json.Unmarshal([]byte(payload), &item); uerr != nil {
			s.logger.Warnw("msg", "dropping undecodable queue entry", "error", uerr)
			continue
		}
		if item.ReceivedAt.IsZero() {
			item.ReceivedAt = time.Now()
		}
		items = append(items, &item)
	}
	return items, nil
}

// Disconnect tears down the subscription. Safe to call when not subscribed.
func (s *RedisSource) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub == nil {
		return nil
	}

	close(s.done)
	err := s.pubsub.Close()
	s.pubsub = nil
	s.done = nil

	if err != nil {
		return fmt.Errorf("unsubscribe failed: %w", err)
	}
	s.logger.Info("unsubscribed from push notifications")
	return nil
}

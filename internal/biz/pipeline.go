package biz

import (
	"context"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// NotificationSource is the message transport the scheduler ingests from.
// Following Kratos v2 DDD architecture, the interface is defined in the biz
// layer and implemented in data.
type NotificationSource interface {
	// Connect verifies connectivity to the transport.
	Connect(ctx context.Context) error

	// Subscribe switches the transport into push delivery and returns a
	// channel carrying the number of new items per notification. The channel
	// is closed when the subscription ends.
	Subscribe(ctx context.Context) (<-chan int, error)

	// FetchLatest returns exactly the newest n pending items.
	FetchLatest(ctx context.Context, n int) ([]*model.InboundItem, error)

	// FetchBatch returns up to maxSize pending items.
	FetchBatch(ctx context.Context, maxSize int) ([]*model.InboundItem, error)

	// Disconnect tears down the subscription and the connection.
	Disconnect() error
}

// ItemStore is the persistent store for inbound items and their processing
// state. All state changes are explicit commands; no shared mutable records.
type ItemStore interface {
	// FindFailedItems returns failed items with retry_count < maxRetryCount
	// and age >= minAgeMinutes, capped at limit, oldest first.
	FindFailedItems(ctx context.Context, maxRetryCount, minAgeMinutes, limit int) ([]*model.InboundItem, error)

	// SaveFetched upserts a fetched item as pending. Duplicate message IDs
	// are ignored.
	SaveFetched(ctx context.Context, item *model.InboundItem) error

	// MarkProcessed marks the item processed.
	MarkProcessed(ctx context.Context, id uint64) error

	// MarkFailed marks the item failed, records the cause, and increments
	// its retry count.
	MarkFailed(ctx context.Context, id uint64, cause error) error

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error
}

// ItemProcessor turns a raw inbound item into a domain record. The business
// step itself (parsing, classification, quotation) lives outside this core.
type ItemProcessor interface {
	Process(ctx context.Context, item *model.InboundItem) error
}

// StatusSink receives best-effort status snapshots and circuit events after
// each cycle. Implementations may be absent; publish failures are ignored by
// callers.
type StatusSink interface {
	Publish(ctx context.Context, snapshot *model.StatusSnapshot) error
	PublishCircuitEvent(ctx context.Context, event *model.CircuitEvent) error
}

// Breakers holds the one circuit breaker per guarded dependency. Constructed
// once at startup and injected by reference; never re-created per call.
type Breakers struct {
	Source *CircuitBreaker
	Store  *CircuitBreaker
}

// NewBreakers creates the per-dependency circuit breakers.
func NewBreakers(cfg *conf.Breaker, logger log.Logger) *Breakers {
	return &Breakers{
		Source: NewCircuitBreaker("source", cfg, logger),
		Store:  NewCircuitBreaker("store", cfg, logger),
	}
}

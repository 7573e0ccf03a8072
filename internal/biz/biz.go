// Package biz contains business logic layer implementations.
// This layer holds the failure-containment primitives and the ingestion
// scheduler that composes them.
package biz

import (
	"github.com/DeifMohamed2/PartsForm-sub004/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBreakers,
	NewLogThrottler,
	NewMemoryWatchdog,
	NewExponentialBackoff,
	NewRateLimiter,
	NewJobLockTable,
	NewIngestionScheduler,
	NewBulkTransformTask,
	// Import data layer providers
	data.NewItemRepo,
	data.NewRedisSource,
	data.NewRecordProcessor,
	data.NewRedisStatusSink,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(ItemStore), new(*data.ItemRepo)),
	wire.Bind(new(NotificationSource), new(*data.RedisSource)),
	wire.Bind(new(ItemProcessor), new(*data.RecordProcessor)),
	wire.Bind(new(StatusSink), new(*data.RedisStatusSink)),
)

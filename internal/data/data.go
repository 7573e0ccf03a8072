// Package data provides data access layer implementations.
// It handles database connections and data persistence.
package data

import (
	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
)

// Data contains all data layer dependencies.
type Data struct {
	db          *gorm.DB
	redisClient *redis.Client
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful
// degradation); the scheduler's Initialize gate reports the outage instead.
func NewData(_ *conf.Data, logger log.Logger, db *gorm.DB, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, push notifications and status publishing unavailable")
	}

	d := &Data{
		db:          db,
		redisClient: rdb,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// MySQL and Redis cleanups are handled by their own provider
		// cleanup functions, which Wire calls automatically.
	}

	return d, cleanup, nil
}

// GetDB returns the GORM handle for advanced operations.
func (d *Data) GetDB() *gorm.DB {
	return d.db
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

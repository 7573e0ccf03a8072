package data

import (
	"context"
	"fmt"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/model"
	pkgerrors "github.com/DeifMohamed2/PartsForm-sub004/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// InboundItem is the GORM entity for the inbound_items table.
type InboundItem struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	MessageID  string    `gorm:"column:message_id;size:255;uniqueIndex"`
	Subject    string    `gorm:"size:512"`
	Sender     string    `gorm:"size:255"`
	Payload    string    `gorm:"type:mediumtext"`
	Status     string    `gorm:"size:32;index:idx_status_retry"`
	RetryCount int       `gorm:"column:retry_count;index:idx_status_retry"`
	LastError  string    `gorm:"column:last_error;size:1024"`
	ReceivedAt time.Time `gorm:"column:received_at;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName overrides the default table name.
func (InboundItem) TableName() string {
	return "inbound_items"
}

func (e *InboundItem) toModel() *model.InboundItem {
	return &model.InboundItem{
		ID:         e.ID,
		MessageID:  e.MessageID,
		Subject:    e.Subject,
		Sender:     e.Sender,
		Payload:    e.Payload,
		Status:     e.Status,
		RetryCount: e.RetryCount,
		LastError:  e.LastError,
		ReceivedAt: e.ReceivedAt,
	}
}

// ItemRepo implements biz.ItemStore on MySQL via GORM.
// Following Kratos v2 DDD architecture, the interface is defined in the biz layer.
type ItemRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewItemRepo creates a new item repository.
func NewItemRepo(db *gorm.DB, logger log.Logger) *ItemRepo {
	return &ItemRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

// FindFailedItems returns failed items still inside the retry budget and at
// least minAgeMinutes old, oldest first, capped at limit. Exhausted items
// never match; only transient failures come back around.
func (r *ItemRepo) FindFailedItems(ctx context.Context, maxRetryCount, minAgeMinutes, limit int) ([]*model.InboundItem, error) {
	cutoff := time.Now().Add(-time.Duration(minAgeMinutes) * time.Minute)

	var entities []InboundItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ? AND received_at <= ?", model.ItemStatusFailed, maxRetryCount, cutoff).
		Order("received_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query failed items: %w", err)
	}

	items := make([]*model.InboundItem, 0, len(entities))
	for i := range entities {
		items = append(items, entities[i].toModel())
	}
	return items, nil
}

// SaveFetched upserts a fetched item as pending. A duplicate message ID is
// not an error: the row already exists from an earlier fetch.
func (r *ItemRepo) SaveFetched(ctx context.Context, item *model.InboundItem) error {
	entity := &InboundItem{
		MessageID:  item.MessageID,
		Subject:    item.Subject,
		Sender:     item.Sender,
		Payload:    item.Payload,
		Status:     model.ItemStatusPending,
		ReceivedAt: item.ReceivedAt,
	}
	if entity.ReceivedAt.IsZero() {
		entity.ReceivedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			r.logger.Debugw("msg", "item already stored", "message_id", item.MessageID)
			var existing InboundItem
			if ferr := r.db.WithContext(ctx).Where("message_id = ?", item.MessageID).First(&existing).Error; ferr == nil {
				item.ID = existing.ID
			}
			return nil
		}
		return fmt.Errorf("failed to save fetched item: %w", err)
	}

	item.ID = entity.ID
	return nil
}

// MarkProcessed marks the item processed and clears its last error.
func (r *ItemRepo) MarkProcessed(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).
		Model(&InboundItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.ItemStatusProcessed,
			"last_error": "",
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark item processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("item not found: %d", id)
	}
	return nil
}

// MarkFailed marks the item failed, records the cause, and increments the
// retry counter in a single statement. A cause the store classifies as
// permanent sends the item straight to exhausted; re-running it would hit
// the same rejection, so it must not occupy the retry budget.
func (r *ItemRepo) MarkFailed(ctx context.Context, id uint64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
	}

	result := r.db.WithContext(ctx).
		Model(&InboundItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      failureStatus(cause),
			"last_error":  msg,
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark item failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("item not found: %d", id)
	}
	return nil
}

// failureStatus picks the post-failure status from the cause. Transient
// failures (connection loss, timeouts, deadlocks) stay failed and eligible
// for the retry timer; permanently rejected rows go to exhausted.
func failureStatus(cause error) string {
	if cause != nil && !pkgerrors.IsRetryable(cause) {
		return model.ItemStatusExhausted
	}
	return model.ItemStatusFailed
}

// Ping verifies store connectivity.
func (r *ItemRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// RecordProcessor implements biz.ItemProcessor: it validates a raw inbound
// item and persists it as a part-inquiry row awaiting the downstream business
// pipeline (parsing, classification, quotation), which lives outside this
// service.
type RecordProcessor struct {
	repo   *ItemRepo
	logger *log.Helper
}

// NewRecordProcessor creates the default item processor.
func NewRecordProcessor(repo *ItemRepo, logger log.Logger) *RecordProcessor {
	return &RecordProcessor{
		repo:   repo,
		logger: log.NewHelper(logger),
	}
}

// Process validates and stores the item. The row ID is written back onto the
// item so the scheduler can record the outcome against it.
func (p *RecordProcessor) Process(ctx context.Context, item *model.InboundItem) error {
	if strings.TrimSpace(item.MessageID) == "" {
		return fmt.Errorf("item has no message id")
	}
	if strings.TrimSpace(item.Payload) == "" {
		return fmt.Errorf("item %s has an empty payload", item.MessageID)
	}

	if err := p.repo.SaveFetched(ctx, item); err != nil {
		return fmt.Errorf("failed to store item %s: %w", item.MessageID, err)
	}

	p.logger.Debugw("msg", "item stored for downstream processing", "message_id", item.MessageID, "item_id", item.ID)
	return nil
}

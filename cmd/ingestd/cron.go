package main

import (
	"context"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/biz"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// defaultBulkSchedule runs the catalog transform nightly at 03:00.
// Cron expression fields: second minute hour day month weekday.
const defaultBulkSchedule = "0 0 3 * * *"

// StartBulkTransformCron schedules the nightly bulk catalog transform.
// Returns nil when the task is not configured or registration fails.
func StartBulkTransformCron(task *biz.BulkTransformTask, c *conf.Bulk, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	if !task.Enabled() {
		helper.Info("bulk transform task not configured, cron job disabled")
		return nil
	}

	schedule := defaultBulkSchedule
	if c != nil && c.Schedule != "" {
		schedule = c.Schedule
	}

	cr := cron.New(cron.WithSeconds())

	_, err := cr.AddFunc(schedule, func() {
		helper.Info("Starting bulk catalog transform...")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		result, err := task.Run(ctx)
		if err != nil {
			helper.Errorw("msg", "bulk catalog transform failed", "error", err)
			return
		}
		helper.Infow(
			"msg", "bulk catalog transform completed",
			"files", len(result.Files),
			"records", result.TotalRecords,
			"errors", result.Errors,
			"duration", result.Duration.String(),
		)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register bulk transform cron job", "error", err, "schedule", schedule)
		return nil
	}

	cr.Start()
	helper.Infow("msg", "bulk transform cron job started", "schedule", schedule)

	return cr
}

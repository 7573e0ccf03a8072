// Package service exposes the ingestion scheduler's control surface over HTTP.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/biz"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// StatusReply is the runtime snapshot returned by the status endpoint.
type StatusReply struct {
	Running     bool                         `json:"running"`
	Processing  bool                         `json:"processing"`
	Mode        string                       `json:"mode"`
	LastCheckAt *time.Time                   `json:"last_check_at,omitempty"`
	Circuits    map[string]biz.CircuitStatus `json:"circuits"`
	Memory      map[string]interface{}       `json:"memory"`
}

// StatsReply holds the cumulative processing counters.
type StatsReply struct {
	TotalChecks    int64  `json:"total_checks"`
	TotalProcessed int64  `json:"total_processed"`
	TotalErrors    int64  `json:"total_errors"`
	LastError      string `json:"last_error,omitempty"`
}

// ActionReply acknowledges a control action.
type ActionReply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// TestReply reports per-dependency connectivity from a diagnostic check.
type TestReply struct {
	TransportOk bool `json:"transport_ok"`
	StoreOk     bool `json:"store_ok"`
}

// BulkReply reports the outcome of a manually triggered catalog transform.
type BulkReply struct {
	TotalRecords uint64 `json:"total_records"`
	Files        int    `json:"files"`
	Errors       int    `json:"errors"`
	DurationMs   int64  `json:"duration_ms"`
}

// IngestService drives the ingestion scheduler and the bulk catalog transform
// from the admin API.
type IngestService struct {
	scheduler *biz.IngestionScheduler
	watchdog  *biz.MemoryWatchdog
	bulk      *biz.BulkTransformTask
	logger    *log.Helper
}

// NewIngestService creates a new IngestService instance.
func NewIngestService(
	scheduler *biz.IngestionScheduler,
	watchdog *biz.MemoryWatchdog,
	bulk *biz.BulkTransformTask,
	logger log.Logger,
) *IngestService {
	return &IngestService{
		scheduler: scheduler,
		watchdog:  watchdog,
		bulk:      bulk,
		logger:    log.NewHelper(logger),
	}
}

// GetStatus returns the scheduler runtime snapshot, circuit breaker states and
// the current memory report.
func (s *IngestService) GetStatus(ctx context.Context) (*StatusReply, error) {
	rt := s.scheduler.GetStatus()
	return &StatusReply{
		Running:     rt.IsRunning,
		Processing:  rt.IsProcessing,
		Mode:        rt.Mode,
		LastCheckAt: rt.LastCheckAt,
		Circuits:    s.scheduler.CircuitStatus(),
		Memory:      s.watchdog.Status(),
	}, nil
}

// GetStatistics returns the cumulative processing counters.
func (s *IngestService) GetStatistics(ctx context.Context) (*StatsReply, error) {
	stats := s.scheduler.GetStatistics()
	return &StatsReply{
		TotalChecks:    stats.TotalChecks,
		TotalProcessed: stats.TotalProcessed,
		TotalErrors:    stats.TotalErrors,
		LastError:      stats.LastError,
	}, nil
}

// Start starts the scheduler.
func (s *IngestService) Start(ctx context.Context) (*ActionReply, error) {
	s.logger.Infow("msg", "Start called")

	if s.scheduler.GetStatus().IsRunning {
		return nil, kerrors.Conflict("ALREADY_RUNNING", "scheduler is already running")
	}
	if !s.scheduler.Initialize(ctx) {
		return nil, kerrors.ServiceUnavailable("INIT_FAILED", "scheduler initialization failed, see logs")
	}
	if err := s.scheduler.Start(ctx); err != nil {
		return nil, kerrors.Conflict("ALREADY_RUNNING", err.Error())
	}
	return &ActionReply{Success: true, Message: "scheduler started"}, nil
}

// Stop stops the scheduler. Stopping an already stopped scheduler succeeds.
func (s *IngestService) Stop(ctx context.Context) (*ActionReply, error) {
	s.logger.Infow("msg", "Stop called")
	s.scheduler.Stop()
	return &ActionReply{Success: true, Message: "scheduler stopped"}, nil
}

// TriggerCheck runs one processing cycle on demand.
func (s *IngestService) TriggerCheck(ctx context.Context) (*ActionReply, error) {
	s.logger.Infow("msg", "TriggerCheck called")

	if err := s.scheduler.TriggerManualCheck(ctx); err != nil {
		if errors.Is(err, biz.ErrJobAlreadyRunning) {
			return nil, kerrors.Conflict("CYCLE_IN_FLIGHT", "a processing cycle is already running")
		}
		var pressure *biz.ErrMemoryPressure
		if errors.As(err, &pressure) {
			return nil, kerrors.ServiceUnavailable("MEMORY_PRESSURE", pressure.Error())
		}
		return nil, err
	}
	return &ActionReply{Success: true, Message: "check completed"}, nil
}

// TestConfig checks every dependency without affecting circuit breaker state.
func (s *IngestService) TestConfig(ctx context.Context) (*TestReply, error) {
	s.logger.Infow("msg", "TestConfig called")

	transportOk, storeOk := s.scheduler.TestConfiguration(ctx)
	return &TestReply{TransportOk: transportOk, StoreOk: storeOk}, nil
}

// RunBulkTransform triggers the catalog transform outside its nightly window.
func (s *IngestService) RunBulkTransform(ctx context.Context) (*BulkReply, error) {
	s.logger.Infow("msg", "RunBulkTransform called")

	if !s.bulk.Enabled() {
		return nil, kerrors.BadRequest("NOT_CONFIGURED", "bulk transform input directory not configured")
	}

	result, err := s.bulk.Run(ctx)
	if err != nil {
		if errors.Is(err, biz.ErrJobAlreadyRunning) {
			return nil, kerrors.Conflict("TRANSFORM_IN_FLIGHT", "a transform run is already in progress")
		}
		return nil, err
	}

	return &BulkReply{
		TotalRecords: result.TotalRecords,
		Files:        len(result.Files),
		Errors:       result.Errors,
		DurationMs:   result.Duration.Milliseconds(),
	}, nil
}

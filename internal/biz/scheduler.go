package biz

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/metrics"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/robfig/cron/v3"
)

// Named job lock guarding a processing cycle.
const cycleLockKey = "ingest_cycle"

// cycleLockTTL bounds the cycle lock even if a cycle wedges on a hung
// dependency call. There is no hard deadline on a running batch; the lock TTL
// is the only backstop.
const cycleLockTTL = 30 * time.Minute

// Failed-item retry policy: items failed fewer than maxItemRetries times and
// at least retryMinAge old, at most retryBatchLimit per invocation.
const (
	maxItemRetries  = 3
	retryMinAgeMin  = 30
	retryBatchLimit = 5
)

// IngestionScheduler drives the continuous ingestion pipeline: it watches the
// notification source for new items, processes them in bounded batches, and
// periodically retries failures. Every failure-containment primitive is
// injected once at startup; the scheduler composes them to stay available
// under partial failure.
type IngestionScheduler struct {
	cfg       *conf.Scheduler
	source    NotificationSource
	store     ItemStore
	processor ItemProcessor
	sink      StatusSink // optional, may be nil

	breakers *Breakers
	throttle *LogThrottler
	watchdog *MemoryWatchdog
	locks    *JobLockTable
	limiter  *RateLimiter
	backoff  *ExponentialBackoff
	metrics  *metrics.IngestMetrics

	seen *lru.LRU[string, struct{}]

	running    atomic.Bool
	processing atomic.Bool
	mode       atomic.Int32 // 0=stopped 1=idle 2=polling

	totalChecks    atomic.Int64
	totalProcessed atomic.Int64
	totalErrors    atomic.Int64
	lastError      atomic.Value // string
	lastCheckAt    atomic.Int64 // unix nanos, 0 = never

	mu         sync.Mutex // guards start/stop bookkeeping below
	stopCh     chan struct{}
	pollTicker *time.Ticker
	retryCron  *cron.Cron

	logger *log.Helper
}

const (
	modeStopped int32 = iota
	modeIdle
	modePolling
)

// NewIngestionScheduler wires the scheduler with its collaborators and
// primitives. The status sink may be nil.
func NewIngestionScheduler(
	cfg *conf.Scheduler,
	source NotificationSource,
	store ItemStore,
	processor ItemProcessor,
	sink StatusSink,
	breakers *Breakers,
	throttle *LogThrottler,
	watchdog *MemoryWatchdog,
	locks *JobLockTable,
	limiter *RateLimiter,
	backoff *ExponentialBackoff,
	m *metrics.IngestMetrics,
	logger log.Logger,
) *IngestionScheduler {
	dedupSize := 4096
	dedupWindow := 30 * time.Minute
	if cfg != nil {
		if cfg.DedupSize > 0 {
			dedupSize = cfg.DedupSize
		}
		if cfg.DedupWindow > 0 {
			dedupWindow = cfg.DedupWindow
		}
	}

	s := &IngestionScheduler{
		cfg:       cfg,
		source:    source,
		store:     store,
		processor: processor,
		sink:      sink,
		breakers:  breakers,
		throttle:  throttle,
		watchdog:  watchdog,
		locks:     locks,
		limiter:   limiter,
		backoff:   backoff,
		metrics:   m,
		seen:      lru.NewLRU[string, struct{}](dedupSize, nil, dedupWindow),
		logger:    log.NewHelper(logger),
	}
	s.lastError.Store("")

	hook := func(name string, from, to CircuitState, failures int) {
		if m != nil {
			m.CircuitState.WithLabelValues(name).Set(float64(to))
		}
		s.publishCircuitEvent(name, from, to, failures)
	}
	breakers.Source.OnStateChange(hook)
	breakers.Store.OnStateChange(hook)

	return s
}

// Initialize verifies transport connectivity and the store's health before
// the scheduler may be started. It returns false, never an error, when the
// feature is disabled or a dependency is unreachable; callers must treat a
// false return as "do not start".
func (s *IngestionScheduler) Initialize(ctx context.Context) bool {
	if s.cfg != nil && !s.cfg.Enabled {
		s.logger.Info("ingestion scheduler disabled by configuration")
		return false
	}

	err := s.backoff.Execute(ctx, func(ctx context.Context, attempt int) error {
		return s.source.Connect(ctx)
	}, &RetryOptions{
		OnRetry: func(err error, attempt int, delay time.Duration) {
			s.logger.Warnw(
				"msg", "source connect failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		},
	})
	if err != nil {
		s.breakers.Source.RecordFailure(err)
		s.logger.Errorw("msg", "ingestion source unreachable, scheduler not starting", "error", err)
		return false
	}
	s.breakers.Source.RecordSuccess()

	if err := s.store.Ping(ctx); err != nil {
		s.breakers.Store.RecordFailure(err)
		s.logger.Errorw("msg", "item store unreachable, scheduler not starting", "error", err)
		return false
	}
	s.breakers.Store.RecordSuccess()

	return true
}

// Start enters idle (push) mode when configured and supported, polling mode
// otherwise, and schedules the low-frequency failed-item retry timer.
func (s *IngestionScheduler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})

	var notifyCh <-chan int
	if s.cfg.UseIdleMode {
		ch, err := s.source.Subscribe(ctx)
		if err != nil {
			s.logger.Warnw("msg", "push subscription failed, falling back to polling", "error", err)
		} else {
			notifyCh = ch
		}
	}

	var tickCh <-chan time.Time
	if notifyCh != nil {
		s.mode.Store(modeIdle)
		s.logger.Infow("msg", "ingestion scheduler started", "mode", model.ModeIdle)
	} else {
		s.mode.Store(modePolling)
		s.pollTicker = time.NewTicker(s.cfg.CheckInterval)
		tickCh = s.pollTicker.C
		s.logger.Infow(
			"msg", "ingestion scheduler started",
			"mode", model.ModePolling,
			"interval", s.cfg.CheckInterval,
		)
		// Polling mode checks once immediately at start.
		go func() { _ = s.CheckAndProcess(context.Background()) }()
	}

	go s.runLoop(notifyCh, tickCh)

	s.retryCron = cron.New()
	_, err := s.retryCron.AddFunc(fmt.Sprintf("@every %s", s.cfg.RetryInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.RetryFailedItems(ctx)
	})
	if err != nil {
		s.logger.Errorw("msg", "failed to register retry timer", "error", err)
	} else {
		s.retryCron.Start()
	}

	return nil
}

// runLoop merges the two trigger sources into one serialized stream of cycle
// events. Exactly one of notifyCh/tickCh is non-nil.
func (s *IngestionScheduler) runLoop(notifyCh <-chan int, tickCh <-chan time.Time) {
	for {
		select {
		case <-s.stopCh:
			return
		case n, ok := <-notifyCh:
			if !ok {
				s.logger.Warn("push subscription closed, switching to polling")
				s.fallbackToPolling()
				return
			}
			_ = s.ProcessBatch(context.Background(), n)
		case <-tickCh:
			_ = s.CheckAndProcess(context.Background())
		}
	}
}

// fallbackToPolling restarts the run loop on a ticker after the push channel
// is lost mid-flight.
func (s *IngestionScheduler) fallbackToPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	s.mode.Store(modePolling)
	s.pollTicker = time.NewTicker(s.cfg.CheckInterval)
	go s.runLoop(nil, s.pollTicker.C)

	// Same contract as entering polling mode at Start: check once now, do
	// not wait a full interval for items that arrived during the outage.
	go func() { _ = s.CheckAndProcess(context.Background()) }()
}

// Stop prevents new cycles and cancels the active trigger source. An in-flight
// cycle is allowed to drain naturally; the reentrancy guard keeps a late
// trigger from overlapping it.
func (s *IngestionScheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.stopCh)
	if s.pollTicker != nil {
		s.pollTicker.Stop()
		s.pollTicker = nil
	}
	if s.retryCron != nil {
		s.retryCron.Stop()
		s.retryCron = nil
	}
	if err := s.source.Disconnect(); err != nil {
		s.logger.Warnw("msg", "source disconnect failed", "error", err)
	}

	s.mode.Store(modeStopped)
	s.logger.Info("ingestion scheduler stopped")
}

// CheckAndProcess runs one polling cycle: fetch up to max_batch_size pending
// items and process them. A trigger arriving while a cycle is running is
// dropped, never queued.
func (s *IngestionScheduler) CheckAndProcess(ctx context.Context) error {
	return s.runCycle(ctx, "poll", func(ctx context.Context) ([]*model.InboundItem, error) {
		return s.source.FetchBatch(ctx, s.cfg.MaxBatchSize)
	})
}

// ProcessBatch runs one push-mode cycle for a notification announcing n new
// items. It fetches exactly the newest n items, never rescanning history.
func (s *IngestionScheduler) ProcessBatch(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return s.runCycle(ctx, "push", func(ctx context.Context) ([]*model.InboundItem, error) {
		return s.source.FetchLatest(ctx, n)
	})
}

// TriggerManualCheck runs a cycle on demand, for the host's control API.
// Returns ErrJobAlreadyRunning when a cycle is in flight.
func (s *IngestionScheduler) TriggerManualCheck(ctx context.Context) error {
	return s.CheckAndProcess(ctx)
}

// runCycle is the single entry point every trigger funnels through.
// Connectivity failures are recorded against the source breaker and result in
// a skipped cycle; they are never propagated to the process root.
func (s *IngestionScheduler) runCycle(ctx context.Context, trigger string, fetch func(ctx context.Context) ([]*model.InboundItem, error)) (err error) {
	if !s.processing.CompareAndSwap(false, true) {
		s.throttledLog("cycle_overlap", "cycle already running, trigger dropped", "trigger", trigger)
		if s.metrics != nil {
			s.metrics.CyclesDropped.Inc()
		}
		return ErrJobAlreadyRunning
	}
	defer s.processing.Store(false)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic in processing cycle: %v", r)
			s.lastError.Store(msg)
			s.totalErrors.Add(1)
			s.logger.Errorw("msg", "recovered from cycle panic", "trigger", trigger, "panic", r)
			err = nil
		}
	}()

	if !s.locks.TryLock(cycleLockKey, cycleLockTTL) {
		s.throttledLog("cycle_locked", "cycle job lock held, trigger dropped", "trigger", trigger)
		return ErrJobAlreadyRunning
	}
	defer s.locks.Unlock(cycleLockKey)

	if gerr := s.watchdog.Guard("ingestion cycle"); gerr != nil {
		s.throttledLog("memory_pressure", "skipping cycle under memory pressure", "error", gerr)
		return gerr
	}

	if !s.breakers.Source.IsAvailable() {
		s.throttledLog("source_circuit_open", "source circuit open, skipping cycle", "trigger", trigger)
		return nil
	}

	s.totalChecks.Add(1)
	s.lastCheckAt.Store(time.Now().UnixNano())
	if s.metrics != nil {
		s.metrics.CyclesTotal.Inc()
	}

	items, ferr := fetch(ctx)
	if ferr != nil {
		// Circuit health tracks the fetch/connect step, not item outcomes.
		s.breakers.Source.RecordFailure(ferr)
		s.totalErrors.Add(1)
		s.lastError.Store(ferr.Error())
		s.throttledLog("fetch_failed", "fetch failed, cycle skipped", "trigger", trigger, "error", ferr)
		return nil
	}
	s.breakers.Source.RecordSuccess()

	for _, item := range items {
		s.processItem(ctx, item, false)
	}

	s.emitStatusUpdate(ctx)
	return nil
}

// processItem runs one item through the bounded processing path. A single
// item's failure is recorded against that item and never aborts the batch.
func (s *IngestionScheduler) processItem(ctx context.Context, item *model.InboundItem, isRetry bool) {
	if !isRetry && item.MessageID != "" {
		if _, dup := s.seen.Get(item.MessageID); dup {
			s.logger.Debugw("msg", "duplicate item skipped", "message_id", item.MessageID)
			return
		}
		s.seen.Add(item.MessageID, struct{}{})
	}

	if s.metrics != nil {
		s.metrics.PermitsInUse.Set(float64(s.limiter.InFlight()))
	}

	perr := s.limiter.Execute(ctx, func(ctx context.Context) error {
		return s.processor.Process(ctx, item)
	})

	if perr != nil {
		s.totalErrors.Add(1)
		s.lastError.Store(perr.Error())
		if s.metrics != nil {
			s.metrics.ItemsFailed.Inc()
		}
		// Items that failed before they were ever persisted have no row to
		// record the failure on.
		if item.ID != 0 {
			if merr := s.store.MarkFailed(ctx, item.ID, perr); merr != nil {
				s.throttledLog("mark_failed", "failed to record item failure", "item_id", item.ID, "error", merr)
			}
		} else {
			s.throttledLog("item_rejected", "item rejected before persistence", "message_id", item.MessageID, "error", perr)
		}
		return
	}

	s.totalProcessed.Add(1)
	if s.metrics != nil {
		s.metrics.ItemsProcessed.Inc()
	}
	if merr := s.store.MarkProcessed(ctx, item.ID); merr != nil {
		s.throttledLog("mark_processed", "failed to record item success", "item_id", item.ID, "error", merr)
	}
}

// RetryFailedItems re-attempts previously failed items through the same
// per-item path, gated by the store circuit breaker and a lookback window.
func (s *IngestionScheduler) RetryFailedItems(ctx context.Context) {
	if !s.breakers.Store.IsAvailable() {
		s.throttledLog("store_circuit_open", "store circuit open, skipping failed-item retry")
		return
	}

	items, err := s.store.FindFailedItems(ctx, maxItemRetries, retryMinAgeMin, retryBatchLimit)
	if err != nil {
		// Store health tracks the query itself, not per-item outcomes.
		s.breakers.Store.RecordFailure(err)
		s.throttledLog("retry_query_failed", "failed-item query failed", "error", err)
		return
	}
	s.breakers.Store.RecordSuccess()

	if len(items) == 0 {
		return
	}

	s.logger.Infow("msg", "retrying failed items", "count", len(items))
	for _, item := range items {
		if s.metrics != nil {
			s.metrics.RetriesTotal.Inc()
		}
		s.processItem(ctx, item, true)
	}

	s.emitStatusUpdate(ctx)
}

// TestConfiguration checks each dependency without touching circuit breaker
// state. Diagnostic only.
func (s *IngestionScheduler) TestConfiguration(ctx context.Context) (transportOk, storeOk bool) {
	transportOk = s.source.Connect(ctx) == nil
	storeOk = s.store.Ping(ctx) == nil
	return transportOk, storeOk
}

// GetStatus returns the runtime snapshot. Safe to call concurrently with a
// running cycle; reads never block on cycle work.
func (s *IngestionScheduler) GetStatus() model.SchedulerRuntime {
	rt := model.SchedulerRuntime{
		IsRunning:    s.running.Load(),
		IsProcessing: s.processing.Load(),
		Mode:         s.modeString(),
	}
	if nanos := s.lastCheckAt.Load(); nanos > 0 {
		t := time.Unix(0, nanos)
		rt.LastCheckAt = &t
	}
	return rt
}

// GetStatistics returns the cumulative processing counters.
func (s *IngestionScheduler) GetStatistics() model.SchedulerStats {
	return model.SchedulerStats{
		TotalChecks:    s.totalChecks.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalErrors:    s.totalErrors.Load(),
		LastError:      s.lastError.Load().(string),
	}
}

// CircuitStatus reports both breakers, for the host's status API.
func (s *IngestionScheduler) CircuitStatus() map[string]CircuitStatus {
	return map[string]CircuitStatus{
		"source": s.breakers.Source.Status(),
		"store":  s.breakers.Store.Status(),
	}
}

func (s *IngestionScheduler) modeString() string {
	switch s.mode.Load() {
	case modeIdle:
		return model.ModeIdle
	case modePolling:
		return model.ModePolling
	default:
		return model.ModeStopped
	}
}

// emitStatusUpdate publishes a snapshot to the optional status sink.
// Best-effort: failures are logged at debug and swallowed.
func (s *IngestionScheduler) emitStatusUpdate(ctx context.Context) {
	if s.sink == nil {
		return
	}

	snapshot := &model.StatusSnapshot{
		Runtime:   s.GetStatus(),
		Stats:     s.GetStatistics(),
		UpdatedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.sink.Publish(ctx, snapshot); err != nil {
		s.logger.Debugw("msg", "status publish failed", "error", err)
	}
}

// publishCircuitEvent forwards breaker transitions to the status sink.
func (s *IngestionScheduler) publishCircuitEvent(name string, from, to CircuitState, failures int) {
	if s.sink == nil {
		return
	}

	eventType := model.CircuitEventClosed
	if to == StateOpen {
		eventType = model.CircuitEventOpened
	} else if to != StateClosed {
		return
	}

	event := &model.CircuitEvent{
		Type:       eventType,
		Dependency: name,
		From:       from.String(),
		To:         to.String(),
		Failures:   failures,
		OccurredAt: time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.sink.PublishCircuitEvent(ctx, event); err != nil {
			s.logger.Debugw("msg", "circuit event publish failed", "error", err)
		}
	}()
}

// throttledLog logs through the throttler so sustained outages cannot flood
// the log. Summary lines report the suppressed count.
func (s *IngestionScheduler) throttledLog(key, msg string, kvs ...interface{}) {
	decision := s.throttle.ShouldLog(key)
	if !decision.Log {
		return
	}

	allKvs := append([]interface{}{"msg", msg}, kvs...)
	if decision.Summary {
		allKvs = append(allKvs, "suppressed", decision.Suppressed)
	}
	s.logger.Warnw(allKvs...)
}

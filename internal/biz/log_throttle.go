package biz

import (
	"sync"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// Summary cadence: a summary line is emitted at the 10th suppression and every
// 100th thereafter.
const (
	defaultSummaryAt    = 10
	defaultSummaryEvery = 100
)

// ThrottleDecision tells the caller whether an occurrence of a message key
// should be logged, and whether the line should be a suppression summary.
type ThrottleDecision struct {
	Log        bool
	Summary    bool
	Suppressed int
}

// throttleRecord tracks occurrences of one message key within the current window.
type throttleRecord struct {
	count      int
	suppressed int
	firstSeen  time.Time
	lastSeen   time.Time
}

// LogThrottler suppresses duplicate diagnostic messages within a rolling time
// window. Under a sustained outage a naive per-event log would itself exhaust
// disk; this bounds log volume to the number of distinct keys while keeping
// visibility through periodic summaries.
type LogThrottler struct {
	window       time.Duration
	maxPerWindow int
	summaryAt    int
	summaryEvery int

	mu      sync.Mutex
	records map[string]*throttleRecord

	now    func() time.Time
	done   chan struct{}
	closed sync.Once
	logger *log.Helper
}

// NewLogThrottler creates a throttler and starts its background sweeper. The
// sweeper runs every 60 seconds and evicts keys unseen for twice the window.
// Call Close to stop the sweeper.
func NewLogThrottler(cfg *conf.Throttle, logger log.Logger) *LogThrottler {
	window := time.Minute
	maxPerWindow := 3
	if cfg != nil {
		if cfg.Window > 0 {
			window = cfg.Window
		}
		if cfg.MaxPerWindow > 0 {
			maxPerWindow = cfg.MaxPerWindow
		}
	}

	t := &LogThrottler{
		window:       window,
		maxPerWindow: maxPerWindow,
		summaryAt:    defaultSummaryAt,
		summaryEvery: defaultSummaryEvery,
		records:      make(map[string]*throttleRecord),
		now:          time.Now,
		done:         make(chan struct{}),
		logger:       log.NewHelper(logger),
	}

	go t.sweepLoop(60 * time.Second)

	return t
}

// ShouldLog decides whether the current occurrence of key should be logged.
// The first maxPerWindow occurrences within a window log normally; later ones
// are suppressed and counted, with summary lines at the configured cadence.
// On window rollover the previous suppressed total is reported once.
func (t *LogThrottler) ShouldLog(key string) ThrottleDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	rec, ok := t.records[key]
	if !ok {
		rec = &throttleRecord{firstSeen: now}
		t.records[key] = rec
	}

	// Window rollover: reset the counter and report the previous window's
	// suppressed total once.
	if now.Sub(rec.firstSeen) >= t.window {
		prevSuppressed := rec.suppressed
		rec.count = 1
		rec.suppressed = 0
		rec.firstSeen = now
		rec.lastSeen = now
		if prevSuppressed > 0 {
			return ThrottleDecision{Log: true, Summary: true, Suppressed: prevSuppressed}
		}
		return ThrottleDecision{Log: true}
	}

	rec.lastSeen = now
	rec.count++

	if rec.count <= t.maxPerWindow {
		return ThrottleDecision{Log: true}
	}

	rec.suppressed++
	if rec.suppressed == t.summaryAt || (rec.suppressed > t.summaryAt && (rec.suppressed-t.summaryAt)%t.summaryEvery == 0) {
		return ThrottleDecision{Log: true, Summary: true, Suppressed: rec.suppressed}
	}

	return ThrottleDecision{Suppressed: rec.suppressed}
}

// TrackedKeys returns the number of keys currently tracked. Used by status
// reporting and tests.
func (t *LogThrottler) TrackedKeys() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Close stops the background sweeper.
func (t *LogThrottler) Close() {
	t.closed.Do(func() { close(t.done) })
}

// sweepLoop periodically evicts keys idle beyond 2x the window.
func (t *LogThrottler) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *LogThrottler) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-2 * t.window)
	evicted := 0
	for key, rec := range t.records {
		if rec.lastSeen.Before(cutoff) {
			delete(t.records, key)
			evicted++
		}
	}

	if evicted > 0 {
		t.logger.Debugw("msg", "log throttle sweep", "evicted", evicted, "remaining", len(t.records))
	}
}

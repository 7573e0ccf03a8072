package biz

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// Memory pressure levels reported by CheckMemory.
const (
	MemoryLevelOK       = "ok"
	MemoryLevelWarning  = "warning"
	MemoryLevelHigh     = "high"
	MemoryLevelCritical = "critical"
)

// ErrMemoryPressure is returned by Guard when memory usage is above the
// critical threshold and the requested operation must not start.
type ErrMemoryPressure struct {
	Operation string
	Level     string
	UsedMB    uint64
}

// Error implements the error interface.
func (e *ErrMemoryPressure) Error() string {
	return fmt.Sprintf("memory pressure %s (%dMB used): refusing to start %s", e.Level, e.UsedMB, e.Operation)
}

// MemoryReport is the result of a memory sample.
type MemoryReport struct {
	Safe   bool   `json:"safe"`
	Level  string `json:"level"`
	UsedMB uint64 `json:"used_mb"`
}

// MemoryWatchdog samples process memory and gates heavy operations before
// they start. It is a precondition check, not a mid-operation abort.
type MemoryWatchdog struct {
	warningMB  uint64
	criticalMB uint64
	maxMB      uint64

	sample func() uint64 // returns used bytes

	mu            sync.Mutex
	lastWarningAt time.Time

	now    func() time.Time
	logger *log.Helper
}

// NewMemoryWatchdog creates a watchdog with the configured thresholds. The
// default sampler reads the Go runtime's allocated heap.
func NewMemoryWatchdog(cfg *conf.Watchdog, logger log.Logger) *MemoryWatchdog {
	warning, critical, maxMB := uint64(1024), uint64(1536), uint64(2048)
	if cfg != nil && cfg.WarningMB > 0 && cfg.CriticalMB > cfg.WarningMB && cfg.MaxMB > cfg.CriticalMB {
		warning, critical, maxMB = cfg.WarningMB, cfg.CriticalMB, cfg.MaxMB
	}

	return &MemoryWatchdog{
		warningMB:  warning,
		criticalMB: critical,
		maxMB:      maxMB,
		sample:     sampleHeapAlloc,
		now:        time.Now,
		logger:     log.NewHelper(logger),
	}
}

func sampleHeapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// CheckMemory samples current usage and classifies it against the thresholds.
// Warning-level samples log at most once per 60 seconds.
func (w *MemoryWatchdog) CheckMemory() MemoryReport {
	usedMB := w.sample() / (1 << 20)

	switch {
	case usedMB >= w.maxMB:
		return MemoryReport{Safe: false, Level: MemoryLevelCritical, UsedMB: usedMB}
	case usedMB >= w.criticalMB:
		return MemoryReport{Safe: false, Level: MemoryLevelHigh, UsedMB: usedMB}
	case usedMB >= w.warningMB:
		w.warnThrottled(usedMB)
		return MemoryReport{Safe: true, Level: MemoryLevelWarning, UsedMB: usedMB}
	default:
		return MemoryReport{Safe: true, Level: MemoryLevelOK, UsedMB: usedMB}
	}
}

// Guard must be called immediately before starting a batch or other heavy
// operation. It returns an ErrMemoryPressure when usage is unsafe, and the
// operation must not start.
func (w *MemoryWatchdog) Guard(operation string) error {
	report := w.CheckMemory()
	if report.Safe {
		return nil
	}

	w.logger.Errorw(
		"msg", "memory guard refused operation",
		"operation", operation,
		"level", report.Level,
		"used_mb", report.UsedMB,
		"max_mb", w.maxMB,
	)

	return &ErrMemoryPressure{Operation: operation, Level: report.Level, UsedMB: report.UsedMB}
}

// Status returns the current report plus the configured thresholds.
func (w *MemoryWatchdog) Status() map[string]interface{} {
	report := w.CheckMemory()
	return map[string]interface{}{
		"safe":        report.Safe,
		"level":       report.Level,
		"used_mb":     report.UsedMB,
		"warning_mb":  w.warningMB,
		"critical_mb": w.criticalMB,
		"max_mb":      w.maxMB,
	}
}

// warnThrottled logs a warning-level sample at most once per 60s.
func (w *MemoryWatchdog) warnThrottled(usedMB uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Sub(w.lastWarningAt) < 60*time.Second {
		return
	}
	w.lastWarningAt = now

	w.logger.Warnw(
		"msg", "memory usage above warning threshold",
		"used_mb", usedMB,
		"warning_mb", w.warningMB,
	)
}

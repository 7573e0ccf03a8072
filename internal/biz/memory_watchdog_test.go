package biz

import (
	"os"
	"testing"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = uint64(1 << 20)

func newTestWatchdog(cfg *conf.Watchdog, usedMB uint64) *MemoryWatchdog {
	w := NewMemoryWatchdog(cfg, log.NewStdLogger(os.Stdout))
	w.sample = func() uint64 { return usedMB * mib }
	return w
}

func TestMemoryWatchdog_Levels(t *testing.T) {
	cfg := &conf.Watchdog{WarningMB: 1024, CriticalMB: 1536, MaxMB: 2048}

	tests := []struct {
		name   string
		usedMB uint64
		safe   bool
		level  string
	}{
		{name: "well_below_warning", usedMB: 512, safe: true, level: MemoryLevelOK},
		{name: "just_below_warning", usedMB: 1023, safe: true, level: MemoryLevelOK},
		{name: "at_warning", usedMB: 1024, safe: true, level: MemoryLevelWarning},
		{name: "between_warning_and_critical", usedMB: 1400, safe: true, level: MemoryLevelWarning},
		{name: "at_critical", usedMB: 1536, safe: false, level: MemoryLevelHigh},
		{name: "between_critical_and_max", usedMB: 1900, safe: false, level: MemoryLevelHigh},
		{name: "at_max", usedMB: 2048, safe: false, level: MemoryLevelCritical},
		{name: "above_max", usedMB: 4096, safe: false, level: MemoryLevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWatchdog(cfg, tt.usedMB)
			report := w.CheckMemory()
			assert.Equal(t, tt.safe, report.Safe)
			assert.Equal(t, tt.level, report.Level)
			assert.Equal(t, tt.usedMB, report.UsedMB)
		})
	}
}

func TestMemoryWatchdog_GuardAllowsSafeLevels(t *testing.T) {
	cfg := &conf.Watchdog{WarningMB: 1024, CriticalMB: 1536, MaxMB: 2048}

	assert.NoError(t, newTestWatchdog(cfg, 512).Guard("batch"))
	assert.NoError(t, newTestWatchdog(cfg, 1200).Guard("batch"), "warning level is safe")
}

func TestMemoryWatchdog_GuardRefusesUnsafeLevels(t *testing.T) {
	cfg := &conf.Watchdog{WarningMB: 1024, CriticalMB: 1536, MaxMB: 2048}

	err := newTestWatchdog(cfg, 1600).Guard("ingest cycle")
	require.Error(t, err)

	var pressure *ErrMemoryPressure
	require.ErrorAs(t, err, &pressure)
	assert.Equal(t, "ingest cycle", pressure.Operation)
	assert.Equal(t, MemoryLevelHigh, pressure.Level)
	assert.Equal(t, uint64(1600), pressure.UsedMB)
	assert.Contains(t, err.Error(), "refusing to start ingest cycle")

	err = newTestWatchdog(cfg, 3000).Guard("bulk transform")
	require.ErrorAs(t, err, &pressure)
	assert.Equal(t, MemoryLevelCritical, pressure.Level)
}

func TestMemoryWatchdog_WarningLogThrottled(t *testing.T) {
	cfg := &conf.Watchdog{WarningMB: 1024, CriticalMB: 1536, MaxMB: 2048}
	w := newTestWatchdog(cfg, 1200)

	clock := &fixedClock{t: time.Now()}
	w.now = clock.Now

	// Repeated warning samples inside 60s only stamp lastWarningAt once.
	w.CheckMemory()
	first := w.lastWarningAt
	clock.Advance(10 * time.Second)
	w.CheckMemory()
	assert.Equal(t, first, w.lastWarningAt)

	clock.Advance(55 * time.Second)
	w.CheckMemory()
	assert.True(t, w.lastWarningAt.After(first))
}

func TestMemoryWatchdog_InvalidConfigFallsBackToDefaults(t *testing.T) {
	// Ordering violated, so the defaults apply.
	cfg := &conf.Watchdog{WarningMB: 2048, CriticalMB: 1024, MaxMB: 512}
	w := newTestWatchdog(cfg, 1025)

	report := w.CheckMemory()
	assert.Equal(t, MemoryLevelWarning, report.Level)
}

func TestMemoryWatchdog_Status(t *testing.T) {
	cfg := &conf.Watchdog{WarningMB: 100, CriticalMB: 200, MaxMB: 300}
	w := newTestWatchdog(cfg, 50)

	st := w.Status()
	assert.Equal(t, true, st["safe"])
	assert.Equal(t, MemoryLevelOK, st["level"])
	assert.Equal(t, uint64(50), st["used_mb"])
	assert.Equal(t, uint64(100), st["warning_mb"])
	assert.Equal(t, uint64(200), st["critical_mb"])
	assert.Equal(t, uint64(300), st["max_mb"])
}

func TestMemoryWatchdog_DefaultSampler(t *testing.T) {
	w := NewMemoryWatchdog(nil, log.NewStdLogger(os.Stdout))
	report := w.CheckMemory()
	// A unit test process sits far below a 1GB warning threshold.
	assert.True(t, report.Safe)
}

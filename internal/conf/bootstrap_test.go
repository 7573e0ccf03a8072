package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)
	return configPath
}

func TestNewBootstrap_Defaults(t *testing.T) {
	// Create a minimal valid config file
	configPath := writeConfigFile(t, `server:
  http:
    addr: :8080
data:
  database:
    driver: mysql
  redis:
    addr: 127.0.0.1:6379
`)

	// Set required environment variables
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/testdb")

	// Load configuration
	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Verify server defaults
	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, 10*time.Minute, bc.Server.Http.Timeout)

	// Verify data defaults
	assert.Equal(t, "mysql", bc.Data.Database.Driver)
	assert.Equal(t, "user:pass@tcp(localhost:3306)/testdb", bc.Data.Database.Source)

	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, "tcp", bc.Data.Redis.Network)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.WriteTimeout)

	// Verify scheduler defaults
	assert.True(t, bc.Scheduler.Enabled)
	assert.Equal(t, 2*time.Minute, bc.Scheduler.CheckInterval)
	assert.Equal(t, 10, bc.Scheduler.MaxBatchSize)
	assert.Equal(t, time.Hour, bc.Scheduler.RetryInterval)
	assert.True(t, bc.Scheduler.UseIdleMode)

	// Verify resilience defaults
	assert.Equal(t, 5, bc.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, bc.Breaker.ResetTimeout)
	assert.Equal(t, 3, bc.Breaker.HalfOpenSuccesses)

	assert.Equal(t, uint64(1024), bc.Watchdog.WarningMB)
	assert.Equal(t, uint64(1536), bc.Watchdog.CriticalMB)
	assert.Equal(t, uint64(2048), bc.Watchdog.MaxMB)

	assert.Equal(t, time.Minute, bc.Throttle.Window)
	assert.Equal(t, 3, bc.Throttle.MaxPerWindow)

	assert.Equal(t, 10, bc.Limiter.MaxConcurrent)
	assert.Equal(t, 50, bc.Limiter.QueueSize)
	assert.Equal(t, 30*time.Second, bc.Limiter.AcquireTimeout)

	assert.Equal(t, time.Second, bc.Backoff.Base)
	assert.Equal(t, 2.0, bc.Backoff.Multiplier)
	assert.Equal(t, 8*time.Second, bc.Backoff.MaxDelay)
	assert.Equal(t, 3, bc.Backoff.MaxRetries)
	assert.True(t, bc.Backoff.Jitter)

	// Verify log defaults
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectedVal func(*Bootstrap) bool
		description string
	}{
		{
			name: "override_http_addr",
			envVars: map[string]string{
				"PARTSFORM_SERVER_HTTP_ADDR": ":9999",
				"MYSQL_DSN":                  "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Server.Http.Addr == ":9999"
			},
			description: "PARTSFORM_SERVER_HTTP_ADDR should override default :8080",
		},
		{
			name: "override_redis_addr",
			envVars: map[string]string{
				"REDIS_ADDR": "redis.example.com:6379",
				"MYSQL_DSN":  "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Data.Redis.Addr == "redis.example.com:6379"
			},
			description: "REDIS_ADDR should override default",
		},
		{
			name: "override_log_level",
			envVars: map[string]string{
				"PARTSFORM_LOG_LEVEL": "debug",
				"MYSQL_DSN":           "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Log.Level == "debug"
			},
			description: "PARTSFORM_LOG_LEVEL should override default info",
		},
		{
			name: "override_scheduler_interval",
			envVars: map[string]string{
				"PARTSFORM_SCHEDULER_CHECK_INTERVAL": "45s",
				"MYSQL_DSN":                          "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Scheduler.CheckInterval == 45*time.Second
			},
			description: "PARTSFORM_SCHEDULER_CHECK_INTERVAL should override default 2m",
		},
		{
			name: "override_breaker_threshold",
			envVars: map[string]string{
				"PARTSFORM_BREAKER_FAILURE_THRESHOLD": "8",
				"MYSQL_DSN":                           "user:pass@tcp(localhost:3306)/testdb",
			},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Breaker.FailureThreshold == 8
			},
			description: "PARTSFORM_BREAKER_FAILURE_THRESHOLD should override default 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap("")
			require.NoError(t, err)
			assert.True(t, tt.expectedVal(bc), tt.description)
		})
	}
}

func TestNewBootstrap_ConfigFileValues(t *testing.T) {
	configPath := writeConfigFile(t, `scheduler:
  enabled: true
  check_interval: 30s
  max_batch_size: 25
  use_idle_mode: false
breaker:
  failure_threshold: 7
  reset_timeout: 45s
watchdog:
  warning_mb: 512
  critical_mb: 768
  max_mb: 1024
bulk:
  input_dir: /var/lib/partsform/in
  output_dir: /var/lib/partsform/out
`)

	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/testdb")

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, bc.Scheduler.CheckInterval)
	assert.Equal(t, 25, bc.Scheduler.MaxBatchSize)
	assert.False(t, bc.Scheduler.UseIdleMode)

	assert.Equal(t, 7, bc.Breaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, bc.Breaker.ResetTimeout)

	assert.Equal(t, uint64(512), bc.Watchdog.WarningMB)
	assert.Equal(t, uint64(768), bc.Watchdog.CriticalMB)
	assert.Equal(t, uint64(1024), bc.Watchdog.MaxMB)

	assert.Equal(t, "/var/lib/partsform/in", bc.Bulk.InputDir)
	assert.Equal(t, "/var/lib/partsform/out", bc.Bulk.OutputDir)
	assert.Equal(t, "0 0 3 * * *", bc.Bulk.Schedule)
}

func TestNewBootstrap_MissingDSN(t *testing.T) {
	bc, err := NewBootstrap("")
	assert.Error(t, err)
	assert.Nil(t, bc)
	assert.Contains(t, err.Error(), "data.database.source")
}

func TestNewBootstrap_MissingConfigFile(t *testing.T) {
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/testdb")

	bc, err := NewBootstrap("/nonexistent/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, bc)
}

func TestValidate_WatchdogOrdering(t *testing.T) {
	tests := []struct {
		name    string
		w       *Watchdog
		wantErr bool
	}{
		{
			name:    "valid_ordering",
			w:       &Watchdog{WarningMB: 1024, CriticalMB: 1536, MaxMB: 2048},
			wantErr: false,
		},
		{
			name:    "warning_above_critical",
			w:       &Watchdog{WarningMB: 1600, CriticalMB: 1536, MaxMB: 2048},
			wantErr: true,
		},
		{
			name:    "critical_above_max",
			w:       &Watchdog{WarningMB: 1024, CriticalMB: 2100, MaxMB: 2048},
			wantErr: true,
		},
		{
			name:    "all_equal",
			w:       &Watchdog{WarningMB: 1024, CriticalMB: 1024, MaxMB: 1024},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc := &Bootstrap{
				Data: &Data{
					Database: &Data_Database{Source: "dsn"},
				},
				Watchdog: tt.w,
			}
			err := Validate(bc)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_BatchSize(t *testing.T) {
	bc := &Bootstrap{
		Data: &Data{
			Database: &Data_Database{Source: "dsn"},
		},
		Scheduler: &Scheduler{MaxBatchSize: 0},
	}
	err := Validate(bc)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_batch_size")
}

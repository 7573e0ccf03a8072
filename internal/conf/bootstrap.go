// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds database connection configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis connection configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Scheduler holds ingestion scheduler configuration.
type Scheduler struct {
	Enabled       bool
	CheckInterval time.Duration
	MaxBatchSize  int
	RetryInterval time.Duration
	UseIdleMode   bool
	DedupWindow   time.Duration
	DedupSize     int
}

// Breaker holds circuit breaker configuration shared by all guarded dependencies.
type Breaker struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	HalfOpenSuccesses int
}

// Watchdog holds memory watchdog thresholds in megabytes.
type Watchdog struct {
	WarningMB  uint64
	CriticalMB uint64
	MaxMB      uint64
}

// Throttle holds log throttler configuration.
type Throttle struct {
	Window       time.Duration
	MaxPerWindow int
}

// Limiter holds concurrency rate limiter configuration.
type Limiter struct {
	MaxConcurrent  int
	QueueSize      int
	AcquireTimeout time.Duration
}

// Backoff holds exponential backoff configuration for the transport connect path.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
	Jitter     bool
}

// Bulk holds bulk catalog transform configuration.
type Bulk struct {
	InputDir  string
	OutputDir string
	Schedule  string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Bootstrap is the root configuration object.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Scheduler *Scheduler
	Breaker   *Breaker
	Watchdog  *Watchdog
	Throttle  *Throttle
	Limiter   *Limiter
	Backoff   *Backoff
	Bulk      *Bulk
	Log       *Log
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with PARTSFORM_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with PARTSFORM_ prefix
	v.SetEnvPrefix("PARTSFORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without PARTSFORM_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "PARTSFORM_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "PARTSFORM_DATA_REDIS_ADDR")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
		},
		Scheduler: &Scheduler{
			Enabled:       v.GetBool("scheduler.enabled"),
			CheckInterval: v.GetDuration("scheduler.check_interval"),
			MaxBatchSize:  v.GetInt("scheduler.max_batch_size"),
			RetryInterval: v.GetDuration("scheduler.retry_interval"),
			UseIdleMode:   v.GetBool("scheduler.use_idle_mode"),
			DedupWindow:   v.GetDuration("scheduler.dedup_window"),
			DedupSize:     v.GetInt("scheduler.dedup_size"),
		},
		Breaker: &Breaker{
			FailureThreshold:  v.GetInt("breaker.failure_threshold"),
			ResetTimeout:      v.GetDuration("breaker.reset_timeout"),
			HalfOpenSuccesses: v.GetInt("breaker.half_open_successes"),
		},
		Watchdog: &Watchdog{
			WarningMB:  v.GetUint64("watchdog.warning_mb"),
			CriticalMB: v.GetUint64("watchdog.critical_mb"),
			MaxMB:      v.GetUint64("watchdog.max_mb"),
		},
		Throttle: &Throttle{
			Window:       v.GetDuration("throttle.window"),
			MaxPerWindow: v.GetInt("throttle.max_per_window"),
		},
		Limiter: &Limiter{
			MaxConcurrent:  v.GetInt("limiter.max_concurrent"),
			QueueSize:      v.GetInt("limiter.queue_size"),
			AcquireTimeout: v.GetDuration("limiter.acquire_timeout"),
		},
		Backoff: &Backoff{
			Base:       v.GetDuration("backoff.base"),
			Multiplier: v.GetFloat64("backoff.multiplier"),
			MaxDelay:   v.GetDuration("backoff.max_delay"),
			MaxRetries: v.GetInt("backoff.max_retries"),
			Jitter:     v.GetBool("backoff.jitter"),
		},
		Bulk: &Bulk{
			InputDir:  v.GetString("bulk.input_dir"),
			OutputDir: v.GetString("bulk.output_dir"),
			Schedule:  v.GetString("bulk.schedule"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 10*time.Minute)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.check_interval", 2*time.Minute)
	v.SetDefault("scheduler.max_batch_size", 10)
	v.SetDefault("scheduler.retry_interval", time.Hour)
	v.SetDefault("scheduler.use_idle_mode", true)
	v.SetDefault("scheduler.dedup_window", 30*time.Minute)
	v.SetDefault("scheduler.dedup_size", 4096)

	// Circuit breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)
	v.SetDefault("breaker.half_open_successes", 3)

	// Memory watchdog defaults
	v.SetDefault("watchdog.warning_mb", 1024)
	v.SetDefault("watchdog.critical_mb", 1536)
	v.SetDefault("watchdog.max_mb", 2048)

	// Log throttle defaults
	v.SetDefault("throttle.window", time.Minute)
	v.SetDefault("throttle.max_per_window", 3)

	// Concurrency limiter defaults
	v.SetDefault("limiter.max_concurrent", 10)
	v.SetDefault("limiter.queue_size", 50)
	v.SetDefault("limiter.acquire_timeout", 30*time.Second)

	// Backoff defaults (transport connect path)
	v.SetDefault("backoff.base", time.Second)
	v.SetDefault("backoff.multiplier", 2.0)
	v.SetDefault("backoff.max_delay", 8*time.Second)
	v.SetDefault("backoff.max_retries", 3)
	v.SetDefault("backoff.jitter", true)

	// Bulk transform defaults (disabled unless input_dir is set)
	v.SetDefault("bulk.schedule", "0 0 3 * * *")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	// Threshold ordering is required for the watchdog to behave sanely
	if w := bc.Watchdog; w != nil {
		if !(w.WarningMB < w.CriticalMB && w.CriticalMB < w.MaxMB) {
			return fmt.Errorf("invalid watchdog thresholds: warning_mb < critical_mb < max_mb required, got %d/%d/%d",
				w.WarningMB, w.CriticalMB, w.MaxMB)
		}
	}

	if bc.Scheduler != nil && bc.Scheduler.MaxBatchSize <= 0 {
		return fmt.Errorf("scheduler.max_batch_size must be positive, got %d", bc.Scheduler.MaxBatchSize)
	}

	return nil
}

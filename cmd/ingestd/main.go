// Package main is the entry point of the ingestd service.
// It initializes the Kratos application with the HTTP control surface and
// the ingestion scheduler lifecycle.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/biz"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"
	zapLogger "github.com/DeifMohamed2/PartsForm-sub004/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "ingestd"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, sched *biz.IngestionScheduler, bulk *biz.BulkTransformTask, bulkConf *conf.Bulk) *kratos.App {
	helper := log.NewHelper(logger)
	var bulkCron *cron.Cron

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
		),
		kratos.BeforeStart(func(ctx context.Context) error {
			bulkCron = StartBulkTransformCron(bulk, bulkConf, logger)

			// A failed initialization is not fatal: the control surface
			// exposes /api/ingest/start to retry once dependencies recover.
			if !sched.Initialize(ctx) {
				helper.Warn("ingestion scheduler initialization failed, waiting for manual start")
				return nil
			}
			if err := sched.Start(ctx); err != nil {
				helper.Errorw("msg", "failed to start ingestion scheduler", "error", err)
			}
			return nil
		}),
		kratos.BeforeStop(func(ctx context.Context) error {
			sched.Stop()
			if bulkCron != nil {
				bulkCron.Stop()
			}
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize Zap logger from configuration
	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	// Create Kratos adapter for Zap logger
	logger := zapLogger.NewKratosAdapter(zapLog)

	// Add context fields to logger
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	// Log startup configuration
	log.NewHelper(logger).Infow(
		"msg", "ingestd service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"scheduler.enabled", bc.Scheduler.Enabled,
		"scheduler.idle_mode", bc.Scheduler.UseIdleMode,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Scheduler, bc.Breaker, bc.Watchdog, bc.Throttle, bc.Limiter, bc.Backoff, bc.Bulk, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}

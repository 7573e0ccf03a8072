// Package server assembles the HTTP transport for the ingestion control API.
package server

import (
	"context"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/server/middleware"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/service"
	pkglog "github.com/DeifMohamed2/PartsForm-sub004/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc *service.IngestService, reg *prometheus.Registry, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout > 0 {
		opts = append(opts, http.Timeout(c.Http.Timeout))
	}
	srv := http.NewServer(opts...)

	registerIngestRoutes(srv, svc)
	srv.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return srv
}

// registerIngestRoutes wires the control API by hand; the service has no
// generated transport.
func registerIngestRoutes(srv *http.Server, svc *service.IngestService) {
	r := srv.Route("/api/ingest")

	r.GET("/status", handle("/api/ingest/status", func(ctx context.Context) (interface{}, error) {
		return svc.GetStatus(ctx)
	}))
	r.GET("/stats", handle("/api/ingest/stats", func(ctx context.Context) (interface{}, error) {
		return svc.GetStatistics(ctx)
	}))
	r.POST("/start", handle("/api/ingest/start", func(ctx context.Context) (interface{}, error) {
		return svc.Start(ctx)
	}))
	r.POST("/stop", handle("/api/ingest/stop", func(ctx context.Context) (interface{}, error) {
		return svc.Stop(ctx)
	}))
	r.POST("/check", handle("/api/ingest/check", func(ctx context.Context) (interface{}, error) {
		return svc.TriggerCheck(ctx)
	}))
	r.POST("/test", handle("/api/ingest/test", func(ctx context.Context) (interface{}, error) {
		return svc.TestConfig(ctx)
	}))
	r.POST("/bulk", handle("/api/ingest/bulk", func(ctx context.Context) (interface{}, error) {
		return svc.RunBulkTransform(ctx)
	}))
}

// handle adapts a parameterless service call into a routed handler that still
// runs the middleware chain.
func handle(operation string, fn func(ctx context.Context) (interface{}, error)) func(http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(ctx)
		})
		reply, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, reply)
	}
}

//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"github.com/DeifMohamed2/PartsForm-sub004/internal/biz"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/data"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/metrics"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/server"
	"github.com/DeifMohamed2/PartsForm-sub004/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Scheduler, *conf.Breaker, *conf.Watchdog, *conf.Throttle, *conf.Limiter, *conf.Backoff, *conf.Bulk, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		metrics.ProviderSet,
		newApp,
	))
}

package fx

import (
	"github.com/iSwxkzyEU/sk-trade/internal/api"
	"github.com/iSwxkzyEU/sk-trade/internal/clock"
	"github.com/iSwxkzyEU/sk-trade/internal/config"
	"github.com/iSwxkzyEU/sk-trade/internal/database"
	"github.com/iSwxkzyEU/sk-trade/internal/logger"
	"github.com/iSwxkzyEU/sk-trade/internal/middleware"
	"github.com/iSwxkzyEU/sk-trade/internal/notify"
	"github.com/iSwxkzyEU/sk-trade/internal/repository"
	"github.com/iSwxkzyEU/sk-trade/internal/server"
	"github.com/iSwxkzyEU/sk-trade/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideRateLimiter(cfg *config.Config, logger zerolog.Logger) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
}

// Core is everything but the HTTP surface; the CLI runs on it alone.
var Core = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(database.New),
	fx.Provide(database.NewSQLX),
	fx.Provide(clock.New),
	// repos
	fx.Provide(repository.NewStore),
	notify.Module,
	// svc
	fx.Provide(service.NewPlayerService),
	fx.Provide(service.NewStockService),
	fx.Provide(service.NewTradeService),
	// api client
	fx.Provide(api.NewWebhookClient),
	fx.Invoke(func(cfg *config.Config, log zerolog.Logger) {
		logger.ApplyLevel(cfg.LogLevel, log)
	}),
)

var Module = fx.Options(
	Core,
	fx.Provide(ProvideRateLimiter),
	// server
	fx.Provide(server.NewTrackerServer),
)

package cmd

import (
	"io"
	"log/slog"
	"os"

	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/causalchat/chat-delivery-service/config"
	httpserver "github.com/causalchat/chat-delivery-service/infra/server/http"
	"github.com/causalchat/chat-delivery-service/infra/telemetry"
	"github.com/causalchat/chat-delivery-service/internal/adapter/pubsub"
	"github.com/causalchat/chat-delivery-service/internal/domain/registry"
	statshandler "github.com/causalchat/chat-delivery-service/internal/handler/stats"
	wshandler "github.com/causalchat/chat-delivery-service/internal/handler/ws"
	"github.com/causalchat/chat-delivery-service/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		telemetry.Module,
		pubsub.Module,
		registry.Module,
		service.Module,
		wshandler.Module,
		statshandler.Module,
		httpserver.Module,
	)
}

// ProvideLogger builds the process logger. The level lives in a LevelVar so
// config hot reloads can adjust it without restarting.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel())

	var w io.Writer = os.Stdout
	if cfg.Log.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg.Watch(logger, func(fresh *config.Config) {
		if fresh.LogLevel() != level.Level() {
			logger.Info("log level updated", "level", fresh.Log.Level)
			level.Set(fresh.LogLevel())
		}
	})

	return logger
}

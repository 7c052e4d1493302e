package registry

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/causalchat/chat-delivery-service/config"
	"github.com/causalchat/chat-delivery-service/infra/telemetry"
)

var Module = fx.Module("registry",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger, publisher Publisher, metrics *telemetry.Metrics) *Hub {
			return NewHub(logger, publisher, metrics,
				WithDefaultRoom(cfg.DefaultRoom),
				WithHistoryLimit(cfg.HistoryLimit),
				WithSessionBuffer(cfg.Session.Buffer),
				WithSendTimeout(cfg.Session.SendTimeout),
				WithSettleDelay(cfg.Session.SettleDelay),
			)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, h *Hub) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown()
				return nil
			},
		})
	}),
)

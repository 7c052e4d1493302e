package service

import (
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
	),

	// Wrap the deliverer so every handled frame leaves a debug trace.
	fx.Decorate(func(orig Deliverer, logger *slog.Logger) Deliverer {
		return &delivererMiddleware{
			next:   orig,
			logger: logger,
		}
	}),
)

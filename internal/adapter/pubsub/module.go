package pubsub

import (
	"context"

	"go.uber.org/fx"

	"github.com/causalchat/chat-delivery-service/internal/domain/registry"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewEventDispatcher,
		fx.Annotate(
			func(d EventDispatcher) EventDispatcher { return d },
			fx.As(new(registry.Publisher)),
		),
		NewAuditor,
	),
	fx.Invoke(func(lc fx.Lifecycle, d EventDispatcher, a *Auditor) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				// Detach from the start context; it is canceled
				// once fx finishes booting.
				return a.Start(context.WithoutCancel(ctx))
			},
			OnStop: func(ctx context.Context) error {
				a.Stop()
				return d.Close()
			},
		})
	}),
)

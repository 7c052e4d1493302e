package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/fx"
)

var Module = fx.Module("telemetry",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, m *Metrics, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				var rm metricdata.ResourceMetrics
				if err := m.Collect(ctx, &rm); err == nil {
					for _, scope := range rm.ScopeMetrics {
						logger.Info("telemetry summary", "scope", scope.Scope.Name, "instruments", len(scope.Metrics))
					}
				}
				return m.Shutdown(ctx)
			},
		})
	}),
)

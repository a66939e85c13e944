package amqp

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		NewDiagramHandler,
		NewWatermillRouter,
	),

	fx.Invoke(RegisterHandlers),

	fx.Invoke(func(lc fx.Lifecycle, router *message.Router, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return RunRouter(ctx, router, logger)
			},
			OnStop: func(ctx context.Context) error {
				return router.Close()
			},
		})
	}),
)

package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewProvider,
		func(p Provider) message.Publisher { return p.Publisher() },
		func(p Provider) message.Subscriber { return p.Subscriber() },
	),
	fx.Invoke(func(lc fx.Lifecycle, p Provider, logger *slog.Logger) {
		logger.Info("MESSAGE_BUS_READY", "distributed", p.Distributed())
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return p.Close()
			},
		})
	}),
)

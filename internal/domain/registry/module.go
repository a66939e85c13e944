package registry

import (
	"context"
	"log/slog"

	"github.com/diagramhub/collab-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, logger *slog.Logger) *Hub {
			return NewHub(
				WithMaxRoomSize(cfg.Hub.MaxRoomSize),
				WithLogger(logger.With(slog.String("component", "registry"))),
			)
		},
		func(h *Hub) Hubber { return h },
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Close every live connector
				return nil
			},
		})
	}),
)

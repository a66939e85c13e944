package service

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			NewPresenceService,
			fx.As(fx.Self()),
			fx.As(new(Presencer)),
		),
		fx.Annotate(
			NewMessageRouter,
			fx.As(new(Router)),
		),
		fx.Annotate(
			NewCollabService,
			fx.As(new(Collaborator)),
		),
	),

	// [DECORATION_LAYER] Intercept Router to add cross-cutting concerns
	fx.Decorate(func(orig Router, logger *slog.Logger) Router {
		return &RouterMiddleware{
			Next:   orig,
			Logger: logger,
		}
	}),

	fx.Invoke(func(lc fx.Lifecycle, p *PresenceService) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				p.Wait() // [DRAIN] Let in-flight evictions announce their leaves
				return nil
			},
		})
	}),
)

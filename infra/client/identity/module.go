package identity

import (
	"log/slog"
	"net/http"

	"github.com/diagramhub/collab-service/config"
	"github.com/diagramhub/collab-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity",
	fx.Provide(
		// [STRATEGY_SELECTION] auth.mode picks the resolver
		func(cfg *config.Config, logger *slog.Logger) service.Auther {
			l := logger.With(slog.String("component", "identity"))

			if cfg.Auth.Mode == config.AuthModeHeader {
				l.Warn("identity taken from gateway headers", "headers", []string{HeaderUserID, HeaderUsername})
				return HeaderResolver{}
			}

			return NewClient(cfg.Auth.URL,
				WithHTTPClient(&http.Client{Timeout: cfg.Auth.Timeout}),
				WithCache(cfg.Auth.CacheSize, cfg.Auth.CacheTTL),
				WithLogger(l),
			)
		},
	),
)

package httphandler

import (
	"net/http"

	"github.com/diagramhub/collab-service/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("http-handler",
	fx.Provide(
		func(h *registry.Hub) StatsProvider { return h },
		NewHandler,
		func(h *Handler) http.Handler { return h.Routes() },
	),
)

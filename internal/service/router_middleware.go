package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
)

// RouterMiddleware implements [DECORATOR_PATTERN] to add observability
// to inbound routing without touching relay logic.
type RouterMiddleware struct {
	Next   Router
	Logger *slog.Logger
}

// NewRouterMiddleware creates a new logging decorator for the Router.
func NewRouterMiddleware(next Router, logger *slog.Logger) Router {
	return &RouterMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *RouterMiddleware) Route(ctx context.Context, conn model.Connector, raw []byte) {
	start := time.Now()

	m.Next.Route(ctx, conn, raw)

	if d := time.Since(start); d > slowRouteThreshold {
		m.Logger.Warn("SLOW_ROUTE",
			"diagram_id", conn.GetDiagramID(),
			"conn_id", conn.GetID(),
			"size", len(raw),
			"duration_ms", d.Milliseconds(),
		)
	}
}

// slowRouteThreshold is well above one send window; crossing it means
// several peers in the room stalled during the same fan-out.
const slowRouteThreshold = 250 * time.Millisecond

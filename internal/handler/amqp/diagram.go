package amqp

import (
	"context"
	"log/slog"

	"github.com/diagramhub/collab-service/internal/service"
)

const EventDiagramDeleted = "diagram.deleted"

// DiagramEvent is published by the diagram store. Only the fields this
// service acts on are decoded.
type DiagramEvent struct {
	Event     string `json:"event"`
	DiagramID string `json:"diagram_id"`
}

type DiagramHandler struct {
	presence service.Presencer
	logger   *slog.Logger
}

func NewDiagramHandler(presence service.Presencer, logger *slog.Logger) *DiagramHandler {
	return &DiagramHandler{
		presence: presence,
		logger:   logger.With(slog.String("component", "amqp")),
	}
}

// [ON_DIAGRAM_DELETED]
// Closes every local session of a deleted diagram. Other events are ACKed.
func (h *DiagramHandler) OnDiagramEvent(ctx context.Context, ev *DiagramEvent) error {
	if ev.Event != EventDiagramDeleted || ev.DiagramID == "" {
		return nil
	}

	// [LOCALITY_FILTER] Nothing to do when no connection of this diagram lives here.
	n := h.presence.EvictRoom(ctx, ev.DiagramID, EventDiagramDeleted)
	h.logger.Debug("DIAGRAM_DELETED_HANDLED", "diagram_id", ev.DiagramID, "evicted", n)
	return nil
}

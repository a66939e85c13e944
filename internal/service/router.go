package service

import (
	"context"
	"log/slog"

	"github.com/diagramhub/collab-service/internal/domain/model"
)

// Codec converts between wire frames and envelopes.
type Codec interface {
	Encode(env model.Envelope) ([]byte, error)
	Decode(raw []byte) (model.Envelope, error)
}

// Router classifies inbound frames and dispatches them.
type Router interface {
	Route(ctx context.Context, conn model.Connector, raw []byte)
}

var _ Router = (*MessageRouter)(nil)

// MessageRouter is a pure relay: it attributes payloads to their sender and
// never looks inside them.
type MessageRouter struct {
	presence Presencer
	codec    Codec
	logger   *slog.Logger
}

func NewMessageRouter(presence Presencer, codec Codec, logger *slog.Logger) *MessageRouter {
	return &MessageRouter{
		presence: presence,
		codec:    codec,
		logger:   logger,
	}
}

// Route handles one inbound frame from conn. Nothing here fails the session:
// malformed or unsupported frames are dropped.
func (r *MessageRouter) Route(ctx context.Context, conn model.Connector, raw []byte) {
	env, err := r.codec.Decode(raw)
	if err != nil {
		r.logger.Debug("inbound frame dropped",
			"diagram_id", conn.GetDiagramID(),
			"conn_id", conn.GetID(),
			"size", len(raw),
			"err", err,
		)
		return
	}

	switch env.Kind() {
	case model.KindDrawingUpdate:
		r.presence.Broadcast(ctx, conn.GetDiagramID(), model.NewDrawingUpdate(env.Data(), conn.GetIdentity()), conn)

	case model.KindCursorMove:
		r.presence.Broadcast(ctx, conn.GetDiagramID(), model.NewCursorMove(env.Position(), conn.GetIdentity()), conn)

	case model.KindPing:
		// [DIRECT_REPLY] Never broadcast. A failed reply means our own
		// connection is gone; closing it lets the transport run the leave.
		if err := conn.Send(model.NewPong()); err != nil {
			r.logger.Debug("pong not delivered", "conn_id", conn.GetID(), "err", err)
			conn.Close()
		}

	default:
		r.logger.Debug("inbound kind ignored", "conn_id", conn.GetID(), "kind", env.Kind())
	}
}

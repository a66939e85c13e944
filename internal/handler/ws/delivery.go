package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/diagramhub/collab-service/config"
	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Close codes shared with the web client.
const (
	CloseInternalError = 4000
	CloseUnauthorized  = 4001
)

// DiagramParam is the chi URL parameter carrying the diagram id.
const DiagramParam = "diagramID"

type WSHandler struct {
	logger   *slog.Logger
	collab   service.Collaborator
	auther   service.Auther
	codec    service.Codec
	cfg      config.WSConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, collab service.Collaborator, auther service.Auther, codec service.Codec, cfg *config.Config) *WSHandler {
	h := &WSHandler{
		logger: logger,
		collab: collab,
		auther: auther,
		codec:  codec,
		cfg:    cfg.WS,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	diagramID := chi.URLParam(r, DiagramParam)

	// 1. UPGRADE; refusals below are reported as close frames
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "diagram_id", diagramID, "err", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 2. RESOLVE IDENTITY
	ident, err := h.auther.Inspect(ctx, service.Credentials{Token: tokenFrom(r), Headers: r.Header})
	switch {
	case errors.Is(err, service.ErrTokenRequired):
		h.refuse(ws, CloseUnauthorized, "Token required")
		return
	case errors.Is(err, service.ErrUnauthorized):
		h.refuse(ws, CloseUnauthorized, "Invalid token")
		return
	case err != nil:
		h.logger.Error("identity lookup failed", "diagram_id", diagramID, "err", err)
		h.refuse(ws, CloseInternalError, "Internal error")
		return
	}

	// 3. ATTACH TO THE DIAGRAM ROOM
	conn, err := h.collab.Attach(ctx, diagramID, ident, model.ConnectMetadata{
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.refuse(ws, CloseInternalError, "Internal error")
		return
	}
	defer h.collab.Detach(context.WithoutCancel(ctx), conn)

	l := h.logger.With(
		slog.String("diagram_id", diagramID),
		slog.String("conn_id", conn.GetID().String()),
		slog.Int64("user_id", ident.UserID),
	)
	l.Info("ws opened")

	// 4. PUMPS; whichever side ends first tears down the other
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readPump(gctx, ws, conn) })
	g.Go(func() error { return h.writePump(gctx, ws, conn, l) })

	if err := g.Wait(); err != nil && !isExpectedClose(err) {
		l.Warn("ws closed abnormally", "err", err)
		return
	}
	l.Info("ws closed")
}

func (h *WSHandler) readPump(ctx context.Context, ws *websocket.Conn, conn model.Connector) error {
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if mt != websocket.TextMessage {
			continue
		}
		h.collab.Receive(ctx, conn, data)
	}
}

func (h *WSHandler) writePump(ctx context.Context, ws *websocket.Conn, conn model.Connector, l *slog.Logger) error {
	ticker := time.NewTicker(h.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		// Unblocks the reader.
		ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-conn.Done():
			// Evicted, detached or server shutdown.
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
				time.Now().Add(h.cfg.WriteWait))
			return nil

		case env := <-conn.Recv():
			data, err := h.codec.Encode(env)
			if err != nil {
				l.Error("failed to marshal ws envelope", "kind", env.Kind(), "err", err)
				continue
			}

			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				return err
			}
		}
	}
}

func (h *WSHandler) refuse(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(h.cfg.WriteWait))
}

// checkOrigin accepts non-browser clients (no Origin header) and browsers
// from ws.allowed_origins; "*" allows any origin.
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") ||
		slices.ContainsFunc(h.cfg.AllowedOrigins, func(o string) bool {
			return strings.EqualFold(strings.TrimRight(o, "/"), origin)
		})
}

// tokenFrom reads ?token= first, then an Authorization: Bearer header.
func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed)
}

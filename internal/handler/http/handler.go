package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/handler/ws"
	"github.com/diagramhub/collab-service/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatsProvider exposes hub counters for the operator endpoints.
type StatsProvider interface {
	Stats() model.HubStats
}

type Handler struct {
	logger   *slog.Logger
	stats    StatsProvider
	presence service.Presencer
	ws       *ws.WSHandler
}

func NewHandler(logger *slog.Logger, stats StatsProvider, presence service.Presencer, wsHandler *ws.WSHandler) *Handler {
	return &Handler{
		logger:   logger,
		stats:    stats,
		presence: presence,
		ws:       wsHandler,
	}
}

// Routes builds the public HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws/{"+ws.DiagramParam+"}", h.ws.ServeHTTP)

		r.Route("/collab", func(r chi.Router) {
			r.Get("/stats", h.Stats)
			r.Get("/diagrams/{diagramID}/presence", h.Presence)
		})
	})

	return r
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Stats())
}

// PresenceResponse lists who is attached to one diagram right now.
type PresenceResponse struct {
	DiagramID string           `json:"diagram_id"`
	Users     []model.Presence `json:"users"`
}

func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	diagramID := chi.URLParam(r, "diagramID")

	users := h.presence.Snapshot(diagramID)
	if users == nil {
		users = []model.Presence{}
	}
	writeJSON(w, http.StatusOK, PresenceResponse{DiagramID: diagramID, Users: users})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug("HTTP_REQUEST",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

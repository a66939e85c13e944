package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/domain/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Presencer coordinates the join/leave lifecycle of room members.
type Presencer interface {
	OnJoin(ctx context.Context, conn model.Connector) error
	OnLeave(ctx context.Context, conn model.Connector)
	Broadcast(ctx context.Context, diagramID string, env model.Envelope, exclude model.Connector) int
	Snapshot(diagramID string) []model.Presence
	EvictRoom(ctx context.Context, diagramID, reason string) int
}

// SessionPublisher exports session lifecycle events to the message bus.
type SessionPublisher interface {
	Publish(ctx context.Context, ev model.OutboundEventer) error
}

var _ Presencer = (*PresenceService)(nil)

type PresenceService struct {
	hub       registry.Hubber
	publisher SessionPublisher
	logger    *slog.Logger
	tracer    trace.Tracer

	// pending tracks asynchronous leaves started by failed deliveries.
	pending sync.WaitGroup
}

func NewPresenceService(hub registry.Hubber, publisher SessionPublisher, logger *slog.Logger, tp trace.TracerProvider) *PresenceService {
	return &PresenceService{
		hub:       hub,
		publisher: publisher,
		logger:    logger,
		tracer:    tp.Tracer("collab-service/presence"),
	}
}

// OnJoin registers conn, announces it to the room and hands it the current
// presence snapshot. The snapshot is read after registration, so the joiner
// always finds itself in it. A joiner that cannot take the snapshot is
// evicted and the error returned.
func (s *PresenceService) OnJoin(ctx context.Context, conn model.Connector) error {
	diagramID, ident := conn.GetDiagramID(), conn.GetIdentity()

	ctx, span := s.tracer.Start(ctx, "presence.join", trace.WithAttributes(spanAttrs(conn)...))
	defer span.End()

	// 1. [REGISTRATION]
	if err := s.hub.Join(diagramID, conn); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "join refused")

		if errors.Is(err, registry.ErrAlreadyRegistered) {
			s.logger.Error("INVARIANT_VIOLATION: connector joined twice",
				"diagram_id", diagramID, "conn_id", conn.GetID(), "err", err)
		} else {
			s.logger.Warn("join refused", "diagram_id", diagramID, "conn_id", conn.GetID(), "err", err)
		}
		return fmt.Errorf("presence join: %w", err)
	}

	// Published before anything can start the leave of conn, so a session
	// always starts before it ends.
	s.publish(ctx, model.NewSessionStarted(conn))

	// 2. [ANNOUNCE] Peers learn about the newcomer; the newcomer is excluded.
	s.Broadcast(ctx, diagramID, model.NewUserJoined(ident), conn)

	// 3. [SNAPSHOT] Direct reply to the joiner only.
	users := s.hub.Members(diagramID)
	if err := conn.Send(model.NewDiagramState(users)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot undeliverable")
		s.drop(ctx, conn, err)
		return fmt.Errorf("presence join: snapshot: %w", err)
	}

	s.logger.Info("user joined diagram",
		"diagram_id", diagramID,
		"conn_id", conn.GetID(),
		"user_id", ident.UserID,
		"username", ident.Username,
		"members", len(users),
	)
	return nil
}

// OnLeave deregisters conn and tells the remaining members. Only the call
// that actually removed the connector announces; repeats are no-ops.
func (s *PresenceService) OnLeave(ctx context.Context, conn model.Connector) {
	// 1. [CAPTURE] Connector fields are immutable, read them before removal.
	diagramID, ident := conn.GetDiagramID(), conn.GetIdentity()

	// 2. [DEREGISTRATION]
	if !s.hub.Leave(conn) {
		return
	}

	ctx, span := s.tracer.Start(ctx, "presence.leave", trace.WithAttributes(spanAttrs(conn)...))
	defer span.End()

	// 3. [ANNOUNCE] The departing connector is no longer a member.
	s.Broadcast(ctx, diagramID, model.NewUserLeft(ident), conn)

	s.publish(ctx, model.NewSessionEnded(conn, time.Now()))

	s.logger.Info("user left diagram",
		"diagram_id", diagramID,
		"conn_id", conn.GetID(),
		"user_id", ident.UserID,
		"username", ident.Username,
	)
}

// Broadcast fans env out to the room and evicts every recipient whose
// delivery failed. It returns the number of successful deliveries.
func (s *PresenceService) Broadcast(ctx context.Context, diagramID string, env model.Envelope, exclude model.Connector) int {
	res := s.hub.Broadcast(diagramID, env, exclude)

	for _, c := range res.Dropped {
		s.drop(ctx, c, errors.New("delivery failed"))
	}
	return res.Delivered
}

func (s *PresenceService) Snapshot(diagramID string) []model.Presence {
	return s.hub.Members(diagramID)
}

// EvictRoom closes every connection of diagramID, e.g. after the diagram was
// deleted. Nobody is left to be told, so no user_left is broadcast.
func (s *PresenceService) EvictRoom(ctx context.Context, diagramID, reason string) int {
	ctx, span := s.tracer.Start(ctx, "presence.evict_room", trace.WithAttributes(
		attribute.String("diagram.id", diagramID),
		attribute.String("evict.reason", reason),
	))
	defer span.End()

	evicted := 0
	now := time.Now()
	for _, c := range s.hub.Connections(diagramID) {
		if s.hub.Leave(c) {
			evicted++
			s.publish(ctx, model.NewSessionEnded(c, now))
		}
		c.Close()
	}

	span.SetAttributes(attribute.Int("evict.count", evicted))
	if evicted > 0 {
		s.logger.Info("room evicted", "diagram_id", diagramID, "reason", reason, "connections", evicted)
	}
	return evicted
}

// Wait blocks until every asynchronous leave started so far has finished.
func (s *PresenceService) Wait() {
	s.pending.Wait()
}

// drop is the [SELF_HEALING] path for a peer whose send failed: the
// connector is closed so its transport tears down, and its leave runs on a
// separate goroutine after the current fan-out pass.
func (s *PresenceService) drop(ctx context.Context, conn model.Connector, cause error) {
	s.logger.Debug("evicting unreachable connection",
		"diagram_id", conn.GetDiagramID(),
		"conn_id", conn.GetID(),
		"err", cause,
	)
	conn.Close()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.OnLeave(context.WithoutCancel(ctx), conn)
	}()
}

func (s *PresenceService) publish(ctx context.Context, ev model.OutboundEventer) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("session event not published", "routing_key", ev.GetRoutingKey(), "err", err)
	}
}

func spanAttrs(conn model.Connector) []attribute.KeyValue {
	ident := conn.GetIdentity()
	return []attribute.KeyValue{
		attribute.String("diagram.id", conn.GetDiagramID()),
		attribute.String("conn.id", conn.GetID().String()),
		attribute.Int64("user.id", ident.UserID),
	}
}

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventSource is stamped on every event this service publishes.
const EventSource = "collab-service"

type SessionEventKind string

const (
	SessionStarted SessionEventKind = "collab.session.started"
	SessionEnded   SessionEventKind = "collab.session.ended"
)

// OutboundEventer defines the contract for events that are being published
// from this service to the outside world.
type OutboundEventer interface {
	GetRoutingKey() string
	ToJSON() ([]byte, error)
}

var _ OutboundEventer = (*SessionEvent)(nil)

// SessionEvent records one collaboration session (one connector attached to
// one diagram) for downstream bookkeeping. The hub itself keeps no history.
type SessionEvent struct {
	ID        string           `json:"id"`
	Source    string           `json:"source"`
	Kind      SessionEventKind `json:"kind"`
	SessionID string           `json:"session_id"`
	DiagramID string           `json:"diagram_id"`
	UserID    int64            `json:"user_id"`
	Username  string           `json:"username"`
	JoinedAt  int64            `json:"joined_at"`
	LeftAt    int64            `json:"left_at,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// NewSessionStarted describes conn having joined its room.
func NewSessionStarted(conn Connector) *SessionEvent {
	return newSessionEvent(SessionStarted, conn, time.Time{})
}

// NewSessionEnded describes conn having left its room at leftAt.
func NewSessionEnded(conn Connector, leftAt time.Time) *SessionEvent {
	return newSessionEvent(SessionEnded, conn, leftAt)
}

func newSessionEvent(kind SessionEventKind, conn Connector, leftAt time.Time) *SessionEvent {
	ident := conn.GetIdentity()
	ev := &SessionEvent{
		ID:        uuid.NewString(),
		Source:    EventSource,
		Kind:      kind,
		SessionID: conn.GetID().String(),
		DiagramID: conn.GetDiagramID(),
		UserID:    ident.UserID,
		Username:  ident.Username,
		JoinedAt:  conn.GetCreatedAt().UnixMilli(),
		Timestamp: time.Now().UnixMilli(),
	}
	if !leftAt.IsZero() {
		ev.LeftAt = leftAt.UnixMilli()
	}
	return ev
}

func (e *SessionEvent) GetRoutingKey() string { return string(e.Kind) }

func (e *SessionEvent) ToJSON() ([]byte, error) { return json.Marshal(e) }

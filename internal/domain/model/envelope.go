package model

import (
	"bytes"
	"encoding/json"
	"slices"
)

// EnvelopeKind tags every message exchanged over a collaboration session.
type EnvelopeKind string

const (
	KindUserJoined    EnvelopeKind = "user_joined"   // [PRESENCE]
	KindUserLeft      EnvelopeKind = "user_left"     // [PRESENCE]
	KindDiagramState  EnvelopeKind = "diagram_state" // [SNAPSHOT]
	KindDrawingUpdate EnvelopeKind = "drawing_update"
	KindCursorMove    EnvelopeKind = "cursor_move"
	KindPing          EnvelopeKind = "ping"
	KindPong          EnvelopeKind = "pong"
)

// Known reports whether k is one of the kinds the hub understands.
func (k EnvelopeKind) Known() bool {
	switch k {
	case KindUserJoined, KindUserLeft, KindDiagramState,
		KindDrawingUpdate, KindCursorMove, KindPing, KindPong:
		return true
	}
	return false
}

// Envelope is an immutable message unit.
//
// [IMMUTABILITY]
// All fields are unexported and opaque payloads are cloned on the way in and
// on the way out, so one envelope can be fanned out to many connectors
// without any of them observing another's mutation.
type Envelope struct {
	kind     EnvelopeKind
	sender   Identity
	users    []Presence
	data     json.RawMessage
	position json.RawMessage
}

// NewUserJoined announces that p attached to the room.
func NewUserJoined(p Presence) Envelope {
	return Envelope{kind: KindUserJoined, sender: p}
}

// NewUserLeft announces that p left the room.
func NewUserLeft(p Presence) Envelope {
	return Envelope{kind: KindUserLeft, sender: p}
}

// NewDiagramState carries the presence snapshot sent to a joiner.
func NewDiagramState(users []Presence) Envelope {
	u := slices.Clone(users)
	if u == nil {
		u = []Presence{}
	}
	return Envelope{kind: KindDiagramState, users: u}
}

// NewDrawingUpdate attributes an opaque edit payload to its sender.
func NewDrawingUpdate(data json.RawMessage, from Identity) Envelope {
	return Envelope{kind: KindDrawingUpdate, sender: from, data: cloneRaw(data)}
}

// NewCursorMove attributes an opaque cursor position to its sender.
func NewCursorMove(position json.RawMessage, from Identity) Envelope {
	return Envelope{kind: KindCursorMove, sender: from, position: cloneRaw(position)}
}

func NewPing() Envelope { return Envelope{kind: KindPing} }
func NewPong() Envelope { return Envelope{kind: KindPong} }

// NewInbound builds an envelope decoded from the wire. Sender attribution is
// never taken from the client, so no identity is accepted here.
func NewInbound(kind EnvelopeKind, data, position json.RawMessage) Envelope {
	return Envelope{kind: kind, data: cloneRaw(data), position: cloneRaw(position)}
}

func (e Envelope) Kind() EnvelopeKind { return e.kind }
func (e Envelope) Sender() Identity   { return e.sender }
func (e Envelope) IsZero() bool       { return e.kind == "" }

// Users returns a copy of the presence snapshot (diagram_state only).
func (e Envelope) Users() []Presence { return slices.Clone(e.users) }

// Data returns a copy of the opaque drawing payload.
func (e Envelope) Data() json.RawMessage { return cloneRaw(e.data) }

// Position returns a copy of the opaque cursor payload.
func (e Envelope) Position() json.RawMessage { return cloneRaw(e.position) }

// Equal compares two envelopes structurally.
func (e Envelope) Equal(o Envelope) bool {
	return e.kind == o.kind &&
		e.sender == o.sender &&
		slices.Equal(e.users, o.users) &&
		bytes.Equal(e.data, o.data) &&
		bytes.Equal(e.position, o.position)
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return bytes.Clone(r)
}

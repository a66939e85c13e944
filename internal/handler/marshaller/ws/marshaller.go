package wsmarshaller

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/diagramhub/collab-service/internal/domain/model"
)

var (
	// ErrMalformedEnvelope covers undecodable frames and frames missing a
	// field their kind requires.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrUnknownKind is returned for well-formed frames with a type the hub
	// does not know. Callers treat it as a forward-compatible no-op.
	ErrUnknownKind = errors.New("unknown envelope kind")
)

// Codec implements the JSON text format spoken over the WebSocket.
type Codec struct{}

func NewCodec() *Codec { return &Codec{} }

func (Codec) Encode(env model.Envelope) ([]byte, error) { return MarshallEnvelope(env) }

func (Codec) Decode(raw []byte) (model.Envelope, error) { return UnmarshallEnvelope(raw) }

// MarshallEnvelope prepares an envelope for WebSocket transmission.
// Each kind maps to its own fixed JSON shape.
func MarshallEnvelope(env model.Envelope) ([]byte, error) {
	var res any

	switch env.Kind() {
	case model.KindUserJoined, model.KindUserLeft:
		from := env.Sender()
		res = &WSPresence{Type: string(env.Kind()), UserID: from.UserID, Username: from.Username}

	case model.KindDiagramState:
		res = &WSDiagramState{Type: string(env.Kind()), Users: mapUsers(env.Users())}

	case model.KindDrawingUpdate:
		from := env.Sender()
		res = &WSDrawingUpdate{Type: string(env.Kind()), Data: rawOrNull(env.Data()), UserID: from.UserID, Username: from.Username}

	case model.KindCursorMove:
		from := env.Sender()
		res = &WSCursorMove{Type: string(env.Kind()), Position: rawOrNull(env.Position()), UserID: from.UserID, Username: from.Username}

	case model.KindPing, model.KindPong:
		res = &WSControl{Type: string(env.Kind())}

	default:
		return nil, fmt.Errorf("marshal %q: %w", env.Kind(), ErrUnknownKind)
	}

	return json.Marshal(res)
}

// UnmarshallEnvelope decodes one inbound frame. Identity fields sent by the
// client are ignored; attribution is added by the router from the connection.
func UnmarshallEnvelope(raw []byte) (model.Envelope, error) {
	var in WSInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return model.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if in.Type == "" {
		return model.Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}

	kind := model.EnvelopeKind(in.Type)
	if !kind.Known() {
		return model.Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, in.Type)
	}

	switch kind {
	case model.KindDrawingUpdate:
		if len(in.Data) == 0 {
			return model.Envelope{}, fmt.Errorf("%w: drawing_update without data", ErrMalformedEnvelope)
		}
	case model.KindCursorMove:
		if len(in.Position) == 0 {
			return model.Envelope{}, fmt.Errorf("%w: cursor_move without position", ErrMalformedEnvelope)
		}
	}

	return model.NewInbound(kind, in.Data, in.Position), nil
}

func mapUsers(users []model.Presence) []WSUser {
	res := make([]WSUser, 0, len(users))
	for _, u := range users {
		res = append(res, WSUser{UserID: u.UserID, Username: u.Username})
	}
	return res
}

func rawOrNull(r json.RawMessage) json.RawMessage {
	if len(r) == 0 {
		return json.RawMessage("null")
	}
	return r
}

package wsmarshaller

import "encoding/json"

// WSInbound is the superset of fields a client may send.
type WSInbound struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Position json.RawMessage `json:"position,omitempty"`
}

type WSUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// WSPresence is used for user_joined and user_left.
type WSPresence struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type WSDiagramState struct {
	Type  string   `json:"type"`
	Users []WSUser `json:"users"`
}

type WSDrawingUpdate struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	UserID   int64           `json:"user_id"`
	Username string          `json:"username"`
}

type WSCursorMove struct {
	Type     string          `json:"type"`
	Position json.RawMessage `json:"position"`
	UserID   int64           `json:"user_id"`
	Username string          `json:"username"`
}

// WSControl is used for ping and pong.
type WSControl struct {
	Type string `json:"type"`
}

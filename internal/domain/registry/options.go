package registry

import "log/slog"

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithMaxRoomSize caps the number of connections per room.
// Zero or a negative value means unlimited.
func WithMaxRoomSize(n int) Option {
	return func(h *Hub) {
		h.config.maxRoomSize = n
	}
}

// WithLogger sets the logger used for room lifecycle and delivery diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.config.logger = l
		}
	}
}

package amqp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
)

const traceIDMetadataKey = "trace_id"

type traceIDKey struct{}

// TraceIDFrom returns the trace id attached by TraceIDMiddleware.
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// [TRACE_ID_MIDDLEWARE]
// Reuses the producer's trace or correlation id, minting one when absent.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get(traceIDMetadataKey)
		if traceID == "" {
			traceID = middleware.MessageCorrelationID(msg)
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}
		msg.Metadata.Set(traceIDMetadataKey, traceID)

		msg.SetContext(context.WithValue(msg.Context(), traceIDKey{}, traceID))
		return h(msg)
	}
}

// [LOGGING_MIDDLEWARE]
// One record per diagram event: what it was about, how long it took and
// whether it failed.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			attrs := append(eventAttrs(msg.Payload),
				slog.String("handler", message.HandlerNameFromCtx(msg.Context())),
				slog.String("msg_id", msg.UUID),
				slog.String("trace_id", msg.Metadata.Get(traceIDMetadataKey)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			if err != nil {
				logger.LogAttrs(msg.Context(), slog.LevelWarn, "DIAGRAM_EVENT_FAILED", append(attrs, slog.Any("err", err))...)
				return msgs, err
			}
			logger.LogAttrs(msg.Context(), slog.LevelDebug, "DIAGRAM_EVENT_HANDLED", attrs...)
			return msgs, nil
		}
	}
}

// eventAttrs peeks at the diagram event fields for logging; undecodable
// payloads log without them.
func eventAttrs(payload []byte) []slog.Attr {
	var ev DiagramEvent
	if json.Unmarshal(payload, &ev) != nil {
		return []slog.Attr{slog.Int("payload_bytes", len(payload))}
	}
	return []slog.Attr{
		slog.String("event", ev.Event),
		slog.String("diagram_id", ev.DiagramID),
	}
}

// [RETRY_MIDDLEWARE]
// Backs off on handler errors; decode failures never reach it because Bind
// acknowledges them.
func NewRetryMiddleware(logger *slog.Logger) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Second,
		Multiplier:      2.0,
		OnRetryHook: func(retryNum int, delay time.Duration) {
			logger.Warn("DIAGRAM_EVENT_RETRY", "attempt", retryNum, "delay", delay)
		},
	}
}

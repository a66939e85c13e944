package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/diagramhub/collab-service/config"
	pubsubadapter "github.com/diagramhub/collab-service/internal/adapter/pubsub"
)

const (
	HandlerDiagramEvents = "ON_DIAGRAM_EVENT"

	// PoisonSuffix is appended to a consumed topic to name its dead-letter topic.
	PoisonSuffix = ".poison"
)

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("watermill router: %w", err)
	}
	return r, nil
}

// [REGISTRATION_PIPELINE]
func RegisterHandlers(
	router *message.Router,
	sub message.Subscriber,
	dispatcher pubsubadapter.EventDispatcher,
	h *DiagramHandler,
	cfg *config.Config,
	logger *slog.Logger,
) error {
	poison, err := middleware.PoisonQueue(dispatcher.Publisher(), cfg.AMQP.DiagramTopic+PoisonSuffix)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{HandlerDiagramEvents, cfg.AMQP.DiagramTopic, Bind(h, h.OnDiagramEvent)},
	}

	for _, c := range configs {
		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(logger),
			poison,
			NewRetryMiddleware(logger).Middleware,
			middleware.Recoverer,
			middleware.Timeout(time.Second*30),
		)
	}

	logger.Info("AMQP_PIPELINE_READY", "topic", cfg.AMQP.DiagramTopic)
	return nil
}

// RunRouter starts the router and blocks until it is running.
func RunRouter(ctx context.Context, router *message.Router, logger *slog.Logger) error {
	go func() {
		if err := router.Run(context.Background()); err != nil {
			logger.Error("WATERMILL_ROUTER_STOPPED", "err", err)
		}
	}()

	select {
	case <-router.Running():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

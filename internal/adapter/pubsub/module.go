package pubsub

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/diagramhub/collab-service/config"
	"github.com/diagramhub/collab-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event-dispatcher",
	fx.Provide(
		func(pub message.Publisher, cfg *config.Config) EventDispatcher {
			return NewEventDispatcher(pub, cfg.AMQP.SessionTopic)
		},
		func(d EventDispatcher) service.SessionPublisher { return d },
	),
)

package pubsub

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/diagramhub/collab-service/config"
)

// Provider owns the message bus connections of this node.
type Provider interface {
	Publisher() message.Publisher
	Subscriber() message.Subscriber
	// Distributed reports whether messages leave this process.
	Distributed() bool
	Close() error
}

type provider struct {
	pub         message.Publisher
	sub         message.Subscriber
	distributed bool
}

// NewProvider connects to RabbitMQ when amqp.url is set and falls back to an
// in-process gochannel bus otherwise.
func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) (Provider, error) {
	if !cfg.AMQP.Enabled() {
		return NewInMemory(logger), nil
	}

	// [FAN_OUT] Every node binds its own durable queue per topic, so a
	// diagram event reaches all nodes holding connections for it.
	amqpCfg := amqp.NewDurablePubSubConfig(
		cfg.AMQP.URL,
		amqp.GenerateQueueNameTopicNameWithSuffix(cfg.Service.ID),
	)

	pub, err := amqp.NewPublisher(amqpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}

	sub, err := amqp.NewSubscriber(amqpCfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("amqp subscriber: %w", err)
	}

	return &provider{pub: pub, sub: sub, distributed: true}, nil
}

// NewInMemory returns a single-node bus.
func NewInMemory(logger watermill.LoggerAdapter) Provider {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return &provider{pub: ch, sub: ch}
}

func (p *provider) Publisher() message.Publisher   { return p.pub }
func (p *provider) Subscriber() message.Subscriber { return p.sub }
func (p *provider) Distributed() bool              { return p.distributed }

func (p *provider) Close() error {
	if !p.distributed {
		// gochannel is both ends.
		return p.pub.Close()
	}
	return errors.Join(p.sub.Close(), p.pub.Close())
}

// Package kafka provides a broker-only backend: Kafka carries the pub/sub
// pair while the resolver pairs it with the in-process KV store (Kafka has no
// key-value leg, the capabilities say so).
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/pulsehub/backend"
)

// BackendName is the name used to register this backend.
const BackendName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	backend.RegisterWithCapabilities(BackendName, Build, backend.KafkaCapabilities)
}

// Build creates a new Kafka backend.
func Build(ctx context.Context, cfg backend.Config, logger watermill.LoggerAdapter) (backend.Backend, error) {
	brokers := cfg.GetKafkaBrokers()

	// Hub fan-out needs every instance to see every event. A shared consumer
	// group would partition delivery across the fleet, so an unset group gets
	// a per-process id.
	consumerGroup := cfg.GetKafkaConsumerGroup()
	if consumerGroup == "" {
		consumerGroup = "pulsehub-" + watermill.NewShortUUID()
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return backend.Backend{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
		},
		logger,
	)
	if err != nil {
		publisher.Close()
		return backend.Backend{}, err
	}

	return backend.Backend{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() backend.Capabilities {
	return backend.KafkaCapabilities
}

// Package backend defines the key-value/pub-sub contract pulsehub runs on.
// Each backend implementation (nats, kafka, rabbitmq, memory) lives in its own
// sub-package and registers itself with the backend registry.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrKeyNotFound is returned by KV.Get for absent or expired keys.
var ErrKeyNotFound = errors.New("backend: key not found")

// KV is the key-value leg of a backend. Implementations must be safe for
// concurrent use and must treat expired entries exactly like absent ones.
type KV interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key for the given ttl. ttl must be positive;
	// enforcing that is the caller's job, implementations may assume it.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Incr atomically increments the counter under key and returns the new
	// count. The first increment creates the counter with the given ttl;
	// later increments within the ttl keep the original expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Close() error
}

// Backend combines the KV leg with a publisher/subscriber pair produced by a
// builder. KV may be nil for broker-only backends (see Capabilities).
type Backend struct {
	KV         KV
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close releases every leg of the backend. Safe on the zero value.
func (b Backend) Close() error {
	var errs []error
	if b.Publisher != nil {
		errs = append(errs, b.Publisher.Close())
	}
	if b.Subscriber != nil {
		errs = append(errs, b.Subscriber.Close())
	}
	if b.KV != nil {
		errs = append(errs, b.KV.Close())
	}
	return errors.Join(errs...)
}

// Builder is the function signature for creating a backend from config.
// Each backend package should provide a Builder function that can be
// registered. The context bounds the connection attempt.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Backend, error)

// Config provides the configuration values needed by backends. The interface
// lets backends access only the config they need without depending on the full
// config package.
type Config interface {
	// GetRemoteBackend returns the registered backend name to resolve.
	GetRemoteBackend() string

	// GetConnectionURL returns the remote connection string (NATS).
	GetConnectionURL() string

	// GetCredentialsFile returns an optional NATS credentials file path.
	GetCredentialsFile() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// GetKeyPrefix namespaces KV buckets/keys.
	GetKeyPrefix() string

	// GetConnectTimeout bounds the connection attempt.
	GetConnectTimeout() time.Duration
}

// Package nats provides the preferred remote backend: NATS core subjects for
// the pub/sub pair and a JetStream key-value bucket for cache entries and rate
// counters. Per-entry expiry is encoded in the stored record because JetStream
// buckets only support bucket-level TTLs; an expired record reads as absent.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/pulsehub/backend"
	"github.com/drblury/pulsehub/internal/runtime/jsoncodec"
)

// BackendName is the name used to register this backend.
const BackendName = "nats"

// maxCASRetries bounds the compare-and-swap loop in Incr.
const maxCASRetries = 8

// ConnectFactory allows overriding the connection probe for testing.
var ConnectFactory = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

// KVFactory allows overriding the JetStream bucket creation for testing.
var KVFactory = func(nc *nats.Conn, bucket string) (nats.KeyValue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		return js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	return kv, err
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	backend.RegisterWithCapabilities(BackendName, Build, backend.NATSCapabilities)
}

// Build connects to NATS within the config's connect timeout and assembles the
// backend. A failed connection is returned to the resolver, which decides
// whether to degrade.
func Build(ctx context.Context, cfg backend.Config, logger watermill.LoggerAdapter) (backend.Backend, error) {
	url := cfg.GetConnectionURL()
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name("pulsehub"),
		nats.Timeout(cfg.GetConnectTimeout()),
	}
	if creds := cfg.GetCredentialsFile(); creds != "" {
		opts = append(opts, nats.UserCredentials(creds))
	}

	nc, err := ConnectFactory(url, opts...)
	if err != nil {
		return backend.Backend{}, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	bucket, err := KVFactory(nc, BucketName(cfg.GetKeyPrefix()))
	if err != nil {
		nc.Close()
		return backend.Backend{}, fmt.Errorf("failed to open key-value bucket: %w", err)
	}

	marshaler := &wmnats.NATSMarshaler{}
	publisher, err := PublisherFactory(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: opts,
			Marshaler:   marshaler,
		},
		logger,
	)
	if err != nil {
		nc.Close()
		return backend.Backend{}, err
	}

	subscriber, err := SubscriberFactory(
		wmnats.SubscriberConfig{
			URL:         url,
			NatsOptions: opts,
			Unmarshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		publisher.Close()
		nc.Close()
		return backend.Backend{}, err
	}

	return backend.Backend{
		KV:         &Store{bucket: bucket, nc: nc, now: time.Now},
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() backend.Capabilities {
	return backend.NATSCapabilities
}

// BucketName derives a JetStream bucket name from the configured key prefix.
// Bucket names only allow [a-zA-Z0-9_-].
func BucketName(keyPrefix string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, keyPrefix)
	if name == "" {
		return "pulsehub"
	}
	return name
}

// EncodeKey maps an application key onto the JetStream key charset
// [-/_=.a-zA-Z0-9]. Anything else (most commonly ':') becomes '_'.
func EncodeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '/', r == '_', r == '=', r == '.':
			return r
		}
		return '_'
	}, key)
}

// record is the stored representation of a KV entry or counter.
type record struct {
	Value     string `json:"v,omitempty"`
	Count     int64  `json:"c,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

func (r record) expired(now time.Time) bool {
	return r.ExpiresAt <= now.UnixNano()
}

// kvBucket is the subset of nats.KeyValue the store uses. Narrowing the
// dependency keeps the CAS logic testable without a live server.
type kvBucket interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Create(key string, value []byte) (uint64, error)
	Update(key string, value []byte, last uint64) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
}

// Store implements backend.KV over a JetStream key-value bucket.
type Store struct {
	bucket kvBucket
	nc     *nats.Conn
	now    func() time.Time
}

var _ backend.KV = (*Store)(nil)

// NewStore wraps an existing bucket. Used by Build and by tests.
func NewStore(bucket nats.KeyValue) *Store {
	return &Store{bucket: bucket, now: time.Now}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	kve, err := s.bucket.Get(EncodeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return "", backend.ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}

	var rec record
	if err := jsoncodec.Unmarshal(kve.Value(), &rec); err != nil {
		return "", fmt.Errorf("corrupt record under %q: %w", key, err)
	}
	if rec.expired(s.now()) {
		// Best-effort reap; a concurrent writer recreating the key is fine.
		_ = s.bucket.Delete(EncodeKey(key))
		return "", backend.ErrKeyNotFound
	}
	return rec.Value, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	data, err := jsoncodec.Marshal(record{Value: value, ExpiresAt: s.now().Add(ttl).UnixNano()})
	if err != nil {
		return err
	}
	_, err = s.bucket.Put(EncodeKey(key), data)
	return err
}

func (s *Store) Del(ctx context.Context, key string) error {
	err := s.bucket.Delete(EncodeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Incr runs a compare-and-swap loop against the bucket revision. A conflict
// means another client raced the same counter; the loop re-reads and retries.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	encoded := EncodeKey(key)

	var lastErr error
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		kve, err := s.bucket.Get(encoded)
		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
			rec := record{Count: 1, ExpiresAt: s.now().Add(ttl).UnixNano()}
			data, merr := jsoncodec.Marshal(rec)
			if merr != nil {
				return 0, merr
			}
			if _, lastErr = s.bucket.Create(encoded, data); lastErr == nil {
				return rec.Count, nil
			}

		case err != nil:
			return 0, err

		default:
			var rec record
			if uerr := jsoncodec.Unmarshal(kve.Value(), &rec); uerr != nil {
				return 0, fmt.Errorf("corrupt record under %q: %w", key, uerr)
			}
			if rec.expired(s.now()) {
				rec = record{Count: 0, ExpiresAt: s.now().Add(ttl).UnixNano()}
			}
			rec.Count++
			rec.Value = ""
			data, merr := jsoncodec.Marshal(rec)
			if merr != nil {
				return 0, merr
			}
			if _, lastErr = s.bucket.Update(encoded, data, kve.Revision()); lastErr == nil {
				return rec.Count, nil
			}
		}
	}
	return 0, fmt.Errorf("incr %q: too many conflicts: %w", key, lastErr)
}

func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// Package memory provides the in-process fallback backend: a Go channel
// pub/sub pair and a process-local TTL key-value store. It is the backend the
// resolver degrades to when the remote store is unreachable or disabled.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/pulsehub/backend"
)

// BackendName is the name used to register this backend.
const BackendName = "memory"

// Factory allows overriding the pub/sub creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	backend.RegisterWithCapabilities(BackendName, Build, backend.MemoryCapabilities)
}

// Build creates a new in-process backend. It cannot fail; the error return
// only satisfies the Builder signature.
func Build(ctx context.Context, cfg backend.Config, logger watermill.LoggerAdapter) (backend.Backend, error) {
	pub, sub := Factory(gochannel.Config{}, logger)
	return backend.Backend{
		KV:         NewStore(),
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() backend.Capabilities {
	return backend.MemoryCapabilities
}

type entry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// Store is a mutex-guarded TTL map implementing backend.KV. Expired entries
// are reaped lazily on access; an expired entry is indistinguishable from an
// absent one.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	// now is replaceable in tests.
	now func() time.Time
}

// NewStore creates an empty in-process KV store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

var _ backend.KV = (*Store)(nil)

// Get returns the live value under key, or backend.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return "", backend.ErrKeyNotFound
	}
	return e.value, nil
}

// Set stores value under key until ttl elapses.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Del removes key. Absent keys are a no-op.
func (s *Store) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Incr increments the counter under key, creating it with ttl when absent or
// expired. The expiry of a live counter is left untouched.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		e = entry{expiresAt: s.now().Add(ttl)}
	}
	e.count++
	s.entries[key] = e
	return e.count, nil
}

// Close drops all entries.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]entry)
	return nil
}

// Len reports the number of live entries. Diagnostics only.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.entries {
		if _, ok := s.live(key); ok {
			n++
		}
	}
	return n
}

// live returns the entry under key if it has not expired, reaping it if it
// has. Callers must hold s.mu.
func (s *Store) live(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

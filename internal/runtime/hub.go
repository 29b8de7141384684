package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	backendpkg "github.com/drblury/pulsehub/backend"
	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
	"github.com/drblury/pulsehub/internal/runtime/ids"
	"github.com/drblury/pulsehub/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/pulsehub/internal/runtime/logging"
)

// Event is the unit of distribution. Events published for a
// (tenant, resource) channel reach every subscriber of that channel, on
// this instance and on all instances sharing the backend.
type Event struct {
	Type       string `json:"type"`
	Payload    any    `json:"payload,omitempty"`
	TenantID   string `json:"tenantId"`
	ResourceID string `json:"resourceId"`
}

// EventSink receives events for one subscription. Sinks run on a
// dedicated per-subscription goroutine, so a slow sink delays only its own
// subscription. A panicking sink closes the subscription.
type EventSink func(event Event)

// HubConfig configures a Hub.
type HubConfig struct {
	// ChannelPrefix namespaces backend topics.
	ChannelPrefix string
	// SubscribeTimeout bounds backend channel setup.
	SubscribeTimeout time.Duration
	// SubscriberBuffer is the per-subscription queue size. When a queue is
	// full, new events for that subscription are dropped and counted.
	SubscriberBuffer int
	Logger           loggingpkg.ServiceLogger
	Metrics          *Metrics
}

func (c HubConfig) withDefaults() HubConfig {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = "pulsehub."
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = 30 * time.Second
	}
	if c.SubscriberBuffer < 1 {
		c.SubscriberBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = loggingpkg.NopServiceLogger()
	}
	return c
}

// Hub multiplexes events between the backend and local subscribers. Every
// channel with at least one local subscriber holds one backend
// subscription; events always travel through the backend, so local and
// remote publishers are delivered identically and exactly once per
// subscription.
type Hub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	cfg        HubConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	channels map[string]*hubChannel
	closed   bool
}

// hubChannel tracks the local subscribers of one (tenant, resource)
// channel together with the backend subscription feeding them. ready is
// closed once backend setup has finished; err is set before ready closes
// when setup failed.
type hubChannel struct {
	subs   []*Subscription
	cancel context.CancelFunc
	ready  chan struct{}
	err    error
}

// NewHub creates a hub over the given backend.
func NewHub(b backendpkg.Backend, cfg HubConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		publisher:  b.Publisher,
		subscriber: b.Subscriber,
		cfg:        cfg.withDefaults(),
		ctx:        ctx,
		cancel:     cancel,
		channels:   map[string]*hubChannel{},
	}
}

// ChannelTopic derives the backend topic for a (tenant, resource)
// channel. Tokens are escaped so the result is valid as a NATS subject and
// as a Kafka topic, and so distinct (tenant, resource) pairs never map to
// the same topic.
func ChannelTopic(prefix, tenantID, resourceID string) string {
	return prefix + encodeToken(tenantID) + "." + encodeToken(resourceID)
}

// encodeToken escapes an identifier into the charset shared by NATS
// subjects and Kafka topic names. '_' introduces a two-digit hex escape
// and is itself escaped, so the encoding is injective: two different
// identifiers cannot collide on one channel.
func encodeToken(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

// SubscribeOption customises a single subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	snapshot *Event
}

// WithSnapshot delivers a synthetic first event carrying current state, so
// a late subscriber starts from a known baseline before live events.
func WithSnapshot(eventType string, payload any) SubscribeOption {
	return func(o *subscribeOptions) {
		o.snapshot = &Event{Type: eventType, Payload: payload}
	}
}

// Subscribe registers a sink for the (tenant, resource) channel. Events
// are delivered to the sink in publish order. The optional onClose runs
// exactly once when the subscription ends, from any cause.
//
// The first subscription on a channel sets up the backend subscription,
// bounded by SubscribeTimeout; a setup failure is returned to the caller
// and leaves the hub unchanged.
func (h *Hub) Subscribe(tenantID, resourceID string, sink EventSink, onClose func(), opts ...SubscribeOption) (*Subscription, error) {
	if tenantID == "" {
		return nil, errorspkg.ErrTenantRequired
	}
	if resourceID == "" {
		return nil, errorspkg.ErrResourceRequired
	}
	if sink == nil {
		return nil, errorspkg.ErrSinkRequired
	}

	var options subscribeOptions
	for _, opt := range opts {
		opt(&options)
	}

	topic := ChannelTopic(h.cfg.ChannelPrefix, tenantID, resourceID)

	for {
		ch, err := h.channel(topic)
		if err != nil {
			return nil, err
		}

		<-ch.ready
		if ch.err != nil {
			// Setup failed in a concurrent caller; run our own attempt.
			continue
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, errorspkg.ErrHubClosed
		}
		if h.channels[topic] != ch {
			// The channel emptied and was torn down before we could join.
			h.mu.Unlock()
			continue
		}

		sub := &Subscription{
			ID:         ids.NewULID(),
			TenantID:   tenantID,
			ResourceID: resourceID,
			hub:        h,
			queue:      make(chan Event, h.cfg.SubscriberBuffer),
			done:       make(chan struct{}),
			sink:       sink,
			onClose:    onClose,
		}
		if options.snapshot != nil {
			snapshot := *options.snapshot
			snapshot.TenantID = tenantID
			snapshot.ResourceID = resourceID
			sub.queue <- snapshot
		}
		ch.subs = append(ch.subs, sub)
		h.cfg.Metrics.SubscriberAdded()

		h.wg.Add(1)
		go sub.deliver(&h.wg)
		h.mu.Unlock()

		return sub, nil
	}
}

// channel returns the hubChannel for topic, creating it and starting its
// backend subscription when absent. Setup runs outside the hub lock so a
// slow backend stalls only subscribers of this channel, never Broadcast or
// subscriptions on other channels; concurrent subscribers wait on ready.
func (h *Hub) channel(topic string) (*hubChannel, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errorspkg.ErrHubClosed
	}
	if ch, ok := h.channels[topic]; ok {
		h.mu.Unlock()
		return ch, nil
	}

	subCtx, cancel := context.WithCancel(h.ctx)
	ch := &hubChannel{cancel: cancel, ready: make(chan struct{})}
	h.channels[topic] = ch
	h.mu.Unlock()

	msgs, err := h.openChannel(subCtx, topic)

	h.mu.Lock()
	if err == nil && h.closed {
		err = errorspkg.ErrHubClosed
	}
	if err != nil {
		if h.channels[topic] == ch {
			delete(h.channels, topic)
		}
		ch.err = err
		cancel()
	} else {
		h.wg.Add(1)
		go h.pump(topic, msgs)
	}
	h.mu.Unlock()
	close(ch.ready)

	if err != nil {
		return nil, err
	}
	return ch, nil
}

// openChannel starts the backend subscription for topic, bounded by the
// configured subscribe timeout so a hung backend cannot wedge the hub.
func (h *Hub) openChannel(ctx context.Context, topic string) (<-chan *message.Message, error) {
	type result struct {
		msgs <-chan *message.Message
		err  error
	}

	results := make(chan result, 1)
	go func() {
		msgs, err := h.subscriber.Subscribe(ctx, topic)
		results <- result{msgs: msgs, err: err}
	}()

	timer := time.NewTimer(h.cfg.SubscribeTimeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, fmt.Errorf("%w: subscribe %q: %v", errorspkg.ErrBackendUnavailable, topic, res.err)
		}
		return res.msgs, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: subscribe %q timed out after %s", errorspkg.ErrBackendUnavailable, topic, h.cfg.SubscribeTimeout)
	}
}

// pump decodes backend messages for one channel and fans them out to the
// local subscribers. It exits when the backend subscription closes.
func (h *Hub) pump(topic string, msgs <-chan *message.Message) {
	defer h.wg.Done()

	for msg := range msgs {
		var event Event
		if err := jsoncodec.Unmarshal(msg.Payload, &event); err != nil {
			h.cfg.Logger.Error("Dropping undecodable event", err, loggingpkg.LogFields{
				"topic":      topic,
				"message_id": msg.UUID,
			})
			msg.Ack()
			continue
		}
		h.fanout(topic, event)
		msg.Ack()
	}
}

func (h *Hub) fanout(topic string, event Event) {
	h.mu.RLock()
	var subs []*Subscription
	if ch, ok := h.channels[topic]; ok {
		subs = append(subs, ch.subs...)
	}
	h.mu.RUnlock()

	// Enqueue outside the lock; a full or closed subscription never blocks
	// the others.
	for _, sub := range subs {
		if !sub.enqueue(event) {
			h.cfg.Metrics.EventDropped()
			h.cfg.Logger.Debug("Dropping event for slow subscriber", loggingpkg.LogFields{
				"topic":           topic,
				"subscription_id": sub.ID,
				"event_type":      event.Type,
			})
		}
	}
}

// Broadcast publishes an event to the (tenant, resource) channel. The
// event reaches every subscriber of that channel across all instances
// sharing the backend; channels with no subscribers discard it.
func (h *Hub) Broadcast(ctx context.Context, tenantID, resourceID, eventType string, payload any) error {
	if tenantID == "" {
		return errorspkg.ErrTenantRequired
	}
	if resourceID == "" {
		return errorspkg.ErrResourceRequired
	}
	if eventType == "" {
		return errorspkg.ErrEventTypeRequired
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return errorspkg.ErrHubClosed
	}

	topic := ChannelTopic(h.cfg.ChannelPrefix, tenantID, resourceID)

	ctx, span := otel.Tracer("pulsehub").Start(ctx, "Hub.Broadcast")
	defer span.End()
	span.SetAttributes(
		attribute.String("pulsehub.event_type", eventType),
		attribute.String("pulsehub.topic", topic),
	)

	event := Event{
		Type:       eventType,
		Payload:    payload,
		TenantID:   tenantID,
		ResourceID: resourceID,
	}
	data, err := jsoncodec.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %q: %w", eventType, err)
	}

	msg := message.NewMessage(ids.NewULID(), data)
	msg.Metadata.Set("event_type", eventType)
	msg.SetContext(ctx)

	if err := h.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("%w: publish %q: %v", errorspkg.ErrBackendUnavailable, topic, err)
	}
	h.cfg.Metrics.EventPublished(eventType)
	return nil
}

// SubscriberCount reports the number of local subscriptions on one
// channel.
func (h *Hub) SubscriberCount(tenantID, resourceID string) int {
	topic := ChannelTopic(h.cfg.ChannelPrefix, tenantID, resourceID)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if ch, ok := h.channels[topic]; ok {
		return len(ch.subs)
	}
	return 0
}

// CloseSubscription closes the local subscription with the given id, for
// callers that track subscriptions by id rather than by handle.
func (h *Hub) CloseSubscription(id string) error {
	h.mu.RLock()
	var target *Subscription
	for _, ch := range h.channels {
		for _, sub := range ch.subs {
			if sub.ID == id {
				target = sub
				break
			}
		}
	}
	h.mu.RUnlock()

	if target == nil {
		return errorspkg.ErrSubscriptionNotFound
	}
	return target.Close()
}

// ChannelCount reports the number of channels with at least one local
// subscription.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Close shuts the hub down: all subscriptions are closed (running their
// onClose callbacks), backend subscriptions are cancelled, and further
// Subscribe and Broadcast calls fail with ErrHubClosed. Close is
// idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var subs []*Subscription
	for _, ch := range h.channels {
		subs = append(subs, ch.subs...)
		ch.cancel()
	}
	h.channels = map[string]*hubChannel{}
	h.mu.Unlock()

	h.cancel()
	for _, sub := range subs {
		_ = sub.Close()
	}
	h.wg.Wait()
	return nil
}

func (h *Hub) removeSubscription(sub *Subscription) {
	topic := ChannelTopic(h.cfg.ChannelPrefix, sub.TenantID, sub.ResourceID)

	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[topic]
	if !ok {
		return
	}
	for i, candidate := range ch.subs {
		if candidate == sub {
			ch.subs = append(ch.subs[:i], ch.subs[i+1:]...)
			break
		}
	}
	if len(ch.subs) == 0 {
		// Last local subscriber gone; tear down the backend subscription.
		ch.cancel()
		delete(h.channels, topic)
	}
}

// Subscription is one sink's registration on a channel.
type Subscription struct {
	ID         string
	TenantID   string
	ResourceID string

	hub       *Hub
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	sink      EventSink
	onClose   func()
}

func (s *Subscription) enqueue(event Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) deliver(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			if !s.dispatch(event) {
				_ = s.Close()
				return
			}
		}
	}
}

// dispatch invokes the sink with panic isolation. It reports false when
// the sink panicked and the subscription should be closed.
func (s *Subscription) dispatch(event Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.cfg.Logger.Error("Subscriber sink panicked, closing subscription", fmt.Errorf("%v", r), loggingpkg.LogFields{
				"subscription_id": s.ID,
				"event_type":      event.Type,
			})
			ok = false
		}
	}()

	s.sink(event)
	s.hub.cfg.Metrics.EventDelivered()
	return true
}

// Close ends the subscription: it is removed from its channel, the
// onClose callback runs, and no further events are delivered. Close is
// idempotent and safe to call from any goroutine, including the sink's.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.removeSubscription(s)
		s.hub.cfg.Metrics.SubscriberClosed()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

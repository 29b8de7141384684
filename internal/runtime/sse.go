package runtime

import (
	"fmt"
	"io"
	"net/http"

	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
	"github.com/drblury/pulsehub/internal/runtime/jsoncodec"
)

// StreamOptions configures one Server-Sent Events connection.
type StreamOptions struct {
	// Metadata is sent as the payload of the synthetic first frame, so a
	// client never observes an empty stream before live events arrive.
	// A nil metadata payload is sent as an empty JSON object.
	Metadata any

	// SnapshotType, when set, delivers a snapshot event of that type right
	// after the metadata frame, carrying Snapshot as payload.
	SnapshotType string
	Snapshot     any
}

// StreamEvents serves a (tenant, resource) channel over Server-Sent
// Events. It writes the metadata frame, subscribes to the hub, and then
// forwards events as SSE frames until the client disconnects, the
// subscription is closed, or a write fails. It returns only after the
// stream has ended; the subscription is always released.
func StreamEvents(w http.ResponseWriter, r *http.Request, hub *Hub, tenantID, resourceID string, opts StreamOptions) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errorspkg.ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The metadata frame goes out before the hub subscription, so even a
	// degraded backend yields a well-formed stream opening.
	if err := writeFrame(w, "metadata", opts.Metadata); err != nil {
		return err
	}
	flusher.Flush()

	ctx := r.Context()
	events := make(chan Event, 16)
	closed := make(chan struct{})

	// The sink must also unblock on closed: when the hub shuts the
	// subscription down while the client write is stalled and the bridge
	// channel is full, the delivery goroutine would otherwise stay parked
	// here and wedge Hub.Close.
	sink := func(event Event) {
		select {
		case events <- event:
		case <-ctx.Done():
		case <-closed:
		}
	}

	var subOpts []SubscribeOption
	if opts.SnapshotType != "" {
		subOpts = append(subOpts, WithSnapshot(opts.SnapshotType, opts.Snapshot))
	}

	sub, err := hub.Subscribe(tenantID, resourceID, sink, func() { close(closed) }, subOpts...)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return nil
		case event := <-events:
			if err := writeFrame(w, event.Type, event.Payload); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// writeFrame emits one SSE frame. String payloads pass through verbatim;
// everything else is JSON-encoded.
func writeFrame(w io.Writer, eventType string, payload any) error {
	data, err := frameData(payload)
	if err != nil {
		return fmt.Errorf("encode %q frame: %w", eventType, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return fmt.Errorf("write %q frame: %w", eventType, err)
	}
	return nil
}

func frameData(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "{}", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return jsoncodec.MarshalString(v)
	}
}

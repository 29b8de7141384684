package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/pulsehub/internal/runtime/config"
	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
	loggingpkg "github.com/drblury/pulsehub/internal/runtime/logging"
)

func newInMemoryService(t *testing.T) *Service {
	t.Helper()

	service, err := TryNewService(
		&configpkg.Config{BackendKind: configpkg.KindInMemory},
		loggingpkg.NopServiceLogger(),
		context.Background(),
		ServiceDependencies{},
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })
	return service
}

func TestTryNewServiceValidation(t *testing.T) {
	_, err := TryNewService(nil, loggingpkg.NopServiceLogger(), context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errorspkg.ErrConfigRequired)

	_, err = TryNewService(&configpkg.Config{}, nil, context.Background(), ServiceDependencies{})
	assert.ErrorIs(t, err, errorspkg.ErrLoggerRequired)

	_, err = TryNewService(
		&configpkg.Config{BackendKind: "bogus"},
		loggingpkg.NopServiceLogger(),
		context.Background(),
		ServiceDependencies{},
	)
	assert.Error(t, err)
}

func TestNewServicePanicsOnInvalidConfig(t *testing.T) {
	assert.Panics(t, func() {
		NewService(nil, loggingpkg.NopServiceLogger(), context.Background(), ServiceDependencies{})
	})
}

func TestServiceInMemoryDescriptor(t *testing.T) {
	service := newInMemoryService(t)

	desc := service.Backend()
	assert.Equal(t, BackendInMemory, desc.Kind)
	assert.Equal(t, "memory", desc.Name)
}

func TestServiceCacheAndLimiter(t *testing.T) {
	ctx := context.Background()
	service := newInMemoryService(t)

	require.NoError(t, service.Cache().Set(ctx, "k", "v", time.Minute))
	value, found, err := service.Cache().Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	result, err := service.RateLimiter().Check(ctx, "tenant1", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = service.StrictRateLimiter().Check(ctx, "tenant1", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	// Both limiters count on the same backend keys.
	assert.Equal(t, int64(8), result.Remaining)
}

func TestServiceBroadcastAndSubscribe(t *testing.T) {
	service := newInMemoryService(t)
	collector := newCollector()

	sub, err := service.Hub().Subscribe("t1", "c1", collector.sink, nil)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, service.Broadcast(context.Background(), "t1", "c1", "note.created", nil))
	assert.Equal(t, "note.created", collector.wait(t).Type)
}

func TestServiceMetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()

	service, err := TryNewService(
		&configpkg.Config{BackendKind: configpkg.KindInMemory, MetricsEnabled: true},
		loggingpkg.NopServiceLogger(),
		context.Background(),
		ServiceDependencies{MetricsRegisterer: registry},
	)
	require.NoError(t, err)

	require.NoError(t, service.Broadcast(context.Background(), "t1", "c1", "note", nil))

	names := gatherFamilies(t, registry)
	assert.True(t, names["pulsehub_hub_events_published_total"])

	require.NoError(t, service.Close())

	// Collectors unregister at close so a fresh service can reuse the
	// registry.
	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestServiceCloseIdempotent(t *testing.T) {
	service := newInMemoryService(t)

	require.NoError(t, service.Close())
	require.NoError(t, service.Close())

	_, err := service.Hub().Subscribe("t1", "c1", func(Event) {}, nil)
	assert.ErrorIs(t, err, errorspkg.ErrHubClosed)
}

func TestServiceStartStopsOnContextCancel(t *testing.T) {
	service := newInMemoryService(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

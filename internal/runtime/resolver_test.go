package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	backendpkg "github.com/drblury/pulsehub/backend"
	"github.com/drblury/pulsehub/backend/memory"
	configpkg "github.com/drblury/pulsehub/internal/runtime/config"
	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
	loggingpkg "github.com/drblury/pulsehub/internal/runtime/logging"
)

func failingBuilder(ctx context.Context, cfg backendpkg.Config, logger watermill.LoggerAdapter) (backendpkg.Backend, error) {
	return backendpkg.Backend{}, errors.New("connection refused")
}

func TestResolveBackendInMemoryKind(t *testing.T) {
	conf := &configpkg.Config{BackendKind: configpkg.KindInMemory}

	desc := ResolveBackend(context.Background(), conf, loggingpkg.NopServiceLogger(), nil)
	t.Cleanup(func() { _ = desc.Backend.Close() })

	assert.Equal(t, BackendInMemory, desc.Kind)
	assert.Equal(t, memory.BackendName, desc.Name)
	assert.Empty(t, desc.Reason)
	assert.False(t, desc.Capabilities.SupportsSharedKV)
	require.NotNil(t, desc.Backend.KV)
	require.NotNil(t, desc.Backend.Publisher)
	require.NotNil(t, desc.Backend.Subscriber)
}

func TestResolveBackendAutoFallsBackToMemory(t *testing.T) {
	registry := backendpkg.NewRegistry()
	registry.Register("nats", failingBuilder)

	conf := &configpkg.Config{BackendKind: configpkg.KindAuto}
	desc := ResolveBackend(context.Background(), conf, loggingpkg.NopServiceLogger(), registry)
	t.Cleanup(func() { _ = desc.Backend.Close() })

	assert.Equal(t, BackendInMemory, desc.Kind)
	assert.Equal(t, memory.BackendName, desc.Name)
	assert.Contains(t, desc.Reason, "connection refused")

	// The fallback backend is fully usable.
	require.NoError(t, desc.Backend.KV.Set(context.Background(), "k", "v", time.Minute))
	value, err := desc.Backend.KV.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestResolveBackendRemoteRequiredBecomesDisabled(t *testing.T) {
	registry := backendpkg.NewRegistry()
	registry.Register("nats", failingBuilder)

	conf := &configpkg.Config{
		BackendKind:   configpkg.KindRemote,
		ConnectionURL: "nats://localhost:4222",
	}
	desc := ResolveBackend(context.Background(), conf, loggingpkg.NopServiceLogger(), registry)
	t.Cleanup(func() { _ = desc.Backend.Close() })

	assert.Equal(t, BackendDisabled, desc.Kind)
	assert.Contains(t, desc.Reason, "connection refused")

	// Every operation on the disabled backend fails fast.
	_, err := desc.Backend.KV.Get(context.Background(), "k")
	assert.ErrorIs(t, err, errorspkg.ErrBackendUnavailable)
	assert.ErrorIs(t, desc.Backend.KV.Set(context.Background(), "k", "v", time.Minute), errorspkg.ErrBackendUnavailable)
	_, err = desc.Backend.KV.Incr(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, errorspkg.ErrBackendUnavailable)
	assert.ErrorIs(t, desc.Backend.Publisher.Publish("topic"), errorspkg.ErrBackendUnavailable)
	_, err = desc.Backend.Subscriber.Subscribe(context.Background(), "topic")
	assert.ErrorIs(t, err, errorspkg.ErrBackendUnavailable)
}

func TestResolveBackendRemoteSuccess(t *testing.T) {
	registry := backendpkg.NewRegistry()
	registry.RegisterWithCapabilities("nats", func(ctx context.Context, cfg backendpkg.Config, logger watermill.LoggerAdapter) (backendpkg.Backend, error) {
		return memory.Build(ctx, cfg, watermill.NopLogger{})
	}, backendpkg.NATSCapabilities)

	conf := &configpkg.Config{BackendKind: configpkg.KindAuto}
	desc := ResolveBackend(context.Background(), conf, loggingpkg.NopServiceLogger(), registry)
	t.Cleanup(func() { _ = desc.Backend.Close() })

	assert.Equal(t, BackendRemote, desc.Kind)
	assert.Equal(t, "nats", desc.Name)
	assert.Empty(t, desc.Reason)
	assert.True(t, desc.Capabilities.SupportsCrossProcessFanout)
}

func TestResolveBackendPairsBrokerOnlyWithLocalKV(t *testing.T) {
	registry := backendpkg.NewRegistry()
	registry.RegisterWithCapabilities("kafka", func(ctx context.Context, cfg backendpkg.Config, logger watermill.LoggerAdapter) (backendpkg.Backend, error) {
		b, err := memory.Build(ctx, cfg, watermill.NopLogger{})
		b.KV = nil
		return b, err
	}, backendpkg.KafkaCapabilities)

	conf := &configpkg.Config{
		BackendKind:   configpkg.KindAuto,
		RemoteBackend: "kafka",
		KafkaBrokers:  []string{"localhost:9092"},
	}
	desc := ResolveBackend(context.Background(), conf, loggingpkg.NopServiceLogger(), registry)
	t.Cleanup(func() { _ = desc.Backend.Close() })

	assert.Equal(t, BackendRemote, desc.Kind)
	require.NotNil(t, desc.Backend.KV, "broker-only backends get a process-local KV")
	assert.False(t, desc.Capabilities.SupportsSharedKV)
}

func TestBackendDescriptorDescribe(t *testing.T) {
	desc := BackendDescriptor{Kind: BackendRemote, Name: "nats"}
	assert.Equal(t, `remote backend "nats"`, desc.Describe())

	desc = BackendDescriptor{Kind: BackendInMemory, Name: "memory", Reason: "connection refused"}
	assert.Equal(t, `inMemory backend "memory" (connection refused)`, desc.Describe())
}

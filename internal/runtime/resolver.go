package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	backendpkg "github.com/drblury/pulsehub/backend"
	"github.com/drblury/pulsehub/backend/memory"
	configpkg "github.com/drblury/pulsehub/internal/runtime/config"
	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
	loggingpkg "github.com/drblury/pulsehub/internal/runtime/logging"
)

// BackendKind classifies the outcome of backend resolution.
type BackendKind string

const (
	// BackendRemote means the configured remote backend is connected and
	// shared state is cross-process.
	BackendRemote BackendKind = "remote"
	// BackendInMemory means state lives in this process only, either by
	// configuration or as a fallback after a failed remote connection.
	BackendInMemory BackendKind = "inMemory"
	// BackendDisabled means a remote backend was required but unreachable.
	// Every operation on the descriptor's backend fails fast.
	BackendDisabled BackendKind = "disabled"
)

// BackendDescriptor is the result of backend resolution. Callers use Kind
// and Reason to surface degraded modes to operators; Backend is always
// non-nil and safe to use.
type BackendDescriptor struct {
	Kind         BackendKind
	Name         string
	Reason       string
	Capabilities backendpkg.Capabilities
	Backend      backendpkg.Backend
}

// Describe returns a human-readable one-liner for logs and health output.
func (d BackendDescriptor) Describe() string {
	if d.Reason == "" {
		return fmt.Sprintf("%s backend %q", d.Kind, d.Name)
	}
	return fmt.Sprintf("%s backend %q (%s)", d.Kind, d.Name, d.Reason)
}

// ResolveBackend picks the backing store for the service based on the
// configured backend kind. It never returns an error: when the remote
// backend is unreachable it degrades to an in-memory backend (kind auto)
// or to a disabled backend (kind remote), and records the reason on the
// descriptor. The decision is logged exactly once; re-resolution only
// happens when the caller builds a new service.
func ResolveBackend(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, registry *backendpkg.Registry) BackendDescriptor {
	if conf == nil {
		conf = &configpkg.Config{}
	}
	if log == nil {
		log = loggingpkg.NopServiceLogger()
	}
	if registry == nil {
		registry = backendpkg.DefaultRegistry
	}

	cfg := conf.WithDefaults()
	wmLogger := loggingpkg.NewWatermillAdapter(log)

	var desc BackendDescriptor
	switch cfg.BackendKind {
	case configpkg.KindInMemory:
		desc = memoryDescriptor(ctx, &cfg, wmLogger, registry, "")
	default:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		built, err := registry.Build(connectCtx, cfg.RemoteBackend, &cfg, wmLogger)
		cancel()

		switch {
		case err == nil:
			if built.KV == nil {
				// Broker-only backends (kafka, rabbitmq) fan events out
				// across processes but carry no shared KV; cache and rate
				// limit state stays per-instance.
				built.KV = memory.NewStore()
			}
			desc = BackendDescriptor{
				Kind:         BackendRemote,
				Name:         cfg.RemoteBackend,
				Capabilities: registry.GetCapabilities(cfg.RemoteBackend),
				Backend:      built,
			}
		case cfg.BackendKind == configpkg.KindRemote:
			desc = BackendDescriptor{
				Kind:         BackendDisabled,
				Name:         cfg.RemoteBackend,
				Reason:       err.Error(),
				Capabilities: backendpkg.Capabilities{Name: cfg.RemoteBackend},
				Backend:      disabledBackend(),
			}
		default:
			desc = memoryDescriptor(ctx, &cfg, wmLogger, registry, err.Error())
		}
	}

	log.Info("Backend resolved", loggingpkg.LogFields{
		"kind":    string(desc.Kind),
		"backend": desc.Name,
		"reason":  desc.Reason,
	})
	return desc
}

func memoryDescriptor(ctx context.Context, cfg backendpkg.Config, logger watermill.LoggerAdapter, registry *backendpkg.Registry, reason string) BackendDescriptor {
	built, err := registry.Build(ctx, memory.BackendName, cfg, logger)
	if err != nil {
		// Custom registries may not carry the memory builder; fall back to
		// building it directly so resolution still cannot fail.
		built, _ = memory.Build(ctx, cfg, logger)
	}
	return BackendDescriptor{
		Kind:         BackendInMemory,
		Name:         memory.BackendName,
		Reason:       reason,
		Capabilities: backendpkg.MemoryCapabilities,
		Backend:      built,
	}
}

// disabledBackend returns a backend whose every operation fails with
// ErrBackendUnavailable. It stands in when kind "remote" is configured and
// the remote service cannot be reached, so callers always hold a usable
// (if degraded) handle.
func disabledBackend() backendpkg.Backend {
	return backendpkg.Backend{
		KV:         disabledKV{},
		Publisher:  disabledPubSub{},
		Subscriber: disabledPubSub{},
	}
}

type disabledKV struct{}

func (disabledKV) Get(context.Context, string) (string, error) {
	return "", errorspkg.ErrBackendUnavailable
}

func (disabledKV) Set(context.Context, string, string, time.Duration) error {
	return errorspkg.ErrBackendUnavailable
}

func (disabledKV) Del(context.Context, string) error {
	return errorspkg.ErrBackendUnavailable
}

func (disabledKV) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errorspkg.ErrBackendUnavailable
}

func (disabledKV) Close() error { return nil }

type disabledPubSub struct{}

func (disabledPubSub) Publish(string, ...*message.Message) error {
	return errorspkg.ErrBackendUnavailable
}

func (disabledPubSub) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, errorspkg.ErrBackendUnavailable
}

func (disabledPubSub) Close() error { return nil }

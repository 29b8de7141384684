package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	backendpkg "github.com/drblury/pulsehub/backend"
	configpkg "github.com/drblury/pulsehub/internal/runtime/config"
	errorspkg "github.com/drblury/pulsehub/internal/runtime/errors"
	loggingpkg "github.com/drblury/pulsehub/internal/runtime/logging"
)

// ServiceDependencies carries optional overrides used mainly by tests.
type ServiceDependencies struct {
	// Registry overrides the backend registry; nil means the default
	// registry with all linked backends.
	Registry *backendpkg.Registry
	// MetricsRegisterer overrides where collectors register; nil means the
	// Prometheus default registerer.
	MetricsRegisterer prometheus.Registerer
}

// Service bundles the resolved backend with the cache, rate limiters, and
// event hub built on top of it. One Service resolves its backend once at
// construction; building a new Service is the only way to re-resolve.
type Service struct {
	Conf   configpkg.Config
	Logger loggingpkg.ServiceLogger

	descriptor    BackendDescriptor
	cache         *Cache
	limiter       *Limiter
	strictLimiter *Limiter
	hub           *Hub
	metrics       *Metrics

	metricsServer *http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewService creates a Service and panics when the configuration is
// invalid. Use TryNewService to handle the error instead.
func NewService(conf *configpkg.Config, logger loggingpkg.ServiceLogger, ctx context.Context, serviceDeps ServiceDependencies) *Service {
	service, err := TryNewService(conf, logger, ctx, serviceDeps)
	if err != nil {
		panic(err)
	}
	return service
}

// TryNewService creates a Service: it validates the configuration,
// resolves the backend (degrading per the configured kind rather than
// failing), and wires the cache, the rate limiters, and the hub on the
// resolved backend.
func TryNewService(conf *configpkg.Config, logger loggingpkg.ServiceLogger, ctx context.Context, serviceDeps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errorspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errorspkg.ErrLoggerRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	cfg := conf.WithDefaults()
	logger.Info("Creating pulsehub service", loggingpkg.LogFields{
		"config": cfg.String(),
	})

	var metrics *Metrics
	if cfg.MetricsEnabled {
		metrics = NewMetrics(serviceDeps.MetricsRegisterer)
		if err := metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	descriptor := ResolveBackend(ctx, &cfg, logger, serviceDeps.Registry)

	service := &Service{
		Conf:       cfg,
		Logger:     logger,
		descriptor: descriptor,
		cache:      NewCache(descriptor.Backend.KV, cfg.KeyPrefix+"cache:").WithMetrics(metrics),
		limiter: NewLimiter(descriptor.Backend.KV, LimiterConfig{
			KeyPrefix: cfg.KeyPrefix + "rl:",
			FailOpen:  true,
			Logger:    logger,
			Metrics:   metrics,
		}),
		strictLimiter: NewLimiter(descriptor.Backend.KV, LimiterConfig{
			KeyPrefix: cfg.KeyPrefix + "rl:",
			Logger:    logger,
			Metrics:   metrics,
		}),
		hub: NewHub(descriptor.Backend, HubConfig{
			ChannelPrefix:    cfg.ChannelPrefix,
			SubscribeTimeout: cfg.SubscribeTimeout,
			SubscriberBuffer: cfg.SubscriberBuffer,
			Logger:           logger,
			Metrics:          metrics,
		}),
		metrics: metrics,
	}

	if cfg.MetricsEnabled && cfg.MetricsPort > 0 {
		service.metricsServer = newMetricsServer(cfg.MetricsPort, serviceDeps.MetricsRegisterer)
	}

	return service, nil
}

func newMetricsServer(port int, registerer prometheus.Registerer) *http.Server {
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Backend returns the resolved backend descriptor, including the kind and
// the reason for any degradation.
func (s *Service) Backend() BackendDescriptor {
	return s.descriptor
}

// Cache returns the TTL cache on the resolved backend.
func (s *Service) Cache() *Cache {
	return s.cache
}

// RateLimiter returns the fail-open rate limiter: when the backend is
// unreachable it allows requests and logs, never blocking traffic on
// infrastructure trouble.
func (s *Service) RateLimiter() *Limiter {
	return s.limiter
}

// StrictRateLimiter returns the fail-closed rate limiter: backend errors
// surface to the caller instead of allowing the request.
func (s *Service) StrictRateLimiter() *Limiter {
	return s.strictLimiter
}

// Hub returns the event hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Broadcast publishes an event through the service's hub.
func (s *Service) Broadcast(ctx context.Context, tenantID, resourceID, eventType string, payload any) error {
	return s.hub.Broadcast(ctx, tenantID, resourceID, eventType, payload)
}

// StreamEvents serves the (tenant, resource) channel over Server-Sent
// Events on the given response writer.
func (s *Service) StreamEvents(w http.ResponseWriter, r *http.Request, tenantID, resourceID string, opts StreamOptions) error {
	return StreamEvents(w, r, s.hub, tenantID, resourceID, opts)
}

// Start runs the service until ctx is cancelled, then closes it. When
// metrics are enabled with a port, the Prometheus endpoint is served for
// the lifetime of the service.
func (s *Service) Start(ctx context.Context) error {
	if s.metricsServer != nil {
		go func() {
			s.Logger.Info("Serving metrics", loggingpkg.LogFields{
				"addr": s.metricsServer.Addr,
			})
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Metrics server failed", err, nil)
			}
		}()
	}

	<-ctx.Done()
	return s.Close()
}

// Close shuts the service down: the hub closes every subscription, the
// backend connections are released, the metrics endpoint stops, and the
// collectors unregister. Close is idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		errs = append(errs, s.hub.Close())
		errs = append(errs, s.descriptor.Backend.Close())

		if s.metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			errs = append(errs, s.metricsServer.Shutdown(shutdownCtx))
			cancel()
		}
		if s.metrics != nil {
			s.metrics.Unregister()
		}

		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			s.Logger.Error("Service close reported errors", s.closeErr, nil)
		} else {
			s.Logger.Info("Service closed", nil)
		}
	})
	return s.closeErr
}

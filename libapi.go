package pulsehub

import (
	backendpkg "github.com/drblury/pulsehub/backend"
	runtimepkg "github.com/drblury/pulsehub/internal/runtime"
	configpkg "github.com/drblury/pulsehub/internal/runtime/config"
	errspkg "github.com/drblury/pulsehub/internal/runtime/errors"
	idspkg "github.com/drblury/pulsehub/internal/runtime/ids"
	jsoncodec "github.com/drblury/pulsehub/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/pulsehub/internal/runtime/logging"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	// Backend resolution
	BackendKind       = runtimepkg.BackendKind
	BackendDescriptor = runtimepkg.BackendDescriptor

	// Event distribution
	Hub             = runtimepkg.Hub
	HubConfig       = runtimepkg.HubConfig
	Event           = runtimepkg.Event
	EventSink       = runtimepkg.EventSink
	Subscription    = runtimepkg.Subscription
	SubscribeOption = runtimepkg.SubscribeOption

	// Cache and rate limiting
	Cache           = runtimepkg.Cache
	CacheBackend    = runtimepkg.CacheBackend
	Limiter         = runtimepkg.Limiter
	LimiterConfig   = runtimepkg.LimiterConfig
	Counter         = runtimepkg.Counter
	RateLimitResult = runtimepkg.RateLimitResult

	// Push transport
	StreamOptions = runtimepkg.StreamOptions

	// Metrics
	Metrics = runtimepkg.Metrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Backend plumbing (custom backend implementations)
	Backend             = backendpkg.Backend
	BackendKV           = backendpkg.KV
	BackendBuilder      = backendpkg.Builder
	BackendConfig       = backendpkg.Config
	BackendCapabilities = backendpkg.Capabilities
	BackendRegistry     = backendpkg.Registry
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig

	ResolveBackend = runtimepkg.ResolveBackend

	NewHub       = runtimepkg.NewHub
	NewCache     = runtimepkg.NewCache
	NewLimiter   = runtimepkg.NewLimiter
	NewMetrics   = runtimepkg.NewMetrics
	WithSnapshot = runtimepkg.WithSnapshot
	ChannelTopic = runtimepkg.ChannelTopic

	// StreamEvents serves a channel over Server-Sent Events.
	StreamEvents = runtimepkg.StreamEvents

	// Backend registry.
	// Import individual backends via: _ "github.com/drblury/pulsehub/backend/nats"
	// or all of them via: _ "github.com/drblury/pulsehub/backend/backends"
	DefaultBackendRegistry = backendpkg.DefaultRegistry
	RegisterBackend        = backendpkg.Register
	BuildBackend           = backendpkg.Build
	GetBackendCapabilities = backendpkg.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalString = jsoncodec.MarshalString
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrBackendUnavailable   = errspkg.ErrBackendUnavailable
	ErrKeyRequired          = errspkg.ErrKeyRequired
	ErrInvalidTTL           = errspkg.ErrInvalidTTL
	ErrInvalidLimit         = errspkg.ErrInvalidLimit
	ErrInvalidWindow        = errspkg.ErrInvalidWindow
	ErrTenantRequired       = errspkg.ErrTenantRequired
	ErrResourceRequired     = errspkg.ErrResourceRequired
	ErrSinkRequired         = errspkg.ErrSinkRequired
	ErrEventTypeRequired    = errspkg.ErrEventTypeRequired
	ErrHubClosed            = errspkg.ErrHubClosed
	ErrSubscriptionNotFound = errspkg.ErrSubscriptionNotFound
	ErrStreamingUnsupported = errspkg.ErrStreamingUnsupported

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopServiceLogger          = loggingpkg.NopServiceLogger

	NewULID = idspkg.NewULID
)

// Backend kind selectors for Config.BackendKind.
const (
	KindAuto     = configpkg.KindAuto
	KindRemote   = configpkg.KindRemote
	KindInMemory = configpkg.KindInMemory
)

// Backend resolution outcomes reported by BackendDescriptor.Kind.
const (
	BackendResolvedRemote   = runtimepkg.BackendRemote
	BackendResolvedInMemory = runtimepkg.BackendInMemory
	BackendResolvedDisabled = runtimepkg.BackendDisabled
)

package errors

import sterrors "errors"

var (
	ErrConfigRequired       = sterrors.New("pulsehub: configuration is required")
	ErrLoggerRequired       = sterrors.New("pulsehub: logger is required")
	ErrBackendUnavailable   = sterrors.New("pulsehub: backend unavailable")
	ErrKeyRequired          = sterrors.New("pulsehub: key is required")
	ErrInvalidTTL           = sterrors.New("pulsehub: ttl must be positive")
	ErrInvalidLimit         = sterrors.New("pulsehub: limit must be positive")
	ErrInvalidWindow        = sterrors.New("pulsehub: window must be positive")
	ErrTenantRequired       = sterrors.New("pulsehub: tenant id is required")
	ErrResourceRequired     = sterrors.New("pulsehub: resource id is required")
	ErrSinkRequired         = sterrors.New("pulsehub: event sink is required")
	ErrEventTypeRequired    = sterrors.New("pulsehub: event type is required")
	ErrHubClosed            = sterrors.New("pulsehub: hub is closed")
	ErrSubscriptionNotFound = sterrors.New("pulsehub: subscription not found")
	ErrStreamingUnsupported = sterrors.New("pulsehub: response writer does not support streaming")
)

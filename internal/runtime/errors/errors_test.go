package errors

import "testing"

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "pulsehub: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "pulsehub: logger is required"},
		{"ErrBackendUnavailable", ErrBackendUnavailable, "pulsehub: backend unavailable"},
		{"ErrKeyRequired", ErrKeyRequired, "pulsehub: key is required"},
		{"ErrInvalidTTL", ErrInvalidTTL, "pulsehub: ttl must be positive"},
		{"ErrInvalidLimit", ErrInvalidLimit, "pulsehub: limit must be positive"},
		{"ErrInvalidWindow", ErrInvalidWindow, "pulsehub: window must be positive"},
		{"ErrTenantRequired", ErrTenantRequired, "pulsehub: tenant id is required"},
		{"ErrResourceRequired", ErrResourceRequired, "pulsehub: resource id is required"},
		{"ErrSinkRequired", ErrSinkRequired, "pulsehub: event sink is required"},
		{"ErrEventTypeRequired", ErrEventTypeRequired, "pulsehub: event type is required"},
		{"ErrHubClosed", ErrHubClosed, "pulsehub: hub is closed"},
		{"ErrSubscriptionNotFound", ErrSubscriptionNotFound, "pulsehub: subscription not found"},
		{"ErrStreamingUnsupported", ErrStreamingUnsupported, "pulsehub: response writer does not support streaming"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	errs := []error{
		ErrConfigRequired, ErrLoggerRequired, ErrBackendUnavailable, ErrKeyRequired,
		ErrInvalidTTL, ErrInvalidLimit, ErrInvalidWindow, ErrTenantRequired,
		ErrResourceRequired, ErrSinkRequired, ErrEventTypeRequired, ErrHubClosed,
		ErrSubscriptionNotFound, ErrStreamingUnsupported,
	}
	seen := make(map[string]struct{}, len(errs))
	for _, err := range errs {
		if _, ok := seen[err.Error()]; ok {
			t.Fatalf("duplicate sentinel message: %q", err.Error())
		}
		seen[err.Error()] = struct{}{}
	}
}

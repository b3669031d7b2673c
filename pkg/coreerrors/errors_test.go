package coreerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   Kind
		wantStatus int
	}{
		{"not found", fmt.Errorf("session s1: %w", ErrNotFound), KindNotFound, 404},
		{"conflict", fmt.Errorf("archived: %w", ErrConflict), KindConflict, 409},
		{"unauthorized", ErrUnauthorized, KindUnauthorized, 401},
		{"forbidden", ErrForbidden, KindForbidden, 403},
		{"validation", NewValidationError("title", "required"), KindValidation, 422},
		{"rate limited sentinel", ErrRateLimited, KindRateLimited, 429},
		{"rate limited typed", &RateLimitedError{RetryAfterSeconds: 5, Reason: "rpm"}, KindRateLimited, 429},
		{"circuit open typed", &CircuitOpenError{Target: "model-a", RetryAfterSeconds: 30}, KindCircuitOpen, 503},
		{"no model available", ErrNoModelAvailable, KindCircuitOpen, 503},
		{"timeout", ErrTimeout, KindTimeout, 504},
		{"fatal", ErrFatal, KindFatal, 500},
		{"unknown wraps as transient", fmt.Errorf("boom"), KindTransient, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, status := Classify(tt.err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestEnvelop(t *testing.T) {
	env, status := Envelop(&RateLimitedError{RetryAfterSeconds: 7, Reason: "tpd"}, "corr-1")
	assert.Equal(t, 429, status)
	assert.Equal(t, "rate_limited", env.Error)
	assert.Equal(t, 7, env.RetryAfter)
	assert.Equal(t, "corr-1", env.CorrelationID)
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(NewValidationError("f", "m")))
	assert.False(t, IsValidationError(ErrNotFound))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTransient))
	assert.True(t, IsTransient(ErrTimeout))
	assert.False(t, IsTransient(ErrNotFound))
	assert.False(t, IsTransient(nil))
}

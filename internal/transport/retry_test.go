package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
)

var fastRetry = RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func TestRetryTransport_RetriesRetriableErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	inner := &stubTransport{fail: func(call int) error {
		if call < 3 {
			return newError(TypeHTTP, true, errFlaky)
		}

		return nil
	}}

	require.NoError(t, NewRetry(inner, fastRetry, nil).Emit(context.Background(), testEvent(t, "run-1", "")))
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []string{"run-1"}, inner.runIDs)
}

func TestRetryTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	inner := &stubTransport{fail: func(int) error { return newError(TypeHTTP, true, errFlaky) }}

	err := NewRetry(inner, fastRetry, nil).Emit(context.Background(), testEvent(t, "run-1", ""))
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryTransport_DoesNotRetryPermanentErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	inner := &stubTransport{fail: func(int) error { return newError(TypeHTTP, false, errFlaky) }}

	err := NewRetry(inner, fastRetry, nil).Emit(context.Background(), testEvent(t, "run-1", ""))

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Retriable)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryTransport_SerializationErrorIsPermanent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var buf bytes.Buffer

	err := NewRetry(NewConsole(&buf), fastRetry, nil).Emit(context.Background(), unrepresentableEvent(t))

	var serr *lineage.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Zero(t, buf.Len())
}

func TestRetryConfig_Defaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := RetryConfig{}.withDefaults()
	assert.Equal(t, defaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, defaultInitialInterval, cfg.InitialInterval)
	assert.Equal(t, defaultMaxInterval, cfg.MaxInterval)
}

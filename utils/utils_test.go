package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	code1, err := GenerateCode(8)
	require.NoError(t, err)
	code2, err := GenerateCode(8)
	require.NoError(t, err)

	assert.Len(t, code1, 16) // hex doubles the byte count
	assert.NotEqual(t, code1, code2)
}

func TestGenerateRequestID(t *testing.T) {
	id, err := GenerateRequestID()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "req_"))
}

func TestCircuitBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		err := cb.Do(ctx, func() error { return nil })
		require.NoError(t, err)
	}
}

func TestCircuitBreaker_TripsOpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()
	boom := errors.New("boom")

	var opened bool
	for i := 0; i < 100; i++ {
		err := cb.Do(ctx, func() error { return boom })
		if errors.Is(err, ErrCircuitOpen) {
			opened = true
			break
		}
		require.ErrorIs(t, err, boom)
	}

	assert.True(t, opened, "breaker never opened under sustained failures")
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test")
	cb.maxRequests = 2
	cb.timeout = 10 * time.Millisecond
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 10; i++ {
		cb.Do(ctx, func() error { return boom })
	}
	require.ErrorIs(t, cb.Do(ctx, func() error { return nil }), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)

	// first probe in half-open succeeds and closes the breaker
	require.NoError(t, cb.Do(ctx, func() error { return nil }))
	require.NoError(t, cb.Do(ctx, func() error { return nil }))
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Do(ctx, func() error { called = true; return nil })

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

package mcdump

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/pior/mcdump/protocol"
)

func TestCircuitBreaker_Trips(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	cb := newCircuitBreaker("10.0.0.1:11211", BreakerConfig{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     time.Minute,
	}, logger)

	fail := func() (struct{}, error) { return struct{}{}, ErrConnectionClosed }
	for range 2 {
		_, _ = cb.Execute(fail)
	}
	require.Equal(t, gobreaker.StateClosed, cb.State())

	_, _ = cb.Execute(fail)
	require.Equal(t, gobreaker.StateOpen, cb.State())
	require.Contains(t, logs.String(), "circuit breaker state changed")
	require.Contains(t, logs.String(), "host=10.0.0.1:11211")

	_, err := cb.Execute(fail)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreaker_ServerErrorsDoNotTrip(t *testing.T) {
	cb := newCircuitBreaker("10.0.0.1:11211", BreakerConfig{MaxRequests: 2}, slog.Default())

	for range 10 {
		_, err := cb.Execute(func() (struct{}, error) {
			return struct{}{}, &protocol.ServerError{Message: "BUSY"}
		})
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateClosed, cb.State())
	require.Equal(t, uint32(10), cb.Counts().TotalSuccesses)
}

func TestIsHealthy(t *testing.T) {
	require.True(t, isHealthy(nil))
	require.True(t, isHealthy(context.Canceled))
	require.True(t, isHealthy(&protocol.ServerError{Message: "ERROR"}))
	require.False(t, isHealthy(&protocol.ParseError{Message: "x"}))
	require.False(t, isHealthy(ErrConnectionClosed))
	require.False(t, isHealthy(context.DeadlineExceeded))
	require.False(t, isHealthy(errors.New("boom")))
}

package mcdump

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/mcdump/protocol"
)

// newCircuitBreaker returns the breaker guarding every operation on one host.
// It trips once 60% of at least 3 operations failed within config.Interval.
func newCircuitBreaker(addr string, config BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[struct{}] {
	settings := gobreaker.Settings{
		Name:        addr,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: isHealthy,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "host", name, "from", from.String(), "to", to.String())
		},
	}
	return gobreaker.NewCircuitBreaker[struct{}](settings)
}

// isHealthy reports whether err says nothing about the health of the server:
// the server answered, or the caller gave up.
func isHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var serverErr *protocol.ServerError
	return errors.As(err, &serverErr)
}

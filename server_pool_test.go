package mcdump

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/pior/mcdump/internal/testutils"
	"github.com/pior/mcdump/protocol"
)

type mockDialer struct {
	dials int
	err   error
}

func (d *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return testutils.NewConnectionMock(), nil
}

func testPoolConfig(dialer Dialer) *Config {
	config := DefaultConfig()
	config.Dialer = dialer
	return config
}

func TestServerPool_ReusesHealthyConnection(t *testing.T) {
	dialer := &mockDialer{}
	sp, err := NewServerPool("127.0.0.1:11211", testPoolConfig(dialer))
	require.NoError(t, err)
	defer sp.Close()

	for range 3 {
		err := sp.Do(context.Background(), func(c *Connection) error {
			return c.Send(context.Background(), []byte("get a\r\n"))
		})
		require.NoError(t, err)
	}

	require.Equal(t, 1, dialer.dials)
	stats := sp.Stats()
	require.Equal(t, "127.0.0.1:11211", stats.Addr)
	require.Equal(t, uint64(1), stats.CreatedConns)
	require.Equal(t, uint64(0), stats.DestroyedConns)
	require.Equal(t, int32(1), stats.IdleConns)
}

func TestServerPool_ServerErrorKeepsConnection(t *testing.T) {
	dialer := &mockDialer{}
	sp, err := NewServerPool("127.0.0.1:11211", testPoolConfig(dialer))
	require.NoError(t, err)
	defer sp.Close()

	serverErr := &protocol.ServerError{Message: "BUSY crawler"}
	err = sp.Do(context.Background(), func(c *Connection) error { return serverErr })
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, uint64(0), sp.Stats().DestroyedConns)
}

func TestServerPool_DestroysBrokenConnection(t *testing.T) {
	tests := []struct {
		name string
		fn   func(c *Connection) error
	}{
		{"parse error", func(c *Connection) error { return &protocol.ParseError{Message: "garbage"} }},
		{"io error", func(c *Connection) error {
			_, err := c.Fill(context.Background(), protocol.NewListingParser(make([]byte, 8)))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp, err := NewServerPool("127.0.0.1:11211", testPoolConfig(&mockDialer{}))
			require.NoError(t, err)
			defer sp.Close()

			require.Error(t, sp.Do(context.Background(), tt.fn))
			require.Eventually(t, func() bool {
				return sp.Stats().DestroyedConns == 1
			}, time.Second, time.Millisecond)
		})
	}
}

func TestServerPool_DialError(t *testing.T) {
	dialErr := errors.New("connection refused")
	sp, err := NewServerPool("127.0.0.1:11211", testPoolConfig(&mockDialer{err: dialErr}))
	require.NoError(t, err)
	defer sp.Close()

	err = sp.Do(context.Background(), func(c *Connection) error { return nil })
	require.ErrorIs(t, err, dialErr)
	require.Contains(t, err.Error(), "127.0.0.1:11211")
}

func TestServerPool_CircuitBreakerTrips(t *testing.T) {
	dialer := &mockDialer{err: errors.New("connection refused")}
	config := testPoolConfig(dialer)
	config.Breaker = BreakerConfig{Enabled: true, MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute}

	sp, err := NewServerPool("127.0.0.1:11211", config)
	require.NoError(t, err)
	defer sp.Close()

	for range 3 {
		require.Error(t, sp.Do(context.Background(), func(c *Connection) error { return nil }))
	}
	require.Equal(t, gobreaker.StateOpen, sp.Stats().CircuitBreakerState)

	err = sp.Do(context.Background(), func(c *Connection) error { return nil })
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, 3, dialer.dials)
}

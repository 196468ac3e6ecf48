package mcdump

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/mcdump/protocol"
)

// NewServerPool creates the connection pool of one memcached server.
// Connections are dialed lazily, up to config.MaxConnsPerHost.
func NewServerPool(addr string, config *Config) (*ServerPool, error) {
	sp := &ServerPool{addr: addr}
	dialer := config.dialer()

	poolConfig := &puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			netConn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, err
			}
			sp.createdConns.Add(1)
			return NewConnection(netConn, config.IOTimeout), nil
		},
		Destructor: func(c *Connection) {
			sp.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: max(config.MaxConnsPerHost, 1),
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	sp.pool = pool

	if config.Breaker.Enabled {
		sp.circuitBreaker = newCircuitBreaker(addr, config.Breaker, config.logger())
	}
	return sp, nil
}

// ServerPool wraps a pool, a circuit breaker with its server address.
type ServerPool struct {
	addr           string
	pool           *puddle.Pool[*Connection]
	circuitBreaker *gobreaker.CircuitBreaker[struct{}]

	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

func (sp *ServerPool) Address() string {
	return sp.addr
}

// ServerPoolStats contains stats for a single server pool
type ServerPoolStats struct {
	Addr                 string
	TotalConns           int32
	IdleConns            int32
	ActiveConns          int32
	AcquireCount         uint64
	CreatedConns         uint64
	DestroyedConns       uint64
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (sp *ServerPool) Stats() ServerPoolStats {
	s := sp.pool.Stat()
	stats := ServerPoolStats{
		Addr:           sp.addr,
		TotalConns:     s.TotalResources(),
		IdleConns:      s.IdleResources(),
		ActiveConns:    s.AcquiredResources(),
		AcquireCount:   uint64(s.AcquireCount()),
		CreatedConns:   uint64(sp.createdConns.Load()),
		DestroyedConns: uint64(sp.destroyedConns.Load()),
	}
	if sp.circuitBreaker != nil {
		stats.CircuitBreakerState = sp.circuitBreaker.State()
		stats.CircuitBreakerCounts = sp.circuitBreaker.Counts()
	}
	return stats
}

// Do runs fn with a connection of the pool. The connection is destroyed when fn
// returns an error that leaves the stream in an unknown state, and released
// otherwise. The call is wrapped with the server's circuit breaker.
func (sp *ServerPool) Do(ctx context.Context, fn func(*Connection) error) error {
	if sp.circuitBreaker == nil {
		return sp.doDirect(ctx, fn)
	}

	_, err := sp.circuitBreaker.Execute(func() (struct{}, error) {
		return struct{}{}, sp.doDirect(ctx, fn)
	})
	return err
}

func (sp *ServerPool) doDirect(ctx context.Context, fn func(*Connection) error) error {
	resource, err := sp.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection to %s: %w", sp.addr, err)
	}

	conn := resource.Value()
	err = fn(conn)
	if conn.Broken() || shouldCloseConnection(err) {
		resource.Destroy()
	} else {
		resource.Release()
	}
	return err
}

// shouldCloseConnection reports whether the stream may hold unread bytes after
// err. Only a complete server error line leaves it at a command boundary.
func shouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}
	var serverErr *protocol.ServerError
	return !errors.As(err, &serverErr)
}

// Close closes every connection. In-flight calls finish first.
func (sp *ServerPool) Close() {
	sp.pool.Close()
}

package mcdump

import (
	"context"
	"log/slog"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/time/rate"
)

// bufferRetryDelay is how long a worker waits before retrying an empty pool.
const bufferRetryDelay = 10 * time.Millisecond

// HostError reports the failure of a worker.
type HostError struct {
	Host string
	Op   string // "list" or "fetch"
	Err  error
}

func (e *HostError) Error() string {
	return "mcdump: " + e.Op + " " + e.Host + ": " + e.Err.Error()
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// RecordWriter receives the encoded records of a worker.
type RecordWriter interface {
	Append(record []byte) error
}

// Worker dumps one memcached server: a single listing pass feeding fetch
// rounds. A worker runs once and is not safe for concurrent use.
type Worker struct {
	host         string
	pendingLimit int
	logger       *slog.Logger

	pool         *BufferPool
	server       *ServerPool
	orchestrator *Orchestrator
	writer       RecordWriter
	keyWriter    RecordWriter
	limiter      *rate.Limiter
	stats        *dumpStatsCollector

	pending *PendingKeys
	record  []byte

	// listed holds a hash of every key of the listing pass, so that a key the
	// crawler prints twice is dumped once.
	listed  map[xxh3.Uint128]struct{}
	keyLine []byte
}

// NewWorker returns a worker dumping server into writer.
func NewWorker(config *Config, pool *BufferPool, server *ServerPool, orchestrator *Orchestrator, writer RecordWriter) *Worker {
	limit := rate.Inf
	if config.FetchRate > 0 {
		limit = rate.Limit(config.FetchRate)
	}

	return &Worker{
		host:         server.Address(),
		pendingLimit: config.PendingLimit,
		logger:       config.logger().With("host", server.Address()),
		pool:         pool,
		server:       server,
		orchestrator: orchestrator,
		writer:       writer,
		limiter:      rate.NewLimiter(limit, 1),
		stats:        newDumpStatsCollector(),
		pending:      NewPendingKeys(),
		listed:       make(map[xxh3.Uint128]struct{}),
	}
}

// SetKeyWriter makes the worker write the listing line of every key it keeps
// to writer. It must be called before Run.
func (w *Worker) SetKeyWriter(writer RecordWriter) {
	w.keyWriter = writer
}

func (w *Worker) Host() string {
	return w.host
}

// Stats returns a snapshot of the worker progress. It is safe to call while
// the worker runs.
func (w *Worker) Stats() DumpStats {
	return w.stats.snapshot()
}

// Run lists every key of the server and dumps the ones worth keeping.
func (w *Worker) Run(ctx context.Context) error {
	start := time.Now()
	w.logger.Info("dump started")

	err := w.server.Do(ctx, func(conn *Connection) error {
		return w.list(ctx, conn)
	})
	if err != nil {
		return &HostError{Host: w.host, Op: "list", Err: err}
	}

	if err := w.drain(ctx); err != nil {
		return &HostError{Host: w.host, Op: "fetch", Err: err}
	}

	stats := w.stats.snapshot()
	w.logger.Info("dump finished",
		"keys_listed", stats.KeysListed,
		"keys_dumped", stats.KeysDumped,
		"keys_evicted", stats.KeysEvicted,
		"duration", time.Since(start))
	return nil
}

// checkout takes a buffer from the pool, waiting while it is empty.
func (w *Worker) checkout(ctx context.Context) (*Buffer, error) {
	for {
		buf, err := w.pool.Checkout()
		if err == nil {
			return buf, nil
		}

		w.stats.recordBufferWait()
		timer := time.NewTimer(bufferRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

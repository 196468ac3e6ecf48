package mcdump

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/pior/mcdump/protocol"
)

var (
	ErrConnectionClosed = errors.New("mcdump: connection closed")
)

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Filler receives the bytes read from a connection. Both parsers implement it.
type Filler interface {
	// FillTarget returns the free space where bytes must be written.
	FillTarget() []byte
	// Commit marks n bytes of the fill target as filled.
	Commit(n int)
}

// Connection is a single text protocol connection to a memcached server.
// It is not safe for concurrent use: the ServerPool hands it to one caller at a
// time.
type Connection struct {
	conn      net.Conn
	ioTimeout time.Duration
	broken    bool
	closed    bool
}

// NewConnection wraps netConn. Every read and write is bounded by ioTimeout,
// or by the context deadline when it is earlier. Zero means no timeout.
func NewConnection(netConn net.Conn, ioTimeout time.Duration) *Connection {
	return &Connection{
		conn:      netConn,
		ioTimeout: ioTimeout,
	}
}

// Send writes cmd in full.
func (c *Connection) Send(ctx context.Context, cmd []byte) error {
	if c.closed || c.broken {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetWriteDeadline(aLongTimeAgo) })
	defer stop()

	if _, err := c.conn.Write(cmd); err != nil {
		return c.ioError(ctx, err)
	}
	return nil
}

// Fill performs a single read into the fill target of f and returns the number
// of bytes committed. It returns protocol.ErrWindowFull when f has no room left.
func (c *Connection) Fill(ctx context.Context, f Filler) (int, error) {
	if c.closed || c.broken {
		return 0, ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	target := f.FillTarget()
	if len(target) == 0 {
		return 0, protocol.ErrWindowFull
	}

	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(aLongTimeAgo) })
	defer stop()

	n, err := c.conn.Read(target)
	if n > 0 {
		f.Commit(n)
	}
	if err != nil {
		return n, c.ioError(ctx, err)
	}
	return n, nil
}

// Broken reports whether the stream is unusable, after an I/O error or
// Abandon.
func (c *Connection) Broken() bool {
	return c.broken
}

// Abandon marks the connection broken, for a caller that stops reading in the
// middle of a response.
func (c *Connection) Abandon() {
	c.broken = true
}

// Close closes the connection
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Connection) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.ioTimeout > 0 {
		deadline = time.Now().Add(c.ioTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}

// ioError reports the context error when the context interrupted the I/O.
// Any error leaves the stream in an unknown state and breaks the connection.
func (c *Connection) ioError(ctx context.Context, err error) error {
	c.broken = true
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return ErrConnectionClosed
	}
	return err
}

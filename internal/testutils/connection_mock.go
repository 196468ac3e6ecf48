package testutils

import (
	"bytes"
	"io"
	"net"
	"time"
)

// ConnectionMock is a net.Conn replaying scripted response chunks.
// Every Read returns at most one chunk, so a test controls exactly how a
// response is fragmented. Once the chunks are exhausted Read returns io.EOF.
type ConnectionMock struct {
	chunks   [][]byte
	writeBuf *bytes.Buffer
	closed   bool

	readDeadline  time.Time
	writeDeadline time.Time
}

// NewConnectionMock creates a new mock connection returning the chunks in order.
func NewConnectionMock(chunks ...string) *ConnectionMock {
	m := &ConnectionMock{writeBuf: &bytes.Buffer{}}
	for _, c := range chunks {
		m.chunks = append(m.chunks, []byte(c))
	}
	return m
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	if m.closed {
		return 0, net.ErrClosed
	}
	if len(m.chunks) == 0 {
		return 0, io.EOF
	}
	n = copy(b, m.chunks[0])
	m.chunks[0] = m.chunks[0][n:]
	if len(m.chunks[0]) == 0 {
		m.chunks = m.chunks[1:]
	}
	return n, nil
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	if m.closed {
		return 0, net.ErrClosed
	}
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *ConnectionMock) Closed() bool {
	return m.closed
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error {
	m.readDeadline, m.writeDeadline = t, t
	return nil
}

func (m *ConnectionMock) SetReadDeadline(t time.Time) error {
	m.readDeadline = t
	return nil
}

func (m *ConnectionMock) SetWriteDeadline(t time.Time) error {
	m.writeDeadline = t
	return nil
}

// ReadDeadline returns the last read deadline set.
func (m *ConnectionMock) ReadDeadline() time.Time {
	return m.readDeadline
}

// GetWrittenRequest returns the raw request bytes written to the mock connection
func (m *ConnectionMock) GetWrittenRequest() string {
	return m.writeBuf.String()
}

// Fragment splits s in pieces of at most size bytes.
func Fragment(s string, size int) []string {
	var chunks []string
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

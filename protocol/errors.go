package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMore means the window holds an incomplete token or record.
	// It is never a failure: append more bytes from the connection and retry.
	ErrNeedMore = errors.New("protocol: need more data")

	// ErrEnd is returned once the terminal END line has been reached.
	// Like io.EOF it is a control signal, not a failure.
	ErrEnd = errors.New("protocol: end of response")

	// ErrWindowFull is returned when compaction cannot free any space: a single
	// record is larger than the buffer backing the window.
	ErrWindowFull = errors.New("protocol: record exceeds window capacity")
)

// ParseError reports a stream that does not conform to the grammar.
// The connection must be closed: there is no way to resynchronise.
type ParseError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "protocol: parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "protocol: parse error: " + e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ServerError is an ERROR, CLIENT_ERROR, SERVER_ERROR or BUSY reply.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "protocol: server replied " + e.Message
}

// ValueTooLargeError reports a value whose declared size cannot fit in the window.
type ValueTooLargeError struct {
	Key      string
	Size     int
	Capacity int
}

func (e *ValueTooLargeError) Error() string {
	return fmt.Sprintf("protocol: value of key %q is %d bytes, window holds %d", e.Key, e.Size, e.Capacity)
}

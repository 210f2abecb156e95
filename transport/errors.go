package transport

import (
	"errors"
	"fmt"
)

// Graceful termination convention: the sender closes the connection with
// this code and reason once every file stream has finished. A receiver's
// accept loop treats exactly this pair as "peer is done", and anything else
// as a real failure.
const (
	GracefulCode   uint64 = 200
	GracefulReason string = "finished"
)

// Common transport errors.
var (
	// ErrNotAllowed indicates a connection was rejected before any byte was
	// read, e.g. a second connection on a single-use handler.
	ErrNotAllowed = errors.New("connection not allowed")

	// ErrConnClosed indicates an operation on a connection this side
	// already closed.
	ErrConnClosed = errors.New("connection closed")
)

// CloseError reports that the connection terminated with an application
// (code, reason) pair. Remote distinguishes the peer closing from a local
// close observed by a concurrent operation.
type CloseError struct {
	Code   uint64
	Reason string
	Remote bool
}

func (e *CloseError) Error() string {
	side := "locally"
	if e.Remote {
		side = "by peer"
	}
	return fmt.Sprintf("connection closed %s: code %d, reason %q", side, e.Code, e.Reason)
}

// StreamError reports that a single stream was cancelled or stopped with an
// application code while the connection stayed up.
type StreamError struct {
	Code uint64
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream reset: code %d", e.Code)
}

// IsGracefulClose reports whether err is a connection close carrying exactly
// the graceful termination code and reason. Any other close, and any plain
// I/O failure, is a real error.
func IsGracefulClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == GracefulCode && ce.Reason == GracefulReason
}

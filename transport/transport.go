// Package transport defines the connection surface the transfer protocol
// consumes and two implementations of it: an in-process memory pair for
// tests and a QUIC adapter for real networks.
//
// The protocol assumes the connection is already established and secured by
// the caller; address discovery, tickets and confirmation handshakes all
// live outside this package. What the protocol needs from a connection is
// small: one bidirectional stream for the greeting, any number of
// unidirectional streams for file data, and a close operation that carries a
// (code, reason) pair the peer can classify.
package transport

import (
	"context"
	"io"
)

// Conn is a bidirectional, stream-multiplexing connection between exactly
// two peers. Implementations must allow concurrent use: the greeting stream
// and many file streams are driven from separate goroutines.
type Conn interface {
	// OpenBi opens a new bidirectional stream to the peer.
	OpenBi(ctx context.Context) (Stream, error)

	// AcceptBi waits for the peer to open a bidirectional stream.
	AcceptBi(ctx context.Context) (Stream, error)

	// OpenUni opens a new send-only stream to the peer.
	OpenUni(ctx context.Context) (SendStream, error)

	// AcceptUni waits for the next incoming unidirectional stream. After the
	// connection closes it fails with a *CloseError carrying the peer's
	// (code, reason); already-delivered streams remain readable.
	AcceptUni(ctx context.Context) (ReceiveStream, error)

	// Close terminates the connection with an application code and reason
	// visible to the peer. The first close wins; later calls are no-ops.
	Close(code uint64, reason string) error
}

// SendStream is the write half of a stream. Bytes arrive at the peer in
// write order.
type SendStream interface {
	io.Writer

	// Finish half-closes the stream cleanly. The peer observes a normal end
	// of stream after consuming all written bytes. Finish does not wait for
	// that delivery; confirmation, where needed, happens above the transport.
	Finish() error

	// Cancel abandons the stream; the peer observes a *StreamError instead
	// of a clean end.
	Cancel(code uint64)
}

// ReceiveStream is the read half of a stream. Read returns io.EOF after the
// peer finishes its side.
type ReceiveStream interface {
	io.Reader

	// Stop tells the peer this side wants no further data.
	Stop(code uint64)
}

// Stream is a bidirectional stream: an independent send half and receive
// half between the same two peers.
type Stream interface {
	SendStream
	ReceiveStream
}

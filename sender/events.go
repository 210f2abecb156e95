// Package sender implements the sending side of the transfer protocol: a
// Bubble session handle the caller starts over an established connection,
// and the per-connection carrier that performs the greeting exchange and
// streams every offered file over bounded parallel unidirectional streams.
package sender

import "github.com/opd-ai/dropwire/handshake"

// Subscriber observes one sending session. Implementations must be safe for
// concurrent use; notifications are dispatched synchronously from protocol
// goroutines and must not block on I/O.
type Subscriber interface {
	// ID keys the registry entry; subscribing with an existing ID replaces
	// the previous subscriber.
	ID() string

	// Log receives best-effort diagnostic lines. Not an error channel.
	Log(message string)

	// Connecting fires once the receiver's handshake reply has been read.
	Connecting(event ConnectingEvent)

	// Sending fires once per chunk written, plus once per file with zero
	// bytes sent before any data moves. Events from concurrently streaming
	// files interleave arbitrarily.
	Sending(event SendingEvent)
}

// ConnectingEvent carries the receiver identity learned during the greeting.
type ConnectingEvent struct {
	Receiver handshake.Profile
}

// SendingEvent reports per-file progress.
type SendingEvent struct {
	FileID    string
	Name      string
	Sent      uint64
	Remaining uint64

	// ThroughputMbps is the session-wide send rate in MiB/s since streaming
	// started.
	ThroughputMbps float64

	// ActiveStreams is the number of file streams open when the event was
	// published.
	ActiveStreams uint32
}

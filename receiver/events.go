// Package receiver implements the receiving side of the transfer protocol:
// a single-use Handler that consumes at most one established connection,
// answers the greeting, and demultiplexes incoming file streams into a
// caller-supplied sink.
package receiver

import "github.com/opd-ai/dropwire/handshake"

// Subscriber observes one receiving session. Implementations must be safe
// for concurrent use; notifications are dispatched synchronously from
// protocol goroutines and must not block on I/O.
type Subscriber interface {
	// ID keys the registry entry; subscribing with an existing ID replaces
	// the previous subscriber.
	ID() string

	// Log receives best-effort diagnostic lines. Not an error channel.
	Log(message string)

	// Connecting fires once the sender's handshake has been read, before
	// any file data arrives.
	Connecting(event ConnectingEvent)

	// Receiving fires once per chunk. Chunks for one file arrive in order;
	// chunks across files interleave arbitrarily.
	Receiving(event ReceivingEvent)
}

// ConnectingEvent carries the sender identity and the declared file listing
// from the greeting.
type ConnectingEvent struct {
	Sender handshake.Profile
	Files  []handshake.FileInfo
}

// ReceivingEvent carries one received chunk.
type ReceivingEvent struct {
	FileID string
	Data   []byte
}

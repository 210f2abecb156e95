// Package handshake defines the data exchanged between two peers before any
// file data moves: participant profiles, the sender's file listing, and the
// transfer parameters each side proposes.
//
// Both peers send a proposed Config during the greeting exchange. The
// effective parameters for the connection are derived locally on each side
// with Negotiate and are never transmitted.
package handshake

import (
	"errors"
	"fmt"
)

// Common validation errors for handshake payloads.
var (
	// ErrZeroChunkSize indicates a proposed chunk size of zero bytes.
	ErrZeroChunkSize = errors.New("chunk size must be positive")

	// ErrZeroParallelStreams indicates a proposal allowing no streams at all.
	ErrZeroParallelStreams = errors.New("parallel streams must be at least 1")

	// ErrDuplicateFileID indicates two offered files share an identifier.
	ErrDuplicateFileID = errors.New("duplicate file id")
)

// Profile carries identity and display information for one participant.
// It is exchanged during the greeting and never persisted by the protocol.
type Profile struct {
	// ID is a stable, opaque identifier (typically a UUID string).
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Avatar is an optional Base64-encoded image. Kept small by convention;
	// the consumer decodes and renders it.
	Avatar string `json:"avatar_b64,omitempty"`
}

// FileInfo describes one file offered by the sender. The ID is assigned by
// the sender and is the sole key used to correlate chunks on the receiving
// side, so it must be unique within a session.
type FileInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Len  uint64 `json:"len"`
}

// ValidateFileIDs checks that no two files in a listing share an ID.
func ValidateFileIDs(files []FileInfo) error {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateFileID, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}

// Config is one peer's proposed transfer parameters. Proposals express what
// a peer is willing to buffer and hold open, not a guarantee.
type Config struct {
	// ChunkSize is the preferred maximum chunk payload in bytes.
	ChunkSize uint64 `json:"chunk_size"`

	// ParallelStreams is the maximum number of concurrently open file
	// streams this peer is comfortable with.
	ParallelStreams uint32 `json:"parallel_streams"`
}

// Validate rejects proposals that could stall a transfer outright.
func (c Config) Validate() error {
	if c.ChunkSize == 0 {
		return ErrZeroChunkSize
	}
	if c.ParallelStreams == 0 {
		return ErrZeroParallelStreams
	}
	return nil
}

// Negotiated is the configuration both peers operate under for the lifetime
// of one connection. It is derived, never sent on the wire.
type Negotiated struct {
	ChunkSize       uint64
	ParallelStreams uint32
}

// Negotiate reconciles two proposals into the parameters used for the
// transfer. Each field is the minimum of the two proposals: the smaller
// value comes from the more constrained peer, and neither side is ever
// pushed past its stated comfort level. The function is pure, deterministic
// and commutative, so both peers derive the same result independently.
func Negotiate(local, remote Config) Negotiated {
	return Negotiated{
		ChunkSize:       min(local.ChunkSize, remote.ChunkSize),
		ParallelStreams: min(local.ParallelStreams, remote.ParallelStreams),
	}
}

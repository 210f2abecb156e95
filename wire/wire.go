// Package wire implements the length-prefixed message framing used on every
// protocol stream: a 4-byte big-endian length followed by a JSON body.
//
// Control messages (the handshake exchange) travel on the bidirectional
// greeting stream; each file chunk travels as one frame on that file's
// unidirectional stream. A unidirectional stream ending cleanly between
// frames is the normal "no more chunks" signal and surfaces as io.EOF; a
// stream ending inside a frame is a protocol error.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/dropwire/handshake"
)

const (
	// MaxFrameSize is the absolute maximum body length accepted for any
	// frame. It bounds memory committed per read and has to leave headroom
	// above the largest negotiable chunk for JSON and Base64 overhead.
	MaxFrameSize = 32 * 1024 * 1024

	// headerSize is the fixed length prefix in bytes.
	headerSize = 4
)

var (
	// ErrFrameTooLarge indicates a declared or encoded frame body above
	// MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrTruncatedFrame indicates the stream ended inside a frame, either
	// mid-header or before the declared body length arrived.
	ErrTruncatedFrame = errors.New("truncated frame")
)

// SenderHandshake is the first message on the greeting stream, written by
// the sending peer.
type SenderHandshake struct {
	Profile handshake.Profile    `json:"profile"`
	Files   []handshake.FileInfo `json:"files"`
	Config  handshake.Config     `json:"config"`
}

// ReceiverHandshake is the reply on the greeting stream.
type ReceiverHandshake struct {
	Profile handshake.Profile `json:"profile"`
	Config  handshake.Config  `json:"config"`
}

// Chunk is one unit of file data, tagged with the file ID it belongs to.
// Chunks for one file arrive in write order on that file's stream; chunks
// across files carry no ordering guarantee.
type Chunk struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

// Ack confirms on the greeting stream that one file stream arrived complete.
// The sender holds the connection open until it has read one Ack per offered
// file: an application close abandons stream data still in flight, so the
// graceful close must not happen before the peer has everything.
type Ack struct {
	ID string `json:"id,omitempty"`
}

// WriteFrame encodes v as JSON and writes it as a single length-prefixed
// frame. The header and body go out in one Write so a frame is never split
// by the caller's own interleaving.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(body)))
	copy(frame[headerSize:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes its JSON body
// into v.
//
// A clean end of stream before any header byte returns io.EOF untouched so
// callers can distinguish "no more frames" from failure. A stream that ends
// after the frame started returns ErrTruncatedFrame.
func ReadFrame(r io.Reader, v any) error {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: stream ended mid-header", ErrTruncatedFrame)
		}
		return fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: stream ended mid-body, wanted %d bytes", ErrTruncatedFrame, length)
		}
		return fmt.Errorf("read frame body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// Package data defines the byte providers and consumers the transfer engine
// works against: a pull-based Source on the sending side and a push-based
// Sink keyed by file ID on the receiving side. Neither knows anything about
// the protocol.
package data

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Source is a thread-safe, consuming reader over a fixed-length payload.
// Every read advances an internal cursor; io.EOF terminates the sequence.
//
// Len reports the total payload length, not the unread remainder, and must
// not change over the lifetime of the source.
type Source interface {
	Len() uint64

	// ReadByte returns the next unread byte, or io.EOF when exhausted.
	ReadByte() (byte, error)

	// ReadChunk returns up to n bytes starting at the next unread position
	// and advances the cursor by the number returned. It returns fewer than
	// n bytes near the end of the payload, an empty slice for n <= 0, and
	// (nil, io.EOF) once the payload is exhausted.
	ReadChunk(n int) ([]byte, error)
}

// Bytes is an in-memory Source. Safe for concurrent readers; each read
// consumes from a shared cursor.
type Bytes struct {
	mu  sync.Mutex
	buf []byte
	off int
}

// NewBytes returns a Source over b. The slice is not copied; the caller must
// not mutate it while the source is in use.
func NewBytes(b []byte) *Bytes {
	return &Bytes{buf: b}
}

// Len returns the total payload length.
func (s *Bytes) Len() uint64 {
	return uint64(len(s.buf))
}

// ReadByte returns the next unread byte, or io.EOF.
func (s *Bytes) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.off >= len(s.buf) {
		return 0, io.EOF
	}
	b := s.buf[s.off]
	s.off++
	return b, nil
}

// ReadChunk returns up to n unread bytes.
func (s *Bytes) ReadChunk(n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.off >= len(s.buf) {
		return nil, io.EOF
	}
	end := s.off + n
	if end > len(s.buf) {
		end = len(s.buf)
	}
	chunk := make([]byte, end-s.off)
	copy(chunk, s.buf[s.off:end])
	s.off = end
	return chunk, nil
}

// File is a Source backed by a file on disk. The length is captured at open
// time; the file must not shrink while the source is in use.
type File struct {
	mu   sync.Mutex
	f    *os.File
	size uint64
}

// OpenFile opens path for reading and captures its current size.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source: %w", err)
	}
	return &File{f: f, size: uint64(info.Size())}, nil
}

// Len returns the file size captured at open time.
func (s *File) Len() uint64 {
	return s.size
}

// ReadByte returns the next unread byte, or io.EOF.
func (s *File) ReadByte() (byte, error) {
	chunk, err := s.ReadChunk(1)
	if err != nil {
		return 0, err
	}
	return chunk[0], nil
}

// ReadChunk returns up to n unread bytes from the file.
func (s *File) ReadChunk(n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, n)
	read, err := io.ReadFull(s.f, buf)
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		return buf[:read], nil
	case err != nil:
		return nil, fmt.Errorf("read source: %w", err)
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

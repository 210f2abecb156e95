package data

import (
	"bytes"
	"sync"
)

// Sink consumes received file bytes. Chunks for one file arrive in order;
// chunks across different files interleave arbitrarily, so implementations
// must demultiplex by ID and be safe for concurrent writers.
type Sink interface {
	Write(id string, chunk []byte) error
}

// Memory is a Sink that accumulates every file in an in-memory buffer.
// Useful for tests and for callers that post-process whole files.
type Memory struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]*bytes.Buffer)}
}

// Write appends chunk to the buffer for id, creating it on first use.
func (m *Memory) Write(id string, chunk []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.files[id]
	if !ok {
		buf = &bytes.Buffer{}
		m.files[id] = buf
	}
	buf.Write(chunk)
	return nil
}

// Bytes returns a copy of the accumulated bytes for id, or nil if no chunk
// for that id has arrived.
func (m *Memory) Bytes(id string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.files[id]
	if !ok {
		return nil
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// Len returns the number of bytes accumulated for id.
func (m *Memory) Len(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.files[id]
	if !ok {
		return 0
	}
	return buf.Len()
}

// IDs returns the ids of every file that has received at least one chunk.
func (m *Memory) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.files))
	for id := range m.files {
		ids = append(ids, id)
	}
	return ids
}

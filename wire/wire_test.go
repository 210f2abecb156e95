package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dropwire/handshake"
)

func TestChunkRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty payload", []byte{}},
		{"single byte", []byte{0x42}},
		{"text payload", []byte("hello, wire")},
		{"payload above a small chunk size", bytes.Repeat([]byte{0xAB}, 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			in := Chunk{ID: "file-1", Data: tt.data}
			require.NoError(t, WriteFrame(&buf, in))

			var out Chunk
			require.NoError(t, ReadFrame(&buf, &out))
			assert.Equal(t, in.ID, out.ID)
			assert.Equal(t, len(in.Data), len(out.Data))
			assert.True(t, bytes.Equal(in.Data, out.Data))
		})
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := SenderHandshake{
		Profile: handshake.Profile{ID: "p1", Name: "alice", Avatar: "aW1n"},
		Files: []handshake.FileInfo{
			{ID: "a", Name: "one.txt", Len: 5},
			{ID: "b", Name: "two.bin", Len: 1 << 20},
		},
		Config: handshake.Config{ChunkSize: 524_288, ParallelStreams: 2},
	}
	require.NoError(t, WriteFrame(&buf, in))

	var out SenderHandshake
	require.NoError(t, ReadFrame(&buf, &out))
	assert.Equal(t, in, out)
}

func TestReadFrameCleanEndOfStream(t *testing.T) {
	var out Chunk
	err := ReadFrame(bytes.NewReader(nil), &out)
	if err != io.EOF {
		t.Errorf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestReadFrameTruncatedHeader(t *testing.T) {
	var out Chunk
	err := ReadFrame(bytes.NewReader([]byte{0x00, 0x00}), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Chunk{ID: "x", Data: []byte("abcdef")}))
	whole := buf.Bytes()

	var out Chunk
	err := ReadFrame(bytes.NewReader(whole[:len(whole)-3]), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestReadFrameRejectsOversizedDeclaration(t *testing.T) {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, MaxFrameSize+1)

	var out Chunk
	err := ReadFrame(bytes.NewReader(header), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameUndecodableBody(t *testing.T) {
	body := []byte("{not json")
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	var out Chunk
	err := ReadFrame(bytes.NewReader(frame), &out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTruncatedFrame))
}

func TestSuccessiveFramesShareOneStream(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		require.NoError(t, WriteFrame(&buf, Chunk{ID: "f", Data: []byte{byte(i)}}))
	}

	for i := 0; i < 3; i++ {
		var out Chunk
		require.NoError(t, ReadFrame(&buf, &out))
		assert.Equal(t, []byte{byte(i)}, out.Data)
	}

	var out Chunk
	assert.Equal(t, io.EOF, ReadFrame(&buf, &out))
}

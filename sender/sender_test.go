package sender

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/dropwire/data"
	"github.com/opd-ai/dropwire/handshake"
	"github.com/opd-ai/dropwire/transport"
	"github.com/opd-ai/dropwire/wire"
)

type testSubscriber struct {
	id string

	mu         sync.Mutex
	logs       []string
	connecting []ConnectingEvent
	sending    []SendingEvent
}

func (s *testSubscriber) ID() string { return s.id }

func (s *testSubscriber) Log(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, message)
}

func (s *testSubscriber) Connecting(ev ConnectingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = append(s.connecting, ev)
}

func (s *testSubscriber) Sending(ev SendingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = append(s.sending, ev)
}

func (s *testSubscriber) sendingEvents() []SendingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SendingEvent, len(s.sending))
	copy(out, s.sending)
	return out
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// runPeer plays a minimal receiving peer over conn: answer the greeting with
// the given config, then drain every incoming stream until the sender's
// graceful close, recording chunks into sink and confirming each drained
// stream on the greeting stream.
func runPeer(t *testing.T, ctx context.Context, conn transport.Conn, config handshake.Config, sink *data.Memory) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		st, err := conn.AcceptBi(ctx)
		if err != nil {
			done <- err
			return
		}
		var hello wire.SenderHandshake
		if err := wire.ReadFrame(st, &hello); err != nil {
			done <- err
			return
		}
		if err := wire.WriteFrame(st, wire.ReceiverHandshake{
			Profile: handshake.Profile{ID: "peer", Name: "peer"},
			Config:  config,
		}); err != nil {
			done <- err
			return
		}

		var ackMu sync.Mutex
		ack := func(id string) {
			ackMu.Lock()
			defer ackMu.Unlock()
			_ = wire.WriteFrame(st, wire.Ack{ID: id})
		}

		var wg sync.WaitGroup
		for {
			rs, err := conn.AcceptUni(ctx)
			if err != nil {
				wg.Wait()
				if transport.IsGracefulClose(err) {
					done <- nil
				} else {
					done <- err
				}
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				var last string
				for {
					var chunk wire.Chunk
					err := wire.ReadFrame(rs, &chunk)
					if errors.Is(err, io.EOF) {
						ack(last)
						return
					}
					if err != nil {
						return
					}
					last = chunk.ID
					_ = sink.Write(chunk.ID, chunk.Data)
				}
			}()
		}
	}()
	return done
}

func TestNewBubbleValidation(t *testing.T) {
	src := data.NewBytes([]byte("abc"))

	_, err := NewBubble(Request{
		Files:  []File{{ID: "a", Name: "a.txt", Data: src}},
		Config: handshake.Config{ChunkSize: 0, ParallelStreams: 1},
	})
	assert.ErrorIs(t, err, handshake.ErrZeroChunkSize)

	_, err = NewBubble(Request{
		Files:  []File{{ID: "a", Name: "a.txt", Data: nil}},
		Config: handshake.Config{ChunkSize: 1024, ParallelStreams: 1},
	})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = NewBubble(Request{
		Files: []File{
			{ID: "a", Name: "a.txt", Data: data.NewBytes([]byte("1"))},
			{ID: "a", Name: "b.txt", Data: data.NewBytes([]byte("2"))},
		},
		Config: handshake.Config{ChunkSize: 1024, ParallelStreams: 1},
	})
	assert.ErrorIs(t, err, handshake.ErrDuplicateFileID)
}

func TestNewBubbleGeneratesMissingIDs(t *testing.T) {
	b, err := NewBubble(Request{
		Profile: handshake.Profile{Name: "alice"},
		Files: []File{
			{Name: "a.txt", Data: data.NewBytes([]byte("1"))},
			{Name: "b.txt", Data: data.NewBytes([]byte("2"))},
		},
		Config: handshake.Config{ChunkSize: 1024, ParallelStreams: 1},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, b.profile.ID)
	assert.NotEmpty(t, b.files[0].ID)
	assert.NotEmpty(t, b.files[1].ID)
	assert.NotEqual(t, b.files[0].ID, b.files[1].ID)
}

func TestRunStreamsFileInNegotiatedChunks(t *testing.T) {
	ctx := testCtx(t)
	local, remote := transport.Pair()

	bubble, err := NewBubble(Request{
		Profile: handshake.Profile{Name: "alice"},
		Files:   []File{{ID: "a", Name: "a.bin", Data: data.NewBytes([]byte("hello"))}},
		Config:  handshake.Config{ChunkSize: 1024, ParallelStreams: 4},
	})
	require.NoError(t, err)

	sub := &testSubscriber{id: "test"}
	bubble.Subscribe(sub)

	sink := data.NewMemory()
	peerDone := runPeer(t, ctx, remote, handshake.Config{ChunkSize: 2, ParallelStreams: 2}, sink)

	require.NoError(t, bubble.Run(ctx, local))
	require.NoError(t, <-peerDone)

	assert.Equal(t, "hello", string(sink.Bytes("a")))
	assert.True(t, bubble.Finished())
	assert.True(t, bubble.Connected())

	// One zero-sent event before data moves, then one event per chunk:
	// negotiated chunk size 2 over 5 bytes gives 2+2+1.
	events := sub.sendingEvents()
	require.Len(t, events, 4)
	assert.Equal(t, uint64(0), events[0].Sent)
	assert.Equal(t, uint64(5), events[0].Remaining)
	assert.Equal(t, uint64(2), events[1].Sent)
	assert.Equal(t, uint64(4), events[2].Sent)
	assert.Equal(t, uint64(5), events[3].Sent)
	assert.Equal(t, uint64(0), events[3].Remaining)
	for _, ev := range events {
		assert.Equal(t, "a", ev.FileID)
		assert.Equal(t, "a.bin", ev.Name)
	}
}

func TestRunRejectsConcurrentStart(t *testing.T) {
	ctx := testCtx(t)
	local, remote := transport.Pair()

	bubble, err := NewBubble(Request{
		Files:  []File{{ID: "a", Name: "a.txt", Data: data.NewBytes([]byte("x"))}},
		Config: handshake.Config{ChunkSize: 1024, ParallelStreams: 1},
	})
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		// Blocks in the greeting: the peer never answers.
		firstDone <- bubble.Run(ctx, local)
	}()

	// Once the greeting stream arrives the first Run holds the running flag.
	_, err = remote.AcceptBi(ctx)
	require.NoError(t, err)

	assert.Equal(t, ErrAlreadyRunning, bubble.Run(ctx, local))

	// Cancel tears the session down and unblocks the first Run.
	require.NoError(t, bubble.Cancel())
	err = <-firstDone
	require.Error(t, err)
	assert.NotEqual(t, ErrAlreadyRunning, err)
	assert.True(t, bubble.Finished())
}

func TestRunFailsWhenPeerSkipsConfirmations(t *testing.T) {
	ctx := testCtx(t)
	local, remote := transport.Pair()

	bubble, err := NewBubble(Request{
		Files:  []File{{ID: "a", Name: "a.txt", Data: data.NewBytes([]byte("x"))}},
		Config: handshake.Config{ChunkSize: 1024, ParallelStreams: 1},
	})
	require.NoError(t, err)

	peerDone := make(chan error, 1)
	go func() {
		st, err := remote.AcceptBi(ctx)
		if err != nil {
			peerDone <- err
			return
		}
		var hello wire.SenderHandshake
		if err := wire.ReadFrame(st, &hello); err != nil {
			peerDone <- err
			return
		}
		if err := wire.WriteFrame(st, wire.ReceiverHandshake{
			Profile: handshake.Profile{ID: "peer", Name: "peer"},
			Config:  handshake.Config{ChunkSize: 1024, ParallelStreams: 1},
		}); err != nil {
			peerDone <- err
			return
		}
		rs, err := remote.AcceptUni(ctx)
		if err != nil {
			peerDone <- err
			return
		}
		if _, err := io.Copy(io.Discard, rs); err != nil {
			peerDone <- err
			return
		}
		// Close without confirming the stream: the sender must not report
		// success on an unconfirmed transfer.
		peerDone <- remote.Close(transport.GracefulCode, transport.GracefulReason)
	}()

	err = bubble.Run(ctx, local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirming delivery")
	require.NoError(t, <-peerDone)
}

func TestRunFailsWhenPeerClosesDuringGreeting(t *testing.T) {
	ctx := testCtx(t)
	local, remote := transport.Pair()

	bubble, err := NewBubble(Request{
		Files:  []File{{ID: "a", Name: "a.txt", Data: data.NewBytes([]byte("x"))}},
		Config: handshake.Config{ChunkSize: 1024, ParallelStreams: 1},
	})
	require.NoError(t, err)

	require.NoError(t, remote.Close(500, "going away"))

	err = bubble.Run(ctx, local)
	require.Error(t, err)
	assert.True(t, bubble.Finished())
	assert.False(t, bubble.Connected())
}

func TestCancelBeforeRunIsHarmless(t *testing.T) {
	bubble, err := NewBubble(Request{
		Files:  []File{{ID: "a", Name: "a.txt", Data: data.NewBytes([]byte("x"))}},
		Config: handshake.Config{ChunkSize: 1024, ParallelStreams: 1},
	})
	require.NoError(t, err)
	assert.NoError(t, bubble.Cancel())
	assert.False(t, bubble.Finished())
}

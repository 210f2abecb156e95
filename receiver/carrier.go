package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/dropwire/data"
	"github.com/opd-ai/dropwire/handshake"
	"github.com/opd-ai/dropwire/observer"
	"github.com/opd-ai/dropwire/transport"
	"github.com/opd-ai/dropwire/wire"
)

// Receiving errors.
var (
	// ErrUnknownFile indicates a chunk referencing a file ID the sender never
	// declared. Treated as fatal rather than discarded: a silent drop would
	// mask data loss.
	ErrUnknownFile = errors.New("chunk for undeclared file id")

	// ErrIncompleteFile indicates a stream that ended cleanly but delivered
	// fewer bytes than the handshake declared for its file.
	ErrIncompleteFile = errors.New("stream ended before declared file length")
)

// carrier is the per-connection state machine on the receiving side:
// Greeting -> Receiving -> Finished. One carrier exists per accepted
// connection and dies with it.
type carrier struct {
	conn     transport.Conn
	profile  handshake.Profile
	config   handshake.Config
	sink     data.Sink
	subs     *observer.Registry[Subscriber]
	finished *atomic.Bool
	log      *logrus.Entry

	negotiated  handshake.Negotiated
	files       map[string]handshake.FileInfo
	greetStream transport.Stream
	ackMu       sync.Mutex
}

// run executes the three states in order. The Finished step runs on every
// path, success or failure, exactly once.
func (c *carrier) run(ctx context.Context) error {
	defer c.finish()

	if err := c.greet(ctx); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	if err := c.receive(ctx); err != nil {
		return fmt.Errorf("receiving: %w", err)
	}
	return nil
}

// greet accepts the sender's greeting stream, reads its handshake, derives
// the negotiated parameters and writes the reply. Any failure here aborts
// the session.
func (c *carrier) greet(ctx context.Context) error {
	st, err := c.conn.AcceptBi(ctx)
	if err != nil {
		return fmt.Errorf("accept greeting stream: %w", err)
	}

	var hello wire.SenderHandshake
	if err := wire.ReadFrame(st, &hello); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("peer closed greeting stream before handshake: %w", wire.ErrTruncatedFrame)
		}
		return fmt.Errorf("read handshake: %w", err)
	}
	if err := handshake.ValidateFileIDs(hello.Files); err != nil {
		return fmt.Errorf("handshake file listing: %w", err)
	}

	c.negotiated = handshake.Negotiate(c.config, hello.Config)
	c.files = make(map[string]handshake.FileInfo, len(hello.Files))
	for _, f := range hello.Files {
		c.files[f.ID] = f
	}

	reply := wire.ReceiverHandshake{Profile: c.profile, Config: c.config}
	if err := wire.WriteFrame(st, reply); err != nil {
		return fmt.Errorf("send handshake reply: %w", err)
	}
	// The send half stays open: each completed file stream is confirmed on it
	// so the sender knows when closing no longer abandons data in flight.
	c.greetStream = st

	c.log.WithFields(logrus.Fields{
		"sender":           hello.Profile.Name,
		"files":            len(hello.Files),
		"chunk_size":       c.negotiated.ChunkSize,
		"parallel_streams": c.negotiated.ParallelStreams,
	}).Info("handshake completed")
	c.publishLog(fmt.Sprintf("greet: %q offers %d files, chunk_size=%d",
		hello.Profile.Name, len(hello.Files), c.negotiated.ChunkSize))

	ev := ConnectingEvent{Sender: hello.Profile, Files: hello.Files}
	c.subs.Each(func(s Subscriber) { s.Connecting(ev) })
	return nil
}

// receive accepts incoming file streams until the peer signals graceful
// termination. The loop itself puts no bound on parallelism: the sender
// already caps how many streams it holds open at once. On the first real
// failure it stops accepting, drains every in-flight stream task and
// surfaces that error.
func (c *carrier) receive(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	var acceptErr error
	for {
		st, err := c.conn.AcceptUni(gctx)
		if err != nil {
			if transport.IsGracefulClose(err) {
				c.publishLog("receive: peer finished")
				break
			}
			acceptErr = err
			break
		}
		g.Go(func() error {
			return c.receiveFile(gctx, st)
		})
	}

	// A close observed by a file task mid-frame is truncation no matter what
	// code it carries; only the accept loop may read the graceful pair as
	// success.
	if err := g.Wait(); err != nil {
		return err
	}
	if acceptErr != nil {
		if errors.Is(acceptErr, context.Canceled) {
			// The group context cancels either because a stream task failed
			// (surfaced by Wait above) or because the caller cancelled.
			return ctx.Err()
		}
		return fmt.Errorf("accept stream: %w", acceptErr)
	}
	return nil
}

// receiveFile drains one unidirectional stream: one framed chunk at a time
// until the clean end of stream, delivering each chunk to the sink and the
// subscribers, then confirming the stream to the sender. A chunk for an
// undeclared file ID, a connection close before the clean end, or fewer
// bytes than the handshake declared all fail the stream.
func (c *carrier) receiveFile(ctx context.Context, st transport.ReceiveStream) error {
	received := make(map[string]uint64)
	var lastID string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var chunk wire.Chunk
		err := wire.ReadFrame(st, &chunk)
		if errors.Is(err, io.EOF) {
			for id, got := range received {
				if want := c.files[id].Len; got != want {
					return fmt.Errorf("%w: %q got %d of %d bytes", ErrIncompleteFile, id, got, want)
				}
			}
			c.sendAck(lastID)
			return nil
		}
		if err != nil {
			var ce *transport.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("%w: connection closed mid-stream (code %d)", wire.ErrTruncatedFrame, ce.Code)
			}
			return fmt.Errorf("read chunk: %w", err)
		}

		if _, declared := c.files[chunk.ID]; !declared {
			st.Stop(1)
			return fmt.Errorf("%w: %q", ErrUnknownFile, chunk.ID)
		}

		if c.sink != nil {
			if err := c.sink.Write(chunk.ID, chunk.Data); err != nil {
				return fmt.Errorf("sink write for %q: %w", chunk.ID, err)
			}
		}
		received[chunk.ID] += uint64(len(chunk.Data))
		lastID = chunk.ID

		ev := ReceivingEvent{FileID: chunk.ID, Data: chunk.Data}
		c.subs.Each(func(s Subscriber) { s.Receiving(ev) })
	}
}

// sendAck confirms one fully received stream on the greeting stream. Best
// effort: when the sender is already gone the write fails and nobody is
// waiting for the confirmation anymore.
func (c *carrier) sendAck(id string) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	if err := wire.WriteFrame(c.greetStream, wire.Ack{ID: id}); err != nil {
		c.log.WithError(err).Debug("stream confirmation not delivered")
	}
}

// finish latches the finished flag and mirrors the sender's graceful close
// convention so either side's teardown looks the same on the wire.
func (c *carrier) finish() {
	c.finished.Store(true)
	_ = c.conn.Close(transport.GracefulCode, transport.GracefulReason)
	c.publishLog("finish: connection closed")
}

func (c *carrier) publishLog(message string) {
	c.subs.Each(func(s Subscriber) { s.Log(message) })
}

package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/dropwire/handshake"
	"github.com/opd-ai/dropwire/observer"
	"github.com/opd-ai/dropwire/transport"
	"github.com/opd-ai/dropwire/wire"
)

// carrier is the per-connection state machine on the sending side:
// Greeting -> Streaming -> Finished. One carrier exists per Run and dies
// with the connection.
type carrier struct {
	conn      transport.Conn
	profile   handshake.Profile
	files     []File
	config    handshake.Config
	subs      *observer.Registry[Subscriber]
	connected *atomic.Bool
	log       *logrus.Entry

	negotiated  handshake.Negotiated
	greetStream transport.Stream

	bytesSent     atomic.Uint64
	activeStreams atomic.Int32
	started       time.Time
}

// run executes the states in order. The Finished step runs on every path,
// success or failure, exactly once.
func (c *carrier) run(ctx context.Context) error {
	defer c.finish()

	if err := c.greet(ctx); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	if err := c.stream(ctx); err != nil {
		return fmt.Errorf("streaming: %w", err)
	}
	if err := c.awaitAcks(ctx); err != nil {
		return fmt.Errorf("confirming delivery: %w", err)
	}
	return nil
}

// greet opens the bidirectional greeting stream, announces profile, files
// and proposed config, reads the receiver's reply and derives the
// negotiated parameters. Any failure here aborts the session.
func (c *carrier) greet(ctx context.Context) error {
	st, err := c.conn.OpenBi(ctx)
	if err != nil {
		return fmt.Errorf("open greeting stream: %w", err)
	}

	infos := make([]handshake.FileInfo, len(c.files))
	for i, f := range c.files {
		infos[i] = handshake.FileInfo{ID: f.ID, Name: f.Name, Len: f.Data.Len()}
	}
	hello := wire.SenderHandshake{Profile: c.profile, Files: infos, Config: c.config}
	if err := wire.WriteFrame(st, hello); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	var reply wire.ReceiverHandshake
	if err := wire.ReadFrame(st, &reply); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("peer closed greeting stream before replying: %w", wire.ErrTruncatedFrame)
		}
		return fmt.Errorf("read handshake reply: %w", err)
	}

	c.negotiated = handshake.Negotiate(c.config, reply.Config)
	c.connected.Store(true)

	c.log.WithFields(logrus.Fields{
		"receiver":         reply.Profile.Name,
		"chunk_size":       c.negotiated.ChunkSize,
		"parallel_streams": c.negotiated.ParallelStreams,
	}).Info("handshake completed")
	c.publishLog(fmt.Sprintf("greet: connected to %q, chunk_size=%d parallel_streams=%d",
		reply.Profile.Name, c.negotiated.ChunkSize, c.negotiated.ParallelStreams))

	ev := ConnectingEvent{Receiver: reply.Profile}
	c.subs.Each(func(s Subscriber) { s.Connecting(ev) })

	if err := st.Finish(); err != nil {
		return fmt.Errorf("finish greeting stream: %w", err)
	}
	// The receive half stays open: the receiver confirms each completed file
	// stream on it.
	c.greetStream = st
	return nil
}

// stream sends every file over its own unidirectional stream, never holding
// more than the negotiated number of streams open at once. The first
// failure stops new spawns; already-running streams are always awaited
// before stream returns.
func (c *carrier) stream(ctx context.Context) error {
	c.started = time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(c.negotiated.ParallelStreams))

	for _, f := range c.files {
		if gctx.Err() != nil {
			break
		}
		file := f
		g.Go(func() error {
			return c.sendFile(gctx, file)
		})
	}
	return g.Wait()
}

// sendFile streams one file: a zero-progress event so observers see the
// file before any data moves, then one frame per chunk until the source is
// exhausted, then a clean finish of the stream.
func (c *carrier) sendFile(ctx context.Context, f File) error {
	st, err := c.conn.OpenUni(ctx)
	if err != nil {
		return fmt.Errorf("open stream for %q: %w", f.Name, err)
	}
	c.activeStreams.Add(1)
	defer c.activeStreams.Add(-1)

	total := f.Data.Len()
	var sent uint64

	c.log.WithFields(logrus.Fields{
		"file": f.Name,
		"len":  total,
	}).Debug("file stream opened")
	c.notifySending(f, sent, total)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := f.Data.ReadChunk(int(c.negotiated.ChunkSize))
		if errors.Is(err, io.EOF) || (err == nil && len(chunk) == 0) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %q: %w", f.Name, err)
		}

		if err := wire.WriteFrame(st, wire.Chunk{ID: f.ID, Data: chunk}); err != nil {
			return fmt.Errorf("send chunk of %q: %w", f.Name, err)
		}

		sent += uint64(len(chunk))
		c.bytesSent.Add(uint64(len(chunk)))
		c.notifySending(f, sent, total-sent)
	}

	if err := st.Finish(); err != nil {
		return fmt.Errorf("finish stream for %q: %w", f.Name, err)
	}

	c.log.WithFields(logrus.Fields{
		"file": f.Name,
		"sent": sent,
	}).Debug("file stream finished")
	c.publishLog(fmt.Sprintf("sendFile: %q finished, %d bytes", f.Name, sent))
	return nil
}

// awaitAcks blocks until the receiver has confirmed every file stream on the
// greeting stream. Finishing a stream does not mean the peer has its bytes,
// and closing the connection abandons whatever is still in flight, so the
// close must wait for the confirmations.
func (c *carrier) awaitAcks(ctx context.Context) error {
	for confirmed := 0; confirmed < len(c.files); confirmed++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ack wire.Ack
		if err := wire.ReadFrame(c.greetStream, &ack); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("peer ended greeting stream after %d of %d confirmations: %w",
					confirmed, len(c.files), wire.ErrTruncatedFrame)
			}
			return fmt.Errorf("read confirmation: %w", err)
		}
	}
	c.log.WithField("files", len(c.files)).Debug("all streams confirmed")
	c.publishLog(fmt.Sprintf("awaitAcks: all %d streams confirmed", len(c.files)))
	return nil
}

// finish closes the connection with the graceful code and reason. The peer's
// accept loop reads this exact pair as "nothing left to send".
func (c *carrier) finish() {
	_ = c.conn.Close(transport.GracefulCode, transport.GracefulReason)
	c.publishLog("finish: connection closed")
}

func (c *carrier) notifySending(f File, sent, remaining uint64) {
	var mbps float64
	if elapsed := time.Since(c.started).Seconds(); elapsed > 0 {
		mbps = float64(c.bytesSent.Load()) / (1024 * 1024) / elapsed
	}
	ev := SendingEvent{
		FileID:         f.ID,
		Name:           f.Name,
		Sent:           sent,
		Remaining:      remaining,
		ThroughputMbps: mbps,
		ActiveStreams:  uint32(c.activeStreams.Load()),
	}
	c.subs.Each(func(s Subscriber) { s.Sending(ev) })
}

func (c *carrier) publishLog(message string) {
	c.subs.Each(func(s Subscriber) { s.Log(message) })
}

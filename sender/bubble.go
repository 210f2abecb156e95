package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dropwire/data"
	"github.com/opd-ai/dropwire/handshake"
	"github.com/opd-ai/dropwire/observer"
	"github.com/opd-ai/dropwire/transport"
)

// Sending errors.
var (
	// ErrAlreadyRunning indicates Run was called while a previous Run on the
	// same Bubble had not returned.
	ErrAlreadyRunning = errors.New("transfer already running")

	// ErrNoData indicates an offered file without a byte source.
	ErrNoData = errors.New("file has no data source")
)

// cancelCode is the application close code used when the caller tears the
// session down. Deliberately distinct from the graceful code so the peer
// reports cancellation as a failure.
const cancelCode uint64 = 0

// File is one offered file: stable ID, display name and its byte source.
type File struct {
	ID   string
	Name string
	Data data.Source
}

// Request carries everything needed to start a transfer.
type Request struct {
	// Profile identifies the sender to the receiver. An empty ID gets a
	// generated UUID.
	Profile handshake.Profile

	// Files to offer. Empty file IDs get generated UUIDs; IDs must be
	// unique within the request.
	Files []File

	// Config is this side's proposed transfer parameters.
	Config handshake.Config
}

// Bubble is a sending session the caller owns: it is started over an
// established connection with Run, observed through subscribers, and torn
// down with Cancel. A Bubble runs at most one transfer at a time.
type Bubble struct {
	profile   handshake.Profile
	files     []File
	config    handshake.Config
	subs      *observer.Registry[Subscriber]
	createdAt time.Time
	log       *logrus.Entry

	running   atomic.Bool
	finished  atomic.Bool
	connected atomic.Bool

	mu   sync.Mutex
	conn transport.Conn
}

// NewBubble validates the request and builds a session handle. Missing
// profile and file IDs are filled with generated UUIDs.
func NewBubble(req Request) (*Bubble, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	profile := req.Profile
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}

	files := make([]File, len(req.Files))
	infos := make([]handshake.FileInfo, len(req.Files))
	for i, f := range req.Files {
		if f.Data == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoData, f.Name)
		}
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		files[i] = f
		infos[i] = handshake.FileInfo{ID: f.ID, Name: f.Name, Len: f.Data.Len()}
	}
	if err := handshake.ValidateFileIDs(infos); err != nil {
		return nil, err
	}

	return &Bubble{
		profile:   profile,
		files:     files,
		config:    req.Config,
		subs:      observer.NewRegistry[Subscriber](),
		createdAt: time.Now(),
		log: logrus.WithFields(logrus.Fields{
			"component": "send_bubble",
			"sender_id": profile.ID,
		}),
	}, nil
}

// Run drives the whole transfer over conn: greeting, bounded parallel file
// streaming, then the graceful close. It returns once the session is over,
// with nil only if every file streamed completely. At most one Run may be
// in flight; concurrent calls fail with ErrAlreadyRunning.
func (b *Bubble) Run(ctx context.Context, conn transport.Conn) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)
	defer b.finished.Store(true)

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.log.WithField("files", len(b.files)).Info("starting transfer")
	b.publishLog(fmt.Sprintf("run: starting transfer of %d files", len(b.files)))

	c := &carrier{
		conn:      conn,
		profile:   b.profile,
		files:     b.files,
		config:    b.config,
		subs:      b.subs,
		connected: &b.connected,
		log:       b.log,
	}
	err := c.run(ctx)
	if err != nil {
		b.log.WithError(err).Error("transfer failed")
		b.publishLog(fmt.Sprintf("run: transfer failed: %v", err))
		return err
	}

	b.log.Info("transfer completed")
	b.publishLog("run: transfer completed")
	return nil
}

// Cancel tears the session down by closing the connection. Outstanding
// stream operations fail as a consequence; there is no per-file
// cancellation. Calling Cancel before Run, or twice, is harmless.
func (b *Bubble) Cancel() error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	b.publishLog("cancel: closing connection")
	return conn.Close(cancelCode, "cancelled")
}

// Finished reports whether a Run has completed, successfully or not.
func (b *Bubble) Finished() bool {
	return b.finished.Load()
}

// Connected reports whether the greeting exchange completed with a peer.
func (b *Bubble) Connected() bool {
	return b.connected.Load()
}

// CreatedAt returns when this Bubble was constructed.
func (b *Bubble) CreatedAt() time.Time {
	return b.createdAt
}

// Subscribe registers s, replacing any subscriber with the same ID.
func (b *Bubble) Subscribe(s Subscriber) {
	b.subs.Subscribe(s)
}

// Unsubscribe removes the subscriber with the given ID if present.
func (b *Bubble) Unsubscribe(id string) {
	b.subs.Unsubscribe(id)
}

func (b *Bubble) publishLog(message string) {
	b.subs.Each(func(s Subscriber) { s.Log(message) })
}

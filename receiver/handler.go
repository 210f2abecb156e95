package receiver

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dropwire/data"
	"github.com/opd-ai/dropwire/handshake"
	"github.com/opd-ai/dropwire/observer"
	"github.com/opd-ai/dropwire/transport"
)

// Handler accepts exactly one sender connection over its whole lifetime.
// The single-use gate is an atomic compare-and-swap: under concurrent
// connection attempts exactly one proceeds to the greeting; every other
// attempt is rejected synchronously without reading a byte.
type Handler struct {
	profile handshake.Profile
	config  handshake.Config
	sink    data.Sink
	subs    *observer.Registry[Subscriber]
	log     *logrus.Entry

	consumed atomic.Bool
	finished atomic.Bool
}

// NewHandler validates the proposed config and builds a handler. The sink
// receives every chunk keyed by file ID; a nil sink is allowed, in which
// case chunks reach subscribers only.
func NewHandler(profile handshake.Profile, config handshake.Config, sink data.Sink) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Handler{
		profile: profile,
		config:  config,
		sink:    sink,
		subs:    observer.NewRegistry[Subscriber](),
		log: logrus.WithFields(logrus.Fields{
			"component":   "receive_handler",
			"receiver_id": profile.ID,
		}),
	}, nil
}

// Handle consumes conn and drives the whole receiving session: greeting,
// the stream accept loop, then the mirrored graceful close. It returns nil
// only when the sender terminated with the graceful close convention.
//
// Only the first call ever proceeds; all later calls fail immediately with
// transport.ErrNotAllowed and leave the connection untouched.
func (h *Handler) Handle(ctx context.Context, conn transport.Conn) error {
	if !h.consumed.CompareAndSwap(false, true) {
		h.log.Warn("rejecting connection, handler already consumed")
		return transport.ErrNotAllowed
	}

	h.log.Info("accepting connection")
	h.publishLog("handle: accepting connection")

	c := &carrier{
		conn:     conn,
		profile:  h.profile,
		config:   h.config,
		sink:     h.sink,
		subs:     h.subs,
		finished: &h.finished,
		log:      h.log,
	}
	err := c.run(ctx)
	if err != nil {
		h.log.WithError(err).Error("receive failed")
		h.publishLog(fmt.Sprintf("handle: receive failed: %v", err))
		return err
	}

	h.log.Info("receive completed")
	h.publishLog("handle: receive completed")
	return nil
}

// Shutdown marks the handler finished. It does not forcibly cancel in-flight
// stream work; a running session observes connection teardown on its own.
func (h *Handler) Shutdown() {
	h.finished.Store(true)
	h.publishLog("shutdown: handler marked finished")
}

// Consumed reports whether a connection has ever been accepted.
func (h *Handler) Consumed() bool {
	return h.consumed.Load()
}

// Finished reports whether the session finished or the handler was shut
// down.
func (h *Handler) Finished() bool {
	return h.finished.Load()
}

// Subscribe registers s, replacing any subscriber with the same ID.
func (h *Handler) Subscribe(s Subscriber) {
	h.subs.Subscribe(s)
}

// Unsubscribe removes the subscriber with the given ID if present.
func (h *Handler) Unsubscribe(id string) {
	h.subs.Unsubscribe(id)
}

func (h *Handler) publishLog(message string) {
	h.subs.Each(func(s Subscriber) { s.Log(message) })
}

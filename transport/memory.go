package transport

import (
	"context"
	"io"
	"sync"
)

// Pair returns two connected in-process endpoints. Streams opened on one
// side arrive on the other; bytes within a stream keep write order; closing
// either side with a (code, reason) pair surfaces on the peer as a
// *CloseError. Used by tests and in-process wiring.
func Pair() (Conn, Conn) {
	state := &connState{done: make(chan struct{})}
	a := &memoryConn{state: state, bi: make(chan Stream, 16), uni: make(chan ReceiveStream, 128)}
	b := &memoryConn{state: state, bi: make(chan Stream, 16), uni: make(chan ReceiveStream, 128)}
	a.peer, b.peer = b, a
	return a, b
}

// connState is shared by both endpoints of a pair. The first close wins and
// records which endpoint initiated it.
type connState struct {
	mu       sync.Mutex
	closed   bool
	code     uint64
	reason   string
	closedBy *memoryConn
	done     chan struct{}
}

type memoryConn struct {
	state *connState
	peer  *memoryConn
	bi    chan Stream
	uni   chan ReceiveStream

	mu       sync.Mutex
	recvBufs []*memBuf
}

func (c *memoryConn) OpenBi(ctx context.Context) (Stream, error) {
	if err := c.openErr(); err != nil {
		return nil, err
	}
	out := newMemBuf() // local -> peer
	in := newMemBuf()  // peer -> local
	c.trackRecv(in)
	c.peer.trackRecv(out)

	local := &memStream{memSendStream{buf: out}, memReceiveStream{buf: in}}
	remote := &memStream{memSendStream{buf: in}, memReceiveStream{buf: out}}

	select {
	case c.peer.bi <- remote:
		return local, nil
	case <-c.state.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memoryConn) AcceptBi(ctx context.Context) (Stream, error) {
	select {
	case s := <-c.bi:
		return s, nil
	default:
	}
	select {
	case s := <-c.bi:
		return s, nil
	case <-c.state.done:
		// Streams queued before the close are still deliverable.
		select {
		case s := <-c.bi:
			return s, nil
		default:
			return nil, c.closeErr()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memoryConn) OpenUni(ctx context.Context) (SendStream, error) {
	if err := c.openErr(); err != nil {
		return nil, err
	}
	buf := newMemBuf()
	c.peer.trackRecv(buf)

	select {
	case c.peer.uni <- &memReceiveStream{buf: buf}:
		return &memSendStream{buf: buf}, nil
	case <-c.state.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memoryConn) AcceptUni(ctx context.Context) (ReceiveStream, error) {
	select {
	case s := <-c.uni:
		return s, nil
	default:
	}
	select {
	case s := <-c.uni:
		return s, nil
	case <-c.state.done:
		select {
		case s := <-c.uni:
			return s, nil
		default:
			return nil, c.closeErr()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memoryConn) Close(code uint64, reason string) error {
	s := c.state
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.code, s.reason, s.closedBy = code, reason, c
	close(s.done)
	s.mu.Unlock()

	// Unblock in-flight reads on both sides. Streams that already finished
	// cleanly keep their EOF (see memBuf.fail).
	c.failRecvBufs(ErrConnClosed)
	c.peer.failRecvBufs(&CloseError{Code: code, Reason: reason, Remote: true})
	return nil
}

func (c *memoryConn) trackRecv(buf *memBuf) {
	c.mu.Lock()
	c.recvBufs = append(c.recvBufs, buf)
	c.mu.Unlock()
}

func (c *memoryConn) failRecvBufs(err error) {
	c.mu.Lock()
	bufs := make([]*memBuf, len(c.recvBufs))
	copy(bufs, c.recvBufs)
	c.mu.Unlock()
	for _, b := range bufs {
		b.fail(err)
	}
}

// openErr reports the error for starting a new operation, nil if the
// connection is still up.
func (c *memoryConn) openErr() error {
	c.state.mu.Lock()
	closed := c.state.closed
	c.state.mu.Unlock()
	if !closed {
		return nil
	}
	return c.closeErr()
}

// closeErr returns the close as seen from this endpoint: ErrConnClosed when
// this side initiated it, a remote *CloseError otherwise.
func (c *memoryConn) closeErr() error {
	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedBy == c {
		return ErrConnClosed
	}
	return &CloseError{Code: s.code, Reason: s.reason, Remote: true}
}

// memBuf is an ordered byte queue with a terminal state: either a clean end
// of stream (eof) or an error. Writes never block; reads block until data or
// a terminal state arrives.
type memBuf struct {
	mu   sync.Mutex
	cond *sync.Cond
	data []byte
	eof  bool
	err  error
}

func newMemBuf() *memBuf {
	b := &memBuf{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *memBuf) write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.eof {
		return 0, io.ErrClosedPipe
	}
	if b.err != nil {
		return 0, b.err
	}
	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return len(p), nil
}

func (b *memBuf) read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) == 0 && !b.eof && b.err == nil {
		b.cond.Wait()
	}
	if len(b.data) > 0 {
		n := copy(p, b.data)
		b.data = b.data[n:]
		return n, nil
	}
	if b.eof {
		return 0, io.EOF
	}
	return 0, b.err
}

func (b *memBuf) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.eof = true
	b.cond.Broadcast()
}

// fail sets the terminal error unless the stream already ended cleanly; a
// finished stream stays finished so a graceful connection close cannot turn
// delivered EOFs into spurious errors.
func (b *memBuf) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.eof || b.err != nil {
		return
	}
	b.err = err
	b.cond.Broadcast()
}

type memSendStream struct {
	buf *memBuf
}

func (s *memSendStream) Write(p []byte) (int, error) { return s.buf.write(p) }
func (s *memSendStream) Finish() error               { s.buf.finish(); return nil }
func (s *memSendStream) Cancel(code uint64)          { s.buf.fail(&StreamError{Code: code}) }

type memReceiveStream struct {
	buf *memBuf
}

func (s *memReceiveStream) Read(p []byte) (int, error) { return s.buf.read(p) }
func (s *memReceiveStream) Stop(code uint64)           { s.buf.fail(&StreamError{Code: code}) }

// memStream is a bidirectional stream: an independent send buffer and
// receive buffer.
type memStream struct {
	memSendStream
	memReceiveStream
}

package transport

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// WrapQUIC adapts an established QUIC connection to the Conn interface the
// transfer protocol consumes. How the connection was dialed, secured and
// verified stays the caller's concern.
func WrapQUIC(conn quic.Connection) Conn {
	return &quicConn{conn: conn}
}

// Listener accepts QUIC connections and hands them out as Conn values.
type Listener struct {
	ln *quic.Listener
}

// Listen binds a QUIC listener on addr using the caller-supplied TLS
// configuration. The TLS setup (certificates, ALPN, verification) is part of
// the out-of-scope secure-connection establishment and is passed through
// untouched.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"addr": ln.Addr().String(),
	}).Debug("quic listener bound")
	return &Listener{ln: ln}, nil
}

// Accept waits for the next incoming connection.
func (l *Listener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, mapQUICErr(err)
	}
	logrus.WithFields(logrus.Fields{
		"remote": conn.RemoteAddr().String(),
	}).Debug("quic connection accepted")
	return WrapQUIC(conn), nil
}

// Addr returns the listener's bound address string.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close shuts the listener down. Established connections are unaffected.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects to a QUIC peer at addr with the caller-supplied TLS
// configuration.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, mapQUICErr(err)
	}
	logrus.WithFields(logrus.Fields{
		"remote": conn.RemoteAddr().String(),
	}).Debug("quic connection established")
	return WrapQUIC(conn), nil
}

type quicConn struct {
	conn quic.Connection
}

func (c *quicConn) OpenBi(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, mapQUICErr(err)
	}
	return &quicStream{s: s}, nil
}

func (c *quicConn) AcceptBi(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, mapQUICErr(err)
	}
	return &quicStream{s: s}, nil
}

func (c *quicConn) OpenUni(ctx context.Context) (SendStream, error) {
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, mapQUICErr(err)
	}
	return &quicSendStream{s: s}, nil
}

func (c *quicConn) AcceptUni(ctx context.Context) (ReceiveStream, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, mapQUICErr(err)
	}
	return &quicReceiveStream{s: s}, nil
}

func (c *quicConn) Close(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

type quicStream struct {
	s quic.Stream
}

func (s *quicStream) Read(p []byte) (int, error) {
	n, err := s.s.Read(p)
	return n, mapQUICErr(err)
}

func (s *quicStream) Write(p []byte) (int, error) {
	n, err := s.s.Write(p)
	return n, mapQUICErr(err)
}

func (s *quicStream) Finish() error {
	return mapQUICErr(s.s.Close())
}

func (s *quicStream) Cancel(code uint64) {
	s.s.CancelWrite(quic.StreamErrorCode(code))
}

func (s *quicStream) Stop(code uint64) {
	s.s.CancelRead(quic.StreamErrorCode(code))
}

type quicSendStream struct {
	s quic.SendStream
}

func (s *quicSendStream) Write(p []byte) (int, error) {
	n, err := s.s.Write(p)
	return n, mapQUICErr(err)
}

func (s *quicSendStream) Finish() error {
	return mapQUICErr(s.s.Close())
}

func (s *quicSendStream) Cancel(code uint64) {
	s.s.CancelWrite(quic.StreamErrorCode(code))
}

type quicReceiveStream struct {
	s quic.ReceiveStream
}

func (s *quicReceiveStream) Read(p []byte) (int, error) {
	n, err := s.s.Read(p)
	return n, mapQUICErr(err)
}

func (s *quicReceiveStream) Stop(code uint64) {
	s.s.CancelRead(quic.StreamErrorCode(code))
}

// mapQUICErr rewrites quic-go's typed errors into this package's error
// vocabulary so the carriers classify closes without importing quic-go.
// io.EOF and nil pass through untouched.
func mapQUICErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return &CloseError{
			Code:   uint64(appErr.ErrorCode),
			Reason: appErr.ErrorMessage,
			Remote: appErr.Remote,
		}
	}
	var streamErr *quic.StreamError
	if errors.As(err, &streamErr) {
		return &StreamError{Code: uint64(streamErr.ErrorCode)}
	}
	return err
}

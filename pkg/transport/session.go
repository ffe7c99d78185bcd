// Package transport owns the persistent WebSocket connection of a call.
//
// A Session runs two goroutines: a receive loop that dispatches inbound
// frames to Handlers, and a write pump that is the connection's only writer.
// Send never blocks the caller; frames wait in a bounded queue for the pump.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Endpoint is the address of a call's persistent connection. It is produced
// once by session negotiation and consumed once by Open.
type Endpoint struct {
	URL string
}

// Host returns the endpoint host without path or query.
func (e Endpoint) Host() string {
	u, err := url.Parse(e.URL)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Host
}

// Handlers receive inbound traffic. They run on the receive loop goroutine
// and must not block on the session's owner. Failures are reported through
// Done and Err.
type Handlers struct {
	// OnBinary is called with every binary message.
	OnBinary func(data []byte)

	// OnText is called with every text message.
	OnText func(text string)
}

// Stats contains traffic counters for a session.
type Stats struct {
	FramesSent     int64 `json:"frames_sent"`
	FramesReceived int64 `json:"frames_received"`
	BytesSent      int64 `json:"bytes_sent"`
	BytesReceived  int64 `json:"bytes_received"`
	TextReceived   int64 `json:"text_received"`
}

// Session is an open WebSocket connection.
type Session struct {
	conn     *websocket.Conn
	handlers Handlers
	opts     options
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte

	done     chan struct{}
	pumpDone chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once

	// readFailed is set once the receive loop has seen the connection end.
	readFailed atomic.Bool

	framesSent     atomic.Int64
	framesReceived atomic.Int64
	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64
	textReceived   atomic.Int64
}

// Open dials endpoint and starts the receive loop and write pump. ctx bounds
// the dial only; use Close to end the session.
func Open(ctx context.Context, endpoint Endpoint, handlers Handlers, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	host := endpoint.Host()
	if endpoint.URL == "" {
		return nil, &ConnectError{Host: host, Err: ErrEmptyEndpoint}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.handshakeTimeout,
	}

	logger := o.logger.With("component", "transport", "host", host)
	logger.Debug("dialing")

	conn, resp, err := dialer.DialContext(ctx, endpoint.URL, o.header)
	if err != nil {
		ce := &ConnectError{Host: host, Err: err}
		if resp != nil {
			ce.StatusCode = resp.StatusCode
		}
		return nil, ce
	}
	if o.readLimit > 0 {
		conn.SetReadLimit(o.readLimit)
	}

	// The session outlives the dial context.
	sctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		conn:     conn,
		handlers: handlers,
		opts:     o,
		logger:   logger,
		ctx:      sctx,
		cancel:   cancel,
		out:      make(chan []byte, o.sendQueue),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}

	go s.receiveLoop()
	go s.writePump()

	logger.Info("connected")
	return s, nil
}

// receiveLoop reads until the connection ends. A local Close ends it by
// closing the socket, so the loop keeps reading while the close handshake
// is in flight.
func (s *Session) receiveLoop() {
	defer close(s.done)

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed.Store(true)
			s.fail(s.classifyReadError(err))
			return
		}
		if s.ctx.Err() != nil {
			// Closing: nothing is dispatched after cancel.
			continue
		}

		switch mt {
		case websocket.BinaryMessage:
			s.framesReceived.Add(1)
			s.bytesReceived.Add(int64(len(data)))
			if s.handlers.OnBinary != nil {
				s.handlers.OnBinary(data)
			}
		case websocket.TextMessage:
			s.textReceived.Add(1)
			if s.handlers.OnText != nil {
				s.handlers.OnText(string(data))
			}
		}
	}
}

func (s *Session) classifyReadError(err error) error {
	if s.ctx.Err() != nil {
		// Local Close unblocked the read.
		return nil
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		s.logger.Info("closed by peer", "code", ce.Code, "reason", ce.Text)
		return fmt.Errorf("%w (code %d)", ErrClosedByPeer, ce.Code)
	}
	return &TransportError{Op: "read", Err: err}
}

// writePump drains the outbound queue. It is the only goroutine that writes
// data frames to the connection. Frames still queued at cancel are dropped.
func (s *Session) writePump() {
	defer close(s.pumpDone)
	defer s.discardQueued()

	var ping <-chan time.Time
	if s.opts.pingInterval > 0 {
		ticker := time.NewTicker(s.opts.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case frame := <-s.out:
			if s.ctx.Err() != nil {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.fail(&TransportError{Op: "write", Err: err})
				// Unblocks the receive loop.
				s.conn.Close()
				return
			}
			s.framesSent.Add(1)
			s.bytesSent.Add(int64(len(frame)))

		case <-ping:
			deadline := time.Now().Add(s.opts.writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.fail(&TransportError{Op: "write", Err: err})
				s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) discardQueued() {
	for {
		select {
		case <-s.out:
		default:
			return
		}
	}
}

// fail records the first terminal error of the session.
func (s *Session) fail(err error) {
	if err == nil {
		return
	}

	s.errMu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.errMu.Unlock()

	if !first {
		return
	}

	var te *TransportError
	if errors.As(err, &te) && !isClosedConn(te.Err) {
		s.logger.Warn("transport failure", "op", te.Op, "error", te.Err)
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// Send queues one binary frame for the write pump. It never blocks.
func (s *Session) Send(frame []byte) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.out <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Done is closed when the receive loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the receive loop exited: nil after a local Close,
// ErrClosedByPeer for an orderly remote close, or a *TransportError.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stats returns traffic counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesSent:     s.framesSent.Load(),
		FramesReceived: s.framesReceived.Load(),
		BytesSent:      s.bytesSent.Load(),
		BytesReceived:  s.bytesReceived.Load(),
		TextReceived:   s.textReceived.Load(),
	}
}

// Close cancels the receive loop, sends a normal-closure frame if the
// connection is still up, and releases the socket. It is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.pumpDone

		// The receive loop only exits on a failed read, so a loop that
		// is still reading means the connection is up.
		if !s.readFailed.Load() {
			werr := s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGrace),
			)
			if werr == nil {
				// Wait for the peer's close reply so unread inbound audio
				// does not turn our close into a reset.
				select {
				case <-s.done:
				case <-time.After(closeGrace):
				}
			}
		}

		if cerr := s.conn.Close(); cerr != nil && !isClosedConn(cerr) {
			err = cerr
		}
		<-s.done

		st := s.Stats()
		s.logger.Info("disconnected",
			"frames_sent", st.FramesSent,
			"frames_received", st.FramesReceived,
		)
	})
	return err
}

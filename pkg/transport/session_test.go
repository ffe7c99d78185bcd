package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// peer is a fake voice service. Each accepted connection is handed to fn.
func newPeer(t *testing.T, fn func(conn *websocket.Conn)) (*httptest.Server, Endpoint) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, Endpoint{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not exit")
	}
}

func TestOpen_DispatchesFrames(t *testing.T) {
	_, ep := newPeer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status"}`))
		// Hold the connection until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	binary := make(chan []byte, 1)
	text := make(chan string, 1)
	s, err := Open(context.Background(), ep, Handlers{
		OnBinary: func(data []byte) { binary <- data },
		OnText:   func(msg string) { text <- msg },
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	select {
	case got := <-binary:
		if len(got) != 4 || got[3] != 4 {
			t.Errorf("unexpected binary frame %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no binary frame")
	}

	select {
	case got := <-text:
		if got != `{"type":"status"}` {
			t.Errorf("unexpected text %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no text frame")
	}

	if st := s.Stats(); st.FramesReceived != 1 || st.TextReceived != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestSession_SendReachesPeer(t *testing.T) {
	got := make(chan []byte, 1)
	_, ep := newPeer(t, func(conn *websocket.Conn) {
		mt, data, err := conn.ReadMessage()
		if err == nil && mt == websocket.BinaryMessage {
			got <- data
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s, err := Open(context.Background(), ep, Handlers{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := s.Send([]byte{0xff, 0x7f}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case data := <-got:
		if len(data) != 2 || data[0] != 0xff || data[1] != 0x7f {
			t.Errorf("unexpected frame %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received frame")
	}
}

func TestSession_PeerClose(t *testing.T) {
	_, ep := newPeer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"))
		// Wait for the client's close reply.
		conn.SetReadDeadline(time.Now().Add(time.Second))
		conn.ReadMessage()
	})

	s, err := Open(context.Background(), ep, Handlers{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, s)

	if !IsClosedByPeer(s.Err()) {
		t.Fatalf("expected ErrClosedByPeer, got %v", s.Err())
	}
	if err := s.Send([]byte{0, 0}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after peer close, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close after peer close: %v", err)
	}
}

func TestSession_AbruptDrop(t *testing.T) {
	_, ep := newPeer(t, func(conn *websocket.Conn) {
		// Drop the TCP connection without a close frame.
		conn.UnderlyingConn().Close()
	})

	s, err := Open(context.Background(), ep, Handlers{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	waitDone(t, s)

	var te *TransportError
	if !errors.As(s.Err(), &te) || te.Op != "read" {
		t.Fatalf("expected read TransportError, got %v", s.Err())
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	closeCode := make(chan int, 1)
	_, ep := newPeer(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			closeCode <- ce.Code
		}
	})

	s, err := Open(context.Background(), ep, Handlers{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		}()
	}
	wg.Wait()

	select {
	case <-s.Done():
	default:
		t.Fatal("Close returned before the receive loop exited")
	}
	if s.Err() != nil {
		t.Errorf("local close should leave Err nil, got %v", s.Err())
	}
	if err := s.Send([]byte{1, 2}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	select {
	case code := <-closeCode:
		if code != websocket.CloseNormalClosure {
			t.Errorf("expected normal closure, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Error("peer never saw a close frame")
	}
}

// closeCodePeer reads until the connection ends and reports the close code
// it saw, or -1 when the connection dropped without a close frame.
func closeCodePeer(codes chan<- int) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		for {
			_, _, err := conn.ReadMessage()
			if err == nil {
				continue
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				codes <- ce.Code
			} else {
				codes <- -1
			}
			return
		}
	}
}

func TestSession_CloseSendsNormalClosure(t *testing.T) {
	t.Run("immediately after open", func(t *testing.T) {
		codes := make(chan int, 1)
		_, ep := newPeer(t, closeCodePeer(codes))

		for i := 0; i < 25; i++ {
			s, err := Open(context.Background(), ep, Handlers{})
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			select {
			case code := <-codes:
				if code != websocket.CloseNormalClosure {
					t.Fatalf("run %d: peer saw close code %d, want %d", i, code, websocket.CloseNormalClosure)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("run %d: peer never saw the connection end", i)
			}
		}
	})

	t.Run("while peer streams", func(t *testing.T) {
		codes := make(chan int, 1)
		_, ep := newPeer(t, func(conn *websocket.Conn) {
			stop := make(chan struct{})
			defer close(stop)
			go func() {
				frame := make([]byte, 640)
				for {
					select {
					case <-stop:
						return
					default:
					}
					if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
						return
					}
					time.Sleep(time.Millisecond)
				}
			}()
			closeCodePeer(codes)(conn)
		})

		received := make(chan struct{}, 1)
		s, err := Open(context.Background(), ep, Handlers{
			OnBinary: func([]byte) {
				select {
				case received <- struct{}{}:
				default:
				}
			},
		})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("no audio from peer")
		}

		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		select {
		case code := <-codes:
			if code != websocket.CloseNormalClosure {
				t.Errorf("peer saw close code %d, want %d", code, websocket.CloseNormalClosure)
			}
		case <-time.After(2 * time.Second):
			t.Error("peer never saw the connection end")
		}
	})
}

func TestSession_CloseDropsQueuedFrames(t *testing.T) {
	release := make(chan struct{})
	small := make(chan int, 1)
	codes := make(chan int, 1)
	_, ep := newPeer(t, func(conn *websocket.Conn) {
		<-release
		n := 0
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				small <- n
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					codes <- ce.Code
				} else {
					codes <- -1
				}
				return
			}
			if len(data) == 2 {
				n++
			}
		}
	})

	s, err := Open(context.Background(), ep, Handlers{},
		WithPingInterval(0),
		WithWriteTimeout(10*time.Second),
	)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Larger than the socket buffers: the write pump blocks until the peer
	// starts reading.
	if err := s.Send(make([]byte, 64<<20)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.out) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("write pump never took the first frame")
		}
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		if err := s.Send([]byte{1, 0}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	for s.ctx.Err() == nil {
		time.Sleep(time.Millisecond)
	}
	close(release)

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}

	if n := <-small; n != 0 {
		t.Errorf("peer received %d frames queued before Close, want 0", n)
	}
	if code := <-codes; code != websocket.CloseNormalClosure {
		t.Errorf("peer saw close code %d, want %d", code, websocket.CloseNormalClosure)
	}
	if sent := s.Stats().FramesSent; sent > 1 {
		t.Errorf("FramesSent = %d, want at most the in-flight frame", sent)
	}
	if len(s.out) != 0 {
		t.Errorf("%d frames left queued after Close", len(s.out))
	}
}

func TestSession_SendQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No write pump drains this session.
	s := &Session{
		ctx:  ctx,
		out:  make(chan []byte, 1),
		done: make(chan struct{}),
	}
	if err := s.Send([]byte{1, 0}); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if err := s.Send([]byte{2, 0}); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull, got %v", err)
	}
}

func TestOpen_ConnectErrors(t *testing.T) {
	t.Run("empty endpoint", func(t *testing.T) {
		_, err := Open(context.Background(), Endpoint{}, Handlers{})
		if !errors.Is(err, ErrEmptyEndpoint) || !IsConnectError(err) {
			t.Fatalf("expected ConnectError wrapping ErrEmptyEndpoint, got %v", err)
		}
	})

	t.Run("handshake rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		defer srv.Close()

		_, err := Open(context.Background(), Endpoint{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, Handlers{})
		var ce *ConnectError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConnectError, got %v", err)
		}
		if ce.StatusCode != http.StatusForbidden {
			t.Errorf("expected 403, got %d", ce.StatusCode)
		}
	})

	t.Run("cancelled dial", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Open(ctx, Endpoint{URL: "ws://127.0.0.1:1/call"}, Handlers{})
		if !IsConnectError(err) {
			t.Fatalf("expected ConnectError, got %v", err)
		}
	})
}

func TestOpen_SendsHeaders(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Call-Id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	s, err := Open(context.Background(), Endpoint{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, Handlers{},
		WithHeader("X-Call-Id", "call-123"),
		WithHandshakeTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if id := <-got; id != "call-123" {
		t.Errorf("expected header call-123, got %q", id)
	}
}

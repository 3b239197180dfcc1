package signaling

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsPath is the only endpoint the rendezvous server answers on.
const wsPath = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// server is the listener-side WebSocket server used during signaling.
type server struct {
	listener net.Listener
	srv      *http.Server
	connCh   chan *websocket.Conn
	accepted atomic.Bool
}

func newServer() *server {
	return &server{connCh: make(chan *websocket.Conn, 1)}
}

// start binds addr and begins serving. Returns the bound address.
func (s *server) start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.handleWS)

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = s.srv.Serve(listener)
	}()

	return listener.Addr(), nil
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only accept the first peer.
	if !s.accepted.CompareAndSwap(false, true) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	s.connCh <- conn
}

// waitForPeer blocks until a peer connects or context is cancelled.
func (s *server) waitForPeer(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close shuts down the listener, preventing new connections. Upgraded
// connections are hijacked and stay open.
func (s *server) close() {
	if s.srv != nil {
		s.srv.Close()
	} else if s.listener != nil {
		s.listener.Close()
	}
}

// connect dials the given WebSocket URL and returns the connection.
func connect(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// ListenAddr returns the address the listener binds for port, on all
// interfaces.
func ListenAddr(port string) string {
	return net.JoinHostPort("", port)
}

// InitiatorURL returns the rendezvous URL for host and port. A symbolic port
// such as "http" is resolved to its number.
func InitiatorURL(host, port string) (string, error) {
	n, err := net.LookupPort("tcp", port)
	if err != nil {
		return "", fmt.Errorf("invalid port %q: %w", port, err)
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(n)) + wsPath, nil
}

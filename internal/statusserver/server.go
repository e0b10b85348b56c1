// Package statusserver is a local HTTP+WebSocket surface for interactively
// debugging a running lnsocket-cli session: Prometheus metrics and a live
// stream of connection/call lifecycle events. Grounded on
// internal/health/server.go's ServerConfig/Server/Start/Stop shape,
// narrowed from the teacher's mesh-wide dashboard down to this library's
// event surface, with the teacher's splash-page HTML dropped and a
// nhooyr.io/websocket event stream added in its place.
package statusserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is one lifecycle notification pushed to every connected /events
// client: a handshake starting or completing, a call starting, completing,
// or retrying, or a reconnect attempt.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Method  string    `json:"method,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Event kinds.
const (
	EventHandshakeStart    = "handshake_start"
	EventHandshakeComplete = "handshake_complete"
	EventCallStart         = "call_start"
	EventCallComplete      = "call_complete"
	EventCallRetry         = "call_retry"
	EventReconnectAttempt  = "reconnect_attempt"
)

// ServerConfig configures the status server's listen address and timeouts.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig listens on loopback only.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:0",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves /metrics and /events on a loopback address.
type Server struct {
	cfg    ServerConfig
	server *http.Server

	mu        sync.Mutex
	listeners map[chan Event]struct{}

	listener net.Listener
	running  atomic.Bool
}

// NewServer builds a status server; call Start to begin listening.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{cfg: cfg, listeners: make(map[chan Event]struct{})}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/events", s.handleEvents)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins listening in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)
	go s.server.Serve(ln)
	return nil
}

// Stop shuts the server down, closing every live /events connection.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	// Shutdown does not touch hijacked websocket connections; closing each
	// listener channel makes its handleEvents return and close the conn.
	s.mu.Lock()
	for ch := range s.listeners {
		delete(s.listeners, ch)
		close(ch)
	}
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address, useful when ServerConfig
// asked for an ephemeral port (":0").
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Publish fans out ev to every connected /events client. Non-blocking:
// a slow client is dropped rather than stalling the publisher.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.listeners {
		select {
		case ch <- ev:
		default:
			delete(s.listeners, ch)
			close(ch)
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ch := make(chan Event, 32)
	s.mu.Lock()
	s.listeners[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, ch)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// MarshalEvent is a test/debug helper returning ev's JSON encoding (no
// trailing newline).
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

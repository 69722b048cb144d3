// Package feedtest provides an in-process push server for tests.
package feedtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// Token is the bearer token the server accepts.
const Token = "test-token"

// Frame is an outbound event received by the server.
type Frame struct {
	Event string
	Data  map[string]interface{}
}

// Server is a push server with a readiness endpoint and a websocket endpoint.
type Server struct {
	srv *httptest.Server

	redisUp  atomic.Bool
	brokerUp atomic.Bool
	reject   atomic.Bool
	upgrades atomic.Int32

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames chan Frame
}

// NewServer starts a ready server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{frames: make(chan Frame, 256)}
	s.redisUp.Store(true)
	s.brokerUp.Store(true)

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"brokerWSConnected":%t,"redisConnected":%t}`, s.brokerUp.Load(), s.redisUp.Load())
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.upgrades.Add(1)
		if s.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, ws)
		s.mu.Unlock()
		go s.read(ws)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) read(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var f struct {
			Event string                 `json:"event"`
			Data  map[string]interface{} `json:"data"`
		}
		if err := sonic.Unmarshal(raw, &f); err != nil {
			continue
		}
		s.frames <- Frame{Event: f.Event, Data: f.Data}
	}
}

// URL returns the websocket endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// HealthURL returns the readiness endpoint.
func (s *Server) HealthURL() string {
	return s.srv.URL + "/health"
}

// SetReady sets both readiness flags.
func (s *Server) SetReady(broker, redis bool) {
	s.brokerUp.Store(broker)
	s.redisUp.Store(redis)
}

// Reject makes the websocket endpoint refuse handshakes.
func (s *Server) Reject(reject bool) {
	s.reject.Store(reject)
}

// Upgrades returns the number of handshake attempts seen.
func (s *Server) Upgrades() int {
	return int(s.upgrades.Load())
}

// Push writes a raw frame on the most recent connection.
func (s *Server) Push(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return fmt.Errorf("no connection")
	}
	return s.conns[len(s.conns)-1].WriteMessage(websocket.TextMessage, []byte(frame))
}

// DropAll closes every server-side connection.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.conns {
		ws.Close()
	}
	s.conns = nil
}

// Next waits for the next outbound frame.
func (s *Server) Next(timeout time.Duration) (Frame, bool) {
	select {
	case f := <-s.frames:
		return f, true
	case <-time.After(timeout):
		return Frame{}, false
	}
}

// Drain returns every frame received within wait.
func (s *Server) Drain(wait time.Duration) []Frame {
	var out []Frame
	deadline := time.After(wait)
	for {
		select {
		case f := <-s.frames:
			out = append(out, f)
		case <-deadline:
			return out
		}
	}
}

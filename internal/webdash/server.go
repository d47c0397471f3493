// Package webdash serves live run snapshots to browsers over a websocket
// and exposes the Prometheus registry on /metrics.
package webdash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torosent/stampede/internal/metrics"
)

// Message is the envelope pushed to websocket clients and returned by
// /api/snapshot.
type Message struct {
	Type     string            `json:"type"`
	Snapshot *metrics.Snapshot `json:"snapshot,omitempty"`
	Summary  *metrics.Summary  `json:"summary,omitempty"`
}

const (
	MessageSnapshot = "snapshot"
	MessageSummary  = "summary"
)

// Server is a run sink backed by an HTTP server.
type Server struct {
	addr     string
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	hub      *hub
	upgrader websocket.Upgrader

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a server listening on addr once started. A nil gatherer
// disables /metrics.
func New(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:     addr,
		logger:   logger,
		gatherer: gatherer,
		hub:      newHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routes served by the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("web dashboard already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web dashboard listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web dashboard stopped", zap.Error(err))
		}
	}()
	s.logger.Info("web dashboard listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, useful when started on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()

	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("web dashboard shutdown: %w", err)
	}
	<-done
	return nil
}

func (s *Server) String() string { return "web" }

func (s *Server) OnSnapshot(snap metrics.Snapshot) error {
	return s.publish(Message{Type: MessageSnapshot, Snapshot: &snap})
}

func (s *Server) OnRunEnd(summary metrics.Summary) error {
	return s.publish(Message{Type: MessageSummary, Summary: &summary})
}

func (s *Server) publish(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	s.hub.broadcast(data)
	return nil
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.hub.register(c) {
		_ = conn.Close()
		return
	}
	go c.writeLoop()
	go c.readLoop(s.hub)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data := s.hub.last()
	if data == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

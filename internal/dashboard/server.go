// Package dashboard serves the progress dashboard: an HTML page, a JSON API
// over the stored results, and a WebSocket feed announcing sync cycles and
// dataset changes to connected browsers.
package dashboard

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/typesync/typesync/internal/results"
	"github.com/typesync/typesync/internal/stats"
)

// MessageType names the kind of a dashboard message.
type MessageType string

const (
	// MessageTypeSyncComplete carries SyncCompleteData for a finished cycle.
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeDatasetUpdated carries the stats.Summary of a changed dataset.
	MessageTypeDatasetUpdated MessageType = "dataset_updated"

	// MessageTypeStats is sent once on connect with the current stats.Summary.
	MessageTypeStats MessageType = "stats"
)

// Message is the envelope of every WebSocket frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

//go:embed index.html
var indexHTML string

// Dataset supplies the stored results. *store.Store satisfies it.
type Dataset interface {
	Read() ([]results.Record, error)
}

// Config holds server configuration.
type Config struct {
	// Host to bind. Empty binds all interfaces.
	Host string

	// Port to listen on. 0 picks a free port; see Addr.
	Port int

	// QueueSize bounds pending broadcasts (default 100).
	QueueSize int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Port:      8050,
		QueueSize: 100,
		Logger:    log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server is the dashboard HTTP server.
type Server struct {
	addr     string
	dataset  Dataset
	hub      *hub
	logger   *log.Logger
	listener net.Listener
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dashboard server reading results from dataset.
// A nil dataset serves an empty dashboard.
func NewServer(config *Config, dataset Dataset) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	logger := config.Logger
	if logger == nil {
		logger = defaults.Logger
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = defaults.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		dataset: dataset,
		hub:     newHub(queueSize, logger),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:     s.routes(),
		ReadTimeout: 10 * time.Second,
		// WriteTimeout is left unset: it would cut long-lived WebSockets.
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on http://%s", s.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

// Stop disconnects subscribers and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()
	s.hub.closeAll("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down dashboard: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast queues msg for every subscriber. It never blocks; when the
// queue is full the message is dropped with a warning.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if !s.hub.publish(msg) {
		s.logger.Printf("Warning: broadcast queue full, dropping %s message", msg.Type)
	}
}

// handleWebSocket sends the current summary, then subscribes the client.
// Subscribing after the welcome keeps broadcasts from overtaking it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	welcome, err := newMessage(MessageTypeStats, stats.Summarize(s.records()))
	if err == nil {
		var data []byte
		if data, err = json.Marshal(welcome); err == nil {
			err = send(conn, data)
		}
	}
	if err != nil {
		s.logger.Printf("Failed to send welcome: %v", err)
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	n := s.hub.add(conn)
	s.logger.Printf("Client connected (total: %d)", n)

	go s.drain(conn)
}

// drain reads and discards client frames; a read error means the client
// went away.
func (s *Server) drain(conn *websocket.Conn) {
	defer s.hub.remove(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

// Addr returns the listening address, which reflects the chosen port once
// started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of subscribed WebSocket clients.
func (s *Server) ClientCount() int {
	return s.hub.count()
}

func newMessage(typ MessageType, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", typ, err)
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}

package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// hub fans messages out to the connected WebSocket subscribers.
type hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}

	queue  chan Message
	logger *log.Logger
}

func newHub(queueSize int, logger *log.Logger) *hub {
	return &hub{
		conns:  make(map[*websocket.Conn]struct{}),
		queue:  make(chan Message, queueSize),
		logger: logger,
	}
}

// add registers conn and returns the subscriber count.
func (h *hub) add(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
	return len(h.conns)
}

// remove drops conn and closes it. Removing an unknown conn is a no-op.
func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Client disconnected (total: %d)", n)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// closeAll disconnects every subscriber.
func (h *hub) closeAll(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.Close(websocket.StatusGoingAway, reason)
		delete(h.conns, conn)
	}
}

// publish queues msg without blocking. It reports false when the queue is
// full and the message was dropped.
func (h *hub) publish(msg Message) bool {
	select {
	case h.queue <- msg:
		return true
	default:
		return false
	}
}

// run delivers queued messages in order until ctx is done.
func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.queue:
			h.deliver(msg)
		}
	}
}

func (h *hub) deliver(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := send(conn, data); err != nil {
			h.logger.Printf("Failed to send to client: %v", err)
			h.remove(conn)
		}
	}
}

func send(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

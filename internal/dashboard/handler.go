package dashboard

import (
	"context"
	"log"

	"github.com/typesync/typesync/internal/daemon"
	"github.com/typesync/typesync/internal/stats"
	"github.com/typesync/typesync/internal/sync"
)

// SyncCompleteData is the payload of a sync_complete message
type SyncCompleteData struct {
	Fetched    int    `json:"fetched"`
	Added      int    `json:"added"`
	Updated    int    `json:"updated"`
	Total      int    `json:"total"`
	Partial    bool   `json:"partial"`
	FetchError string `json:"fetch_error,omitempty"`
	Persisted  bool   `json:"persisted"`
	Latest     int64  `json:"latest"`
	DurationMS int64  `json:"duration_ms"`
}

// Handler turns sync cycles and dataset changes into dashboard messages.
// It bridges the daemon and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnCycleComplete implements sync.Observer. It announces the cycle and,
// when the document was rewritten, the new summary.
func (h *Handler) OnCycleComplete(ctx context.Context, result *sync.Result) error {
	msg, err := newMessage(MessageTypeSyncComplete, SyncCompleteData{
		Fetched:    result.Fetched,
		Added:      result.Added,
		Updated:    result.Updated,
		Total:      result.Total,
		Partial:    result.Partial,
		FetchError: result.FetchError,
		Persisted:  result.Persisted,
		Latest:     result.Latest,
		DurationMS: result.Duration.Milliseconds(),
	})
	if err != nil {
		return err
	}
	h.server.Broadcast(msg)

	if result.Persisted {
		return h.broadcastSummary(stats.Summarize(result.Records))
	}
	return nil
}

// OnDatasetChanged re-reads the dataset after the document changed on disk,
// e.g. after an import or a cycle run by another process.
func (h *Handler) OnDatasetChanged(event daemon.DatasetEvent) {
	h.logger.Printf("Results file %s: %s", event.Op, event.Path)

	if err := h.broadcastSummary(stats.Summarize(h.server.records())); err != nil {
		h.logger.Printf("Failed to broadcast summary: %v", err)
	}
}

func (h *Handler) broadcastSummary(summary stats.Summary) error {
	msg, err := newMessage(MessageTypeDatasetUpdated, summary)
	if err != nil {
		return err
	}
	h.server.Broadcast(msg)
	return nil
}

package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/typesync/typesync/internal/results"
	"github.com/typesync/typesync/internal/stats"
	"github.com/typesync/typesync/internal/store"
)

// records returns the stored dataset. Read failures render as an empty
// dataset so the page stays up while the document is repaired.
func (s *Server) records() []results.Record {
	if s.dataset == nil {
		return nil
	}
	recs, err := s.dataset.Read()
	switch {
	case errors.Is(err, store.ErrCorrupt):
		s.logger.Printf("Warning: %v", err)
		return nil
	case err != nil:
		s.logger.Printf("Failed to read results: %v", err)
		return nil
	}
	return recs
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleResults serves the progress series. ?since=<unix ms> trims older
// points after the trailing averages are computed over the whole dataset.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = n
	}

	points := stats.Series(s.records())
	out := make([]stats.Point, 0, len(points))
	for _, p := range points {
		if p.Timestamp >= since {
			out = append(out, p)
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, stats.Summarize(s.records()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

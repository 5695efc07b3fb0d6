package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/typesync/typesync/internal/daemon"
	"github.com/typesync/typesync/internal/results"
	"github.com/typesync/typesync/internal/stats"
	"github.com/typesync/typesync/internal/store"
	"github.com/typesync/typesync/internal/sync"
)

func testRecord(t *testing.T, id string, ts int64, wpm float64) results.Record {
	t.Helper()
	r, err := results.New(id, ts).With(results.FieldWPM, wpm)
	if err != nil {
		t.Fatalf("With() failed: %v", err)
	}
	return r
}

// startTestServer starts a server on a free port over a store holding records.
func startTestServer(t *testing.T, records ...results.Record) (*Server, *store.Store) {
	t.Helper()

	st := store.New(filepath.Join(t.TempDir(), "results.json"), log.New(io.Discard, "", 0))
	if len(records) > 0 {
		if err := st.Persist(records); err != nil {
			t.Fatalf("Persist() failed: %v", err)
		}
	}

	server := NewServer(&Config{
		Host:   "127.0.0.1",
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	}, st)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	return server, st
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// waitForClients polls until the server has registered n clients.
func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("GET %s: decode failed: %v", url, err)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)}, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.Addr(); addr == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketWelcome(t *testing.T) {
	server, _ := startTestServer(t, testRecord(t, "a", 1000, 80), testRecord(t, "b", 2000, 95))

	conn := dial(t, server)
	msg := readMessage(t, conn)

	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected stats message, got %s", msg.Type)
	}
	var summary stats.Summary
	if err := json.Unmarshal(msg.Data, &summary); err != nil {
		t.Fatalf("Failed to unmarshal summary: %v", err)
	}
	if summary.Count != 2 || summary.PersonalBest != 95 {
		t.Errorf("welcome summary = %+v", summary)
	}

	waitForClients(t, server, 1)
}

func TestHandler_OnCycleComplete(t *testing.T) {
	server, _ := startTestServer(t)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	conn := dial(t, server)
	readMessage(t, conn) // welcome
	waitForClients(t, server, 1)

	records := []results.Record{testRecord(t, "a", 1000, 80), testRecord(t, "b", 2000, 120)}
	result := &sync.Result{
		Fetched:   2,
		Added:     2,
		Total:     2,
		Persisted: true,
		Latest:    2000,
		Duration:  1500 * time.Millisecond,
		Records:   records,
	}
	if err := handler.OnCycleComplete(context.Background(), result); err != nil {
		t.Fatalf("OnCycleComplete() failed: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("Expected sync_complete, got %s", msg.Type)
	}
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if data.Added != 2 || data.Latest != 2000 || data.DurationMS != 1500 {
		t.Errorf("sync_complete data = %+v", data)
	}

	msg = readMessage(t, conn)
	if msg.Type != MessageTypeDatasetUpdated {
		t.Fatalf("Expected dataset_updated, got %s", msg.Type)
	}
	var summary stats.Summary
	if err := json.Unmarshal(msg.Data, &summary); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if summary.PersonalBest != 120 {
		t.Errorf("summary PB = %v, want 120", summary.PersonalBest)
	}
}

func TestHandler_OnDatasetChanged(t *testing.T) {
	server, st := startTestServer(t, testRecord(t, "a", 1000, 80))
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	conn := dial(t, server)
	readMessage(t, conn)
	waitForClients(t, server, 1)

	if err := st.Persist([]results.Record{testRecord(t, "a", 1000, 80), testRecord(t, "b", 2000, 90)}); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}
	handler.OnDatasetChanged(daemon.DatasetEvent{Path: st.Path(), Op: daemon.OpUpdate})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeDatasetUpdated {
		t.Fatalf("Expected dataset_updated, got %s", msg.Type)
	}
	var summary stats.Summary
	if err := json.Unmarshal(msg.Data, &summary); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if summary.Count != 2 {
		t.Errorf("summary count = %d, want 2", summary.Count)
	}
}

func TestAPIEndpoints(t *testing.T) {
	server, _ := startTestServer(t,
		testRecord(t, "a", 1000, 50),
		testRecord(t, "b", 2000, 70),
		testRecord(t, "c", 3000, 60),
	)
	base := "http://" + server.Addr()

	var points []stats.Point
	getJSON(t, base+"/api/results", &points)
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	if points[2].PB != 70 || points[2].Avg10 != 60 {
		t.Errorf("last point = %+v", points[2])
	}

	// Averages still cover the trimmed results.
	getJSON(t, base+"/api/results?since=3000", &points)
	if len(points) != 1 || points[0].ID != "c" || points[0].Avg10 != 60 {
		t.Errorf("since=3000 points = %+v", points)
	}

	var summary stats.Summary
	getJSON(t, base+"/api/summary", &summary)
	if summary.Count != 3 || summary.PersonalBestID != "b" {
		t.Errorf("summary = %+v", summary)
	}

	var health map[string]interface{}
	getJSON(t, base+"/health", &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	resp, err := http.Get(base + "/api/results?since=yesterday")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid since: status %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(base + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path: status %d, want 404", resp.StatusCode)
	}
}

func TestAPI_CorruptDatasetRendersEmpty(t *testing.T) {
	server, st := startTestServer(t)
	if err := os.WriteFile(st.Path(), []byte("{broken"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var points []stats.Point
	getJSON(t, "http://"+server.Addr()+"/api/results", &points)
	if len(points) != 0 {
		t.Errorf("got %d points, want 0", len(points))
	}

	matches, _ := filepath.Glob(st.Path() + ".corrupt.*")
	if len(matches) != 0 {
		t.Errorf("dashboard must not back up the document: %v", matches)
	}
}

func TestRootServesPage(t *testing.T) {
	server, _ := startTestServer(t)

	resp, err := http.Get("http://" + server.Addr() + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || len(body) == 0 {
		t.Errorf("GET / = %d (%d bytes)", resp.StatusCode, len(body))
	}
}

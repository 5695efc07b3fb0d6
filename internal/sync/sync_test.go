package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/typesync/typesync/internal/config"
	"github.com/typesync/typesync/internal/fetch"
	"github.com/typesync/typesync/internal/results"
	"github.com/typesync/typesync/internal/store"
)

// fakeRemote serves records (ascending by timestamp) honouring the
// inclusive OnOrAfter filter, limit and offset.
type fakeRemote struct {
	records    []results.Record
	failOffset int
	requests   []fetch.PageRequest
}

func newFakeRemote(records ...results.Record) *fakeRemote {
	return &fakeRemote{records: records, failOffset: -1}
}

func (f *fakeRemote) FetchPage(ctx context.Context, req fetch.PageRequest) (*fetch.Page, error) {
	f.requests = append(f.requests, req)
	if req.Offset == f.failOffset {
		return nil, errors.New("503 service unavailable")
	}

	var matched []results.Record
	for _, r := range f.records {
		if r.Timestamp >= req.OnOrAfter {
			matched = append(matched, r)
		}
	}

	page := &fetch.Page{}
	for i := req.Offset; i < len(matched) && i < req.Offset+req.Limit; i++ {
		page.Records = append(page.Records, matched[i])
	}
	page.Size = len(page.Records)
	return page, nil
}

func noPause(ctx context.Context, d time.Duration) error { return nil }

// setupSyncer creates a syncer over a temporary results file.
func setupSyncer(t *testing.T, remote fetch.PageSource, observers ...Observer) (Syncer, *store.Store) {
	t.Helper()

	cfg := config.Default()
	cfg.APEKey = "test-key"
	cfg.PageSize = 2
	cfg.DataFile = filepath.Join(t.TempDir(), "monkeytype_results.json")

	logger := log.New(io.Discard, "", 0)
	st := store.New(cfg.DataFile, logger)
	return New(st, cfg, &Options{
		Source:    remote,
		Pause:     noPause,
		Logger:    logger,
		Observers: observers,
	}), st
}

func ids(records []results.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func equalIDs(got []results.Record, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunCycle_InitialDownload(t *testing.T) {
	remote := newFakeRemote(results.New("a", 100), results.New("b", 200), results.New("c", 300))
	syncer, st := setupSyncer(t, remote)

	result, err := syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	if result.Added != 3 || result.Total != 3 || !result.Persisted {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Latest != 300 {
		t.Errorf("Latest = %d, want 300", result.Latest)
	}
	if remote.requests[0].OnOrAfter != 0 {
		t.Errorf("first fetch on empty store should be unbounded, got %d", remote.requests[0].OnOrAfter)
	}

	stored, err := st.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !equalIDs(stored, "a", "b", "c") {
		t.Errorf("stored = %v", ids(stored))
	}
}

func TestRunCycle_IncrementalIsIdempotent(t *testing.T) {
	remote := newFakeRemote(results.New("a", 100), results.New("b", 200))
	syncer, st := setupSyncer(t, remote)

	if _, err := syncer.RunCycle(context.Background()); err != nil {
		t.Fatalf("first RunCycle() error: %v", err)
	}

	before, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatalf("results file missing: %v", err)
	}

	remote.requests = nil
	result, err := syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle() error: %v", err)
	}

	if remote.requests[0].OnOrAfter != 200 {
		t.Errorf("OnOrAfter = %d, want watermark 200", remote.requests[0].OnOrAfter)
	}
	// The boundary record is re-delivered, so the fetch is non-empty and the
	// document is rewritten with identical content.
	if !result.Persisted {
		t.Error("a non-empty fetch should persist")
	}
	if result.Added != 0 || result.Updated != 0 || result.Duplicates != 1 || result.Total != 2 {
		t.Errorf("unexpected result: %+v", result)
	}

	after, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(after) != string(before) {
		t.Errorf("document changed:\nbefore: %s\nafter:  %s", before, after)
	}
}

func TestRunCycle_NormalizesStoredDocument(t *testing.T) {
	remote := newFakeRemote(results.New("a", 100), results.New("b", 200))
	syncer, st := setupSyncer(t, remote)

	// Out of order with a repeated ID, as left by a hand edit.
	doc := `[{"_id":"b","timestamp":200},{"_id":"a","timestamp":100},{"_id":"a","timestamp":100}]`
	if err := os.WriteFile(st.Path(), []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	result, err := syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if result.Fetched != 1 || result.Added != 0 || !result.Persisted {
		t.Errorf("unexpected result: %+v", result)
	}

	stored, err := st.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !equalIDs(stored, "a", "b") {
		t.Errorf("stored = %v, want [a b]", ids(stored))
	}
	if !results.IsSorted(stored) {
		t.Error("stored document is not sorted")
	}
}

func TestRunCycle_EmptyFetchLeavesDocument(t *testing.T) {
	syncer, st := setupSyncer(t, newFakeRemote())

	doc := `[{"_id":"b","timestamp":200},{"_id":"a","timestamp":100}]`
	if err := os.WriteFile(st.Path(), []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	result, err := syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if result.Persisted || result.Fetched != 0 {
		t.Errorf("unexpected result: %+v", result)
	}

	data, _ := os.ReadFile(st.Path())
	if string(data) != doc {
		t.Errorf("document rewritten after an empty fetch: %s", data)
	}
}

func TestRunCycle_BoundaryTimestamp(t *testing.T) {
	remote := newFakeRemote(
		results.New("a", 100), results.New("b", 200), results.New("c", 200),
	)
	syncer, st := setupSyncer(t, remote)
	if _, err := syncer.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	// A new record arrives at the boundary timestamp plus one later record.
	remote.records = append(remote.records, results.New("d", 200), results.New("e", 300))

	result, err := syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if result.Added != 2 || result.Duplicates != 2 {
		t.Errorf("Added/Duplicates = %d/%d, want 2/2", result.Added, result.Duplicates)
	}

	stored, _ := st.Load()
	if !equalIDs(stored, "a", "b", "c", "d", "e") {
		t.Errorf("stored = %v", ids(stored))
	}
}

func TestRunCycle_PartialFailurePersistsEarlierPages(t *testing.T) {
	var all []results.Record
	for i := 1; i <= 5; i++ {
		all = append(all, results.New(fmt.Sprintf("r%d", i), int64(i)))
	}
	remote := newFakeRemote(all...)
	remote.failOffset = 2
	syncer, st := setupSyncer(t, remote)

	result, err := syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if !result.Partial || result.FetchError == "" {
		t.Errorf("expected a partial result: %+v", result)
	}
	if !result.Persisted || result.Total != 2 {
		t.Errorf("page 1 should be persisted: %+v", result)
	}

	// The next cycle resumes from the new watermark.
	remote.failOffset = -1
	result, err = syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if result.Partial {
		t.Errorf("second cycle should complete: %v", result.FetchError)
	}

	stored, _ := st.Load()
	if !equalIDs(stored, "r1", "r2", "r3", "r4", "r5") {
		t.Errorf("stored = %v", ids(stored))
	}
}

func TestRunCycle_FirstPageFailureLeavesStore(t *testing.T) {
	remote := newFakeRemote(results.New("a", 1))
	remote.failOffset = 0
	syncer, st := setupSyncer(t, remote)

	result, err := syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if result.Persisted {
		t.Error("nothing fetched, nothing should be persisted")
	}
	if _, err := os.Stat(st.Path()); !os.IsNotExist(err) {
		t.Errorf("results file should not exist (stat err = %v)", err)
	}
}

func TestRunCycle_MissingAPIKey(t *testing.T) {
	remote := newFakeRemote(results.New("a", 1))
	cfg := config.Default()
	cfg.DataFile = filepath.Join(t.TempDir(), "results.json")
	st := store.New(cfg.DataFile, log.New(io.Discard, "", 0))
	syncer := New(st, cfg, &Options{Source: remote, Logger: log.New(io.Discard, "", 0)})

	_, err := syncer.RunCycle(context.Background())
	if !errors.Is(err, config.ErrMissingAPIKey) {
		t.Fatalf("RunCycle() error = %v, want ErrMissingAPIKey", err)
	}
	if len(remote.requests) != 0 {
		t.Error("no request should be made without a key")
	}
	if _, err := os.Stat(st.LockPath()); !os.IsNotExist(err) {
		t.Error("store should not be touched without a key")
	}
}

func TestRunCycle_StoreLocked(t *testing.T) {
	remote := newFakeRemote(results.New("a", 1))
	syncer, st := setupSyncer(t, remote)

	unlock, err := st.Lock()
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	defer unlock()

	if _, err := syncer.RunCycle(context.Background()); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("RunCycle() error = %v, want ErrLocked", err)
	}
	if len(remote.requests) != 0 {
		t.Error("a locked store should not be fetched into")
	}
}

func TestRunCycle_CorruptStoreStartsFresh(t *testing.T) {
	remote := newFakeRemote(results.New("a", 1))
	syncer, st := setupSyncer(t, remote)
	if err := os.WriteFile(st.Path(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := syncer.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if result.Total != 1 || !result.Persisted {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRunCycle_Observers(t *testing.T) {
	var seen []*Result
	record := ObserverFunc(func(ctx context.Context, r *Result) error {
		seen = append(seen, r)
		return nil
	})
	failing := ObserverFunc(func(ctx context.Context, r *Result) error {
		return errors.New("dashboard offline")
	})

	remote := newFakeRemote(results.New("a", 1))
	syncer, _ := setupSyncer(t, remote, failing, record)

	if _, err := syncer.RunCycle(context.Background()); err != nil {
		t.Fatalf("observer failure must not fail the cycle: %v", err)
	}
	if _, err := syncer.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("observer called %d times, want 2", len(seen))
	}
	if seen[0].Added != 1 || seen[1].Added != 0 || seen[1].Duplicates != 1 {
		t.Errorf("cycles = %+v, %+v", seen[0], seen[1])
	}
	if len(seen[1].Records) != 1 {
		t.Errorf("observer should see the stored dataset, got %d records", len(seen[1].Records))
	}
}

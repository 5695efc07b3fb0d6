package merge

import (
	"testing"

	"github.com/typesync/typesync/internal/results"
)

func rec(id string, ts int64) results.Record {
	return results.New(id, ts)
}

func ids(records []results.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func assertIDs(t *testing.T, got []results.Record, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("got %v, want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("got %v, want %v", gotIDs, want)
		}
	}
}

func TestMerge_BoundaryTimestamp(t *testing.T) {
	existing := []results.Record{rec("a", 100)}
	wm := results.NewWatermark(100, "a")
	fetched := []results.Record{rec("a", 100), rec("b", 100), rec("c", 150)}

	out := Merge(existing, fetched, wm)

	assertIDs(t, out.Records, "a", "b", "c")
	if out.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", out.Duplicates)
	}
	if out.Added != 2 {
		t.Errorf("Added = %d, want 2", out.Added)
	}
	if out.Updated != 0 {
		t.Errorf("Updated = %d, want 0", out.Updated)
	}
}

func TestMerge_EmptyStore(t *testing.T) {
	out := Merge(nil, []results.Record{rec("x", 5)}, results.Watermark{})

	assertIDs(t, out.Records, "x")
	if out.Records[0].Timestamp != 5 {
		t.Errorf("Timestamp = %d, want 5", out.Records[0].Timestamp)
	}
	if out.Added != 1 {
		t.Errorf("Added = %d, want 1", out.Added)
	}
}

func TestMerge_StaleDiscarded(t *testing.T) {
	existing := []results.Record{rec("a", 200)}
	out := Merge(existing, []results.Record{rec("z", 50)}, results.NewWatermark(200, "a"))

	assertIDs(t, out.Records, "a")
	if out.Stale != 1 {
		t.Errorf("Stale = %d, want 1", out.Stale)
	}
	if out.Changed() {
		t.Error("Changed() = true for a stale-only batch")
	}
}

func TestMerge_EmptyFetch(t *testing.T) {
	existing := []results.Record{rec("b", 20), rec("a", 10)}
	out := Merge(existing, nil, results.NewWatermark(20, "b"))

	assertIDs(t, out.Records, "a", "b")
	if out.Changed() {
		t.Error("Changed() = true for empty fetch")
	}
}

func TestMerge_UpdateReplacesPayload(t *testing.T) {
	old, _ := rec("a", 100).With("wpm", 80)
	rescored, _ := rec("a", 150).With("wpm", 85)

	out := Merge([]results.Record{old, rec("b", 120)}, []results.Record{rescored}, results.NewWatermark(120, "b"))

	assertIDs(t, out.Records, "b", "a")
	if out.Updated != 1 {
		t.Errorf("Updated = %d, want 1", out.Updated)
	}
	if got := out.Records[1].WPM(); got != 85 {
		t.Errorf("WPM = %v, want 85 (last write wins)", got)
	}
}

func TestMerge_TiesKeepInsertionOrder(t *testing.T) {
	existing := []results.Record{rec("e1", 10), rec("e2", 30)}
	fetched := []results.Record{rec("f2", 30), rec("f1", 30), rec("e1", 30)}

	out := Merge(existing, fetched, results.NewWatermark(30, "e2"))

	// e1 keeps its original (first) position when replaced; ties at 30
	// follow insertion order: e1, e2, f2, f1.
	assertIDs(t, out.Records, "e1", "e2", "f2", "f1")
}

func TestMerge_Idempotent(t *testing.T) {
	existing := []results.Record{rec("a", 100), rec("b", 90)}
	wm := results.NewWatermark(100, "a")
	fetched := []results.Record{rec("a", 100), rec("c", 100), rec("d", 120), rec("old", 10)}

	once := Merge(existing, fetched, wm)
	twice := Merge(once.Records, fetched, wm)

	assertIDs(t, twice.Records, ids(once.Records)...)

	seen := make(map[string]bool)
	for _, r := range twice.Records {
		if seen[r.ID] {
			t.Fatalf("duplicate ID %s after second merge", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestMerge_NoDataLoss(t *testing.T) {
	existing := []results.Record{rec("a", 1), rec("b", 2), rec("c", 3), rec("d", 3)}
	wm := results.NewWatermark(3, "c", "d")
	fetched := []results.Record{rec("c", 3), rec("e", 4), rec("b", 1), rec("d", 5)}

	out := Merge(existing, fetched, wm)

	present := make(map[string]bool)
	for _, r := range out.Records {
		present[r.ID] = true
	}
	for _, r := range existing {
		if !present[r.ID] {
			t.Errorf("existing record %s lost", r.ID)
		}
	}
	if len(out.Records) != 5 {
		t.Errorf("got %d records, want 5", len(out.Records))
	}
	if !results.IsSorted(out.Records) {
		t.Errorf("output not sorted: %v", ids(out.Records))
	}
}

func TestMerge_SortInvariant(t *testing.T) {
	tests := []struct {
		name     string
		existing []results.Record
		fetched  []results.Record
		wm       results.Watermark
	}{
		{
			name:     "unsorted existing",
			existing: []results.Record{rec("c", 30), rec("a", 10), rec("b", 20)},
		},
		{
			name:    "unsorted fetched",
			fetched: []results.Record{rec("z", 9), rec("y", 3), rec("x", 6)},
		},
		{
			name:     "interleaved",
			existing: []results.Record{rec("a", 10), rec("b", 40)},
			fetched:  []results.Record{rec("c", 50), rec("d", 40), rec("e", 45)},
			wm:       results.NewWatermark(40, "b"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Merge(tt.existing, tt.fetched, tt.wm)
			if !results.IsSorted(out.Records) {
				t.Errorf("output not sorted: %v", ids(out.Records))
			}
		})
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	existing := []results.Record{rec("b", 20), rec("a", 10)}
	Merge(existing, []results.Record{rec("c", 30)}, results.Watermark{})

	if existing[0].ID != "b" || existing[1].ID != "a" {
		t.Errorf("existing reordered: %v", ids(existing))
	}
}

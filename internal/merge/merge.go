// Package merge reconciles freshly fetched result records with the records
// already stored locally.
//
// The remote filter is inclusive ("on or after the watermark"), so every
// record stored at the watermark timestamp is delivered again on the next
// fetch. Merge drops those re-deliveries by ID while keeping genuinely new
// records that happen to share the boundary timestamp.
package merge

import (
	"github.com/typesync/typesync/internal/results"
)

// Outcome is the result of a merge.
type Outcome struct {
	// Records is the merged set, ascending by timestamp.
	Records []results.Record

	// Added counts fetched records whose ID was not known before.
	Added int

	// Updated counts fetched records that replaced a record with the same ID.
	Updated int

	// Stale counts fetched records older than the watermark.
	Stale int

	// Duplicates counts fetched records re-delivered at the watermark boundary.
	Duplicates int
}

// Changed reports whether the merge added or replaced any record.
func (o *Outcome) Changed() bool {
	return o.Added > 0 || o.Updated > 0
}

// Merge combines fetched into existing.
//
// A fetched record is discarded when its timestamp is older than
// wm.Timestamp, or when it sits exactly on wm.Timestamp with an ID in wm.IDs.
// Every other fetched record is inserted, replacing any record with the same
// ID (last write wins, by merge order). Pass the zero Watermark for an empty
// store.
//
// Merge does not modify its inputs.
func Merge(existing, fetched []results.Record, wm results.Watermark) *Outcome {
	set := newOrderedSet(len(existing) + len(fetched))
	for _, r := range existing {
		set.put(r)
	}

	out := &Outcome{}
	for _, r := range fetched {
		if r.Timestamp < wm.Timestamp {
			out.Stale++
			continue
		}
		if r.Timestamp == wm.Timestamp && wm.Contains(r.ID) {
			out.Duplicates++
			continue
		}

		if set.put(r) {
			out.Updated++
		} else {
			out.Added++
		}
	}

	out.Records = set.values()
	results.SortByTimestamp(out.Records)
	return out
}

// orderedSet maps IDs to records while remembering first-insertion order.
// Replacing a record keeps its original position.
type orderedSet struct {
	index   map[string]int
	records []results.Record
}

func newOrderedSet(capacity int) *orderedSet {
	return &orderedSet{
		index:   make(map[string]int, capacity),
		records: make([]results.Record, 0, capacity),
	}
}

// put inserts or replaces r and reports whether the ID was already present.
func (s *orderedSet) put(r results.Record) bool {
	if i, ok := s.index[r.ID]; ok {
		s.records[i] = r
		return true
	}
	s.index[r.ID] = len(s.records)
	s.records = append(s.records, r)
	return false
}

func (s *orderedSet) values() []results.Record {
	out := make([]results.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Package results provides the typing-test result record shared by the
// store, fetcher, and merge engine.
//
// A Record keeps the exact JSON object the remote API returned. Only the
// identity (_id) and timestamp fields are parsed; everything else is carried
// opaquely and written back unchanged.
package results

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Field names used by the remote API.
const (
	FieldID        = "_id"
	FieldTimestamp = "timestamp"
	FieldWPM       = "wpm"
	FieldAccuracy  = "acc"
	FieldLanguage  = "language"
	FieldMode      = "mode"
)

var (
	// ErrNotObject is returned when a record is not a JSON object.
	ErrNotObject = errors.New("record is not a JSON object")

	// ErrMissingID is returned when a record has no non-empty string _id.
	ErrMissingID = errors.New("record has no _id")

	// ErrMissingTimestamp is returned when a record has no numeric timestamp.
	ErrMissingTimestamp = errors.New("record has no numeric timestamp")

	// ErrNotArray is returned when a document expected to hold a list of
	// records is not a JSON array.
	ErrNotArray = errors.New("document is not a JSON array")
)

// Record is one completed typing test.
//
// Records are immutable once parsed. ID and Timestamp mirror the _id and
// timestamp fields of the raw object.
type Record struct {
	ID        string
	Timestamp int64

	raw []byte
}

// Parse parses a single JSON object into a Record.
// The object must carry a non-empty string _id and a numeric timestamp.
func Parse(data []byte) (Record, error) {
	if !gjson.ValidBytes(data) {
		return Record{}, ErrNotObject
	}
	obj := gjson.ParseBytes(data)
	if !obj.IsObject() {
		return Record{}, ErrNotObject
	}

	id := obj.Get(FieldID)
	if id.Type != gjson.String || id.Str == "" {
		return Record{}, ErrMissingID
	}

	ts := obj.Get(FieldTimestamp)
	if ts.Type != gjson.Number {
		return Record{}, fmt.Errorf("%w (id %s)", ErrMissingTimestamp, id.Str)
	}

	raw := make([]byte, len(obj.Raw))
	copy(raw, obj.Raw)

	return Record{
		ID:        id.Str,
		Timestamp: ts.Int(),
		raw:       raw,
	}, nil
}

// New creates a minimal record holding only an _id and a timestamp.
func New(id string, timestamp int64) Record {
	raw := mustSet([]byte(`{}`), FieldID, id)
	raw = mustSet(raw, FieldTimestamp, timestamp)
	return Record{ID: id, Timestamp: timestamp, raw: raw}
}

// mustSet sets a top-level field of a JSON object. SetBytes only fails on
// an empty or malformed path, so an error here is a programming bug.
func mustSet(raw []byte, field string, value interface{}) []byte {
	out, err := sjson.SetBytes(raw, field, value)
	if err != nil {
		panic(fmt.Sprintf("results: failed to set %s: %v", field, err))
	}
	return out
}

// With returns a copy of r with field set to value.
// Setting _id or timestamp also updates the parsed identity.
func (r Record) With(field string, value interface{}) (Record, error) {
	raw, err := sjson.SetBytes(r.Raw(), field, value)
	if err != nil {
		return Record{}, fmt.Errorf("failed to set %s on record %s: %w", field, r.ID, err)
	}
	return Parse(raw)
}

// Raw returns a copy of the record's JSON object.
// Records built without Parse or New get a synthesized object.
func (r Record) Raw() []byte {
	if r.raw == nil {
		return New(r.ID, r.Timestamp).raw
	}
	out := make([]byte, len(r.raw))
	copy(out, r.raw)
	return out
}

// Get returns an arbitrary payload field using gjson path syntax.
func (r Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.raw, path)
}

// WPM returns the words-per-minute score, or 0 if absent.
func (r Record) WPM() float64 {
	return r.Get(FieldWPM).Float()
}

// Accuracy returns the accuracy percentage, or 0 if absent.
func (r Record) Accuracy() float64 {
	return r.Get(FieldAccuracy).Float()
}

// Language returns the test language, or "" if absent.
func (r Record) Language() string {
	return r.Get(FieldLanguage).String()
}

// Mode returns the test mode (time, words, quote, ...), or "" if absent.
func (r Record) Mode() string {
	return r.Get(FieldMode).String()
}

// Time returns the timestamp as a UTC time.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// MarshalJSON implements json.Marshaler by emitting the raw object.
func (r Record) MarshalJSON() ([]byte, error) {
	return r.Raw(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// DecodeList parses a JSON array of records.
//
// Entries that fail Parse are skipped; one error per skipped entry is
// returned in skipped. err is non-nil only when data is not a JSON array.
func DecodeList(data []byte) (records []Record, skipped []error, err error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, ErrNotArray
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, nil, ErrNotArray
	}

	entries := doc.Array()
	records = make([]Record, 0, len(entries))
	for i, entry := range entries {
		rec, perr := Parse([]byte(entry.Raw))
		if perr != nil {
			skipped = append(skipped, fmt.Errorf("entry %d: %w", i, perr))
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// SortByTimestamp sorts records ascending by timestamp in place.
// Records sharing a timestamp keep their relative order.
func SortByTimestamp(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
}

// IsSorted reports whether records are ascending by timestamp.
func IsSorted(records []Record) bool {
	return sort.SliceIsSorted(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
}

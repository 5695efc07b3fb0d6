package results

// Watermark is the latest timestamp known locally together with the IDs
// already stored at exactly that timestamp.
//
// The zero Watermark (timestamp 0, no IDs) stands for an empty store.
type Watermark struct {
	Timestamp int64
	IDs       map[string]struct{}
}

// NewWatermark builds a watermark from a timestamp and the IDs stored at it.
func NewWatermark(timestamp int64, ids ...string) Watermark {
	w := Watermark{Timestamp: timestamp, IDs: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		w.IDs[id] = struct{}{}
	}
	return w
}

// Contains reports whether id is stored at the watermark timestamp.
func (w Watermark) Contains(id string) bool {
	_, ok := w.IDs[id]
	return ok
}

// IsZero reports whether w is the empty-store watermark.
func (w Watermark) IsZero() bool {
	return w.Timestamp == 0 && len(w.IDs) == 0
}

package store

import "github.com/typesync/typesync/internal/results"

// DeriveWatermark returns the latest timestamp in records and the IDs stored
// at exactly that timestamp. ok is false when records is empty.
func DeriveWatermark(records []results.Record) (wm results.Watermark, ok bool) {
	if len(records) == 0 {
		return results.Watermark{}, false
	}

	latest := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp > latest {
			latest = r.Timestamp
		}
	}

	wm = results.NewWatermark(latest)
	for _, r := range records {
		if r.Timestamp == latest {
			wm.IDs[r.ID] = struct{}{}
		}
	}
	return wm, true
}

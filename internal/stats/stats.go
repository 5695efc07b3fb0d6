// Package stats derives the progress metrics shown on the dashboard and by
// the status command.
package stats

import (
	"sort"
	"time"

	"github.com/typesync/typesync/internal/results"
)

// UnknownLanguage labels results that carry no language field.
const UnknownLanguage = "N/A"

// Point is one result in a progress series.
type Point struct {
	Index     int     `json:"index"`
	ID        string  `json:"id"`
	WPM       float64 `json:"wpm"`
	Accuracy  float64 `json:"acc"`
	Timestamp int64   `json:"timestamp"`
	Date      string  `json:"date"`
	Language  string  `json:"language"`

	// Avg10 and Avg100 are trailing means over up to 10 and 100 results,
	// including this one.
	Avg10  float64 `json:"avg_10"`
	Avg100 float64 `json:"avg_100"`

	// PB is the best WPM up to and including this result.
	PB float64 `json:"pb"`
}

// Series computes a Point per record, in the order given. Callers pass the
// stored dataset, which is already ascending by timestamp.
func Series(records []results.Record) []Point {
	points := make([]Point, len(records))
	avg10 := newWindow(10)
	avg100 := newWindow(100)
	var pb float64

	for i, r := range records {
		wpm := r.WPM()
		if i == 0 || wpm > pb {
			pb = wpm
		}

		lang := r.Language()
		if lang == "" {
			lang = UnknownLanguage
		}

		points[i] = Point{
			Index:     i,
			ID:        r.ID,
			WPM:       wpm,
			Accuracy:  r.Accuracy(),
			Timestamp: r.Timestamp,
			Date:      r.Time().Format("2006-01-02"),
			Language:  lang,
			Avg10:     avg10.push(wpm),
			Avg100:    avg100.push(wpm),
			PB:        pb,
		}
	}
	return points
}

// window is a fixed-size trailing mean.
type window struct {
	size   int
	values []float64
	next   int
	sum    float64
}

func newWindow(size int) *window {
	return &window{size: size, values: make([]float64, 0, size)}
}

// push adds v and returns the mean of the most recent values.
func (w *window) push(v float64) float64 {
	if len(w.values) < w.size {
		w.values = append(w.values, v)
	} else {
		w.sum -= w.values[w.next]
		w.values[w.next] = v
		w.next = (w.next + 1) % w.size
	}
	w.sum += v
	return w.sum / float64(len(w.values))
}

// LanguageCount is the number of results in one language.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int    `json:"count"`
}

// Summary condenses a dataset into headline numbers.
type Summary struct {
	Count int `json:"count"`

	PersonalBest   float64 `json:"personal_best"`
	PersonalBestID string  `json:"personal_best_id,omitempty"`
	PersonalBestAt int64   `json:"personal_best_at,omitempty"`

	// Avg10 and Avg100 are the trailing means at the latest result.
	Avg10  float64 `json:"avg_10"`
	Avg100 float64 `json:"avg_100"`

	MeanAccuracy float64 `json:"mean_accuracy"`

	First int64 `json:"first,omitempty"`
	Last  int64 `json:"last,omitempty"`

	// Languages is ordered by descending count, then name.
	Languages []LanguageCount `json:"languages"`
}

// Summarize computes a Summary. An empty dataset yields a zero Summary with
// an empty Languages slice.
func Summarize(records []results.Record) Summary {
	sum := Summary{Languages: []LanguageCount{}}
	if len(records) == 0 {
		return sum
	}

	points := Series(records)
	last := points[len(points)-1]
	sum.Count = len(points)
	sum.Avg10 = last.Avg10
	sum.Avg100 = last.Avg100
	sum.First = points[0].Timestamp
	sum.Last = points[0].Timestamp

	byLang := make(map[string]int)
	var accTotal float64
	for i, p := range points {
		if i == 0 || p.WPM > sum.PersonalBest {
			sum.PersonalBest = p.WPM
			sum.PersonalBestID = p.ID
			sum.PersonalBestAt = p.Timestamp
		}
		if p.Timestamp < sum.First {
			sum.First = p.Timestamp
		}
		if p.Timestamp > sum.Last {
			sum.Last = p.Timestamp
		}
		accTotal += p.Accuracy
		byLang[p.Language]++
	}
	sum.MeanAccuracy = accTotal / float64(len(points))

	for lang, n := range byLang {
		sum.Languages = append(sum.Languages, LanguageCount{Language: lang, Count: n})
	}
	sort.Slice(sum.Languages, func(i, j int) bool {
		a, b := sum.Languages[i], sum.Languages[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Language < b.Language
	})

	return sum
}

// Since returns the records with a timestamp at or after t, keeping order.
func Since(records []results.Record, t time.Time) []results.Record {
	cutoff := t.UnixMilli()
	out := make([]results.Record, 0, len(records))
	for _, r := range records {
		if r.Timestamp >= cutoff {
			out = append(out, r)
		}
	}
	return out
}

package sync

import (
	"context"
	"time"

	"github.com/typesync/typesync/internal/results"
)

// Syncer brings the local results document up to date.
//
// A cycle locks the store, loads the stored records, derives the watermark,
// fetches everything on or after it, merges and persists. Cycles are
// incremental: after the first full download, each cycle only requests
// records at or after the latest stored timestamp.
//
// The syncer is resilient to remote failures. A fetch that fails midway
// still merges and persists the pages already retrieved; the next cycle
// resumes from the new watermark.
type Syncer interface {
	// RunCycle performs one complete sync cycle.
	//
	// Returns config.ErrMissingAPIKey without touching the store when no
	// API key is configured, and store.ErrLocked when another process holds
	// the store. A partial fetch is not an error: it is reported in
	// Result.Partial and Result.FetchError.
	//
	// RunCycle must not be called concurrently.
	//
	// Example:
	//   result, err := syncer.RunCycle(ctx)
	RunCycle(ctx context.Context) (*Result, error)
}

// Observer is notified after each completed cycle.
//
// Observers run synchronously on the cycle's goroutine in registration
// order. An observer error is logged and never fails the cycle.
type Observer interface {
	OnCycleComplete(ctx context.Context, result *Result) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, result *Result) error

// OnCycleComplete implements Observer.
func (f ObserverFunc) OnCycleComplete(ctx context.Context, result *Result) error {
	return f(ctx, result)
}

// Result summarises one cycle.
type Result struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	// Fetched is the number of records received from the remote.
	Fetched int `json:"fetched"`

	// Pages is the number of pages successfully retrieved.
	Pages int `json:"pages"`

	// Skipped counts fetched entries without _id or timestamp.
	Skipped int `json:"skipped"`

	// Partial is set when pagination ended on an error.
	Partial    bool   `json:"partial"`
	FetchError string `json:"fetch_error,omitempty"`

	Added      int `json:"added"`
	Updated    int `json:"updated"`
	Stale      int `json:"stale"`
	Duplicates int `json:"duplicates"`

	// Total is the number of stored records after the cycle.
	Total int `json:"total"`

	// Persisted reports whether the document was rewritten.
	Persisted bool `json:"persisted"`

	// Latest is the newest stored timestamp after the cycle, or 0.
	Latest int64 `json:"latest"`

	// Records is the stored dataset after the cycle, ascending by timestamp.
	Records []results.Record `json:"-"`
}

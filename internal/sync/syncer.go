package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/typesync/typesync/internal/ape"
	"github.com/typesync/typesync/internal/config"
	"github.com/typesync/typesync/internal/fetch"
	"github.com/typesync/typesync/internal/merge"
	"github.com/typesync/typesync/internal/results"
	"github.com/typesync/typesync/internal/store"
)

// Options holds optional dependencies for a Syncer.
type Options struct {
	// Source replaces the Ape API client. Used by tests.
	Source fetch.PageSource

	// Pause replaces the delay between pages.
	Pause fetch.PauseFunc

	// Logger for cycle progress. Defaults to stderr.
	Logger *log.Logger

	// Observers are notified after every completed cycle.
	Observers []Observer

	// Now replaces time.Now.
	Now func() time.Time
}

// syncer implements the Syncer interface.
type syncer struct {
	store     *store.Store
	cfg       *config.Config
	source    fetch.PageSource
	pause     fetch.PauseFunc
	observers []Observer
	logger    *log.Logger
	now       func() time.Time

	fetcher *fetch.Fetcher
}

// New creates a new Syncer for st using the remote settings in cfg.
//
// If opts is nil or opts.Logger is nil, a default logger writing to stderr
// is used.
//
// Example:
//
//	cfg, err := config.Load(config.Options{})
//	if err != nil {
//	    return err
//	}
//	syncer := sync.New(store.New(cfg.DataFile, nil), cfg, nil)
func New(st *store.Store, cfg *config.Config, opts *Options) Syncer {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &syncer{
		store:     st,
		cfg:       cfg,
		source:    opts.Source,
		pause:     opts.Pause,
		observers: opts.Observers,
		logger:    logger,
		now:       now,
	}
}

// RunCycle implements Syncer.RunCycle.
func (s *syncer) RunCycle(ctx context.Context) (*Result, error) {
	if err := s.cfg.RequireAPIKey(); err != nil {
		s.logger.Printf("Error: %v. Cannot fetch results.", err)
		return nil, err
	}

	unlock, err := s.store.Lock()
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			s.logger.Printf("Another sync is in progress, skipping this cycle: %v", err)
		}
		return nil, err
	}
	defer unlock()

	result := &Result{Started: s.now()}

	existing, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	wm, ok := store.DeriveWatermark(existing)
	var since int64
	if ok {
		since = wm.Timestamp
		s.logger.Printf("Latest timestamp in existing data: %d (%d results at that timestamp)", wm.Timestamp, len(wm.IDs))
	} else {
		s.logger.Printf("No existing data found. Fetching all results.")
	}

	fetcher, err := s.getFetcher()
	if err != nil {
		return nil, err
	}

	batch := fetcher.FetchSince(ctx, since)
	result.Fetched = len(batch.Records)
	result.Pages = batch.Pages
	result.Skipped = batch.Skipped
	if batch.Partial() {
		result.Partial = true
		result.FetchError = batch.Err.Error()
		s.logger.Printf("Warning: fetch ended early (%v). Keeping %d results retrieved so far.", batch.Err, len(batch.Records))
	}

	if len(batch.Records) == 0 {
		s.logger.Printf("No new results to add.")
		s.finish(ctx, result, existing)
		return result, nil
	}

	outcome := merge.Merge(existing, batch.Records, wm)
	result.Added = outcome.Added
	result.Updated = outcome.Updated
	result.Stale = outcome.Stale
	result.Duplicates = outcome.Duplicates

	// Any non-empty fetch rewrites the document, which also normalizes a
	// stored file that was unsorted or held repeated IDs.
	if err := s.store.Persist(outcome.Records); err != nil {
		return nil, fmt.Errorf("failed to persist results: %w", err)
	}
	result.Persisted = true

	if outcome.Changed() {
		s.logger.Printf("Added %d new results (%d updated). Total results: %d", outcome.Added, outcome.Updated, len(outcome.Records))
	} else {
		s.logger.Printf("No new results to add (%d already stored). Total results: %d", outcome.Duplicates+outcome.Stale, len(outcome.Records))
	}
	s.finish(ctx, result, outcome.Records)
	return result, nil
}

// finish fills the dataset fields of result and notifies observers.
func (s *syncer) finish(ctx context.Context, result *Result, records []results.Record) {
	result.Records = records
	result.Total = len(records)
	if wm, ok := store.DeriveWatermark(records); ok {
		result.Latest = wm.Timestamp
	}
	result.Duration = s.now().Sub(result.Started)

	for _, o := range s.observers {
		if err := o.OnCycleComplete(ctx, result); err != nil {
			s.logger.Printf("Warning: cycle observer failed: %v", err)
		}
	}
}

// getFetcher builds the fetcher on first use so that a missing API key is
// reported by RunCycle rather than by New.
func (s *syncer) getFetcher() (*fetch.Fetcher, error) {
	if s.fetcher != nil {
		return s.fetcher, nil
	}

	source := s.source
	if source == nil {
		client, err := ape.NewClient(ape.Options{
			BaseURL: s.cfg.BaseURL,
			APEKey:  s.cfg.APEKey,
			Timeout: s.cfg.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create API client: %w", err)
		}
		source = client
	}

	s.fetcher = fetch.New(source, &fetch.Config{
		PageSize:  s.cfg.PageSize,
		PageDelay: s.cfg.PageDelay,
		Pause:     s.pause,
		Logger:    s.logger,
	})
	return s.fetcher, nil
}

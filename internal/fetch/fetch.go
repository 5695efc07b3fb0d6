// Package fetch retrieves result records from a paginated remote collection,
// starting at a watermark timestamp.
//
// Pagination stops at the first short or empty page. Any failing page ends
// the fetch early: the records of earlier pages are still returned, and the
// next scheduled cycle picks up where this one stopped. Pages are never
// retried within a fetch.
package fetch

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/typesync/typesync/internal/results"
)

// Defaults for the remote results collection.
const (
	DefaultPageSize  = 1000
	DefaultPageDelay = 1 * time.Second
)

// PageRequest identifies one page of the remote collection.
type PageRequest struct {
	Limit  int
	Offset int

	// OnOrAfter is an inclusive lower bound on record timestamps.
	// Zero means no bound.
	OnOrAfter int64
}

// Page is one page returned by a PageSource.
type Page struct {
	// Records holds the entries that carried an _id and timestamp.
	Records []results.Record

	// Size is the number of entries the remote returned, including any
	// that were skipped. It decides whether the collection is exhausted.
	Size int

	// Skipped lists entries dropped for missing _id or timestamp.
	Skipped []error
}

// PageSource returns one page of results.
type PageSource interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}

// PauseFunc waits between successive page requests.
type PauseFunc func(ctx context.Context, d time.Duration) error

// Config holds configuration for a Fetcher.
type Config struct {
	// PageSize is the number of records requested per page.
	PageSize int

	// PageDelay is the fixed pause between successive page requests.
	PageDelay time.Duration

	// Pause implements the delay. Defaults to a timer that honours ctx.
	Pause PauseFunc

	// Logger for fetch progress
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PageSize:  DefaultPageSize,
		PageDelay: DefaultPageDelay,
		Pause:     Sleep,
		Logger:    log.New(os.Stderr, "[fetch] ", log.LstdFlags),
	}
}

// Batch is everything retrieved by one FetchSince call.
type Batch struct {
	Records []results.Record

	// Pages is the number of pages successfully retrieved.
	Pages int

	// Skipped counts entries dropped for missing fields.
	Skipped int

	// Err is the failure that ended pagination early, if any.
	Err error
}

// Partial reports whether pagination was cut short by a failure.
func (b *Batch) Partial() bool {
	return b.Err != nil
}

// Fetcher pages through a PageSource.
type Fetcher struct {
	source PageSource
	config *Config
}

// New creates a Fetcher. A nil config uses DefaultConfig.
func New(source PageSource, config *Config) *Fetcher {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Pause == nil {
		config.Pause = defaults.Pause
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	return &Fetcher{source: source, config: config}
}

// FetchSince retrieves every record with timestamp on or after since.
// A since of zero fetches the whole collection.
//
// FetchSince never returns an error: a failing page ends pagination and is
// reported in Batch.Err alongside the records already retrieved.
func (f *Fetcher) FetchSince(ctx context.Context, since int64) *Batch {
	batch := &Batch{}
	logger := f.config.Logger
	limit := f.config.PageSize

	for offset := 0; ; offset += limit {
		if offset > 0 {
			if err := f.config.Pause(ctx, f.config.PageDelay); err != nil {
				batch.Err = fmt.Errorf("interrupted before offset %d: %w", offset, err)
				logger.Printf("Fetch interrupted: %v", err)
				break
			}
		}

		logger.Printf("Fetching with offset %d...", offset)
		page, err := f.source.FetchPage(ctx, PageRequest{
			Limit:     limit,
			Offset:    offset,
			OnOrAfter: since,
		})
		if err != nil {
			batch.Err = fmt.Errorf("page at offset %d: %w", offset, err)
			logger.Printf("API request failed: %v", err)
			break
		}

		batch.Pages++
		for _, serr := range page.Skipped {
			logger.Printf("Warning: skipping fetched record: %v", serr)
		}
		batch.Skipped += len(page.Skipped)

		if page.Size == 0 {
			logger.Println("No more data from API.")
			break
		}

		batch.Records = append(batch.Records, page.Records...)
		if page.Size < limit {
			break
		}
	}

	logger.Printf("Fetched a total of %d new results from the API.", len(batch.Records))
	return batch
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

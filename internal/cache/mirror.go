package cache

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/typesync/typesync/internal/results"
	"github.com/typesync/typesync/internal/sync"
)

// Mirror keeps the cache in step with the results document. It implements
// sync.Observer.
type Mirror struct {
	db     *DB
	logger *log.Logger
}

// NewMirror creates a Mirror writing to db.
// If logger is nil, a default logger writing to stderr is used.
func NewMirror(db *DB, logger *log.Logger) *Mirror {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Mirror{db: db, logger: logger}
}

// OnCycleComplete rebuilds the cache when the cycle rewrote the document or
// the cache has drifted from it, e.g. on first use.
func (m *Mirror) OnCycleComplete(ctx context.Context, result *sync.Result) error {
	if !result.Persisted {
		inStep, err := m.inStep(ctx, result.Total, result.Latest)
		if err != nil {
			return err
		}
		if inStep {
			return nil
		}
	}
	return m.Refresh(ctx, result.Records)
}

// Refresh replaces the cache contents with records.
func (m *Mirror) Refresh(ctx context.Context, records []results.Record) error {
	if err := m.db.ReplaceAll(ctx, records); err != nil {
		return fmt.Errorf("failed to refresh cache: %w", err)
	}
	m.logger.Printf("Cache refreshed: %d results", len(records))
	return nil
}

// inStep reports whether the cache holds total rows ending at latest.
func (m *Mirror) inStep(ctx context.Context, total int, latest int64) (bool, error) {
	n, err := m.db.Count(ctx)
	if err != nil {
		return false, err
	}
	if n != total {
		return false, nil
	}
	ts, err := m.db.LatestTimestamp(ctx)
	if err != nil {
		return false, err
	}
	return ts == latest, nil
}

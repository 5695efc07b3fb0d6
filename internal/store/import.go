package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/typesync/typesync/internal/merge"
	"github.com/typesync/typesync/internal/results"
)

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	From   string // JSON array or JSONL file of result records
	DryRun bool   // Report what would change without writing
	Backup bool   // Copy the current document aside before writing
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Read          int
	Skipped       int
	Added         int
	Updated       int
	Total         int
	Persisted     bool // The document was rewritten
	BackupCreated string
	Errors        []string
}

// ReadExport reads result records from a JSON array or a JSONL file.
// Records failing field presence are skipped and reported in skipped.
func ReadExport(path string) (records []results.Record, skipped []error, err error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open export file: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		records, skipped, err = results.DecodeList(trimmed)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid JSON array in %s: %w", path, err)
		}
		return records, skipped, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	for lineNum := 1; ; lineNum++ {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum, err)
		}

		rec, perr := results.Parse(raw)
		if perr != nil {
			skipped = append(skipped, fmt.Errorf("record %d: %w", lineNum, perr))
			continue
		}
		records = append(records, rec)
	}

	return records, skipped, nil
}

// Import merges the records of an export file into the store.
//
// Every imported record is kept; a record whose ID already exists replaces
// the stored one. The store lock is held for the duration of the import.
func (s *Store) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	imported, skipped, err := ReadExport(opts.From)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		Read:    len(imported),
		Skipped: len(skipped),
	}
	for _, serr := range skipped {
		result.Errors = append(result.Errors, serr.Error())
	}

	unlock, err := s.Lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.Load()
	if err != nil {
		return nil, err
	}

	outcome := merge.Merge(existing, imported, results.Watermark{})
	result.Added = outcome.Added
	result.Updated = outcome.Updated
	result.Total = len(outcome.Records)

	if opts.DryRun || !outcome.Changed() {
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.Backup {
		backupPath, err := s.backup()
		if err != nil {
			return nil, err
		}
		result.BackupCreated = backupPath
	}

	if err := s.Persist(outcome.Records); err != nil {
		return nil, fmt.Errorf("failed to persist imported results: %w", err)
	}
	result.Persisted = true

	s.logger.Printf("Imported %d records from %s (added=%d, updated=%d)",
		result.Read, opts.From, result.Added, result.Updated)
	return result, nil
}

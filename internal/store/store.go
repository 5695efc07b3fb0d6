// Package store provides the durable record store: a single JSON document
// holding every result record, loaded wholesale and replaced wholesale.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/typesync/typesync/internal/results"
)

// Store reads and writes the results document at a fixed path.
//
// A Store assumes a single writer. Use Lock to keep a second process from
// writing the same document.
type Store struct {
	path   string
	logger *log.Logger
	now    func() time.Time
}

// New creates a Store for the document at path.
// If logger is nil, a default logger writing to stderr is used.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Store{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// Path returns the location of the results document.
func (s *Store) Path() string {
	return s.path
}

// ErrCorrupt is returned by Read when the document is not a JSON array.
var ErrCorrupt = errors.New("results file is corrupted")

// Load reads all records from the document.
//
// A missing document yields an empty slice. A document that is not a JSON
// array is treated as corrupt: a warning is logged, the bytes are copied to a
// .corrupt backup, and an empty slice is returned so the caller starts fresh.
// Entries lacking _id or timestamp are skipped with a warning.
//
// Any other read failure is returned; callers must not persist over a
// document they could not read.
func (s *Store) Load() ([]results.Record, error) {
	records, skipped, data, err := s.read()
	if errors.Is(err, ErrCorrupt) {
		s.logger.Printf("Warning: %v. Starting fresh.", err)
		if len(bytes.TrimSpace(data)) > 0 {
			if backup, berr := s.backupCorrupt(data); berr != nil {
				s.logger.Printf("Warning: failed to back up corrupted file: %v", berr)
			} else {
				s.logger.Printf("Corrupted file saved to %s", backup)
			}
		}
		return []results.Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	for _, serr := range skipped {
		s.logger.Printf("Warning: skipping stored record: %v", serr)
	}

	return records, nil
}

// Read loads the records without side effects, for readers that never
// write. A missing document yields an empty slice. A corrupt document
// yields an empty slice and an error wrapping ErrCorrupt. Invalid entries
// are dropped silently.
func (s *Store) Read() ([]results.Record, error) {
	records, _, _, err := s.read()
	if errors.Is(err, ErrCorrupt) {
		return []results.Record{}, err
	}
	return records, err
}

func (s *Store) read() (records []results.Record, skipped []error, data []byte, err error) {
	data, err = os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []results.Record{}, nil, nil, nil
		}
		return nil, nil, nil, fmt.Errorf("failed to read results file %s: %w", s.path, err)
	}

	records, skipped, err = results.DecodeList(data)
	if err != nil {
		return nil, nil, data, fmt.Errorf("%w: %s (%v)", ErrCorrupt, s.path, err)
	}
	return records, skipped, data, nil
}

// Persist replaces the document with records sorted ascending by timestamp.
//
// The document is written to a temporary file in the same directory and
// renamed into place, so readers see either the old or the new contents.
func (s *Store) Persist(records []results.Record) error {
	sorted := make([]results.Record, len(records))
	copy(sorted, records)
	results.SortByTimestamp(sorted)

	data, err := Encode(sorted)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions on temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Encode renders records as an indented JSON array.
// HTML characters in payloads are left unescaped.
func Encode(records []results.Record) ([]byte, error) {
	if records == nil {
		records = []results.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// backupCorrupt copies unreadable document bytes aside before they are
// overwritten by the next persist.
func (s *Store) backupCorrupt(data []byte) (string, error) {
	backupPath := s.path + ".corrupt." + s.now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", err
	}
	return backupPath, nil
}

// backup copies the current document aside. It returns "" if there is no
// document yet.
func (s *Store) backup() (string, error) {
	input, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read results for backup: %w", err)
	}
	backupPath := s.path + ".backup." + s.now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backupPath, nil
}

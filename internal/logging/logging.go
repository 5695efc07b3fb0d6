// Package logging builds the *log.Logger values handed to each component.
//
// Output always goes to stderr. When a log file is configured it is also
// written there, rotated by lumberjack.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/typesync/typesync/internal/config"
)

// Sink is the shared destination for component loggers.
type Sink struct {
	out  io.Writer
	file *lumberjack.Logger
}

// NewSink creates a Sink writing to stderr and, if cfg.File is set, to a
// rotating log file.
func NewSink(cfg config.LogConfig) *Sink {
	return newSink(os.Stderr, cfg)
}

func newSink(stderr io.Writer, cfg config.LogConfig) *Sink {
	s := &Sink{out: stderr}
	if cfg.File == "" {
		return s
	}

	s.file = &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	s.out = io.MultiWriter(stderr, s.file)
	return s
}

// Writer returns the combined output.
func (s *Sink) Writer() io.Writer {
	return s.out
}

// Logger returns a logger for one component, e.g. Logger("sync") prefixes
// lines with "[sync] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.out, "["+component+"] ", log.LstdFlags)
}

// Rotate starts a new log file. It is a no-op without file logging.
func (s *Sink) Rotate() error {
	if s.file == nil {
		return nil
	}
	return s.file.Rotate()
}

// Close flushes and closes the log file, if any.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

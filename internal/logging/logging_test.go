package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/typesync/typesync/internal/config"
)

func TestSink_StderrOnly(t *testing.T) {
	var buf bytes.Buffer
	s := newSink(&buf, config.LogConfig{})
	defer s.Close()

	s.Logger("sync").Printf("hello %d", 1)

	if !strings.Contains(buf.String(), "[sync] ") || !strings.Contains(buf.String(), "hello 1") {
		t.Errorf("unexpected output: %q", buf.String())
	}
	if err := s.Rotate(); err != nil {
		t.Errorf("Rotate() without a file should be a no-op: %v", err)
	}
}

func TestSink_File(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "typesync.log")
	s := newSink(&buf, config.LogConfig{File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})

	s.Logger("daemon").Println("cycle complete")
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "[daemon] ") {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(buf.String(), "cycle complete") {
		t.Errorf("stderr copy missing: %q", buf.String())
	}
}

package daemon

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of change to the dataset file.
type EventOp int

const (
	// OpUpdate indicates the dataset was created, written or renamed into
	// place.
	OpUpdate EventOp = iota
	// OpRemove indicates the dataset was deleted or renamed away.
	OpRemove
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// DatasetEvent reports a change to the dataset file.
type DatasetEvent struct {
	// Path is the absolute path of the dataset.
	Path string
	// Op is the kind of change.
	Op EventOp
}

// DatasetWatcher watches a single results document for changes made by any
// process.
//
// fsnotify watches the containing directory rather than the file, so the
// watch survives the temp-file-and-rename writes the store performs.
type DatasetWatcher struct {
	watcher *fsnotify.Watcher
	events  chan DatasetEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	path    string
}

// NewDatasetWatcher creates a DatasetWatcher for the document at path.
// The watcher must be started with Start() before it will emit events.
func NewDatasetWatcher(path string) (*DatasetWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &DatasetWatcher{
		watcher: watcher,
		events:  make(chan DatasetEvent, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
		path:    absPath,
	}, nil
}

// Path returns the absolute path being watched.
func (dw *DatasetWatcher) Path() string {
	return dw.path
}

// Start begins watching. The dataset's directory must exist; the file
// itself need not.
func (dw *DatasetWatcher) Start() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(dw.path)
	if err := dw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	dw.running = true
	dw.wg.Add(1)
	go dw.processEvents()

	return nil
}

// Stop stops watching and closes the Events and Errors channels.
// It blocks until the event processing goroutine has exited.
func (dw *DatasetWatcher) Stop() error {
	dw.mu.Lock()
	if !dw.running {
		dw.mu.Unlock()
		return dw.watcher.Close()
	}
	dw.running = false
	dw.mu.Unlock()

	close(dw.done)

	if err := dw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	dw.wg.Wait()

	close(dw.events)
	close(dw.errors)

	return nil
}

// Events returns the channel that emits DatasetEvent notifications.
// This channel is closed when the watcher is stopped.
func (dw *DatasetWatcher) Events() <-chan DatasetEvent {
	return dw.events
}

// Errors returns the channel that emits watcher errors.
// This channel is closed when the watcher is stopped.
func (dw *DatasetWatcher) Errors() <-chan error {
	return dw.errors
}

// IsRunning returns true if the watcher is currently running.
func (dw *DatasetWatcher) IsRunning() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.running
}

func (dw *DatasetWatcher) processEvents() {
	defer dw.wg.Done()

	for {
		select {
		case <-dw.done:
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			if ev, ok := dw.convertEvent(event); ok {
				select {
				case dw.events <- ev:
				case <-dw.done:
					return
				}
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case dw.errors <- err:
			case <-dw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event on the watched directory to a
// DatasetEvent. Events for other files and chmod-only events are ignored.
func (dw *DatasetWatcher) convertEvent(event fsnotify.Event) (DatasetEvent, bool) {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != dw.path {
		return DatasetEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		op = OpUpdate
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpRemove
	default:
		return DatasetEvent{}, false
	}

	return DatasetEvent{Path: dw.path, Op: op}, true
}

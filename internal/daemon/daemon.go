package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Task is one unit of scheduled work, typically a sync cycle.
type Task func(ctx context.Context) error

// Ticker delivers ticks at a fixed interval.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker for the given interval.
type TickerFunc func(d time.Duration) Ticker

// Config holds configuration for the scheduler.
type Config struct {
	// Interval between cycles. Zero or negative runs a single cycle and then
	// idles until shutdown.
	Interval time.Duration

	// NewTicker creates the interval ticker. Tests replace it to drive ticks
	// by hand.
	NewTicker TickerFunc

	// Logger for scheduler activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults: one cycle per day.
func DefaultConfig() *Config {
	return &Config{
		Interval:  24 * time.Hour,
		NewTicker: NewTimeTicker,
		Logger:    log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Stats reports what the scheduler has done so far.
type Stats struct {
	Cycles    int
	Failures  int
	Skipped   int
	Running   bool
	LastStart time.Time
	LastError string
}

// Scheduler runs a Task immediately and then once per interval.
//
// Cycles never overlap: a tick that arrives while a cycle is running is
// dropped. A cycle that has started always runs to completion, even when
// shutdown is requested; Start returns once it finishes.
type Scheduler struct {
	task   Task
	config *Config

	mu    sync.Mutex
	stats Stats
}

// New creates a Scheduler with the default configuration.
func New(task Task) (*Scheduler, error) {
	return NewWithConfig(task, DefaultConfig())
}

// NewWithConfig creates a Scheduler with custom configuration.
func NewWithConfig(task Task, config *Config) (*Scheduler, error) {
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.NewTicker == nil {
		config.NewTicker = defaults.NewTicker
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Scheduler{
		task:   task,
		config: config,
	}, nil
}

// Start runs the first cycle and then schedules the rest.
//
// This blocks until ctx is cancelled and any in-flight cycle has finished.
// Cycle errors are logged; they never stop the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := s.config.Logger
	logger.Println("Starting scheduler")

	done := make(chan struct{}, 1)
	running := true
	go s.runCycle(ctx, done)

	var ticks <-chan time.Time
	if s.config.Interval > 0 {
		ticker := s.config.NewTicker(s.config.Interval)
		defer ticker.Stop()
		ticks = ticker.C()
	} else {
		logger.Println("No update interval configured, running a single cycle")
	}

	for {
		select {
		case <-ctx.Done():
			logger.Println("Shutdown signal received")
			if running {
				logger.Println("Waiting for the current cycle to finish")
				<-done
			}
			logger.Println("Scheduler stopped")
			return nil

		case <-done:
			running = false
			if s.config.Interval > 0 {
				logger.Printf("Next update in %v", s.config.Interval)
			}

		case <-ticks:
			if running {
				logger.Println("Previous cycle still running, skipping this tick")
				s.mu.Lock()
				s.stats.Skipped++
				s.mu.Unlock()
				continue
			}
			running = true
			go s.runCycle(ctx, done)
		}
	}
}

// runCycle runs the task detached from ctx cancellation and signals done.
func (s *Scheduler) runCycle(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	s.mu.Lock()
	s.stats.Running = true
	s.stats.LastStart = time.Now()
	s.mu.Unlock()

	err := s.invoke(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.stats.Running = false
	s.stats.Cycles++
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.config.Logger.Printf("Cycle failed: %v", err)
	}
}

// invoke calls the task, converting a panic into an error.
func (s *Scheduler) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return s.task(ctx)
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// timeTicker adapts time.Ticker to the Ticker interface.
type timeTicker struct {
	t *time.Ticker
}

// NewTimeTicker returns a Ticker backed by time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(d)}
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }
func (t *timeTicker) Stop()               { t.t.Stop() }

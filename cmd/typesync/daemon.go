package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/typesync/typesync/internal/cache"
	"github.com/typesync/typesync/internal/config"
	"github.com/typesync/typesync/internal/daemon"
	"github.com/typesync/typesync/internal/dashboard"
	"github.com/typesync/typesync/internal/sync"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run sync cycles on a schedule",
	Long: `Run a sync cycle immediately and then every 24h / updates_per_day.

Cycles never overlap. With updates_per_day set to 0 the daemon runs a single
cycle and then idles until stopped. On SIGINT or SIGTERM a running cycle is
allowed to finish before the daemon exits.

With --dashboard the progress dashboard is served alongside, and browsers are
notified after each cycle and whenever the results file changes on disk.

Example usage:
  typesync daemon
  typesync daemon --dashboard --port 9000`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st := openStore()
		logger := sink.Logger("daemon")

		var observers []sync.Observer
		db, err := openCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		if db != nil {
			defer db.Close()
			observers = append(observers, cache.NewMirror(db, sink.Logger("cache")))
		}

		if withDashboard {
			handler, stop, err := startDashboard(ctx, st, port)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
				os.Exit(1)
			}
			defer stop()
			observers = append(observers, handler)
		}

		syncer := sync.New(st, cfg, &sync.Options{
			Logger:    sink.Logger("sync"),
			Observers: observers,
		})

		scheduler, err := daemon.NewWithConfig(func(ctx context.Context) error {
			_, err := syncer.RunCycle(ctx)
			return err
		}, &daemon.Config{
			Interval: cfg.Interval(),
			Logger:   logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := scheduler.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		stats := scheduler.Stats()
		logger.Printf("Stopped after %d cycles (%d failed, %d ticks skipped)",
			stats.Cycles, stats.Failures, stats.Skipped)
	},
}

// startDashboard starts the dashboard server and a watcher on the results
// file. The returned stop function shuts both down.
func startDashboard(ctx context.Context, st dashboard.Dataset, port int) (*dashboard.Handler, func(), error) {
	logger := sink.Logger("dashboard")

	server := dashboard.NewServer(&dashboard.Config{Port: port, Logger: logger}, st)
	if err := server.Start(); err != nil {
		return nil, nil, err
	}
	handler := dashboard.NewHandler(server, logger)

	watcher, err := daemon.NewDatasetWatcher(cfg.DataFile)
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		// The dashboard still works, it just won't see external writes.
		logger.Printf("Warning: not watching %s: %v", cfg.DataFile, err)
		return handler, func() { _ = server.Stop() }, nil
	}

	done := make(chan struct{})
	go watchDataset(ctx, watcher, handler, logger, done)

	stop := func() {
		_ = watcher.Stop()
		<-done
		_ = server.Stop()
	}
	return handler, stop, nil
}

// watchDataset forwards watcher events to the dashboard until ctx is done
// or the watcher stops.
func watchDataset(ctx context.Context, watcher *daemon.DatasetWatcher, handler *dashboard.Handler, logger *log.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events():
			if !ok {
				return
			}
			handler.OnDatasetChanged(event)
		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			logger.Printf("Watcher error: %v", err)
		}
	}
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the dashboard while running")
	daemonCmd.Flags().IntP("port", "p", config.DefaultDashboardPort, "Dashboard port (default dashboard.port)")

	rootCmd.AddCommand(daemonCmd)
}

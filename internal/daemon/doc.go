// Package daemon keeps the results document fresh in the background.
//
// Scheduler runs a task (normally sync.Syncer.RunCycle) once at startup and
// then at a fixed interval derived from the updates_per_day setting:
//
//	interval = 24h / updates_per_day
//
// With updates_per_day at zero or below, a single cycle runs and the
// scheduler idles until shutdown.
//
// DatasetWatcher reports changes to the results document made by any
// process, so long-running readers such as the dashboard can refresh
// without polling.
//
// Example:
//
//	scheduler, err := daemon.NewWithConfig(func(ctx context.Context) error {
//	    _, err := syncer.RunCycle(ctx)
//	    return err
//	}, &daemon.Config{Interval: cfg.Interval()})
//	if err != nil {
//	    return err
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	return scheduler.Start(ctx)
package daemon

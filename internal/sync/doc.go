// Package sync runs the fetch-merge-persist cycle that keeps the local
// results document up to date with the remote collection.
//
// Overview
//
// The sync package ties the record store, the incremental fetcher and the
// merge engine into a single cycle:
//
//	results document (monkeytype_results.json)
//	     │  Load
//	     ▼
//	DeriveWatermark ──► FetchSince(watermark) ──► Ape API /results
//	     │                        │
//	     └──────── Merge ◄────────┘
//	                 │  Persist (sorted, atomic rename)
//	                 ▼
//	           Observers (cache mirror, dashboard)
//
// Usage
//
//	cfg, err := config.Load(config.Options{})
//	if err != nil {
//	    return err
//	}
//
//	st := store.New(cfg.DataFile, nil)
//	syncer := sync.New(st, cfg, &sync.Options{
//	    Observers: []sync.Observer{mirror, dashboardHandler},
//	})
//
//	result, err := syncer.RunCycle(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("added %d, total %d\n", result.Added, result.Total)
//
// Error Handling
//
//   - Missing API key: the cycle returns config.ErrMissingAPIKey and the
//     store is not opened
//   - Store locked by another process: store.ErrLocked, nothing is fetched
//   - Unreadable store: the error is returned and nothing is written
//   - Corrupt store: a warning is logged and the cycle starts from empty
//   - Fetch failure midway: earlier pages are merged and persisted
//   - No new data: the store is left untouched
//
// Scheduling
//
// The syncer does not schedule itself. The daemon package calls RunCycle
// once at startup and then at a fixed interval.
package sync

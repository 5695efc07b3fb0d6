package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/typesync/typesync/internal/cache"
	"github.com/typesync/typesync/internal/sync"
	"github.com/typesync/typesync/internal/ui"
)

var fetchCmd = &cobra.Command{
	Use:     "fetch",
	GroupID: "sync",
	Short:   "Run one sync cycle",
	Long: `Fetch new results from the Ape API and merge them into the results document.

The first run downloads the whole history, page by page. Later runs only
request results at or after the newest stored timestamp. If a page fails, the
pages already received are still saved and the next run resumes from there.

When cache.path is configured the SQLite cache is refreshed as well.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()

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

		syncer := sync.New(st, cfg, &sync.Options{
			Logger:    sink.Logger("sync"),
			Observers: observers,
		})

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), st.Path())
		result, err := syncer.RunCycle(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printResult(result)
	},
}

func printResult(result *sync.Result) {
	mark := ui.RenderPass("✓")
	if result.Partial {
		mark = ui.RenderWarn("⚠")
	}

	fmt.Printf("%s Sync complete in %v\n", mark, result.Duration.Round(time.Millisecond))
	fmt.Printf("   Fetched: %d (%d pages)\n", result.Fetched, result.Pages)
	fmt.Printf("   Added: %d  Updated: %d\n", result.Added, result.Updated)
	if result.Skipped > 0 {
		fmt.Printf("   Skipped invalid: %d\n", result.Skipped)
	}
	fmt.Printf("   Total: %d\n", result.Total)
	if result.Latest > 0 {
		fmt.Printf("   Latest: %s\n", formatTimestamp(result.Latest))
	}
	if result.Partial {
		fmt.Printf("   %s fetch stopped early: %s\n", ui.RenderWarn("Partial:"), result.FetchError)
	}
	if !result.Persisted {
		fmt.Printf("   %s\n", ui.RenderMuted("No changes written"))
	}
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

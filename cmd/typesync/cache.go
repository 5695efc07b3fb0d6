package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/typesync/typesync/internal/cache"
	"github.com/typesync/typesync/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "sync",
	Short:   "SQLite query cache management",
	Long: `Manage the SQLite query cache (cache.path).

The cache mirrors the results document for fast filtered queries. The JSON
document stays the source of truth; the cache can be deleted at any time and
rebuilt with 'typesync cache sync'.`,
}

var cacheSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rebuild the cache from the results document",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		if db == nil {
			fmt.Fprintf(os.Stderr, "Error: cache.path is not configured\n")
			os.Exit(1)
		}
		defer db.Close()

		st := openStore()
		records, err := st.Read()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Rebuilding %s from %s...\n", ui.RenderAccent("🔄"), db.Path(), st.Path())
		start := time.Now()

		if err := db.ReplaceAll(cmd.Context(), records); err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Cache rebuilt in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Results: %d\n", len(records))
	},
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status",
	Long: `Display the cache location, size, result count, newest result, personal best
and when the cache was last rebuilt.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Cache.Path == "" {
			fmt.Printf("\n%s Cache disabled\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Set cache.path to enable it\n\n")
			return
		}

		info, err := os.Stat(cfg.Cache.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Cache not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'typesync cache sync' to create the cache\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		db, err := openCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := printCacheStatus(cmd.Context(), db, info.Size()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func printCacheStatus(ctx context.Context, db *cache.DB, size int64) error {
	count, err := db.Count(ctx)
	if err != nil {
		return err
	}
	latest, err := db.LatestTimestamp(ctx)
	if err != nil {
		return err
	}
	synced, ok, err := db.LastSynced(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s %s\n\n", ui.RenderAccent("Cache:"), db.Path())
	fmt.Printf("   Size: %.1f KB\n", float64(size)/1024)
	fmt.Printf("   Results: %d\n", count)
	if latest > 0 {
		fmt.Printf("   Latest: %s\n", formatTimestamp(latest))
	}
	if pb, found, err := db.PersonalBest(ctx); err != nil {
		return err
	} else if found {
		fmt.Printf("   Personal best: %.2f wpm (%s)\n", pb.WPM(), formatTimestamp(pb.Timestamp))
	}
	if ok {
		fmt.Printf("   Last rebuilt: %s\n", synced.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("   Last rebuilt: %s\n", ui.RenderMuted("never"))
	}
	fmt.Println()
	return nil
}

func init() {
	cacheCmd.AddCommand(cacheSyncCmd)
	cacheCmd.AddCommand(cacheStatusCmd)
	rootCmd.AddCommand(cacheCmd)
}

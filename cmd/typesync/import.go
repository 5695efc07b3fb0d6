package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/typesync/typesync/internal/cache"
	"github.com/typesync/typesync/internal/store"
	"github.com/typesync/typesync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "sync",
	Short:   "Merge results from an export file",
	Long: `Merge result records from a JSON array or JSONL file into the results document.

Records without _id or timestamp are skipped. A record whose _id is already
stored replaces the stored copy. The merged document is sorted by timestamp,
so the next fetch resumes from the newest imported result.

Example usage:
  typesync import results-export.json
  typesync import backup.jsonl --dry-run
  typesync import backup.jsonl --backup`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		st := openStore()
		result, err := st.Import(cmd.Context(), store.ImportOptions{
			From:   args[0],
			DryRun: dryRun,
			Backup: backup,
		})
		if errors.Is(err, store.ErrLocked) {
			fmt.Fprintf(os.Stderr, "Error: %s is in use by another typesync process\n", st.Path())
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		for _, msg := range result.Errors {
			fmt.Printf("%s skipped %s\n", ui.RenderWarn("⚠"), msg)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d records from %s\n", ui.RenderPass("✓"), verb, result.Read, args[0])
		fmt.Printf("   Added: %d  Updated: %d  Skipped: %d\n", result.Added, result.Updated, result.Skipped)
		fmt.Printf("   Total: %d\n", result.Total)
		if result.BackupCreated != "" {
			fmt.Printf("   Backup: %s\n", result.BackupCreated)
		}

		if result.Persisted {
			if err := refreshCache(cmd.Context(), st); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("Warning:"), err)
			}
		}
	},
}

// refreshCache rebuilds the query cache from the document, when one is
// configured.
func refreshCache(ctx context.Context, st *store.Store) error {
	db, err := openCache()
	if err != nil || db == nil {
		return err
	}
	defer func() { _ = db.Close() }()

	records, err := st.Read()
	if err != nil {
		return err
	}
	return cache.NewMirror(db, sink.Logger("cache")).Refresh(ctx, records)
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Report what would change without writing")
	importCmd.Flags().Bool("backup", false, "Copy the current document aside before writing")

	rootCmd.AddCommand(importCmd)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/typesync/typesync/internal/stats"
	"github.com/typesync/typesync/internal/store"
	"github.com/typesync/typesync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "view",
	Short:   "Summarize the stored results",
	Long: `Print headline numbers for the results document: test count, personal best,
trailing averages, mean accuracy and the most used languages.

--since limits the summary to recent results. It accepts dates
("2024-03-01"), RFC 3339 timestamps and natural language ("3 days ago",
"last monday", "yesterday").

The document is only read; a corrupted file is reported, not repaired.`,
	Run: func(cmd *cobra.Command, args []string) {
		sinceText, _ := cmd.Flags().GetString("since")

		st := openStore()
		records, err := st.Read()
		if errors.Is(err, store.ErrCorrupt) {
			fmt.Printf("\n%s %v\n", ui.RenderWarn("⚠"), err)
			fmt.Printf("   The next fetch will back it up and start fresh\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		scope := "all time"
		if sinceText != "" {
			since, err := parseSince(sinceText, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			records = stats.Since(records, since)
			scope = "since " + since.Format("2006-01-02 15:04")
		}

		fmt.Printf("\n%s %s (%s)\n\n", ui.RenderAccent("Results:"), st.Path(), scope)
		printSummary(stats.Summarize(records))

		if wm, ok := store.DeriveWatermark(records); ok && sinceText == "" {
			fmt.Printf("   Next fetch from: %s (%d known at that time)\n", formatTimestamp(wm.Timestamp), len(wm.IDs))
		}
		fmt.Println()
	},
}

func printSummary(s stats.Summary) {
	if s.Count == 0 {
		fmt.Printf("   %s\n", ui.RenderMuted("No results"))
		return
	}

	fmt.Printf("   Tests: %d\n", s.Count)
	fmt.Printf("   Personal best: %s wpm (%s)\n", ui.RenderPass(fmt.Sprintf("%.2f", s.PersonalBest)), formatTimestamp(s.PersonalBestAt))
	fmt.Printf("   Avg 10: %.2f  Avg 100: %.2f\n", s.Avg10, s.Avg100)
	fmt.Printf("   Accuracy: %.1f%%\n", s.MeanAccuracy)
	fmt.Printf("   Range: %s to %s\n", formatTimestamp(s.First), formatTimestamp(s.Last))

	langs := s.Languages
	if len(langs) > 5 {
		langs = langs[:5]
	}
	parts := make([]string, len(langs))
	for i, l := range langs {
		parts[i] = fmt.Sprintf("%s (%d)", l.Language, l.Count)
	}
	fmt.Printf("   Languages: %s\n", strings.Join(parts, ", "))
}

var sinceParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince turns a date, timestamp or natural-language phrase into a
// point in time relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}

	r, err := sinceParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized --since value %q", text)
	}
	return r.Time, nil
}

func init() {
	statusCmd.Flags().String("since", "", "Only summarize results since this time (e.g. \"3 days ago\")")

	rootCmd.AddCommand(statusCmd)
}

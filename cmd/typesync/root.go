package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/typesync/typesync/internal/cache"
	"github.com/typesync/typesync/internal/config"
	"github.com/typesync/typesync/internal/logging"
	"github.com/typesync/typesync/internal/store"
)

const annotationSkipConfig = "skip-config"

var (
	cfgFile string

	// cfg and sink are set by the root PersistentPreRun for every command.
	cfg  *config.Config
	sink *logging.Sink
)

var rootCmd = &cobra.Command{
	Use:   "typesync",
	Short: "Sync Monkeytype results to a local JSON file",
	Long: `typesync downloads the typing test results of a Monkeytype account into a
local JSON document and keeps it current with incremental fetches.

The Ape key is read from MONKEYTYPE_APE_KEY (or --ape-key, or ape_key in the
config file). Settings are resolved from flags, then environment, then the
config file, then defaults.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// init writes the config file and must run without a valid one.
		if cmd.Annotations[annotationSkipConfig] == "true" {
			cfg = config.Default()
			sink = logging.NewSink(cfg.Log)
			return
		}

		loaded, err := config.Load(config.Options{File: cfgFile, Flags: cmd.Flags()})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		sink = logging.NewSink(cfg.Log)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sink != nil {
			_ = sink.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "view", Title: "Viewing Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML or TOML)")
	flags.String("ape-key", "", "Monkeytype Ape key (default $MONKEYTYPE_APE_KEY)")
	flags.String("data-file", config.DefaultDataFile, "results document")
	flags.Int("updates-per-day", config.DefaultUpdatesPerDay, "sync cycles per day for the daemon (0 = once)")
	flags.String("base-url", config.DefaultBaseURL, "Ape API base URL")
}

// openStore returns the store for the configured document.
func openStore() *store.Store {
	return store.New(cfg.DataFile, sink.Logger("store"))
}

// openCache opens the query cache, or returns nil when cache.path is unset.
func openCache() (*cache.DB, error) {
	if cfg.Cache.Path == "" {
		return nil, nil
	}
	db, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/typesync/typesync/internal/config"
	"github.com/typesync/typesync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:         "init",
	GroupID:     "setup",
	Short:       "Write a config file interactively",
	Annotations: map[string]string{annotationSkipConfig: "true"},
	Long: `Ask for the main settings and write them to a config file.

The format follows the file extension: .toml writes TOML, anything else YAML.
Values already set through flags or the environment are offered as defaults.
Use --defaults to skip the questions.

Example usage:
  typesync init
  typesync init -o ~/.config/typesync.toml`,
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")
		useDefaults, _ := cmd.Flags().GetBool("defaults")

		seed := config.Default()
		if loaded, err := config.Load(config.Options{Flags: cmd.Flags()}); err == nil {
			seed = loaded
		}

		if _, err := os.Stat(output); err == nil && !force {
			if useDefaults {
				fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", output)
				os.Exit(1)
			}
			overwrite := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("%s exists. Overwrite?", output)).
				Value(&overwrite).
				Run()
			if err != nil || !overwrite {
				fmt.Println("Aborted")
				return
			}
		}

		if !useDefaults {
			if err := runInitForm(seed); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Aborted")
					return
				}
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := seed.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := writeConfigFile(output, seed.Settings()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), output)
		fmt.Printf("   Use it with: typesync --config %s fetch\n", output)
		if seed.APEKey == "" {
			fmt.Printf("   %s no Ape key saved; set MONKEYTYPE_APE_KEY before fetching\n", ui.RenderWarn("Note:"))
		}
	},
}

// runInitForm asks for the main settings and stores the answers in cfg.
func runInitForm(cfg *config.Config) error {
	apeKey := cfg.APEKey
	updates := strconv.Itoa(cfg.UpdatesPerDay)
	dataFile := cfg.DataFile
	cachePath := cfg.Cache.Path
	logFile := cfg.Log.File
	port := strconv.Itoa(cfg.Dashboard.Port)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Monkeytype Ape key").
				Description("Leave empty to keep using MONKEYTYPE_APE_KEY").
				EchoMode(huh.EchoModePassword).
				Value(&apeKey),
			huh.NewInput().
				Title("Updates per day").
				Description("Daemon sync cycles per day, 0 for a single run").
				Value(&updates).
				Validate(validateNonNegativeInt),
			huh.NewInput().
				Title("Results file").
				Value(&dataFile).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("results file is required")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("SQLite cache path").
				Description("Leave empty to disable the cache").
				Value(&cachePath),
			huh.NewInput().
				Title("Dashboard port").
				Value(&port).
				Validate(validateNonNegativeInt),
			huh.NewInput().
				Title("Log file").
				Description("Leave empty to log to stderr only").
				Value(&logFile),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.APEKey = strings.TrimSpace(apeKey)
	cfg.UpdatesPerDay, _ = strconv.Atoi(updates)
	cfg.DataFile = strings.TrimSpace(dataFile)
	cfg.Cache.Path = strings.TrimSpace(cachePath)
	cfg.Dashboard.Port, _ = strconv.Atoi(port)
	cfg.Log.File = strings.TrimSpace(logFile)
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return errors.New("enter a whole number, 0 or more")
	}
	return nil
}

// encodeSettings renders settings as TOML for .toml paths and YAML otherwise.
func encodeSettings(path string, settings map[string]any) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
			return nil, fmt.Errorf("failed to encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return data, nil
}

// writeConfigFile writes settings to path. The file may hold the Ape key,
// so it is created readable by the owner only.
func writeConfigFile(path string, settings map[string]any) error {
	data, err := encodeSettings(path, settings)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// #nosec G306 - owner-only config file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func init() {
	initCmd.Flags().StringP("output", "o", "typesync.yaml", "Config file to write (.yaml or .toml)")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file without asking")
	initCmd.Flags().Bool("defaults", false, "Write current settings without asking")

	rootCmd.AddCommand(initCmd)
}

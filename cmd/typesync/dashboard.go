package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/typesync/typesync/internal/config"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "view",
	Short:   "Serve the progress dashboard",
	Long: `Serve the progress dashboard without syncing.

The page charts WPM with trailing 10 and 100 test averages and the running
personal best. It reloads when the results file changes, for example when a
daemon in another process completes a cycle.

Endpoints:
  /              dashboard page
  /api/results   progress series (JSON, optional ?since=<unix ms>)
  /api/summary   headline numbers (JSON)
  /ws            WebSocket feed (stats, dataset_updated, sync_complete)
  /health        health check

Example usage:
  typesync dashboard                # Start on dashboard.port (default 8050)
  typesync dashboard --port 9000    # Start on custom port`,
	Run: func(cmd *cobra.Command, args []string) {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		_, stop, err := startDashboard(ctx, openStore(), port)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Dashboard started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard...")
		stop()
		fmt.Println("Dashboard stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", config.DefaultDashboardPort, "Port to listen on (default dashboard.port)")

	rootCmd.AddCommand(dashboardCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stayconnect",
	Short: "Artist catalog sync daemon and job queue",
	Long: `stayconnect keeps the artist and release records in sync with the Spotify
catalog. The daemon runs a small job queue (release check, artist sync) and
exposes a control API the other commands talk to.

Examples:
  stayconnect serve                               # run the daemon
  stayconnect jobs status                         # queue overview
  stayconnect jobs trigger spotify-check-releases --wait
  stayconnect jobs run spotify-sync-artists --force
  stayconnect catalog search "daft punk"
  stayconnect artists add --name "Daft Punk" --catalog-id 4tZwfgrHOc3mvqYlEYSvVi`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to the config file (json or yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(artistsCmd)
}

func defaultConfigPath() string {
	if p := os.Getenv("STAYCONNECT_CONFIG"); p != "" {
		return p
	}
	return "./config.yaml"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

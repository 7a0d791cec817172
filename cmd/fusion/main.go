// Command fusion runs the loss signal fusion service: it groups unclustered
// loss signals into deduplicated, confidence-scored incident clusters.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fusion",
		Short: "Loss signal deduplication and confidence fusion",
		Long: `fusion groups loss signals reported by independent channels (weather,
fire reports, CAD, news, commercial fire feeds) into incident clusters and
scores each cluster by how many distinct channels corroborate it.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(serveCmd(), runCmd(), migrateCmd(), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fusion version %s (build: %s)\n", version, buildTime)
		},
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for mandala.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mandala",
		Short: "Crawler for Mantela telephone exchange federations",
		Long: `mandala follows the provider links between Mantela descriptors
(mantela.json), starting from one or more seed URLs, and merges every
exchange, extension and link it finds into a single graph.

Crawl results are saved to a local database so that later crawls can be
compared with earlier ones.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewCompareCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package cmd defines the wikicrawl command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root command. The crawl takes no flags or arguments;
// every setting comes from the config file or CRAWLER_* environment variables.
func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wikicrawl",
		Short: "Crawl a fixed list of wiki pages into JSON section records.",
		Long: `wikicrawl visits each configured wiki page in order, waits out
anti-bot interstitials, and writes the page title and sections as JSON.
Pages that cannot be fetched leave an HTML snapshot for diagnosis.

Configuration is read from $CRAWLER_CONFIG, ./config.yaml or
$HOME/.wikicrawl/config.yaml, and CRAWLER_* environment variables.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCrawl,
	}
}

// Execute runs the root command. Individual page failures still exit 0;
// only a fatal crawl error exits non-zero.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wikicrawl: %v\n", err)
		os.Exit(1)
	}
}

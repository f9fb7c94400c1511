// Package cmd defines the CLI commands for the marketsense executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marketsense/marketsense/internal/config"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newRootCmd creates the root command and wires the application lifecycle:
// configuration loads first, then the service graph is built and stored in
// the command context for subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketsense",
		Short: "Batch crawl pipeline for market-sentiment research.",
		Long: `marketsense crawls campaign URLs through a lease-based task queue,
archives the raw pages, and runs sentiment analysis and quality review
over the results.`,

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app, ok := cmd.Context().Value(appKey).(*App); ok && app != nil {
				app.Close()
			}
		},
	}

	cobra.OnInitialize(func() { config.Init(cfgFile) })
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/marketsense, $HOME/.marketsense)")

	cmd.AddCommand(
		newEnqueueCmd(),
		newCrawlCmd(),
		newMaintenanceCmd(),
		newAnalyzeCmd(),
		newReviewCmd(),
		newReportCmd(),
		newPipelineCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	app, ok := ctx.Value(appKey).(*App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

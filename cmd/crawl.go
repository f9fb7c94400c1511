package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	var (
		limit        int
		leaseSeconds int
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Claim and fetch queued tasks until the queue drains",
		Long: `Claims batches of pending tasks under a worker lease and fetches each
page, respecting domain policy, robots.txt, and per-domain throttling.
Raw HTML is archived gzip-compressed; outcomes are written back to the
task store.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			w, err := app.newWorker(cmd.Context(), limit, time.Duration(leaseSeconds)*time.Second)
			if err != nil {
				return err
			}
			processed, err := w.Drain(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			app.Logger.Info("crawl finished", zap.Int("processed", processed))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "batch size per claim (default from config)")
	cmd.Flags().IntVar(&leaseSeconds, "lease-seconds", 0, "lease duration per claim (default from config)")
	return cmd
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketsense/marketsense/internal/pipeline"
	"github.com/marketsense/marketsense/internal/report"
	"github.com/marketsense/marketsense/internal/task"
)

func newPipelineCmd() *cobra.Command {
	var (
		urls      []string
		urlsFile  string
		force     bool
		brand     string
		product   string
		objective string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the full batch pipeline end to end",
		Long: `Runs maintenance, enqueues any given URLs, drains the crawl queue,
analyzes and reviews the results, and prints the final summary.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if urlsFile != "" {
				fromFile, err := readURLsFile(urlsFile)
				if err != nil {
					return err
				}
				urls = append(urls, fromFile...)
			}

			w, err := app.newWorker(cmd.Context(), 0, 0)
			if err != nil {
				return err
			}
			an, err := app.newAnalyzer(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			p := pipeline.New(
				app.Store,
				app.newMaintenance(),
				app.newEnqueuer(),
				w,
				an,
				app.newReviewer(dryRun),
				app.Logger,
			)

			summary, err := p.Run(cmd.Context(), pipeline.Config{
				URLs:                   urls,
				Campaign:               task.Campaign{Brand: brand, Product: product, Objective: objective},
				Force:                  force,
				RequeueErrorsOlderThan: time.Duration(app.Cfg.Maintenance.RequeueErrorHours) * time.Hour,
				MaintenanceLimit:       app.Cfg.Maintenance.Limit,
			})
			if err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Render(summary))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&urls, "url", nil, "URL to enqueue before crawling (repeatable)")
	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "file with one URL per line")
	cmd.Flags().BoolVar(&force, "force", false, "reset existing tasks to pending")
	cmd.Flags().StringVar(&brand, "brand", "", "campaign brand")
	cmd.Flags().StringVar(&product, "product", "", "campaign product")
	cmd.Flags().StringVar(&objective, "objective", "", "campaign research objective")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use canned LLM responses instead of the live endpoint")
	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newReviewCmd() *cobra.Command {
	var (
		limit  int
		force  bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Run quality review over completed analyses",
		Long: `Scores each analysis 0-100 against the campaign objective and records
whether it passes the quality threshold. Already-reviewed tasks are
skipped unless --force re-reviews them.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			reviewed, err := app.newReviewer(dryRun).Run(cmd.Context(), limit, force)
			if err != nil {
				return fmt.Errorf("review: %w", err)
			}
			app.Logger.Info("review finished", zap.Int("reviewed", reviewed))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "maximum tasks to review")
	cmd.Flags().BoolVar(&force, "force", false, "re-review tasks that already have a review")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use canned LLM responses instead of the live endpoint")
	return cmd
}

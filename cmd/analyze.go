package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		limit  int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run sentiment analysis over downloaded pages",
		Long: `Extracts readable text from archived pages of done tasks that have no
analysis yet and records the normalized LLM assessment on each task.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			an, err := app.newAnalyzer(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			analyzed, err := an.Run(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}
			app.Logger.Info("analysis finished", zap.Int("analyzed", analyzed))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "maximum tasks to analyze")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use canned LLM responses instead of the live endpoint")
	return cmd
}

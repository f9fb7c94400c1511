package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMaintenanceCmd() *cobra.Command {
	var (
		reclaimRunning    bool
		requeueErrorHours int
		limit             int
	)

	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Reclaim expired leases and requeue stale errors",
		Long: `Returns running tasks whose lease has lapsed back to pending, and
optionally requeues tasks stuck in error longer than the threshold.
Safe to run concurrently with active workers.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job := app.newMaintenance()

			reclaimed := 0
			if reclaimRunning {
				reclaimed, err = job.ReclaimExpired(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("reclaim expired: %w", err)
				}
			}
			requeued := 0
			if requeueErrorHours > 0 {
				olderThan := time.Duration(requeueErrorHours) * time.Hour
				requeued, err = job.RequeueErrors(cmd.Context(), olderThan, limit)
				if err != nil {
					return fmt.Errorf("requeue errors: %w", err)
				}
			}
			app.Logger.Info("maintenance finished",
				zap.Int("reclaimed", reclaimed),
				zap.Int("requeued", requeued),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reclaimRunning, "reclaim-running", true, "reclaim running tasks with expired leases")
	cmd.Flags().IntVar(&requeueErrorHours, "requeue-error-hours", 0, "requeue errors older than this many hours (0 disables)")
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum tasks per sweep")
	return cmd
}

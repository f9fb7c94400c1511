package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marketsense/marketsense/internal/task"
)

func newEnqueueCmd() *cobra.Command {
	var (
		urls      []string
		urlsFile  string
		force     bool
		brand     string
		product   string
		objective string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Insert crawl tasks for campaign URLs",
		Long: `Inserts one task per URL, deduplicated by the hash of the normalized
URL. Existing tasks are untouched unless --force resets them to pending.`,

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
			if len(urls) == 0 {
				return fmt.Errorf("no URLs given; use --url or --urls-file")
			}

			campaign := task.Campaign{Brand: brand, Product: product, Objective: objective}
			count, err := app.newEnqueuer().Enqueue(cmd.Context(), urls, campaign, force)
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			app.Logger.Info("enqueue finished",
				zap.Int("submitted", len(urls)),
				zap.Int("accepted", count),
			)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&urls, "url", nil, "URL to enqueue (repeatable)")
	cmd.Flags().StringVar(&urlsFile, "urls-file", "", "file with one URL per line")
	cmd.Flags().BoolVar(&force, "force", false, "reset existing tasks to pending")
	cmd.Flags().StringVar(&brand, "brand", "", "campaign brand")
	cmd.Flags().StringVar(&product, "product", "", "campaign product")
	cmd.Flags().StringVar(&objective, "objective", "", "campaign research objective")
	return cmd
}

func readURLsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		urls = append(urls, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls file: %w", err)
	}
	return urls, nil
}

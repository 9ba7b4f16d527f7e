package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gabriel/chapter-tracker/internal/interval"
	"github.com/spf13/cobra"
)

func newMaintenanceCmd(c *cli) *cobra.Command {
	var (
		mangaIDs         []int64
		updateInterval   bool
		updateEstimate   bool
		correctEstimates bool
	)

	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Recompute release intervals and estimated releases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if correctEstimates {
				updated, err := c.app.Driver.CorrectEstimates(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Corrected %d estimated releases\n", updated)
				if len(mangaIDs) == 0 {
					return nil
				}
			}

			if len(mangaIDs) == 0 {
				return fmt.Errorf("--manga or --correct-estimates is required")
			}
			if !updateInterval && !updateEstimate {
				updateInterval, updateEstimate = true, true
			}

			estimator := interval.NewEstimator(c.app.Logger)
			_, err := c.inTx(ctx, "Commit maintenance changes?", func(tx *sql.Tx) error {
				for _, id := range mangaIDs {
					if updateInterval {
						value, err := estimator.UpdateInterval(ctx, tx, id)
						if err != nil {
							return fmt.Errorf("update interval of manga %d: %w", id, err)
						}
						fmt.Fprintf(c.out, "Manga %d interval: %s\n", id, formatDuration(value))
					}
					if updateEstimate {
						value, err := estimator.UpdateEstimatedRelease(ctx, tx, id)
						if err != nil {
							return fmt.Errorf("update estimate of manga %d: %w", id, err)
						}
						fmt.Fprintf(c.out, "Manga %d estimated release: %s\n", id, formatTime(value))
					}
				}
				return nil
			})
			return err
		},
	}
	cmd.Flags().Int64SliceVar(&mangaIDs, "manga", nil, "manga ids to update")
	cmd.Flags().BoolVar(&updateInterval, "update-interval", false, "recompute the release interval")
	cmd.Flags().BoolVar(&updateEstimate, "update-estimate", false, "recompute the estimated release")
	cmd.Flags().BoolVar(&correctEstimates, "correct-estimates", false, "recompute estimated releases of every manga")
	return cmd
}

func formatDuration(value *time.Duration) string {
	if value == nil {
		return "not enough data"
	}
	return value.String()
}

func formatTime(value *time.Time) string {
	if value == nil {
		return "unknown"
	}
	return value.Format(time.RFC3339)
}

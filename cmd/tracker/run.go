package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gabriel/chapter-tracker/internal/scheduler"
	"github.com/spf13/cobra"
)

func newRunOnceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run scheduled requests and every due source once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, err := c.app.Driver.RunScheduledRuns(ctx); err != nil {
				return err
			}
			report, err := c.app.Driver.RunOnce(ctx)
			if err != nil {
				return err
			}
			c.printReport(report)
			return nil
		},
	}
}

func newRunForeverCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run-forever",
		Short: "Keep scraping due sources until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.app.Driver.RunForever(ctx)
		},
	}
}

func newForceRunCmd(c *cli) *cobra.Command {
	var serviceFlag string
	var mangaFlag int64

	cmd := &cobra.Command{
		Use:   "force-run",
		Short: "Scrape one source now, ignoring schedules and backoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			serviceID, err := c.serviceID(ctx, serviceFlag)
			if errors.Is(err, scheduler.ErrUnknownService) {
				c.app.Logger.Warn("force run skipped", "service", serviceFlag, "error", err)
				fmt.Fprintf(c.out, "Nothing to run: %v\n", err)
				return nil
			}
			if err != nil {
				return err
			}
			var mangaID *int64
			if mangaFlag > 0 {
				mangaID = &mangaFlag
			}

			report, err := c.app.Driver.ForceRun(ctx, serviceID, mangaID)
			if errors.Is(err, scheduler.ErrUnknownService) || errors.Is(err, scheduler.ErrUnknownTitle) {
				c.app.Logger.Warn("force run skipped", "serviceId", serviceID, "error", err)
				fmt.Fprintf(c.out, "Nothing to run: %v\n", err)
				return nil
			}
			c.printReport(report)
			return err
		},
	}
	cmd.Flags().StringVar(&serviceFlag, "service", "", "service key or id")
	cmd.Flags().Int64Var(&mangaFlag, "manga", 0, "only scrape this manga")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func (c *cli) printReport(report scheduler.RunReport) {
	fmt.Fprintf(c.out, "Run %s: %d new chapters, %d backfilled, %d manga\n",
		report.RunID, report.NewChapters, report.Backfilled, len(report.MangaIDs))
	if len(report.Failed) > 0 {
		fmt.Fprintf(c.out, "Failed sources: %s\n", strings.Join(report.Failed, ", "))
	}
	if !report.NextWake.IsZero() {
		fmt.Fprintf(c.out, "Next wake: %s\n", report.NextWake.Format(time.RFC3339))
	}
}


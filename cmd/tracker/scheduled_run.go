package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/spf13/cobra"
)

func newScheduledRunCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduled-run",
		Short: "Manage one-off scrape requests",
	}
	cmd.AddCommand(newScheduledRunAddCmd(c), newScheduledRunListCmd(c))
	return cmd
}

func newScheduledRunAddCmd(c *cli) *cobra.Command {
	var (
		mangaID     int64
		serviceFlag string
		createdBy   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Request a scrape of one manga on one source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			serviceID, err := c.serviceID(ctx, serviceFlag)
			if err != nil {
				return err
			}
			ms, err := repository.NewMangaRepository(c.app.DB).GetService(ctx, mangaID, serviceID)
			if err != nil {
				return err
			}
			if ms == nil {
				return fmt.Errorf("manga %d is not tracked on service %d", mangaID, serviceID)
			}

			if strings.TrimSpace(createdBy) == "" {
				createdBy = "cli"
			}
			if err := repository.NewScheduledRunRepository(c.app.DB).Create(ctx, mangaID, serviceID, createdBy, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Scheduled run added for manga %d on service %d\n", mangaID, serviceID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&mangaID, "manga", 0, "manga id")
	cmd.Flags().StringVar(&serviceFlag, "service", "", "service key or id")
	cmd.Flags().StringVar(&createdBy, "by", "", "requester recorded with the run")
	_ = cmd.MarkFlagRequired("manga")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func newScheduledRunListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending scrape requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runs, err := repository.NewScheduledRunRepository(c.app.DB).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(c.out, "No scheduled runs")
				return nil
			}
			for _, run := range runs {
				fmt.Fprintf(c.out, "manga %d service %d title %s by %s at %s\n",
					run.MangaID, run.ServiceID, run.TitleID, run.CreatedBy, run.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

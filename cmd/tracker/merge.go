package main

import (
	"database/sql"
	"fmt"

	"github.com/gabriel/chapter-tracker/internal/resolve"
	"github.com/spf13/cobra"
)

func newMergeCmd(c *cli) *cobra.Command {
	var serviceFlag string

	cmd := &cobra.Command{
		Use:   "merge BASE TO_MERGE",
		Short: "Merge a duplicate manga into another",
		Long: "Moves chapters, sources, aliases and metadata of TO_MERGE onto BASE and deletes TO_MERGE.\n" +
			"With --service only that source's presence and chapters are moved.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			base, err := parseID(args[0])
			if err != nil {
				return err
			}
			toMerge, err := parseID(args[1])
			if err != nil {
				return err
			}

			var serviceID *int64
			if serviceFlag != "" {
				id, err := c.serviceID(ctx, serviceFlag)
				if err != nil {
					return err
				}
				serviceID = &id
			}

			merger := resolve.NewMerger(c.app.Logger)
			var result resolve.MergeResult
			committed, err := c.inTx(ctx, fmt.Sprintf("Commit merge of %d into %d?", toMerge, base), func(tx *sql.Tx) error {
				var mergeErr error
				result, mergeErr = merger.Merge(ctx, tx, base, toMerge, serviceID)
				if mergeErr != nil {
					return mergeErr
				}
				fmt.Fprintf(c.out, "Chapters moved: %d, sources moved: %d, aliases moved: %d, authors moved: %d, artists moved: %d\n",
					result.ChaptersMoved, result.ServicesMoved, result.AliasesMoved, result.AuthorsMoved, result.ArtistsMoved)
				return nil
			})
			if err != nil {
				return err
			}
			if committed {
				fmt.Fprintf(c.out, "Merged %d into %d\n", toMerge, base)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceFlag, "service", "", "only move this service (key or id)")
	return cmd
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel/chapter-tracker/internal/app"
	"github.com/gabriel/chapter-tracker/internal/config"
	"github.com/gabriel/chapter-tracker/internal/repository"
	"github.com/gabriel/chapter-tracker/internal/scheduler"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var errRolledBack = errors.New("rolled back")

type cli struct {
	debug bool
	yes   bool

	app     *app.App
	out     io.Writer
	confirm func(label string) (bool, error)
}

func newCLI() *cli {
	return &cli{out: os.Stdout, confirm: promptCommit}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Track chapter releases across manga sources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return c.close()
		},
	}

	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&c.yes, "yes", "y", false, "commit changes without asking")

	root.AddCommand(
		newRunOnceCmd(c),
		newRunForeverCmd(c),
		newForceRunCmd(c),
		newMaintenanceCmd(c),
		newMergeCmd(c),
		newScheduledRunCmd(c),
	)
	return root
}

func (c *cli) open() error {
	if c.app != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.debug {
		cfg.LogLevel = slog.LevelDebug
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	built, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	c.app = built
	return nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

// inTx runs fn in a transaction and asks before committing. Answering
// rollback discards the work and is not an error.
func (c *cli) inTx(ctx context.Context, label string, fn func(tx *sql.Tx) error) (bool, error) {
	err := repository.InTx(ctx, c.app.DB, func(tx *sql.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if c.yes {
			return nil
		}
		ok, err := c.confirm(label)
		if err != nil {
			return err
		}
		if !ok {
			return errRolledBack
		}
		return nil
	})
	if errors.Is(err, errRolledBack) {
		fmt.Fprintln(c.out, "Rolled back")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type selector interface {
	Run() (int, string, error)
}

func promptCommit(label string) (bool, error) {
	return chooseCommit(&promptui.Select{
		Label: label,
		Items: []string{"commit", "rollback"},
	})
}

func chooseCommit(prompt selector) (bool, error) {
	idx, _, err := prompt.Run()
	if err != nil {
		return false, fmt.Errorf("selection cancelled: %w", err)
	}
	return idx == 0, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// serviceID accepts a numeric id or a service key such as "mangadex".
func (c *cli) serviceID(ctx context.Context, raw string) (int64, error) {
	if id, err := parseID(raw); err == nil {
		return id, nil
	}
	service, err := repository.NewServiceRepository(c.app.DB).GetByKey(ctx, strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if service == nil {
		return 0, fmt.Errorf("%w %q", scheduler.ErrUnknownService, raw)
	}
	return service.ID, nil
}

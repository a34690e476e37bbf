package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/evpn/internal/formatter"
	"github.com/desertthunder/evpn/internal/shared"
	"github.com/urfave/cli/v3"
)

// History lists recent outcome events, or prunes old ones with --prune-days.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	if days := int(cmd.Int("prune-days")); days != 0 {
		if days < 0 {
			return fmt.Errorf("%w: --prune-days must be positive", shared.ErrInvalidFlag)
		}
		n, err := store.Events.Prune(ctx, time.Now().AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		r.logger.Info("pruned history", "events", n, "days", days)
		return r.writePlain("✓ Removed %d events\n", n)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	limit := int(cmd.Int("limit"))
	if limit < 0 {
		return fmt.Errorf("%w: --limit must be positive", shared.ErrInvalidFlag)
	}

	events, err := store.Events.List(ctx, limit)
	if err != nil {
		return err
	}

	data, err := formatter.History(format, events)
	if err != nil {
		return err
	}
	return r.writePlain("%s", data)
}

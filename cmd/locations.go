package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/desertthunder/evpn/internal/formatter"
	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/shared"
	"github.com/desertthunder/evpn/internal/tasks"
	"github.com/urfave/cli/v3"
)

// LocationsList prints the cached location directory.
func (r *Runner) LocationsList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	st := orch.Snapshot()
	data, err := formatter.Directory(format, st.Directory, st.Selected)
	if err != nil {
		return err
	}

	if output := cmd.String("output"); output != "" {
		path, err := formatter.WriteExport(output, "locations", format, data)
		if err != nil {
			return err
		}
		r.logger.Info("locations exported", "path", path, "count", st.Directory.Len())
		return r.writePlain("✓ %d locations written to %s\n", st.Directory.Len(), path)
	}

	if st.Directory.Len() == 0 && format == formatter.FormatText {
		r.writePlain("No cached locations. Run 'evpn locations refresh'.\n")
	}
	return r.writePlain("%s", data)
}

// LocationsRefresh fetches the directory from the backend and prints it.
func (r *Runner) LocationsRefresh(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.RefreshDirectory(ctx); err != nil {
		if reportFailure(r, err) {
			return fmt.Errorf("%w: run 'evpn retry' to try again", shared.ErrServiceUnavailable)
		}
		return err
	}

	st := orch.Snapshot()
	r.logger.Info("directory refreshed", "locations", st.Directory.Len())
	data, err := formatter.Directory(format, st.Directory, st.Selected)
	if err != nil {
		return err
	}
	return r.writePlain("%s", data)
}

// LocationsSelect pins a location by id.
func (r *Runner) LocationsSelect(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: location id", shared.ErrMissingArgument)
	}

	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.SelectLocationByID(ctx, models.ID(id)); err != nil {
		return err
	}

	loc := orch.Snapshot().Selected
	return r.writePlain("✓ Selected %s\n", loc.DisplayName())
}

// LocationsSmart clears the pinned location.
func (r *Runner) LocationsSmart(ctx context.Context, cmd *cli.Command) error {
	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.SelectLocation(ctx, nil); err != nil {
		return err
	}
	return r.writePlain("✓ Selected Smart Location\n")
}

// LocationsCheck sweeps the cached directory and reports which locations are reachable.
func (r *Runner) LocationsCheck(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if cmd.Int("workers") < 0 || cmd.Float("rate") < 0 {
		return fmt.Errorf("%w: workers and rate must not be negative", shared.ErrInvalidFlag)
	}

	engine, err := r.sweepEngine(ctx)
	if err != nil {
		return err
	}

	st := r.orch.Snapshot()
	opts := tasks.SweepOpts{
		NumWorkers: int(cmd.Int("workers")),
		RateLimit:  cmd.Float("rate"),
		Scheme:     r.config.Proxy.Scheme,
		Port:       r.config.Proxy.Port,
		BypassList: r.config.Proxy.BypassList,
	}

	progress := make(chan tasks.ProgressUpdate, 10)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for update := range progress {
			r.logger.Debug(update.Message, "phase", update.Phase, "step", update.Step, "total", update.Total)
		}
	}()

	r.logger.Info("checking locations", "count", st.Directory.Len(), "workers", opts.NumWorkers)
	res, err := engine.Sweep(ctx, progress, st.Directory, opts)
	close(progress)
	wg.Wait()
	if err != nil {
		if errors.Is(err, shared.ErrNoEndpoints) {
			return fmt.Errorf("%w: run 'evpn locations refresh' first", err)
		}
		return err
	}

	data, err := formatter.Sweep(format, res)
	if err != nil {
		return err
	}
	return r.writePlain("%s", data)
}

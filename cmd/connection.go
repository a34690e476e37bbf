package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/evpn/internal/formatter"
	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/session"
	"github.com/desertthunder/evpn/internal/shared"
	"github.com/urfave/cli/v3"
)

// reportFailure prints the user-facing message of an operation failure.
// It reports whether err was one.
func reportFailure(r *Runner, err error) bool {
	var f *session.Failure
	if !errors.As(err, &f) {
		return false
	}
	r.logger.Debug("operation failed", "kind", f.Kind, "source", f.Source(), "error", f.Err)
	r.writePlain("✗ %s\n", f.Message())
	return true
}

// Status prints the current connection state.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	out, err := formatter.Status(format, orch.Snapshot().Status())
	if err != nil {
		return err
	}
	return r.writePlain("%s", out)
}

// Connect applies the proxy for the selected location, or --id when given.
func (r *Runner) Connect(ctx context.Context, cmd *cli.Command) error {
	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	var target *models.Location
	if id := cmd.String("id"); id != "" {
		loc, ok := orch.Snapshot().Directory.Find(models.ID(id))
		if !ok {
			return fmt.Errorf("%w: %s (run 'evpn locations refresh')", shared.ErrLocationNotFound, id)
		}
		target = &loc
	}

	if err := orch.Connect(ctx, target); err != nil {
		if reportFailure(r, err) {
			return fmt.Errorf("%w: run 'evpn retry' to try again", shared.ErrServiceUnavailable)
		}
		return err
	}
	return r.writeConnection(orch.Snapshot())
}

// Disconnect clears the proxy.
func (r *Runner) Disconnect(ctx context.Context, cmd *cli.Command) error {
	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.Disconnect(ctx); err != nil {
		return err
	}
	return r.writeConnection(orch.Snapshot())
}

// Toggle flips the connection.
func (r *Runner) Toggle(ctx context.Context, cmd *cli.Command) error {
	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.Toggle(ctx); err != nil {
		if reportFailure(r, err) {
			return fmt.Errorf("%w: run 'evpn retry' to try again", shared.ErrServiceUnavailable)
		}
		return err
	}
	return r.writeConnection(orch.Snapshot())
}

func (r *Runner) writeConnection(s session.SessionState) error {
	if !s.Connected() {
		return r.writePlain("○ Disconnected\n")
	}
	host := ""
	if s.Endpoint != nil {
		host = s.Endpoint.Host
	}
	name := "Smart Location"
	if s.Selected != nil {
		name = s.Selected.DisplayName()
	}
	return r.writePlain("● Connected [%s] %s via %s\n", s.Badge.Text, name, host)
}

// Entitlement re-validates the subscription with the backend.
func (r *Runner) Entitlement(ctx context.Context, cmd *cli.Command) error {
	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.ValidateEntitlement(ctx); err != nil {
		if reportFailure(r, err) {
			return fmt.Errorf("%w: run 'evpn retry' to try again", shared.ErrServiceUnavailable)
		}
		return err
	}

	st := orch.Snapshot()
	if cmd.Bool("json") {
		return r.writeJSON(st.Entitlement, true)
	}
	if !st.Entitlement.Present() {
		return r.writePlain("✗ No active subscription\n")
	}
	return r.writePlain("✓ Subscription: %s\n", st.Entitlement.Title())
}

// Retry resets the proxy and re-runs the last failed operation.
func (r *Runner) Retry(ctx context.Context, cmd *cli.Command) error {
	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	last := orch.Snapshot().LastFailure
	retried, err := orch.Retry(ctx)
	if err != nil {
		if reportFailure(r, err) {
			return fmt.Errorf("%w: retry failed", shared.ErrServiceUnavailable)
		}
		return err
	}
	if !retried || last == nil {
		return r.writePlain("Nothing to retry\n")
	}

	r.writePlain("✓ Retried %s\n", last.Op.Kind)
	if last.Op.Kind == session.OpConnect {
		return r.writeConnection(orch.Snapshot())
	}
	return nil
}

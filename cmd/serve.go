package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/evpn/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve bootstraps the session and runs the control API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := r.orchestrator(ctx)
	if err != nil {
		return err
	}

	if err := orch.Bootstrap(ctx); err != nil {
		r.logger.Warn("bootstrap incomplete", "error", err)
	}

	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	router := server.NewRouter(orch, store.Events, r.logger)
	return server.Serve(ctx, server.NewHTTPServer(addr, router), r.logger)
}

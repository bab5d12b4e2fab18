package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, nil, serve)
}

// serve blocks until ctx is cancelled or a component fails.
func serve(ctx context.Context, a *app) error {
	log := a.logger
	g, gctx := errgroup.WithContext(ctx)

	// ─────────────────────────────────────────────────────────────────────────
	// OPS ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	if addr := a.cfg.Observability.MetricsAddr; addr != "" {
		srv := a.newOpsServer(addr)
		if err := srv.Listen(); err != nil {
			return err
		}

		g.Go(srv.Serve)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if a.cfg.Scheduler.Enabled {
		sched, err := a.newScheduler()
		if err == nil {
			err = sched.Start()
		}
		if err != nil {
			// cancels gctx so the ops endpoint shuts down too
			g.Go(func() error { return fmt.Errorf("scheduler: %w", err) })
		} else {
			g.Go(func() error {
				<-gctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.App.ShutdownTimeout)
				defer cancel()
				return sched.Stop(stopCtx)
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	log.Info("worker running",
		"env", a.cfg.App.Environment,
		"queue_mode", a.bus.QueueMode(),
		"scheduler", a.cfg.Scheduler.Enabled,
	)

	err := g.Wait()
	log.Info("worker stopping", "queue_mode", a.bus.QueueMode())
	return err
}

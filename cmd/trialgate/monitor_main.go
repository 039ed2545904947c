package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trialgate/trialgate/internal/ops"
	"github.com/trialgate/trialgate/internal/persistence/postgres"
)

func monitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve /health and /metrics",
		RunE:  runMonitor,
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	return cmd
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.Monitor.Addr
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	if err := a.metrics.Register(promReg); err != nil {
		return err
	}

	dbCheck := ops.HealthCheckFunc{
		CheckName: "postgres",
		Fn: func(ctx context.Context) error {
			return a.db.PingContext(ctx)
		},
	}

	monitor := ops.NewMonitor(addr, promReg, dbCheck)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Keep the review backlog gauge fresh while the listener is up.
	go func() {
		reviews := postgres.NewResolverRepo(a.db, a.db)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			if n, err := reviews.CountPendingReviews(ctx); err == nil {
				a.metrics.ReviewQueueDepth.Set(float64(n))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- monitor.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Pipeline.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("shutting down monitor")
	return monitor.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nearline/nd/internal/dedup"
	"github.com/nearline/nd/internal/queue"
	"github.com/nearline/nd/internal/worker"
)

var (
	runConcurrency int
	runOnce        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion worker pool",
	Long: `Drain the ingestion queue through the dedup engine. Workers keep
polling for re-queued cards until interrupted; --once exits when the
queue is empty instead. Several nd processes may run against the same
data directory at once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openKV()
		if err != nil {
			return err
		}
		defer store.Close()

		ev, err := openEvidence()
		if err != nil {
			return err
		}
		defer ev.Close()

		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics listener failed", "error", err)
				}
			}()
			defer srv.Close()
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
		}

		concurrency := cfg.Concurrency
		if runConcurrency > 0 {
			concurrency = runConcurrency
		}

		proc := dedup.NewProcessor(store, ev, cfg.Engine, logger)
		q := queue.New(store, cfg.Engine.KeyPrefix)
		pool := worker.New(worker.Config{
			Concurrency:      concurrency,
			IdlePollInterval: time.Second,
			ExitWhenDrained:  runOnce,
		}, proc, q, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := pool.Run(ctx); err != nil {
			return err
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Println("\nShut down.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "worker count (default from config)")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "exit when the queue is drained")
	rootCmd.AddCommand(runCmd)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/patchbay/patchbay/internal/observability"
	"github.com/patchbay/patchbay/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

var errEngineStopped = errors.New("engine not rendering")

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine headless on the null device",
		Long: `Start the engine on a clock-driven null device, load the configured
plugin chain and serve metrics until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, duration)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 = until interrupted)")
	return cmd
}

func runEngine(cmd *cobra.Command, duration time.Duration) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Close(ctx); err != nil {
			errutil.LogError(logger, "session close failed", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if cfg.Metrics.Addr != "" {
		srv := observability.NewServer(cfg.Metrics.Addr,
			observability.WithLogger(logger),
			observability.WithBuildInfo(version, commit),
			observability.WithReadiness(func() error {
				if !s.Running() {
					return errEngineStopped
				}
				return nil
			}),
		)
		errCh, err := srv.Start()
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				errutil.LogError(logger, "metrics server stop failed", err)
			}
		}()
		watchCtx, stopWatch := context.WithCancel(ctx)
		watched := srv.Metrics().Watch(watchCtx, s.Processor(), s.Manager(), s.Catalog())
		defer func() {
			stopWatch()
			<-watched
		}()
		go func() {
			if err, ok := <-errCh; ok {
				errutil.LogError(logger, "metrics server failed", err)
			}
		}()
	}

	if _, err := s.LoadChain(ctx, cfg.Plugins.Chain); err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	logger.Info("engine running",
		"sample_rate", cfg.Audio.SampleRate,
		"block_size", cfg.Audio.BlockSize,
		"plugins", len(s.Manager().Instances()),
		"latency_samples", s.Processor().TotalLatency())

	<-ctx.Done()
	s.Stop()

	st := s.Processor().Stats()
	logger.Info("engine stopped",
		slog.Uint64("blocks", st.TotalBlocksProcessed),
		slog.Float64("average_ms", st.AverageMs),
		slog.Float64("max_ms", st.MaxMs),
		slog.Float64("cpu_percent", st.CPUUsagePercent))
	cmd.Printf("rendered %d blocks, average %.3f ms, cpu %.1f%%\n",
		st.TotalBlocksProcessed, st.AverageMs, st.CPUUsagePercent)
	return nil
}

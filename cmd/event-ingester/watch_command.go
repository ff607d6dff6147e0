package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"civsphere/event-ingester/internal/importbuf"
	"civsphere/event-ingester/internal/metrics"
	"civsphere/event-ingester/internal/scanner"
	"civsphere/event-ingester/internal/sink"
	"civsphere/event-ingester/internal/store"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan due sources on a schedule and commit what they find",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runWatch(runCtx, ctx, mode)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Commit mode, append only (default from config)")
	return cmd
}

func runWatch(ctx context.Context, cc *commandContext, mode string) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	log := cc.logger

	if mode == "" {
		mode = cfg.Scanner.CommitMode
	}
	if mode, err = importbuf.ParseMode(mode); err != nil {
		return err
	}
	if mode == importbuf.ModeReplace {
		return errors.New("watch commits after every scan and only supports append mode")
	}

	if cfg.Store.LockPath != "" {
		lock, err := store.Lock(cfg.Store.LockPath)
		if err != nil {
			return err
		}
		defer func() { _ = lock.Unlock() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a, err := cc.openApp(ctx, m)
	if err != nil {
		return err
	}
	defer a.Close()

	sinks, err := a.sinks(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sink.CloseAll(sinks) }()

	if cfg.Metrics.Enable {
		srv := metrics.NewServer(cfg.Metrics.ListenAddress, reg)
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", cfg.Metrics.ListenAddress).Msg("metrics endpoint listening")
	}

	afterScan := func(ctx context.Context, res scanner.Result) {
		if a.scanner.Buffer().Len() > 0 {
			committed, err := a.scanner.Buffer().Commit(ctx, a.store, a.commitOptions(mode))
			if err != nil {
				log.Error().Err(err).Str("run_id", res.RunID.String()).Msg("commit failed")
			}
			if err := sink.FanOut(ctx, sinks, committed.Events); err != nil {
				log.Error().Err(err).Str("run_id", res.RunID.String()).Msg("sink push failed")
			}
		}
		if cfg.Scanner.StatePath != "" {
			if err := a.scanner.SaveState(cfg.Scanner.StatePath); err != nil {
				log.Warn().Err(err).Msg("save source state")
			}
		}
	}

	log.Info().
		Str("version", Version).
		Int("sources", len(a.scanner.Sources())).
		Int("sinks", len(sinks)).
		Msg("event-ingester watching")
	a.scanner.StartAutoRefresh(ctx, scanner.RefreshOptions{UpdateBuffer: true, AfterScan: afterScan})
	<-ctx.Done()
	a.scanner.StopAutoRefresh()
	log.Info().Msg("stopping")

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

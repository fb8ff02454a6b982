package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	router "github.com/dkeye/Tasting/internal/adapters/http"
	wssignal "github.com/dkeye/Tasting/internal/adapters/signal"
	"github.com/dkeye/Tasting/internal/adapters/summary"
	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/app/orch"
	"github.com/dkeye/Tasting/internal/config"
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("close store")
		}
	}()

	sup := suture.New("tasting", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Str("module", "supervisor").Fields(e.Map()).Msg(e.String())
		},
		Timeout: 10 * time.Second,
	})

	limiter := core.NewMessageRateLimiter(cfg.RateLimit.MaxMessages, cfg.RateLimit.Window, cfg.RateLimit.BaseBlock)
	o := orch.New(app.NewRegistry(), store, app.SimplePolicy{}, limiter, orch.Options{
		ReadOnlyAfter:   cfg.Session.ReadOnlyAfter,
		HistoryLimit:    cfg.Session.HistoryLimit,
		SpoilerLookback: cfg.Session.SpoilerLookback,
		KickGrace:       cfg.Session.KickGrace,
	})

	lifecycle := newLifecycle(store, cfg)
	lifecycle.SetNotifier(o)
	if err := wireSummaries(cfg, store, lifecycle, sup); err != nil {
		return err
	}

	sig := wssignal.NewSignalWSController(o, wssignal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		SendBuffer:   cfg.SendBuffer,
		InboundRate:  cfg.Inbound.Rate,
		InboundBurst: cfg.Inbound.Burst,
	})
	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Lifecycle: lifecycle, Signal: sig})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	sup.Add(services.NewHTTPService(srv, 5*time.Second))
	sup.Add(services.NewSweepService(lifecycle, cfg.Session.SweepInterval, limiter))

	log.Info().Str("module", "main").Str("addr", addr).Str("store", cfg.Store.Driver).Str("summary", cfg.Summary.Mode).Msg("Tasting server started")
	err = sup.Serve(ctx)
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	if unstopped, _ := sup.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			log.Warn().Str("module", "main").Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	log.Info().Str("module", "main").Msg("Server exited gracefully")
	return nil
}

// wireSummaries connects ended sessions to summary generation according to
// summary.mode.
func wireSummaries(cfg *config.Config, store app.Store, lifecycle *app.Lifecycle, sup *suture.Supervisor) error {
	mode := cfg.Summary.Mode
	if mode != config.SummaryOff && cfg.Summary.Endpoint == "" {
		log.Warn().Str("module", "main").Msg("summary.endpoint not set, summaries disabled")
		mode = config.SummaryOff
	}
	if mode == config.SummaryOff {
		return nil
	}

	worker := app.NewSummaryWorker(store, summary.NewHTTPSummarizer(cfg.Summary.Endpoint, cfg.Summary.APIKey, cfg.Summary.Timeout), app.SummaryOptions{
		Workers:      cfg.Summary.Workers,
		QueueSize:    cfg.Summary.QueueSize,
		Timeout:      cfg.Summary.Timeout,
		HistoryLimit: cfg.Session.HistoryLimit,
	})

	switch mode {
	case config.SummaryInProcess:
		lifecycle.SetSummaries(worker)
		sup.Add(worker)
	case config.SummaryAsynq:
		queue, err := summary.NewQueue(cfg.Summary.RedisURL, time.Hour)
		if err != nil {
			return err
		}
		consumer, err := summary.NewServer(cfg.Summary.RedisURL, cfg.Summary.Workers, worker)
		if err != nil {
			return err
		}
		lifecycle.SetSummaries(queue)
		sup.Add(consumer)
	}
	return nil
}

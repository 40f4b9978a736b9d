package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"packshot-studio/internal/app"
	"packshot-studio/internal/compositor"
	"packshot-studio/internal/config"
	"packshot-studio/internal/handlers"
	"packshot-studio/internal/mediagroup"
	"packshot-studio/internal/pipeline"
	"packshot-studio/internal/session"
	"packshot-studio/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg.LogLevel, os.Stdout)

	if err := cfg.RequireTelegram(); err != nil {
		logger.Error("config invalid", "err", err)
		os.Exit(1)
	}
	if !cfg.HasCredential() {
		logger.Warn("GEMINI_API_KEY not set, analysis and premium generation need a per-user /key")
	}

	studio := app.New(cfg, logger)

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: studio.HTTPClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	sessions := session.NewStore(session.Options{
		NewFlow: func(session.Key) *pipeline.Orchestrator {
			return studio.NewFlow("")
		},
		IdleTTL: cfg.SessionIdleTTL,
	})

	handler := handlers.New(handlers.Options{
		Telegram:       tg,
		Sessions:       sessions,
		Renderer:       studio.Compositor,
		FilenamePrefix: compositor.DefaultFilenamePrefix,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, logger)
	}

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onGroupFlush := func(group mediagroup.Group) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			handler.HandleMediaGroup(reqCtx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush:  onGroupFlush,
	})
	defer aggregator.Stop()
	handler.SetMediaGroupAggregator(aggregator)

	sweep := time.NewTicker(sweepInterval(cfg.SessionIdleTTL))
	defer sweep.Stop()

	providers := make([]string, 0, len(studio.Chain.Providers()))
	for _, p := range studio.Chain.Providers() {
		providers = append(providers, p.ID()+"/"+p.Model())
	}
	logger.Info("bot started",
		"username", tg.Username(),
		"providers", strings.Join(providers, ","),
	)

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "pending_albums", aggregator.Pending(), "sessions", sessions.Len())
			return
		case <-sweep.C:
			if evicted := sessions.Sweep(); len(evicted) > 0 {
				logger.Info("idle sessions evicted", "count", len(evicted), "active", sessions.Len())
			}
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devpulse/devpulse/internal/analytics"
	"github.com/devpulse/devpulse/internal/api"
	"github.com/devpulse/devpulse/internal/cache"
	"github.com/devpulse/devpulse/internal/ratelimit"
	"github.com/devpulse/devpulse/internal/store"
	"github.com/devpulse/devpulse/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DevPulse HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var c cache.Cache
	if cfg.Redis.Host != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
		if err != nil {
			return err
		}
		c = rc
	} else {
		logger.Info("redis not configured, using in-process cache")
		c = cache.NewMemoryCache()
	}
	defer c.Close()

	limiter := ratelimit.New(cfg.Forge.MaxRequests, cfg.Forge.RateWindow, cfg.Forge.ReserveTokens)

	dispatcher := syncer.NewDispatcher(st, limiter, logger)
	probe := syncer.NewProbe(st, c, limiter, logger)
	analyzer := analytics.NewAnalyzer(st, logger)

	server := api.NewServer(st, dispatcher, probe, analyzer, cfg.Forge.Token, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Server.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/lingotalk/internal/app"
)

const sessionSweepInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, flush, err := loadRuntime()
		if err != nil {
			return err
		}
		defer flush()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		built, err := app.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := built.Cleanup(); err != nil {
				logger.Error().Err(err).Msg("cleanup failed")
			}
		}()

		built.Sessions.StartJanitor(ctx, sessionSweepInterval)

		httpServer := &http.Server{
			Addr:              cfg.BindAddr,
			Handler:           built.API.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info().
				Str("addr", cfg.BindAddr).
				Str("llm", built.Backends["llm"]).
				Str("stt", built.Backends["stt"]).
				Str("tts", built.Backends["tts"]).
				Str("memory", built.Backends["memory"]).
				Msg("server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err := <-serveErr:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			logger.Info().Msg("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
			_ = httpServer.Close()
		}
		logger.Info().Msg("shutdown complete")
		return nil
	},
}

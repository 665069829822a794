package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"murder-mystery/internal/config"
	"murder-mystery/internal/gateway"
	"murder-mystery/internal/logging"
	"murder-mystery/internal/roomstore"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := roomstore.Open(ctx, cfg, clockwork.NewRealClock())
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.NotifyBackend).Msg("store setup failed")
	}
	defer backend.Close()

	srv := gateway.New(backend, cfg, clockwork.NewRealClock())
	httpServer := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.GatewayAddr).Str("backend", cfg.NotifyBackend).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/xatrelay/xatrelay/internal/config"
	"github.com/xatrelay/xatrelay/internal/relay"
	"github.com/xatrelay/xatrelay/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	registry := relay.NewRegistry(logger, relay.Options{
		HistoryLimit: cfg.HistoryLimit,
		RoomIDLength: cfg.RoomIDLength,
	})

	srv := server.New(cfg, registry, logger)
	go srv.Hub().Run()

	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("fixed_room", cfg.FixedRoomID).
			Msg("starting xat relay")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Warn().Err(err).Msg("forced HTTP shutdown")
	}
	if err := srv.Hub().Shutdown(shutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("hub shutdown incomplete")
	}

	logger.Info().Msg("server stopped")
}

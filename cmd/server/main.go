package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Mingle/internal/adapters/http"
	"github.com/dkeye/Mingle/internal/broker"
	"github.com/dkeye/Mingle/internal/config"
	"github.com/dkeye/Mingle/internal/hub"
	"github.com/dkeye/Mingle/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var presence store.Store
	switch cfg.Store {
	case "redis":
		client, err := store.DialRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect redis")
		}
		defer client.Close()
		presence = store.NewRedis(client)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis presence store")
	default:
		presence = store.NewMemory()
		log.Info().Msg("using in-memory presence store")
	}

	connections := hub.New()
	b := broker.New(presence, connections, cfg.ActivityWindow)

	reaper := broker.NewReaper(b, cfg.ActivityWindow, cfg.SweepInterval)
	go reaper.Run(ctx)

	r := router.SetupRouter(ctx, cfg, b, connections)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Mingle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

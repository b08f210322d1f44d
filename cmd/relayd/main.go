// Relayd - exchange market-data relay
//
// Maintains one upstream connection to the enabled market-data provider,
// multiplexes per-symbol subscriptions from downstream websocket clients,
// coalesces updates on per-kind timers, and rides out upstream rate limits
// with a persisted ban window.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tarikulceo/marketrelay/internal/alert"
	"github.com/tarikulceo/marketrelay/internal/config"
	"github.com/tarikulceo/marketrelay/internal/database"
	"github.com/tarikulceo/marketrelay/internal/exchange"
	"github.com/tarikulceo/marketrelay/internal/provider"
	"github.com/tarikulceo/marketrelay/internal/stream"
	"github.com/tarikulceo/marketrelay/internal/ws"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("listen", cfg.ListenAddr).
		Str("route", cfg.StreamRoute).
		Msg("⚡ Market-data relay starting...")

	// Database: provider registry + persisted ban state
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := db.SeedProviders("binance", "okx", "chainlink"); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed providers")
	}

	// Connection manager
	opts := exchange.Options{
		BanDuration:     cfg.BanDuration,
		CooldownWindow:  cfg.CooldownWindow,
		CooldownStrikes: cfg.CooldownStrikes,
		InitRetries:     cfg.InitRetries,
		InitRetryDelay:  cfg.InitRetryDelay,
	}
	manager := exchange.NewManager(opts, provider.NewClient, db, db, func(name string) provider.Credentials {
		key, secret, passphrase := config.ProviderCredentials(name)
		return provider.Credentials{APIKey: key, APISecret: secret, Passphrase: passphrase}
	})

	// Optional operator alerts
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		notifier, err := alert.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("Telegram alerts disabled")
		} else {
			manager.SetNotifier(notifier)
		}
	}

	// Fan-out hub + stream handlers + websocket server
	hub := ws.NewHub()
	registry := stream.NewRegistry(manager, hub, cfg.StreamRoute)
	server := ws.NewServer(hub, registry, cfg.StreamRoute)

	mux := http.NewServeMux()
	mux.Handle(cfg.StreamRoute, server.Handler())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("✅ Relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("🛑 Received shutdown signal")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown error")
	}

	registry.StopAll()
	manager.StopExchange()

	log.Info().Msg("👋 Goodbye!")
}

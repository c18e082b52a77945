// Command positionsyncd runs the position sync engine: the websocket +
// REST reconciliation loop, its MySQL-backed store, and the local control
// API described in SPEC_FULL.md §4/§6.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pivox/tradingV3/internal/api"
	"github.com/pivox/tradingV3/internal/bitmart"
	"github.com/pivox/tradingV3/internal/config"
	"github.com/pivox/tradingV3/internal/position"
	"github.com/pivox/tradingV3/internal/possync"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional .env file to load before reading the environment")
	flag.Parse()

	cfg := config.Load(*envFile)

	log := newLogger(cfg.LogLevel)

	if cfg.Bitmart.APIKey == "" || cfg.Bitmart.APISecret == "" || cfg.Bitmart.APIMemo == "" {
		log.Error().Msg("missing bitmart credentials: BITMART_API_KEY, BITMART_SECRET_KEY, and BITMART_API_MEMO are all required")
		os.Exit(1)
	}

	store, err := position.NewGormStore(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open position store")
	}
	defer store.Shutdown()

	ws := bitmart.NewWSClient(cfg.Bitmart, log)
	rest := bitmart.NewRESTClient(cfg.Bitmart, log)
	svc := possync.NewService(ws, rest, store, cfg.Bitmart.PollInterval(), log)

	addr := net.JoinHostPort(cfg.APIHost, strconv.Itoa(cfg.APIPort))
	server := api.New(addr, svc, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AutoStart {
		svc.Start(ctx)
		log.Info().Msg("position sync engine auto-started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown error")
		}
		svc.Stop()
		cancel()
	}()

	log.Info().Str("addr", addr).Msg("positionsyncd listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server error")
	}
	log.Info().Msg("positionsyncd stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

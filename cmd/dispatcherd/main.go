// Command dispatcherd runs the priority rate-limited dispatcher worker: a
// single run loop draining fourteen priority buckets under a minimum-spacing
// rule, checkpointing its residual queues so a restart resumes in place.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pivox/tradingV3/internal/config"
	"github.com/pivox/tradingV3/internal/dispatcher"
	"github.com/pivox/tradingV3/internal/httpactivity"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional .env file to load before reading the environment")
	flag.Parse()

	cfg := config.Load(*envFile)
	dcfg := cfg.Dispatcher

	log := newLogger(cfg.LogLevel).With().Str("component", "dispatcherd").Logger()

	if dcfg.ConfigPath != "" {
		y, err := config.LoadDispatcherYAML(dcfg.ConfigPath)
		if err != nil {
			log.Warn().Err(err).Str("path", dcfg.ConfigPath).Msg("failed to load dispatcher config override, using env defaults")
		} else if y.Name != "" {
			dcfg.Name = y.Name
		}
	}

	store, err := buildCheckpointStore(dcfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize checkpoint store")
	}

	worker := dispatcher.New(dcfg.Name, store, httpactivity.Dispatch, log)

	metricsAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(dcfg.MetricsPort))
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		log.Info().Str("addr", metricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("received shutdown signal, draining queue")

	worker.Close()
	<-worker.Done()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	log.Info().Str("name", dcfg.Name).Msg("dispatcherd stopped")
}

func buildCheckpointStore(dcfg config.DispatcherConfig) (dispatcher.CheckpointStore, error) {
	switch dcfg.CheckpointBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: dcfg.RedisAddr})
		return dispatcher.NewRedisCheckpointStore(client), nil
	case "file", "":
		return dispatcher.NewFileCheckpointStore(dcfg.CheckpointPath), nil
	default:
		return dispatcher.NewFileCheckpointStore(dcfg.CheckpointPath), nil
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/arkadian-hale/deadside-ingest/internal/config"
	"github.com/arkadian-hale/deadside-ingest/internal/observability"
	"github.com/arkadian-hale/deadside-ingest/internal/service"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Msg("Starting Deadside ingest daemon")

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(observability.TracerConfig{
			ServiceName:    "deadside-ingest",
			ServiceVersion: version,
			Endpoint:       cfg.OTLPEndpoint,
			Protocol:       cfg.OTLPProtocol,
			Enabled:        true,
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize tracer")
		} else {
			defer shutdown(context.Background())
		}
	}

	go observability.ServeMetrics(cfg.MetricsPort)

	svc, err := service.NewIngestService(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ingest service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := svc.Start(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()

	log.Info().Msg("Ingest service started successfully")

	select {
	case <-sigChan:
		log.Info().Msg("Received shutdown signal")
	case err := <-errChan:
		log.Error().Err(err).Msg("Ingest service error")
	}

	log.Info().Msg("Shutting down gracefully...")
	cancel()

	if err := svc.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	log.Info().Msg("Ingest service stopped")
}

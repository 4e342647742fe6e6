package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/arkadian-hale/deadside-ingest/internal/domain"
	"github.com/arkadian-hale/deadside-ingest/internal/observability"
)

// NATSSink publishes events as JSON on per-server subjects:
//
//	killfeed.<guild>.<server>.kill
//	killfeed.<guild>.<server>.connection
//	killfeed.<guild>.<server>.environment
//
// The downstream notification renderer subscribes to these subjects.
type NATSSink struct {
	nc *nats.Conn
}

// NewNATSSink connects to the NATS server.
func NewNATSSink(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", url).Msg("Connected to NATS notification sink")
	return &NATSSink{nc: nc}, nil
}

// Publish sends a single event. Publish order within one cycle is preserved
// because each cycle runs single-threaded per server.
func (s *NATSSink) Publish(ctx context.Context, guildID, serverID string, rec domain.Record) error {
	var suffix string
	switch rec.(type) {
	case domain.KillEvent:
		suffix = "kill"
	case domain.ConnectionEvent:
		suffix = "connection"
	case domain.EnvironmentEvent:
		suffix = "environment"
	default:
		return fmt.Errorf("unknown record type %T", rec)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	subject := fmt.Sprintf("killfeed.%s.%s.%s", guildID, serverID, suffix)
	if err := s.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	observability.EventsEmittedTotal.WithLabelValues(suffix).Inc()
	return nil
}

// Close flushes and closes the connection.
func (s *NATSSink) Close() error {
	if err := s.nc.Flush(); err != nil {
		s.nc.Close()
		return err
	}
	s.nc.Close()
	return nil
}

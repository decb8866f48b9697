// Package relay mirrors newly-inserted events to a Kafka topic so external
// systems can tap the stream without touching the SQLite store. The mirror
// is best-effort: a publish failure is logged by the caller and never blocks
// or aborts ingestion.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/event"
)

// Mirror publishes normalized events to Kafka.
type Mirror struct {
	writer *kafka.Writer
	topic  string
}

// New creates a Mirror, or nil when mirroring is disabled or unconfigured.
func New(cfg config.MirrorConfig) *Mirror {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		return nil
	}
	return &Mirror{
		topic: cfg.Topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish writes one event, keyed by event_id so per-key ordering holds.
// Leader-election errors are retried once with a short backoff.
func (m *Mirror) Publish(ctx context.Context, ev *event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.EventID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(ev.Source)},
		},
	}

	writeErr := m.writer.WriteMessages(ctx, msg)
	if writeErr != nil && (errors.Is(writeErr, kafka.NotLeaderForPartition) || errors.Is(writeErr, kafka.LeaderNotAvailable)) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		writeErr = m.writer.WriteMessages(ctx, msg)
	}
	if writeErr != nil {
		return fmt.Errorf("mirror publish to %s: %w", m.topic, writeErr)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (m *Mirror) Close() error {
	if m == nil {
		return nil
	}
	return m.writer.Close()
}

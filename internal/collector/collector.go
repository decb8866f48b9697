// Package collector drains the raw append source, normalizes each item into
// the canonical event schema and persists it into the event store exactly
// once per event identity. A single collector instance runs per upstream
// account, enforced by the Lease in lease.go.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxgate/voxgate/internal/event"
	"github.com/voxgate/voxgate/internal/rawlog"
	"github.com/voxgate/voxgate/internal/relay"
	"github.com/voxgate/voxgate/internal/store"
)

// Options configures a Collector.
type Options struct {
	RawLogPath  string
	OffsetPath  string
	Account     string
	MaxAttempts int // bounded retry ceiling for transient store failures
}

// Stats summarizes one collector pass.
type Stats struct {
	Published    int `json:"published"`
	Duplicates   int `json:"duplicates"`
	DeadLettered int `json:"dead_lettered"`
}

func (s *Stats) add(o Stats) {
	s.Published += o.Published
	s.Duplicates += o.Duplicates
	s.DeadLettered += o.DeadLettered
}

// Collector ingests raw lines into the event store.
type Collector struct {
	store  *store.EventStore
	mirror *relay.Mirror // nil when mirroring disabled
	opts   Options
}

// New creates a Collector.
func New(st *store.EventStore, mirror *relay.Mirror, opts Options) *Collector {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Collector{store: st, mirror: mirror, opts: opts}
}

// RunOnce drains everything currently available from the raw source.
// The source offset is persisted only after the whole batch is stored, so a
// crash mid-batch re-reads the batch; the store's dedup makes that safe.
func (c *Collector) RunOnce(ctx context.Context) (Stats, error) {
	offset := rawlog.ReadOffset(c.opts.OffsetPath)
	lines, newOffset, err := rawlog.ReadBatch(c.opts.RawLogPath, offset)
	if err != nil {
		return Stats{}, fmt.Errorf("read raw source: %w", err)
	}
	stats, err := c.IngestLines(ctx, lines)
	if err != nil {
		return stats, err
	}
	if newOffset != offset {
		if err := rawlog.WriteOffset(c.opts.OffsetPath, newOffset); err != nil {
			return stats, fmt.Errorf("persist offset: %w", err)
		}
	}
	return stats, nil
}

// IngestLines normalizes and stores a batch of raw items. A malformed item
// is dead-lettered with its original bytes and never blocks the stream; a
// store failure aborts the batch after bounded retries.
func (c *Collector) IngestLines(ctx context.Context, lines [][]byte) (Stats, error) {
	var stats Stats
	for _, line := range lines {
		ev, err := event.Normalize(line, c.opts.Account)
		if err != nil {
			if _, dlErr := c.store.AddDeadLetter(store.StageCollector, "", line, err.Error(), 0); dlErr != nil {
				return stats, fmt.Errorf("dead-letter malformed item: %w", dlErr)
			}
			stats.DeadLettered++
			slog.Warn("Malformed raw item dead-lettered", "error", err)
			continue
		}

		var inserted bool
		err = withRetry(ctx, c.opts.MaxAttempts, func() error {
			var insErr error
			inserted, insErr = c.store.InsertEvent(ev)
			return insErr
		})
		if err != nil {
			return stats, fmt.Errorf("store event %s: %w", ev.EventID, err)
		}
		if !inserted {
			stats.Duplicates++
			continue
		}
		stats.Published++

		if c.mirror != nil {
			if err := c.mirror.Publish(ctx, ev); err != nil {
				slog.Warn("Event mirror publish failed", "event_id", ev.EventID, "error", err)
			}
		}
	}
	return stats, nil
}

// Follow loops RunOnce at the poll interval until ctx is cancelled.
// A failing pass is logged and retried on the next tick; only cancellation
// ends follow mode. Returns accumulated stats.
func (c *Collector) Follow(ctx context.Context, interval time.Duration) (Stats, error) {
	var total Stats
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s, err := c.RunOnce(ctx)
		total.add(s)
		if err != nil {
			if ctx.Err() != nil {
				return total, nil
			}
			slog.Error("Collector pass failed, retrying next tick", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("Collector stopping", "published", total.Published,
				"duplicates", total.Duplicates, "dead_lettered", total.DeadLettered)
			return total, nil
		case <-ticker.C:
		}
	}
}

// withRetry runs op with bounded exponential backoff on failure.
func withRetry(ctx context.Context, attempts int, op func() error) error {
	backoff := 100 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
	return err
}

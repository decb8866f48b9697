// Package consumer provides the generic cursor consumer engine: read events
// after the named consumer's checkpoint, dispatch each one, and commit the
// checkpoint per batch. Delivery is at-least-once; the engine's
// processed-event markers make redelivered events no-ops so downstream side
// effects happen once.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/event"
	"github.com/voxgate/voxgate/internal/store"
)

// Handler processes one event. A returned error means the event will be
// redelivered on the next run until the retry threshold dead-letters it.
type Handler interface {
	Handle(ctx context.Context, ev *event.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev *event.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev *event.Event) error { return f(ctx, ev) }

// Engine is one named consumer's run loop.
type Engine struct {
	store       *store.EventStore
	name        string
	limit       int
	maxAttempts int
}

// New creates an Engine for the named consumer.
func New(st *store.EventStore, name string, limit, maxAttempts int) *Engine {
	if limit <= 0 {
		limit = 100
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Engine{store: st, name: name, limit: limit, maxAttempts: maxAttempts}
}

// RunResult summarizes one engine invocation.
type RunResult struct {
	TraceID      string `json:"trace_id"`
	Read         int    `json:"read"`
	Processed    int    `json:"processed"`
	Skipped      int    `json:"skipped"` // already-processed redeliveries
	DeadLettered int    `json:"dead_lettered"`
	Committed    bool   `json:"committed"`
	Checkpoint   int64  `json:"checkpoint"`
	// HandlerErr is the non-fatal mid-batch failure, if any. The offset is
	// left untouched and the whole batch is redelivered next run.
	HandlerErr error `json:"-"`
}

// RunOnce performs one short-lived consumer invocation. The checkpoint only
// advances after every event in the batch has either been processed or
// dead-lettered past the retry threshold. A returned error is fatal (store
// unusable); handler failures are reported in RunResult.HandlerErr.
//
// Concurrent invocation of the same consumer name is tolerated: dedup and
// commit atomicity live in the store, not in run exclusivity.
func (e *Engine) RunOnce(ctx context.Context, h Handler) (RunResult, error) {
	res := RunResult{TraceID: uuid.NewString()}

	checkpoint, err := e.store.Offset(e.name)
	if err != nil {
		return res, fmt.Errorf("load offset for %s: %w", e.name, err)
	}
	res.Checkpoint = checkpoint

	events, err := e.store.ReadSince(checkpoint, e.limit)
	if err != nil {
		return res, fmt.Errorf("read events for %s: %w", e.name, err)
	}
	res.Read = len(events)
	if len(events) == 0 {
		return res, nil
	}

	for _, ev := range events {
		done, err := e.store.AlreadyProcessed(e.name, ev.EventID)
		if err != nil {
			return res, fmt.Errorf("idempotence check: %w", err)
		}
		if done {
			res.Skipped++
			continue
		}

		if handleErr := h.Handle(ctx, ev); handleErr != nil {
			attempts, err := e.store.NoteFailure(e.name, ev.Seq, handleErr.Error())
			if err != nil {
				return res, fmt.Errorf("record failure: %w", err)
			}
			if attempts < e.maxAttempts {
				// Leave the offset untouched: the next run redelivers the
				// entire batch from the checkpoint.
				slog.Warn("Consumer event failed, batch will be redelivered",
					"consumer", e.name, "trace_id", res.TraceID,
					"event_id", ev.EventID, "attempts", attempts, "error", handleErr)
				res.HandlerErr = handleErr
				return res, nil
			}

			// Past the threshold only this event is skipped so the rest of
			// the batch is not starved.
			if _, err := e.store.AddDeadLetter(store.StageConsumer, ev.EventID, ev.Raw, handleErr.Error(), attempts); err != nil {
				return res, fmt.Errorf("dead-letter event %s: %w", ev.EventID, err)
			}
			if err := e.store.MarkProcessed(e.name, ev.EventID); err != nil {
				return res, fmt.Errorf("mark dead-lettered event: %w", err)
			}
			_ = e.store.ClearFailure(e.name, ev.Seq)
			res.DeadLettered++
			slog.Error("Consumer event dead-lettered",
				"consumer", e.name, "trace_id", res.TraceID,
				"event_id", ev.EventID, "attempts", attempts, "error", handleErr)
			continue
		}

		if err := e.store.MarkProcessed(e.name, ev.EventID); err != nil {
			return res, fmt.Errorf("mark processed: %w", err)
		}
		_ = e.store.ClearFailure(e.name, ev.Seq)
		res.Processed++
	}

	newCheckpoint := events[len(events)-1].Seq
	if err := e.store.CommitOffset(e.name, newCheckpoint); err != nil {
		return res, fmt.Errorf("commit offset for %s: %w", e.name, err)
	}
	res.Committed = true
	res.Checkpoint = newCheckpoint
	return res, nil
}

// Package store is the durable SQLite-backed event store shared by the
// collector and all consumers: normalized events, per-consumer cursor
// offsets, dead letters and the processed-event idempotence markers.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voxgate/voxgate/internal/event"
)

// EventStore wraps the shared SQLite database.
type EventStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at dbPath and applies the schema.
func Open(dbPath string) (*EventStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &EventStore{db: db}, nil
}

// DB returns the underlying *sql.DB for shared access (e.g. the auth gate).
func (s *EventStore) DB() *sql.DB { return s.db }

func (s *EventStore) Close() error { return s.db.Close() }

// InsertEvent persists one normalized event. Returns false when an event
// with the same event_id already exists; that is the defined duplicate
// outcome, not an error. The dedup check and the insert are a single
// statement, so concurrent attempts with the same id yield exactly one row.
func (s *EventStore) InsertEvent(ev *event.Event) (bool, error) {
	chatJSON, _ := json.Marshal(ev.Chat)
	senderJSON, _ := json.Marshal(ev.Sender)
	messageJSON, _ := json.Marshal(ev.Message)
	attachments := ev.Attachments
	if attachments == nil {
		attachments = []event.Attachment{}
	}
	attachmentsJSON, _ := json.Marshal(attachments)
	raw := ev.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	res, err := s.db.Exec(`
		INSERT INTO events (
			event_id, source, account, received_at, source_message_id,
			chat_json, sender_json, message_json, attachments_json, raw_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		ev.EventID, ev.Source, ev.Account, ev.ReceivedAt, ev.SourceMessageID,
		string(chatJSON), string(senderJSON), string(messageJSON),
		string(attachmentsJSON), string(raw), time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", ev.EventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if seq, err := res.LastInsertId(); err == nil {
		ev.Seq = seq
	}
	return true, nil
}

// ReadSince returns up to limit events with rowid greater than checkpoint,
// in strict insertion order.
func (s *EventStore) ReadSince(checkpoint int64, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, event_id, source, account, received_at, source_message_id,
		       chat_json, sender_json, message_json, attachments_json, raw_json
		FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, checkpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("read events since %d: %w", checkpoint, err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		var ev event.Event
		var account, srcMsgID sql.NullString
		var chatJSON, senderJSON, msgJSON, attachmentsJSON, rawJSON string
		if err := rows.Scan(&ev.Seq, &ev.EventID, &ev.Source, &account, &ev.ReceivedAt,
			&srcMsgID, &chatJSON, &senderJSON, &msgJSON, &attachmentsJSON, &rawJSON); err != nil {
			return nil, err
		}
		ev.Account = account.String
		ev.SourceMessageID = srcMsgID.String
		// Tolerate malformed sub-documents: a bad column leaves the zero
		// value rather than failing the whole read.
		_ = json.Unmarshal([]byte(chatJSON), &ev.Chat)
		_ = json.Unmarshal([]byte(senderJSON), &ev.Sender)
		_ = json.Unmarshal([]byte(msgJSON), &ev.Message)
		_ = json.Unmarshal([]byte(attachmentsJSON), &ev.Attachments)
		ev.Raw = json.RawMessage(rawJSON)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// CountEvents returns the number of stored events.
func (s *EventStore) CountEvents() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Consumer offsets
// ---------------------------------------------------------------------------

// ConsumerOffset is one named consumer's checkpoint.
type ConsumerOffset struct {
	ConsumerName string `json:"consumer_name"`
	Checkpoint   int64  `json:"checkpoint"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Offset returns the checkpoint for a named consumer, zero if none.
func (s *EventStore) Offset(name string) (int64, error) {
	var cp int64
	err := s.db.QueryRow(
		`SELECT last_event_rowid FROM consumer_offsets WHERE consumer_name = ?`, name,
	).Scan(&cp)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cp, err
}

// CommitOffset advances (or creates) a consumer's checkpoint.
func (s *EventStore) CommitOffset(name string, checkpoint int64) error {
	_, err := s.db.Exec(`
		INSERT INTO consumer_offsets (consumer_name, last_event_rowid, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(consumer_name)
		DO UPDATE SET last_event_rowid = excluded.last_event_rowid, updated_at = excluded.updated_at`,
		name, checkpoint, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("commit offset for %s: %w", name, err)
	}
	return nil
}

// ListOffsets returns all consumer offsets.
func (s *EventStore) ListOffsets() ([]ConsumerOffset, error) {
	rows, err := s.db.Query(
		`SELECT consumer_name, last_event_rowid, updated_at FROM consumer_offsets ORDER BY consumer_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConsumerOffset
	for rows.Next() {
		var o ConsumerOffset
		if err := rows.Scan(&o.ConsumerName, &o.Checkpoint, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ResetOffset deletes a consumer's checkpoint. Explicit reset tooling only.
func (s *EventStore) ResetOffset(name string) error {
	_, err := s.db.Exec(`DELETE FROM consumer_offsets WHERE consumer_name = ?`, name)
	return err
}

// ---------------------------------------------------------------------------
// Processed-event markers (dispatch idempotence under redelivery)
// ---------------------------------------------------------------------------

// AlreadyProcessed reports whether the consumer has completed this event.
func (s *EventStore) AlreadyProcessed(consumer, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM processed_events WHERE consumer_name = ? AND event_id = ?`,
		consumer, eventID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// MarkProcessed records that the consumer has completed this event.
func (s *EventStore) MarkProcessed(consumer, eventID string) error {
	_, err := s.db.Exec(`
		INSERT INTO processed_events (consumer_name, event_id, processed_at)
		VALUES (?, ?, ?) ON CONFLICT(consumer_name, event_id) DO NOTHING`,
		consumer, eventID, time.Now().Unix())
	return err
}

// UnmarkProcessed removes a processed marker so the event is redelivered.
// Used by dead-letter replay tooling only.
func (s *EventStore) UnmarkProcessed(consumer, eventID string) error {
	_, err := s.db.Exec(
		`DELETE FROM processed_events WHERE consumer_name = ? AND event_id = ?`,
		consumer, eventID)
	return err
}

// ---------------------------------------------------------------------------
// Per-event failure counters (retry-threshold discriminator)
// ---------------------------------------------------------------------------

// NoteFailure increments and returns the failure count for one event under
// one consumer.
func (s *EventStore) NoteFailure(consumer string, eventRowID int64, reason string) (int, error) {
	_, err := s.db.Exec(`
		INSERT INTO consumer_failures (consumer_name, event_rowid, attempts, last_error, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(consumer_name, event_rowid)
		DO UPDATE SET attempts = attempts + 1, last_error = excluded.last_error, updated_at = excluded.updated_at`,
		consumer, eventRowID, reason, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	var attempts int
	err = s.db.QueryRow(
		`SELECT attempts FROM consumer_failures WHERE consumer_name = ? AND event_rowid = ?`,
		consumer, eventRowID,
	).Scan(&attempts)
	return attempts, err
}

// ClearFailure removes the failure counter once an event succeeds or is
// dead-lettered.
func (s *EventStore) ClearFailure(consumer string, eventRowID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM consumer_failures WHERE consumer_name = ? AND event_rowid = ?`,
		consumer, eventRowID)
	return err
}

// ---------------------------------------------------------------------------
// Dead letters
// ---------------------------------------------------------------------------

// Dead letter stages.
const (
	StageCollector = "collector"
	StageConsumer  = "consumer"
)

// DeadLetter is one malformed or repeatedly-failing item.
type DeadLetter struct {
	ID          int64  `json:"id"`
	Stage       string `json:"stage"`
	EventID     string `json:"event_id,omitempty"`
	RawPayload  []byte `json:"raw_payload"`
	ErrorReason string `json:"error_reason"`
	FirstSeenAt int64  `json:"first_seen_at"`
	RetryCount  int    `json:"retry_count"`
	ReplayedAt  int64  `json:"replayed_at,omitempty"`
}

// AddDeadLetter records a failed item with its original bytes preserved.
func (s *EventStore) AddDeadLetter(stage, eventID string, raw []byte, reason string, retries int) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO dead_letters (stage, event_id, raw_payload, error_reason, first_seen_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		stage, eventID, raw, reason, time.Now().Unix(), retries)
	if err != nil {
		return 0, fmt.Errorf("dead-letter insert: %w", err)
	}
	return res.LastInsertId()
}

// ListDeadLetters returns dead letters, optionally filtered by stage.
// Replayed entries are excluded unless includeReplayed is set.
func (s *EventStore) ListDeadLetters(stage string, includeReplayed bool, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, stage, event_id, raw_payload, error_reason, first_seen_at, retry_count, replayed_at
	      FROM dead_letters WHERE 1=1`
	args := []any{}
	if stage != "" {
		q += ` AND stage = ?`
		args = append(args, stage)
	}
	if !includeReplayed {
		q += ` AND replayed_at IS NULL`
	}
	q += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeadLetter
	for rows.Next() {
		var (
			d          DeadLetter
			eventID    sql.NullString
			replayedAt sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.Stage, &eventID, &d.RawPayload, &d.ErrorReason,
			&d.FirstSeenAt, &d.RetryCount, &replayedAt); err != nil {
			return nil, err
		}
		d.EventID = eventID.String
		d.ReplayedAt = replayedAt.Int64
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDeadLetter fetches one dead letter by id.
func (s *EventStore) GetDeadLetter(id int64) (*DeadLetter, error) {
	var (
		d          DeadLetter
		eventID    sql.NullString
		replayedAt sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT id, stage, event_id, raw_payload, error_reason, first_seen_at, retry_count, replayed_at
		FROM dead_letters WHERE id = ?`, id,
	).Scan(&d.ID, &d.Stage, &eventID, &d.RawPayload, &d.ErrorReason,
		&d.FirstSeenAt, &d.RetryCount, &replayedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dead letter %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	d.EventID = eventID.String
	d.ReplayedAt = replayedAt.Int64
	return &d, nil
}

// MarkReplayed stamps a dead letter as replayed.
func (s *EventStore) MarkReplayed(id int64) error {
	_, err := s.db.Exec(`UPDATE dead_letters SET replayed_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

// CountDeadLetters returns pending (not yet replayed) dead letters per stage.
func (s *EventStore) CountDeadLetters() (map[string]int64, error) {
	rows, err := s.db.Query(
		`SELECT stage, COUNT(*) FROM dead_letters WHERE replayed_at IS NULL GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var stage string
		var n int64
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		out[stage] = n
	}
	return out, rows.Err()
}

package store

// Schema is applied on every open. Statements are idempotent so an existing
// database is upgraded in place.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL UNIQUE,
	source TEXT NOT NULL DEFAULT 'signal',
	account TEXT,
	received_at INTEGER NOT NULL,
	source_message_id TEXT,
	chat_json TEXT NOT NULL,
	sender_json TEXT NOT NULL,
	message_json TEXT NOT NULL,
	attachments_json TEXT NOT NULL,
	raw_json TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
CREATE INDEX IF NOT EXISTS idx_events_source_msg_id ON events(source_message_id);

CREATE TABLE IF NOT EXISTS consumer_offsets (
	consumer_name TEXT PRIMARY KEY,
	last_event_rowid INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_auth (
	sender_id TEXT PRIMARY KEY,
	transcript TEXT NOT NULL,
	code TEXT NOT NULL,
	source_message_id TEXT,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	consumed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dead_letters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stage TEXT NOT NULL,
	event_id TEXT,
	raw_payload BLOB NOT NULL,
	error_reason TEXT NOT NULL,
	first_seen_at INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	replayed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_dead_letters_stage ON dead_letters(stage);

CREATE TABLE IF NOT EXISTS processed_events (
	consumer_name TEXT NOT NULL,
	event_id TEXT NOT NULL,
	processed_at INTEGER NOT NULL,
	PRIMARY KEY (consumer_name, event_id)
);

CREATE TABLE IF NOT EXISTS consumer_failures (
	consumer_name TEXT NOT NULL,
	event_rowid INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (consumer_name, event_rowid)
);
`

package sqlite

// Schema defines the SQLite schema for sessions, the append-only turn log,
// and the long-term record store.
//
// The longterm_fts virtual table provides FTS5 lexical search over record
// text, title, and topics. It is kept in sync with longterm_records via
// INSERT/DELETE triggers; records are append-only so no UPDATE trigger is
// needed.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	context_ref      TEXT,
	status           TEXT NOT NULL DEFAULT 'active',
	created_at       TIMESTAMP NOT NULL,
	last_activity_at TIMESTAMP NOT NULL,
	ended_at         TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_status_activity
	ON sessions(status, last_activity_at);

CREATE TABLE IF NOT EXISTS turns (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES sessions(id),
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	tools_attempted TEXT,
	tools_succeeded TEXT,
	source_ids      TEXT,
	latency_ms      INTEGER NOT NULL DEFAULT 0,
	tokens_out      INTEGER NOT NULL DEFAULT 0,
	error           TEXT,
	incomplete      INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	UNIQUE(session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_turns_session_seq
	ON turns(session_id, seq);

CREATE TABLE IF NOT EXISTS longterm_records (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	text       TEXT NOT NULL,
	title      TEXT,
	url        TEXT,
	topics     TEXT,
	source_ids TEXT,
	embedding  BLOB,
	dimension  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_longterm_user_created
	ON longterm_records(user_id, created_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS longterm_fts USING fts5(
	text,
	title,
	topics,
	content='longterm_records',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS longterm_fts_ai AFTER INSERT ON longterm_records BEGIN
	INSERT INTO longterm_fts(rowid, text, title, topics)
	VALUES (new.rowid, new.text, new.title, new.topics);
END;

CREATE TRIGGER IF NOT EXISTS longterm_fts_ad AFTER DELETE ON longterm_records BEGIN
	INSERT INTO longterm_fts(longterm_fts, rowid, text, title, topics)
	VALUES ('delete', old.rowid, old.text, old.title, old.topics);
END;
`

// Package sqlite implements the storage interfaces on SQLite via
// modernc.org/sqlite (CGO-free). This is the default engine: sessions, the
// turn log, and long-term records all live in one database file, with FTS5
// for lexical search and in-process cosine similarity for vector search.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/pkg/types"
)

// Ensure *Store implements the full storage surface at compile time.
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens a SQLite database, configures WAL mode, and creates the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode allows readers to proceed without blocking
	// the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of returning an immediate SQLITE_BUSY when the connection
	// is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession persists a new session.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if session == nil {
		return storage.ErrInvalidInput
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, context_ref, status, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, nullString(session.ContextRef),
		string(session.Status), session.CreatedAt, session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, context_ref, status, created_at, last_activity_at, ended_at
		FROM sessions WHERE id = ?`, id)

	var session types.Session
	var contextRef sql.NullString
	var status string
	var endedAt sql.NullTime
	err := row.Scan(&session.ID, &session.UserID, &contextRef, &status,
		&session.CreatedAt, &session.LastActivityAt, &endedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get session: %w", err)
	}

	session.Status = types.SessionStatus(status)
	if contextRef.Valid {
		session.ContextRef = contextRef.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	return &session, nil
}

// TouchSession updates the session's last-activity timestamp.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("sqlite: touch session: %w", err)
	}
	return requireRow(res)
}

// EndSession marks the session as ended. Ending an already ended session is
// a no-op so that explicit close and the inactivity sweeper can race safely.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = COALESCE(ended_at, ?)
		WHERE id = ?`, string(types.SessionEnded), at, id)
	if err != nil {
		return fmt.Errorf("sqlite: end session: %w", err)
	}
	return requireRow(res)
}

// ListIdleSessions returns active sessions whose last activity predates cutoff.
func (s *Store) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, context_ref, status, created_at, last_activity_at, ended_at
		FROM sessions
		WHERE status = ? AND last_activity_at < ?
		ORDER BY last_activity_at ASC`,
		string(types.SessionActive), cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list idle sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []types.Session
	for rows.Next() {
		var session types.Session
		var contextRef sql.NullString
		var status string
		var endedAt sql.NullTime
		if err := rows.Scan(&session.ID, &session.UserID, &contextRef, &status,
			&session.CreatedAt, &session.LastActivityAt, &endedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		session.Status = types.SessionStatus(status)
		if contextRef.Valid {
			session.ContextRef = contextRef.String
		}
		if endedAt.Valid {
			t := endedAt.Time
			session.EndedAt = &t
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// AppendTurn assigns the next gapless sequence number for the turn's session
// and inserts the turn in a single transaction. Appending to an ended
// session returns storage.ErrSessionEnded; to an unknown session,
// storage.ErrNotFound.
func (s *Store) AppendTurn(ctx context.Context, turn *types.Turn) error {
	if turn == nil {
		return storage.ErrInvalidInput
	}
	if err := turn.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	attempted, err := marshalStrings(turn.ToolsAttempted)
	if err != nil {
		return fmt.Errorf("failed to marshal tools_attempted: %w", err)
	}
	succeeded, err := marshalStrings(turn.ToolsSucceeded)
	if err != nil {
		return fmt.Errorf("failed to marshal tools_succeeded: %w", err)
	}
	sourceIDs, err := marshalStrings(turn.SourceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source_ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append turn: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM sessions WHERE id = ?`, turn.SessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: session %s", storage.ErrNotFound, turn.SessionID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: session status: %w", err)
	}
	if status == string(types.SessionEnded) {
		return fmt.Errorf("%w: %s", storage.ErrSessionEnded, turn.SessionID)
	}

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`,
		turn.SessionID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("sqlite: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (
			id, session_id, seq, role, content,
			tools_attempted, tools_succeeded, source_ids,
			latency_ms, tokens_out, error, incomplete, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, seq, string(turn.Role), turn.Content,
		attempted, succeeded, sourceIDs,
		turn.LatencyMS, turn.TokensOut, nullString(turn.Error),
		boolToInt(turn.Incomplete), turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit append turn: %w", err)
	}

	turn.Seq = seq
	return nil
}

// ListTurns returns the session's turns ordered by sequence number.
func (s *Store) ListTurns(ctx context.Context, sessionID string, opts storage.ListOptions) ([]types.Turn, error) {
	opts.Normalize()

	rows, err := s.db.QueryContext(ctx, turnSelect+`
		WHERE session_id = ?
		ORDER BY seq ASC
		LIMIT ? OFFSET ?`, sessionID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTurns(rows)
}

// LastTurns returns the most recent n turns, ordered oldest first.
func (s *Store) LastTurns(ctx context.Context, sessionID string, n int) ([]types.Turn, error) {
	if n < 1 {
		n = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (`+turnSelect+`
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?)
		ORDER BY seq ASC`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: last turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTurns(rows)
}

const turnSelect = `
	SELECT id, session_id, seq, role, content,
		tools_attempted, tools_succeeded, source_ids,
		latency_ms, tokens_out, error, incomplete, created_at
	FROM turns`

// scanTurns reads all rows returned by a turnSelect query.
func scanTurns(rows *sql.Rows) ([]types.Turn, error) {
	var turns []types.Turn
	for rows.Next() {
		var turn types.Turn
		var role string
		var attempted, succeeded, sourceIDs, errMsg sql.NullString
		var incomplete int

		err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Seq, &role, &turn.Content,
			&attempted, &succeeded, &sourceIDs,
			&turn.LatencyMS, &turn.TokensOut, &errMsg, &incomplete, &turn.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}

		turn.Role = types.Role(role)
		turn.Incomplete = incomplete != 0
		if errMsg.Valid {
			turn.Error = errMsg.String
		}
		if err := unmarshalStrings(attempted, &turn.ToolsAttempted); err != nil {
			return nil, fmt.Errorf("unmarshal tools_attempted: %w", err)
		}
		if err := unmarshalStrings(succeeded, &turn.ToolsSucceeded); err != nil {
			return nil, fmt.Errorf("unmarshal tools_succeeded: %w", err)
		}
		if err := unmarshalStrings(sourceIDs, &turn.SourceIDs); err != nil {
			return nil, fmt.Errorf("unmarshal source_ids: %w", err)
		}

		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return turns, nil
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalStrings(ns sql.NullString, dest *[]string) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dest)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireRow converts a zero-rows-affected update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

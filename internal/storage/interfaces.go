// Package storage provides composable storage interfaces for the Brieflens
// agent.
//
// The storage layer is split into small, focused interfaces that can be
// implemented independently and composed as needed: the session registry,
// the append-only turn log, and the long-term record store. The SQLite
// backend implements all three; the Postgres backend implements only
// LongTermStore (the one layer with cross-session durability and network
// I/O on the hot path).
package storage

import (
	"context"
	"time"

	"github.com/brieflens/brieflens/pkg/types"
)

// SessionStore manages the session registry.
type SessionStore interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID.
	// Returns ErrNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*types.Session, error)

	// TouchSession updates the session's last-activity timestamp.
	TouchSession(ctx context.Context, id string, at time.Time) error

	// EndSession marks the session as ended. Idempotent: ending an already
	// ended session is a no-op. Returns ErrNotFound for unknown sessions.
	EndSession(ctx context.Context, id string, at time.Time) error

	// ListIdleSessions returns active sessions whose last activity is before
	// the given cutoff. Used by the inactivity sweeper.
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]types.Session, error)
}

// TurnStore is the append-only turn log. Turns are immutable once written.
type TurnStore interface {
	// AppendTurn assigns the next sequence number for the turn's session and
	// persists the turn. Sequence numbers are strictly increasing and gapless
	// per session; the assignment and insert happen in one transaction.
	// The assigned Seq is written back into the turn. Returns ErrSessionEnded
	// when the session has ended and ErrNotFound when it doesn't exist.
	AppendTurn(ctx context.Context, turn *types.Turn) error

	// ListTurns returns the session's turns ordered by sequence number.
	ListTurns(ctx context.Context, sessionID string, opts ListOptions) ([]types.Turn, error)

	// LastTurns returns the most recent n turns for the session, ordered
	// oldest first. This is the read the short-term window is rebuilt from.
	LastTurns(ctx context.Context, sessionID string, n int) ([]types.Turn, error)
}

// LongTermStore is the durable, per-user record store. Reads are concurrent
// safe; writes are append-only and never lock against concurrent reads.
type LongTermStore interface {
	// Write persists a long-term record. Records are never updated in place.
	Write(ctx context.Context, record *types.LongTermRecord) error

	// Get retrieves a record by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*types.LongTermRecord, error)

	// LexicalSearch performs keyword/full-text search over the user's records,
	// best match first.
	LexicalSearch(ctx context.Context, userID, query string, opts SearchOptions) ([]types.LongTermRecord, error)

	// SemanticSearch performs vector-similarity search over the user's
	// records, most similar first. Records without embeddings are skipped.
	SemanticSearch(ctx context.Context, userID string, vector []float32, opts SearchOptions) ([]types.LongTermRecord, error)

	// Nearest returns the records closest to the seed record's embedding,
	// excluding the seed itself. Returns ErrNotFound when the seed doesn't
	// exist or has no embedding.
	Nearest(ctx context.Context, userID, seedID string, limit int) ([]types.LongTermRecord, error)

	// Close releases any resources held by the store.
	Close() error
}

// Store composes the full storage surface backed by a single engine.
type Store interface {
	SessionStore
	TurnStore
	LongTermStore
}

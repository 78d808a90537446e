package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all long-term records. Lives in the postgres
// package so the external test package can reset state between tests without
// access to the unexported db handle.
func (s *LongTermStore) TruncateForTest(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE longterm_records"); err != nil {
		return fmt.Errorf("postgres: failed to truncate longterm_records: %w", err)
	}
	return nil
}

// VectorSearchEnabled reports whether the pgvector extension was detected,
// so tests can skip semantic assertions on servers without it.
func (s *LongTermStore) VectorSearchEnabled() bool {
	return s.pgvectorAvailable
}

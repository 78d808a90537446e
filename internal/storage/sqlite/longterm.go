package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/pkg/types"
)

// semanticSearchMaxCandidates caps the number of embeddings loaded into
// memory during a semantic search. Embeddings are selected in recency order
// (newest first) so recently-ingested records are always considered. For
// typical per-user datasets this limit is never hit; for very large datasets,
// use the Postgres backend with pgvector for indexed ANN search.
const semanticSearchMaxCandidates = 10_000

// Write persists a long-term record. Records are append-only.
func (s *Store) Write(ctx context.Context, record *types.LongTermRecord) error {
	if record == nil {
		return storage.ErrInvalidInput
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	topics, err := marshalStrings(record.Topics)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	sourceIDs, err := marshalStrings(record.SourceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source_ids: %w", err)
	}

	var blob []byte
	dimension := len(record.Embedding)
	if dimension > 0 {
		blob = serializeEmbedding(record.Embedding)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO longterm_records (
			id, user_id, kind, text, title, url,
			topics, source_ids, embedding, dimension, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, string(record.Kind), record.Text,
		nullString(record.Title), nullString(record.URL),
		topics, sourceIDs, blob, dimension, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: write long-term record: %w", err)
	}
	return nil
}

// Get retrieves a long-term record by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.LongTermRecord, error) {
	row := s.db.QueryRowContext(ctx, recordSelect+` WHERE id = ?`, id)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get record: %w", err)
	}
	return record, nil
}

// LexicalSearch performs FTS5-backed full-text search over the user's
// records, best match first. FTS5 rank values are negative (more negative ==
// better match), so ordering by rank ASC gives the best results first.
func (s *Store) LexicalSearch(ctx context.Context, userID, query string, opts storage.SearchOptions) ([]types.LongTermRecord, error) {
	opts.Normalize()

	if strings.TrimSpace(query) == "" {
		return []types.LongTermRecord{}, nil
	}

	// Sanitise the raw query so it is safe to pass to FTS5's MATCH operator.
	// FTS5 syntax is fragile: an unbalanced quote or stray operator keyword
	// causes "fts5: syntax error".
	ftsQuery := sanitiseFTSQuery(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.kind, r.text, r.title, r.url,
			r.topics, r.source_ids, r.embedding, r.dimension, r.created_at
		FROM longterm_fts fts
		JOIN longterm_records r ON r.rowid = fts.rowid
		WHERE longterm_fts MATCH ? AND r.user_id = ?
		ORDER BY rank
		LIMIT ? OFFSET ?`,
		ftsQuery, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: LexicalSearch MATCH %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: LexicalSearch scan: %w", err)
	}
	records = filterRecords(records, opts)

	// Fuzzy fallback: retry with OR'd terms when the strict query found nothing.
	if opts.FuzzyFallback && len(records) == 0 {
		terms := strings.Fields(query)
		if len(terms) > 1 {
			relaxed := opts
			relaxed.FuzzyFallback = false // prevent recursion
			return s.LexicalSearch(ctx, userID, strings.Join(terms, " OR "), relaxed)
		}
	}

	return records, nil
}

// SemanticSearch ranks the user's records by cosine similarity to the query
// vector. Embeddings are loaded into Go memory; the candidate pool is capped
// at semanticSearchMaxCandidates (most-recent first).
func (s *Store) SemanticSearch(ctx context.Context, userID string, vector []float32, opts storage.SearchOptions) ([]types.LongTermRecord, error) {
	opts.Normalize()

	if len(vector) == 0 {
		return []types.LongTermRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, embedding, dimension
		FROM longterm_records
		WHERE user_id = ? AND dimension > 0
		ORDER BY created_at DESC
		LIMIT ?`, userID, semanticSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored

	for rows.Next() {
		var id string
		var blob []byte
		var dim int
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			continue
		}
		embedding, err := deserializeEmbedding(blob, dim)
		if err != nil {
			continue
		}
		candidates = append(candidates, scored{id, cosineSimilarity(vector, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate embeddings: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var records []types.LongTermRecord
	for _, c := range candidates {
		if len(records) >= opts.Limit+opts.Offset {
			break
		}
		record, err := s.Get(ctx, c.id)
		if err != nil {
			continue
		}
		if !matchesFilters(*record, opts) {
			continue
		}
		records = append(records, *record)
	}

	if opts.Offset >= len(records) {
		return []types.LongTermRecord{}, nil
	}
	return records[opts.Offset:], nil
}

// Nearest returns the records closest to the seed record's embedding,
// excluding the seed itself.
func (s *Store) Nearest(ctx context.Context, userID, seedID string, limit int) ([]types.LongTermRecord, error) {
	if limit < 1 {
		limit = 5
	}

	seed, err := s.Get(ctx, seedID)
	if err != nil {
		return nil, err
	}
	if len(seed.Embedding) == 0 || seed.UserID != userID {
		return nil, storage.ErrNotFound
	}

	results, err := s.SemanticSearch(ctx, userID, seed.Embedding,
		storage.SearchOptions{Limit: limit + 1})
	if err != nil {
		return nil, err
	}

	var filtered []types.LongTermRecord
	for _, record := range results {
		if record.ID == seedID {
			continue
		}
		filtered = append(filtered, record)
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

const recordSelect = `
	SELECT id, user_id, kind, text, title, url,
		topics, source_ids, embedding, dimension, created_at
	FROM longterm_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.LongTermRecord, error) {
	var record types.LongTermRecord
	var kind string
	var title, url, topics, sourceIDs sql.NullString
	var blob []byte
	var dim int

	err := row.Scan(&record.ID, &record.UserID, &kind, &record.Text,
		&title, &url, &topics, &sourceIDs, &blob, &dim, &record.CreatedAt)
	if err != nil {
		return nil, err
	}

	record.Kind = types.RecordKind(kind)
	if title.Valid {
		record.Title = title.String
	}
	if url.Valid {
		record.URL = url.String
	}
	if err := unmarshalStrings(topics, &record.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics: %w", err)
	}
	if err := unmarshalStrings(sourceIDs, &record.SourceIDs); err != nil {
		return nil, fmt.Errorf("unmarshal source_ids: %w", err)
	}
	if dim > 0 {
		embedding, err := deserializeEmbedding(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("deserialize embedding: %w", err)
		}
		record.Embedding = embedding
	}
	return &record, nil
}

func scanRecords(rows *sql.Rows) ([]types.LongTermRecord, error) {
	var records []types.LongTermRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// filterRecords applies kind/topic/time filters that FTS5 cannot express.
func filterRecords(records []types.LongTermRecord, opts storage.SearchOptions) []types.LongTermRecord {
	var out []types.LongTermRecord
	for _, record := range records {
		if matchesFilters(record, opts) {
			out = append(out, record)
		}
	}
	return out
}

func matchesFilters(record types.LongTermRecord, opts storage.SearchOptions) bool {
	if opts.Kind != "" && string(record.Kind) != opts.Kind {
		return false
	}
	if !opts.CreatedAfter.IsZero() && !record.CreatedAt.After(opts.CreatedAfter) {
		return false
	}
	if len(opts.Topics) > 0 {
		found := false
		for _, want := range opts.Topics {
			for _, have := range record.Topics {
				if strings.EqualFold(want, have) {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// serializeEmbedding encodes a float32 vector as a little-endian byte blob.
func serializeEmbedding(vec []float32) []byte {
	blob := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeEmbedding decodes a little-endian byte blob into a float32
// vector, validating the stored dimension.
func deserializeEmbedding(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("embedding blob is %d bytes, expected %d for dimension %d",
			len(blob), 4*dim, dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sanitiseFTSQuery converts a free-form user query into a safe FTS5 MATCH
// expression. It strips FTS5-special characters, removes common stop words,
// and uses prefix matching (term*) for better recall.
//
// Example: "What is quantum computing?" → "quantum* OR computing*"
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `,
		`'`, ` `,
		`(`, ` `,
		`)`, ` `,
		`*`, ` `,
		`-`, ` `,
		`^`, ` `,
		`?`, ` `,
		`:`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}

	if len(terms) == 0 {
		// All words were stop words; fall back to a lowercased form of the
		// cleaned text so FTS5 does not interpret uppercase AND/OR/NOT as
		// operators.
		return strings.ToLower(strings.TrimSpace(cleaned))
	}

	return strings.Join(terms, " OR ")
}

// ftsStopWords carry no discriminative value in a MATCH expression.
var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"about": true, "into": true, "through": true, "during": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "it": true, "we": true, "they": true, "my": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true, // post-apostrophe fragments
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/filings-rag/internal/core/domain"
)

const chunkColumns = `id, ticker, filing_id, form_type, section, chunk_index, text, COALESCE(source_url, ''), created_at`

// scopeClause keeps unset filter fields from constraining the query.
const scopeClause = `($2 = '' OR ticker = $2) AND ($3 = '' OR form_type = $3) AND ($4 = '' OR section = $4)`

// ChunkRepository serves both retrieval signals from one Postgres table:
// pgvector cosine distance and a generated tsvector column.
type ChunkRepository struct {
	db        *sql.DB
	dimension int
}

func NewChunkRepository(db *sql.DB, dimension int) *ChunkRepository {
	return &ChunkRepository{db: db, dimension: dimension}
}

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	vectorType := "vector"
	if r.dimension > 0 {
		vectorType = fmt.Sprintf("vector(%d)", r.dimension)
	}
	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS filing_chunks (
	id TEXT PRIMARY KEY,
	ticker TEXT NOT NULL,
	filing_id TEXT NOT NULL,
	form_type TEXT NOT NULL,
	section TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	source_url TEXT,
	embedding %s NOT NULL,
	text_search TSVECTOR GENERATED ALWAYS AS (
		to_tsvector('english', section || ' ' || text)
	) STORED,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_filing_chunks_scope ON filing_chunks(ticker, form_type, section);
CREATE INDEX IF NOT EXISTS idx_filing_chunks_text_search ON filing_chunks USING GIN (text_search);
`, vectorType)
	if r.dimension > 0 {
		query += `CREATE INDEX IF NOT EXISTS idx_filing_chunks_embedding ON filing_chunks USING hnsw (embedding vector_cosine_ops);
`
	}
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO filing_chunks (
	id, ticker, filing_id, form_type, section, chunk_index, text, source_url, embedding, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	text = EXCLUDED.text,
	source_url = EXCLUDED.source_url,
	embedding = EXCLUDED.embedding
`)
	if err != nil {
		return fmt.Errorf("prepare chunk upsert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		_, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.Ticker, chunk.FilingID, string(chunk.FormType), chunk.Section, chunk.ChunkIndex,
			chunk.Text, chunk.SourceURL, pgvector.NewVector(chunk.Embedding), chunk.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

func (r *ChunkRepository) VectorSearch(
	ctx context.Context,
	vector []float32,
	filter domain.ScopeFilter,
	limit int,
) ([]domain.SearchHit, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+chunkColumns+`, 1 - (embedding <=> $1) AS score
FROM filing_chunks
WHERE `+scopeClause+`
ORDER BY embedding <=> $1, id
LIMIT $5
`, pgvector.NewVector(vector), filter.Ticker, string(filter.FormType), filter.Section, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search query: %w", err)
	}
	return scanHits(rows)
}

// orLexemesQuery ORs the lexemes of $1 into a tsquery. Lexemes are quoted and
// cast rather than re-parsed with to_tsquery, so parser output such as
// "10.0.0.7:6333" cannot be read as tsquery syntax.
const orLexemesQuery = `
WITH lexemes AS (
	SELECT unnest(tsvector_to_array(to_tsvector('english', $1))) AS lexeme
), q AS (
	SELECT COALESCE(
		string_agg('''' || replace(replace(lexeme, '\', '\\'), '''', '''''') || '''', ' | '),
		''
	)::tsquery AS query
	FROM lexemes
)`

// KeywordSearch ORs the question's lexemes so a long natural-language
// question still matches chunks that share only some of its terms.
func (r *ChunkRepository) KeywordSearch(
	ctx context.Context,
	text string,
	filter domain.ScopeFilter,
	limit int,
) ([]domain.SearchHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, orLexemesQuery+`
SELECT `+chunkColumns+`, ts_rank_cd(text_search, q.query) AS score
FROM filing_chunks, q
WHERE text_search @@ q.query AND `+scopeClause+`
ORDER BY score DESC, id
LIMIT $5
`, text, filter.Ticker, string(filter.FormType), filter.Section, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search query: %w", err)
	}
	return scanHits(rows)
}

func (r *ChunkRepository) FetchChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+chunkColumns+`
FROM filing_chunks
WHERE id = $1
`, id)

	var chunk domain.Chunk
	var formType string
	err := row.Scan(
		&chunk.ID, &chunk.Ticker, &chunk.FilingID, &formType, &chunk.Section, &chunk.ChunkIndex,
		&chunk.Text, &chunk.SourceURL, &chunk.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrChunkNotFound, "get chunk", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	chunk.FormType = domain.FormType(formType)
	return &chunk, nil
}

func scanHits(rows *sql.Rows) ([]domain.SearchHit, error) {
	defer rows.Close()

	var out []domain.SearchHit
	for rows.Next() {
		var chunk domain.Chunk
		var formType string
		var score float64
		if err := rows.Scan(
			&chunk.ID, &chunk.Ticker, &chunk.FilingID, &formType, &chunk.Section, &chunk.ChunkIndex,
			&chunk.Text, &chunk.SourceURL, &chunk.CreatedAt, &score,
		); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		chunk.FormType = domain.FormType(formType)
		out = append(out, domain.SearchHit{ChunkID: chunk.ID, Score: score, Chunk: &chunk})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/pricewise/catalog-search/internal/catalog"
)

// SearchLexical runs ranked full-text retrieval over search_text using the
// language-neutral 'simple' configuration; ranking normalization happens in
// the search engine, not here.
func (s *CatalogStore) SearchLexical(ctx context.Context, query string, limit int) ([]catalog.ScoredProduct, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+productColumns+`,
	ts_rank(to_tsvector('simple', p.search_text), plainto_tsquery('simple', $1))::float8 AS score
FROM products p
WHERE to_tsvector('simple', p.search_text) @@ plainto_tsquery('simple', $1)
ORDER BY score DESC, p.id ASC
LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", mapError(err))
	}
	return collectScored(rows)
}

// SearchVector runs approximate cosine nearest-neighbor retrieval over
// computed embeddings. The score is cosine similarity clipped at zero, so it
// lands in [0,1]. The ivfflat probe count is applied per transaction when
// configured.
func (s *CatalogStore) SearchVector(ctx context.Context, vector []float32, limit int) ([]catalog.ScoredProduct, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin vector search: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.probes > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", s.probes)); err != nil {
			return nil, fmt.Errorf("set ivfflat probes: %w", err)
		}
	}

	rows, err := tx.Query(ctx, `
SELECT`+productColumns+`,
	greatest(1 - (p.embedding <=> $1), 0)::float8 AS score
FROM products p
WHERE p.embedding IS NOT NULL AND p.embedding_state = $2
ORDER BY p.embedding <=> $1, p.id ASC
LIMIT $3`, pgvector.NewVector(vector), catalog.EmbeddingComputed, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", mapError(err))
	}
	scored, err := collectScored(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit vector search: %w", err)
	}
	return scored, nil
}

// SimilarByVector returns the vector-space neighbors of a product,
// excluding the product itself. Products without a computed embedding yield
// no rows; the caller decides on a fallback.
func (s *CatalogStore) SimilarByVector(ctx context.Context, id uuid.UUID, limit int) ([]catalog.ScoredProduct, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+productColumns+`,
	greatest(1 - (p.embedding <=> base.embedding), 0)::float8 AS score
FROM products p,
	(SELECT embedding FROM products WHERE id = $1 AND embedding IS NOT NULL) base
WHERE p.id <> $1 AND p.embedding IS NOT NULL AND p.embedding_state = $2
ORDER BY p.embedding <=> base.embedding, p.id ASC
LIMIT $3`, id, catalog.EmbeddingComputed, limit)
	if err != nil {
		return nil, fmt.Errorf("similar by vector: %w", mapError(err))
	}
	return collectScored(rows)
}

// SimilarByCategory ranks same-category candidates by trigram similarity of
// search_text. This is the fallback when the anchor product carries no
// embedding yet.
func (s *CatalogStore) SimilarByCategory(ctx context.Context, id uuid.UUID, limit int) ([]catalog.ScoredProduct, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+productColumns+`,
	similarity(p.search_text, base.search_text)::float8 AS score
FROM products p,
	(SELECT category_id, search_text FROM products WHERE id = $1) base
WHERE p.id <> $1 AND p.category_id IS NOT NULL AND p.category_id = base.category_id
ORDER BY score DESC, p.id ASC
LIMIT $2`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("similar by category: %w", mapError(err))
	}
	return collectScored(rows)
}

// SuggestNames returns distinct product names matching a partial query, for
// autocomplete. Matching uses case-insensitive substring search over names
// backed by the trigram index.
func (s *CatalogStore) SuggestNames(ctx context.Context, partial string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT p.name
FROM products p
WHERE p.name ILIKE '%' || $1 || '%'
ORDER BY p.name ASC
LIMIT $2`, partial, limit)
	if err != nil {
		return nil, fmt.Errorf("suggest names: %w", mapError(err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return names, nil
}

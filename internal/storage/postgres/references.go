package postgres

import (
	"context"
	"fmt"

	"github.com/pricewise/catalog-search/internal/catalog"
)

// Reference entities use insert-if-absent followed by a re-select rather
// than check-then-insert, so concurrent ingests of the same store, brand or
// category level converge on one row without a duplicate-reference race.

// GetOrCreateStore resolves a retail source by slug, inserting it if absent.
func (s *CatalogStore) GetOrCreateStore(ctx context.Context, name string) (catalog.Store, error) {
	cleaned := catalog.CleanText(name)
	if cleaned == "" {
		return catalog.Store{}, fmt.Errorf("%w: empty store name", catalog.ErrIntegrity)
	}
	slug := catalog.Slugify(cleaned)

	if _, err := s.pool.Exec(ctx, `
INSERT INTO stores (name, slug)
VALUES ($1, $2)
ON CONFLICT (slug) DO NOTHING`, cleaned, slug); err != nil {
		return catalog.Store{}, fmt.Errorf("insert store: %w", mapError(err))
	}

	var store catalog.Store
	err := s.pool.QueryRow(ctx, `
SELECT id, name, slug, created_at FROM stores WHERE slug = $1`, slug).
		Scan(&store.ID, &store.Name, &store.Slug, &store.CreatedAt)
	if err != nil {
		return catalog.Store{}, fmt.Errorf("select store: %w", mapError(err))
	}
	return store, nil
}

// GetOrCreateManufacturer resolves a brand by its normalized name, so case
// and diacritic variants of the same brand share one row.
func (s *CatalogStore) GetOrCreateManufacturer(ctx context.Context, name string) (catalog.Manufacturer, error) {
	cleaned := catalog.CleanText(name)
	if cleaned == "" {
		return catalog.Manufacturer{}, fmt.Errorf("%w: empty manufacturer name", catalog.ErrIntegrity)
	}
	normalized := catalog.NormalizeName(cleaned)

	if _, err := s.pool.Exec(ctx, `
INSERT INTO manufacturers (name, normalized_name)
VALUES ($1, $2)
ON CONFLICT (normalized_name) DO NOTHING`, cleaned, normalized); err != nil {
		return catalog.Manufacturer{}, fmt.Errorf("insert manufacturer: %w", mapError(err))
	}

	var m catalog.Manufacturer
	err := s.pool.QueryRow(ctx, `
SELECT id, name, normalized_name, created_at FROM manufacturers WHERE normalized_name = $1`, normalized).
		Scan(&m.ID, &m.Name, &m.NormalizedName, &m.CreatedAt)
	if err != nil {
		return catalog.Manufacturer{}, fmt.Errorf("select manufacturer: %w", mapError(err))
	}
	return m, nil
}

// GetOrCreateCategoryChain walks a breadcrumb root→leaf, creating each
// missing level with parent linkage and a materialized path. The unique
// index on (name, COALESCE(parent_id, 0)) makes each level's insert an
// atomic conditional insert.
func (s *CatalogStore) GetOrCreateCategoryChain(ctx context.Context, path []string) (catalog.Category, error) {
	levels := make([]string, 0, len(path))
	for _, raw := range path {
		if cleaned := catalog.CleanText(raw); cleaned != "" {
			levels = append(levels, cleaned)
		}
	}
	if len(levels) == 0 {
		return catalog.Category{}, fmt.Errorf("%w: empty category path", catalog.ErrIntegrity)
	}

	var (
		current    catalog.Category
		parentID   *int64
		parentPath string
	)
	for depth, name := range levels {
		matPath := catalog.Slugify(name)
		if parentPath != "" {
			matPath = parentPath + "/" + matPath
		}

		if _, err := s.pool.Exec(ctx, `
INSERT INTO categories (name, parent_id, level, path)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name, COALESCE(parent_id, 0)) DO NOTHING`,
			name, parentID, depth, matPath); err != nil {
			return catalog.Category{}, fmt.Errorf("insert category %q: %w", name, mapError(err))
		}

		var c catalog.Category
		err := s.pool.QueryRow(ctx, `
SELECT id, name, parent_id, level, path, created_at
FROM categories
WHERE name = $1 AND COALESCE(parent_id, 0) = COALESCE($2::bigint, 0)`,
			name, parentID).
			Scan(&c.ID, &c.Name, &c.ParentID, &c.Level, &c.Path, &c.CreatedAt)
		if err != nil {
			return catalog.Category{}, fmt.Errorf("select category %q: %w", name, mapError(err))
		}

		current = c
		id := c.ID
		parentID = &id
		parentPath = c.Path
	}
	return current, nil
}

// ListCategoryTree returns every category ordered by materialized path, which
// lays out the hierarchy depth-first without recursive traversal.
func (s *CatalogStore) ListCategoryTree(ctx context.Context) ([]catalog.Category, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, parent_id, level, path, created_at
FROM categories
ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", mapError(err))
	}
	defer rows.Close()

	var out []catalog.Category
	for rows.Next() {
		var c catalog.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.Level, &c.Path, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

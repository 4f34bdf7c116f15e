package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/pricewise/catalog-search/internal/catalog"
)

const selectProductForUpdate = `
SELECT` + productColumns + `
FROM products p
WHERE p.product_url = $1
FOR UPDATE`

const insertProduct = `
INSERT INTO products (
	id, name, description, sku, product_url, image_url,
	price_amount, price_currency,
	base_price_amount, base_price_unit, base_price_quantity, base_price_text,
	stock_status, availability_text,
	store_id, category_id, manufacturer_id,
	search_text, embedding_state,
	scraped_at, last_price_update, scrape_count, details
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8,
	$9, $10, $11, $12,
	$13, $14,
	$15, $16, $17,
	$18, $19,
	$20, $21, 1, $22
)`

const updateProduct = `
UPDATE products SET
	name = $2, description = $3, sku = $4, image_url = $5,
	price_amount = $6, price_currency = $7,
	base_price_amount = $8, base_price_unit = $9, base_price_quantity = $10, base_price_text = $11,
	stock_status = $12, availability_text = $13,
	category_id = $14, manufacturer_id = $15,
	search_text = $16, embedding_state = $17,
	scraped_at = $18, last_price_update = $19,
	details = $20,
	scrape_count = scrape_count + 1,
	updated_at = now()
WHERE id = $1`

// UpsertProduct inserts or updates one product, keyed on its URL, inside a
// single transaction. Row-level locking on the existing row serializes
// concurrent ingests of the same natural key; a unique-violation race
// between the select and a concurrent insert surfaces as
// catalog.ErrConflict for the caller's retry.
func (s *CatalogStore) UpsertProduct(ctx context.Context, up catalog.ProductUpsert) (catalog.UpsertOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return catalog.UpsertOutcome{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := scanProduct(tx.QueryRow(ctx, selectProductForUpdate, up.Record.ProductURL))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		outcome, insErr := s.insertProduct(ctx, tx, up)
		if insErr != nil {
			return catalog.UpsertOutcome{}, insErr
		}
		if err := tx.Commit(ctx); err != nil {
			return catalog.UpsertOutcome{}, fmt.Errorf("commit insert: %w", mapError(err))
		}
		return outcome, nil
	case err != nil:
		return catalog.UpsertOutcome{}, fmt.Errorf("select product: %w", mapError(err))
	}

	outcome, err := s.updateProduct(ctx, tx, existing, up)
	if err != nil {
		return catalog.UpsertOutcome{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return catalog.UpsertOutcome{}, fmt.Errorf("commit update: %w", mapError(err))
	}
	return outcome, nil
}

func (s *CatalogStore) insertProduct(ctx context.Context, tx pgx.Tx, up catalog.ProductUpsert) (catalog.UpsertOutcome, error) {
	rec := up.Record
	_, err := tx.Exec(ctx, insertProduct,
		rec.ID, rec.Name, rec.Description, rec.SKU, rec.ProductURL, rec.ImageURL,
		rec.Price.Amount, rec.Price.Currency,
		rec.BasePrice.Amount, rec.BasePrice.Unit, rec.BasePrice.Quantity, rec.BasePrice.RawText,
		rec.StockStatus, rec.AvailabilityText,
		rec.StoreID, rec.CategoryID, rec.ManufacturerID,
		up.SearchText, catalog.EmbeddingPending,
		up.ScrapedAt, up.ScrapedAt, rec.Details,
	)
	if err != nil {
		return catalog.UpsertOutcome{}, fmt.Errorf("insert product: %w", mapError(err))
	}

	rec.SearchText = up.SearchText
	rec.Embedding = catalog.Embedding{State: catalog.EmbeddingPending}
	rec.ScrapedAt = up.ScrapedAt
	rec.LastPriceUpdate = up.ScrapedAt
	rec.ScrapeCount = 1
	return catalog.UpsertOutcome{
		Product:           rec,
		Created:           true,
		PriceChanged:      true,
		SearchTextChanged: true,
	}, nil
}

func (s *CatalogStore) updateProduct(ctx context.Context, tx pgx.Tx, existing catalog.Product, up catalog.ProductUpsert) (catalog.UpsertOutcome, error) {
	rec := up.Record
	priceChanged := !existing.Price.Equal(rec.Price)
	searchTextChanged := existing.SearchText != up.SearchText

	lastPriceUpdate := existing.LastPriceUpdate
	if priceChanged {
		lastPriceUpdate = up.ScrapedAt
	}
	embeddingState := existing.Embedding.State
	if searchTextChanged {
		embeddingState = catalog.EmbeddingPending
	}

	_, err := tx.Exec(ctx, updateProduct,
		existing.ID,
		rec.Name, rec.Description, rec.SKU, rec.ImageURL,
		rec.Price.Amount, rec.Price.Currency,
		rec.BasePrice.Amount, rec.BasePrice.Unit, rec.BasePrice.Quantity, rec.BasePrice.RawText,
		rec.StockStatus, rec.AvailabilityText,
		rec.CategoryID, rec.ManufacturerID,
		up.SearchText, embeddingState,
		up.ScrapedAt, lastPriceUpdate, rec.Details,
	)
	if err != nil {
		return catalog.UpsertOutcome{}, fmt.Errorf("update product: %w", mapError(err))
	}

	updated := existing
	updated.Name = rec.Name
	updated.Description = rec.Description
	updated.SKU = rec.SKU
	updated.ImageURL = rec.ImageURL
	updated.Price = rec.Price
	updated.BasePrice = rec.BasePrice
	updated.StockStatus = rec.StockStatus
	updated.AvailabilityText = rec.AvailabilityText
	updated.CategoryID = rec.CategoryID
	updated.ManufacturerID = rec.ManufacturerID
	updated.SearchText = up.SearchText
	updated.Details = rec.Details
	updated.Embedding.State = embeddingState
	updated.ScrapedAt = up.ScrapedAt
	updated.LastPriceUpdate = lastPriceUpdate
	updated.ScrapeCount = existing.ScrapeCount + 1
	return catalog.UpsertOutcome{
		Product:           updated,
		PriceChanged:      priceChanged,
		SearchTextChanged: searchTextChanged,
	}, nil
}

// GetProduct fetches one product by id.
func (s *CatalogStore) GetProduct(ctx context.Context, id uuid.UUID) (catalog.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
SELECT`+productColumns+`
FROM products p
WHERE p.id = $1`, id))
	if err != nil {
		return catalog.Product{}, fmt.Errorf("get product: %w", mapError(err))
	}
	return p, nil
}

// GetProductByURL fetches one product by its natural key.
func (s *CatalogStore) GetProductByURL(ctx context.Context, url string) (catalog.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
SELECT`+productColumns+`
FROM products p
WHERE p.product_url = $1`, url))
	if err != nil {
		return catalog.Product{}, fmt.Errorf("get product by url: %w", mapError(err))
	}
	return p, nil
}

// ListProducts returns one filtered page plus the total match count.
func (s *CatalogStore) ListProducts(ctx context.Context, filter catalog.ProductFilter, sort catalog.BrowseSort, limit, offset int) (catalog.ProductPage, error) {
	where, args := buildFilter(filter)

	var total int
	countQuery := "SELECT count(*) FROM products p" + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return catalog.ProductPage{}, fmt.Errorf("count products: %w", mapError(err))
	}
	if total == 0 {
		return catalog.ProductPage{}, nil
	}

	orderBy := " ORDER BY p.name ASC, p.id ASC"
	if sort == catalog.BrowseByRecency {
		orderBy = " ORDER BY p.last_price_update DESC, p.id ASC"
	}

	args = append(args, limit, offset)
	query := "SELECT" + productColumns + "\nFROM products p" + where + orderBy +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return catalog.ProductPage{}, fmt.Errorf("list products: %w", mapError(err))
	}
	products, err := collectProducts(rows)
	if err != nil {
		return catalog.ProductPage{}, err
	}
	return catalog.ProductPage{Products: products, Total: total}, nil
}

func buildFilter(filter catalog.ProductFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.StoreID != nil {
		add("p.store_id = $%d", *filter.StoreID)
	}
	if filter.CategoryID != nil {
		add("p.category_id = $%d", *filter.CategoryID)
	}
	if filter.MinPrice != nil {
		add("p.price_amount >= $%d", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		add("p.price_amount <= $%d", *filter.MaxPrice)
	}
	if filter.InStockOnly {
		add("p.stock_status = $%d", catalog.StockInStock)
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// ListPendingEmbedding returns products flagged for embedding computation,
// plus products whose stored vector came from a different model than the
// one currently configured.
func (s *CatalogStore) ListPendingEmbedding(ctx context.Context, model string, limit int) ([]catalog.Product, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+productColumns+`
FROM products p
WHERE p.embedding_state = $1
   OR (p.embedding_state = $2 AND p.embedding_model IS DISTINCT FROM $3)
ORDER BY p.updated_at ASC
LIMIT $4`,
		catalog.EmbeddingPending, catalog.EmbeddingComputed, model, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending embedding: %w", mapError(err))
	}
	return collectProducts(rows)
}

// MarkEmbeddingPending flags one product for re-embedding. The current
// vector stays in place so vector search keeps working until the backfill
// pass replaces it.
func (s *CatalogStore) MarkEmbeddingPending(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET embedding_state = $2 WHERE id = $1`,
		id, catalog.EmbeddingPending)
	if err != nil {
		return fmt.Errorf("mark embedding pending: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// SetEmbedding stores a computed vector. The search_text guard makes the
// write a no-op when ingestion changed the text after the backfill pass read
// it, so a stale vector can never be tagged as computed.
func (s *CatalogStore) SetEmbedding(ctx context.Context, id uuid.UUID, searchText string, vector []float32, model string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE products SET
	embedding = $2,
	embedding_state = $3,
	embedding_model = $4,
	embedding_updated_at = $5
WHERE id = $1 AND search_text = $6`,
		id, pgvector.NewVector(vector), catalog.EmbeddingComputed, model, at, searchText)
	if err != nil {
		return fmt.Errorf("set embedding: %w", mapError(err))
	}
	// Zero affected rows means ingestion changed the text meanwhile; the
	// product stays pending and a later pass picks it up.
	return nil
}

// Package postgres implements the catalog store on PostgreSQL with pgvector
// for approximate nearest-neighbor retrieval and pg_trgm / tsvector indexes
// for lexical retrieval.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/pricewise/catalog-search/internal/catalog"
)

// Config controls the Postgres connection pool and vector index behavior.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// IvfflatProbes tunes the ivfflat candidate-list size for vector
	// queries, trading recall for latency. Zero keeps the server default.
	IvfflatProbes int
}

// pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it,
// which keeps the query logic testable without a live database.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// CatalogStore is the Postgres-backed implementation of
// catalog.CatalogStore.
type CatalogStore struct {
	pool   pool
	probes int
}

// NewCatalogStore connects a pool and registers the decimal and vector
// codecs on every connection.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return pgxvector.RegisterTypes(ctx, conn)
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &CatalogStore{pool: p, probes: cfg.IvfflatProbes}, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewCatalogStoreWithPool(p pool, probes int) (*CatalogStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: p, probes: probes}, nil
}

// Ping verifies the database is reachable, for readiness probes.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapError translates driver errors into the catalog sentinel taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", catalog.ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", catalog.ErrIntegrity, pgErr.ConstraintName)
		}
	}
	return err
}

// productColumns is the canonical select list scanned by scanProduct. The
// embedding vector itself is never read back into Go; vector math happens
// in SQL.
const productColumns = `
	p.id, p.name, p.description, p.sku, p.product_url, p.image_url,
	p.price_amount, p.price_currency,
	p.base_price_amount, p.base_price_unit, p.base_price_quantity, p.base_price_text,
	p.stock_status, p.availability_text,
	p.store_id, p.category_id, p.manufacturer_id,
	p.search_text, p.embedding_state, p.embedding_model, p.embedding_updated_at,
	p.scraped_at, p.last_price_update, p.scrape_count, p.created_at, p.updated_at,
	p.details`

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var (
		p              catalog.Product
		embeddingModel *string
		embeddingAt    *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.SKU, &p.ProductURL, &p.ImageURL,
		&p.Price.Amount, &p.Price.Currency,
		&p.BasePrice.Amount, &p.BasePrice.Unit, &p.BasePrice.Quantity, &p.BasePrice.RawText,
		&p.StockStatus, &p.AvailabilityText,
		&p.StoreID, &p.CategoryID, &p.ManufacturerID,
		&p.SearchText, &p.Embedding.State, &embeddingModel, &embeddingAt,
		&p.ScrapedAt, &p.LastPriceUpdate, &p.ScrapeCount, &p.CreatedAt, &p.UpdatedAt,
		&p.Details,
	)
	if err != nil {
		return catalog.Product{}, err
	}
	if embeddingModel != nil {
		p.Embedding.Model = *embeddingModel
	}
	if embeddingAt != nil {
		p.Embedding.ComputedAt = *embeddingAt
	}
	return p, nil
}

func collectProducts(rows pgx.Rows) ([]catalog.Product, error) {
	defer rows.Close()
	var out []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

// collectScored scans product rows carrying one trailing score column.
func collectScored(rows pgx.Rows) ([]catalog.ScoredProduct, error) {
	defer rows.Close()
	var out []catalog.ScoredProduct
	for rows.Next() {
		var (
			p              catalog.Product
			embeddingModel *string
			embeddingAt    *time.Time
			score          float64
		)
		err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.SKU, &p.ProductURL, &p.ImageURL,
			&p.Price.Amount, &p.Price.Currency,
			&p.BasePrice.Amount, &p.BasePrice.Unit, &p.BasePrice.Quantity, &p.BasePrice.RawText,
			&p.StockStatus, &p.AvailabilityText,
			&p.StoreID, &p.CategoryID, &p.ManufacturerID,
			&p.SearchText, &p.Embedding.State, &embeddingModel, &embeddingAt,
			&p.ScrapedAt, &p.LastPriceUpdate, &p.ScrapeCount, &p.CreatedAt, &p.UpdatedAt,
			&p.Details,
			&score,
		)
		if err != nil {
			return nil, fmt.Errorf("scan scored product: %w", err)
		}
		if embeddingModel != nil {
			p.Embedding.Model = *embeddingModel
		}
		if embeddingAt != nil {
			p.Embedding.ComputedAt = *embeddingAt
		}
		out = append(out, catalog.ScoredProduct{Product: p, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scored products: %w", err)
	}
	return out, nil
}

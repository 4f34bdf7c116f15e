package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors shared across storage implementations.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrConflict indicates a concurrent writer won a unique-key race.
	ErrConflict = errors.New("catalog: conflict")
	// ErrIntegrity indicates a reference that must resolve did not.
	ErrIntegrity = errors.New("catalog: integrity violation")
)

// Clock abstracts time.Now so pipelines and stores are testable.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces product identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// ProductFilter narrows listing and search results. Nil pointers mean
// "no constraint".
type ProductFilter struct {
	StoreID     *int64
	CategoryID  *int64
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	InStockOnly bool
}

// ProductPage is one page of products plus the total match count for
// pagination.
type ProductPage struct {
	Products []Product
	Total    int
}

// ScoredProduct pairs a product with a retrieval score in [0,1].
type ScoredProduct struct {
	Product Product
	Score   float64
}

// BrowseSort selects the ordering for filter-only browsing.
type BrowseSort string

// Supported browse orderings.
const (
	BrowseByName    BrowseSort = "name"
	BrowseByRecency BrowseSort = "recency"
)

// StoreRepository resolves retail sources.
type StoreRepository interface {
	// GetOrCreateStore resolves a store by slug, inserting it if absent.
	// The insert is an atomic conditional insert so concurrent resolvers
	// of the same store converge on a single row.
	GetOrCreateStore(ctx context.Context, name string) (Store, error)
}

// ManufacturerRepository resolves brand entities.
type ManufacturerRepository interface {
	// GetOrCreateManufacturer resolves a manufacturer by its normalized
	// name, inserting it if absent.
	GetOrCreateManufacturer(ctx context.Context, name string) (Manufacturer, error)
}

// CategoryRepository resolves the hierarchical category tree.
type CategoryRepository interface {
	// GetOrCreateCategoryChain resolves a breadcrumb root→leaf, creating
	// each missing level with correct parent linkage and materialized
	// path. Returns the leaf category.
	GetOrCreateCategoryChain(ctx context.Context, path []string) (Category, error)
	// ListCategoryTree returns all categories ordered by path.
	ListCategoryTree(ctx context.Context) ([]Category, error)
}

// ProductUpsert carries everything the store needs to insert or update one
// product inside a single transaction.
type ProductUpsert struct {
	Record     Product
	SearchText string
	ScrapedAt  time.Time
}

// UpsertOutcome reports what the store did with an upserted product.
type UpsertOutcome struct {
	Product           Product
	Created           bool
	PriceChanged      bool
	SearchTextChanged bool
}

// ProductRepository is the product side of the catalog store.
type ProductRepository interface {
	// UpsertProduct inserts or updates the product identified by its
	// natural key (product URL) in one transaction. The scrape counter
	// increments on every call; last_price_update moves only when the
	// price actually differs; search_text is recomputed only when a
	// contributing field changed, which also resets the embedding to
	// pending.
	UpsertProduct(ctx context.Context, up ProductUpsert) (UpsertOutcome, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	GetProductByURL(ctx context.Context, url string) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter, sort BrowseSort, limit, offset int) (ProductPage, error)

	// SearchLexical runs ranked full-text retrieval over search_text.
	SearchLexical(ctx context.Context, query string, limit int) ([]ScoredProduct, error)
	// SearchVector runs approximate cosine nearest-neighbor retrieval.
	// Scores are cosine similarity clipped to [0,1].
	SearchVector(ctx context.Context, vector []float32, limit int) ([]ScoredProduct, error)
	// SimilarByVector returns vector neighbors of the given product,
	// excluding the product itself.
	SimilarByVector(ctx context.Context, id uuid.UUID, limit int) ([]ScoredProduct, error)
	// SimilarByCategory returns same-category candidates ranked by
	// lexical similarity of search_text, for products with no embedding.
	SimilarByCategory(ctx context.Context, id uuid.UUID, limit int) ([]ScoredProduct, error)
	// SuggestNames returns distinct product names matching a partial
	// query, for autocomplete.
	SuggestNames(ctx context.Context, partial string, limit int) ([]string, error)

	// MarkEmbeddingPending flags one product for re-embedding without
	// touching its vector; the backfill pass picks it up on its next run.
	MarkEmbeddingPending(ctx context.Context, id uuid.UUID) error
	// ListPendingEmbedding returns up to limit products whose embedding
	// state is pending, or whose stored model differs from model (a model
	// upgrade invalidates old vectors).
	ListPendingEmbedding(ctx context.Context, model string, limit int) ([]Product, error)
	// SetEmbedding stores a computed vector with its model tag and
	// timestamp. The write is conditional on search_text still matching
	// the text the vector was computed from; when ingestion changed the
	// text in the meantime the write silently does nothing and the
	// product stays pending. Overwriting with an identical vector is
	// harmless, which is what makes the backfill pass resumable.
	SetEmbedding(ctx context.Context, id uuid.UUID, searchText string, vector []float32, model string, at time.Time) error
}

// CatalogStore is the full durable storage contract.
type CatalogStore interface {
	StoreRepository
	ManufacturerRepository
	CategoryRepository
	ProductRepository
}

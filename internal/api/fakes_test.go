package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pricewise/catalog-search/internal/catalog"
)

// fakeStore is an in-memory catalog.CatalogStore for handler tests.
type fakeStore struct {
	mu sync.Mutex

	products   map[uuid.UUID]catalog.Product
	categories []catalog.Category
	lexical    []catalog.ScoredProduct
	similar    []catalog.ScoredProduct
	names      []string

	pendingMarks []uuid.UUID
	upserts      []catalog.ProductUpsert
	pingErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{products: map[uuid.UUID]catalog.Product{}}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetOrCreateStore(_ context.Context, name string) (catalog.Store, error) {
	return catalog.Store{ID: 1, Name: name, Slug: catalog.Slugify(name)}, nil
}

func (f *fakeStore) GetOrCreateManufacturer(_ context.Context, name string) (catalog.Manufacturer, error) {
	return catalog.Manufacturer{ID: 1, Name: name}, nil
}

func (f *fakeStore) GetOrCreateCategoryChain(_ context.Context, path []string) (catalog.Category, error) {
	return catalog.Category{ID: 1, Name: path[len(path)-1], Level: len(path) - 1}, nil
}

func (f *fakeStore) ListCategoryTree(context.Context) ([]catalog.Category, error) {
	return f.categories, nil
}

func (f *fakeStore) UpsertProduct(_ context.Context, up catalog.ProductUpsert) (catalog.UpsertOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, up)
	product := up.Record
	product.SearchText = up.SearchText
	f.products[product.ID] = product
	return catalog.UpsertOutcome{Product: product, Created: true, SearchTextChanged: true}, nil
}

func (f *fakeStore) GetProduct(_ context.Context, id uuid.UUID) (catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return product, nil
}

func (f *fakeStore) GetProductByURL(_ context.Context, url string) (catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.ProductURL == url {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func (f *fakeStore) ListProducts(_ context.Context, _ catalog.ProductFilter, _ catalog.BrowseSort, limit, offset int) (catalog.ProductPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]catalog.Product, 0, len(f.products))
	for _, p := range f.products {
		all = append(all, p)
	}
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return catalog.ProductPage{Products: all, Total: total}, nil
}

func (f *fakeStore) SearchLexical(context.Context, string, int) ([]catalog.ScoredProduct, error) {
	return f.lexical, nil
}

func (f *fakeStore) SearchVector(context.Context, []float32, int) ([]catalog.ScoredProduct, error) {
	return nil, nil
}

func (f *fakeStore) SimilarByVector(context.Context, uuid.UUID, int) ([]catalog.ScoredProduct, error) {
	return f.similar, nil
}

func (f *fakeStore) SimilarByCategory(context.Context, uuid.UUID, int) ([]catalog.ScoredProduct, error) {
	return f.similar, nil
}

func (f *fakeStore) SuggestNames(_ context.Context, partial string, limit int) ([]string, error) {
	var out []string
	for _, name := range f.names {
		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(partial)) {
			out = append(out, name)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkEmbeddingPending(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[id]; !ok {
		return catalog.ErrNotFound
	}
	f.pendingMarks = append(f.pendingMarks, id)
	return nil
}

func (f *fakeStore) ListPendingEmbedding(context.Context, string, int) ([]catalog.Product, error) {
	return nil, nil
}

func (f *fakeStore) SetEmbedding(context.Context, uuid.UUID, string, []float32, string, time.Time) error {
	return nil
}

func sampleProduct(suffix byte) catalog.Product {
	var id uuid.UUID
	id[15] = suffix
	return catalog.Product{
		ID:          id,
		Name:        "Vollmilch 3,5%",
		ProductURL:  "https://shop.example.de/p/vollmilch",
		Price:       catalog.Price{Amount: decimal.RequireFromString("1.29"), Currency: "EUR"},
		StockStatus: catalog.StockInStock,
		StoreID:     1,
		SearchText:  "Vollmilch 3,5% Milchprodukte",
		Embedding:   catalog.Embedding{State: catalog.EmbeddingPending},
		ScrapedAt:   time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

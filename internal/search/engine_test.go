package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricewise/catalog-search/internal/catalog"
)

type fakeRepo struct {
	anchor          *catalog.Product
	lexical         []catalog.ScoredProduct
	vector          []catalog.ScoredProduct
	similarVector   []catalog.ScoredProduct
	similarCategory []catalog.ScoredProduct
	page            catalog.ProductPage
	suggestions     []string

	lexicalQuery  string
	vectorCalled  bool
	browseSort    catalog.BrowseSort
	suggestPrefix string
}

func (f *fakeRepo) UpsertProduct(context.Context, catalog.ProductUpsert) (catalog.UpsertOutcome, error) {
	return catalog.UpsertOutcome{}, nil
}

func (f *fakeRepo) GetProduct(_ context.Context, id uuid.UUID) (catalog.Product, error) {
	if f.anchor != nil && f.anchor.ID == id {
		return *f.anchor, nil
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func (f *fakeRepo) GetProductByURL(context.Context, string) (catalog.Product, error) {
	return catalog.Product{}, catalog.ErrNotFound
}

func (f *fakeRepo) ListProducts(_ context.Context, _ catalog.ProductFilter, sort catalog.BrowseSort, _, _ int) (catalog.ProductPage, error) {
	f.browseSort = sort
	return f.page, nil
}

func (f *fakeRepo) SearchLexical(_ context.Context, query string, _ int) ([]catalog.ScoredProduct, error) {
	f.lexicalQuery = query
	return clone(f.lexical), nil
}

func (f *fakeRepo) SearchVector(context.Context, []float32, int) ([]catalog.ScoredProduct, error) {
	f.vectorCalled = true
	return clone(f.vector), nil
}

func (f *fakeRepo) SimilarByVector(context.Context, uuid.UUID, int) ([]catalog.ScoredProduct, error) {
	return clone(f.similarVector), nil
}

func (f *fakeRepo) SimilarByCategory(context.Context, uuid.UUID, int) ([]catalog.ScoredProduct, error) {
	return clone(f.similarCategory), nil
}

func (f *fakeRepo) SuggestNames(_ context.Context, partial string, _ int) ([]string, error) {
	f.suggestPrefix = partial
	return f.suggestions, nil
}

func (f *fakeRepo) MarkEmbeddingPending(context.Context, uuid.UUID) error {
	return nil
}

func (f *fakeRepo) ListPendingEmbedding(context.Context, string, int) ([]catalog.Product, error) {
	return nil, nil
}

func (f *fakeRepo) SetEmbedding(context.Context, uuid.UUID, string, []float32, string, time.Time) error {
	return nil
}

func clone(in []catalog.ScoredProduct) []catalog.ScoredProduct {
	return append([]catalog.ScoredProduct(nil), in...)
}

type stubEmbedder struct {
	available bool
	err       error
}

func (s stubEmbedder) Available() bool { return s.available }

func (s stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{0.1, 0.2}, nil
}

func productWithID(suffix byte) catalog.Product {
	var id uuid.UUID
	id[15] = suffix
	return catalog.Product{ID: id, StockStatus: catalog.StockInStock}
}

func scored(p catalog.Product, score float64) catalog.ScoredProduct {
	return catalog.ScoredProduct{Product: p, Score: score}
}

func TestSearchCombinesWeightedScores(t *testing.T) {
	t.Parallel()

	a, b, c := productWithID(1), productWithID(2), productWithID(3)
	repo := &fakeRepo{
		// Raw ts_rank values; the engine normalizes them by the max.
		lexical: []catalog.ScoredProduct{scored(a, 4.0), scored(b, 2.0)},
		vector:  []catalog.ScoredProduct{scored(b, 0.8), scored(c, 0.6)},
	}
	engine := New(repo, stubEmbedder{available: true}, Config{}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "milch"})
	require.NoError(t, err)
	require.False(t, resp.Degraded)
	require.Equal(t, 3, resp.Total)
	require.Len(t, resp.Products, 3)

	// a: 0.5*1.0 = 0.5, b: 0.5*0.5 + 0.5*0.8 = 0.65, c: 0.5*0.6 = 0.3
	assert.Equal(t, b.ID, resp.Products[0].Product.ID)
	assert.InDelta(t, 0.65, resp.Products[0].Score, 1e-9)
	assert.Equal(t, a.ID, resp.Products[1].Product.ID)
	assert.InDelta(t, 0.5, resp.Products[1].Score, 1e-9)
	assert.Equal(t, c.ID, resp.Products[2].Product.ID)
	assert.InDelta(t, 0.3, resp.Products[2].Score, 1e-9)
}

func TestSearchHonorsCallerWeights(t *testing.T) {
	t.Parallel()

	a, b := productWithID(1), productWithID(2)
	repo := &fakeRepo{
		lexical: []catalog.ScoredProduct{scored(a, 1.0)},
		vector:  []catalog.ScoredProduct{scored(b, 1.0)},
	}
	engine := New(repo, stubEmbedder{available: true}, Config{}, nil)

	resp, err := engine.Search(context.Background(), Request{
		Query:   "milch",
		Weights: &Weights{Lexical: 0.2, Vector: 0.8},
	})
	require.NoError(t, err)
	require.Equal(t, b.ID, resp.Products[0].Product.ID)
	assert.InDelta(t, 0.8, resp.Products[0].Score, 1e-9)
	assert.InDelta(t, 0.2, resp.Products[1].Score, 1e-9)
}

func TestSearchDegradesWithoutEmbedder(t *testing.T) {
	t.Parallel()

	a := productWithID(1)
	repo := &fakeRepo{
		lexical: []catalog.ScoredProduct{scored(a, 3.0)},
	}
	engine := New(repo, stubEmbedder{available: false}, Config{}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "milch"})
	require.NoError(t, err)
	require.True(t, resp.Degraded)
	require.False(t, repo.vectorCalled)
	require.Len(t, resp.Products, 1)
	// Degraded mode runs with full lexical weight.
	assert.InDelta(t, 1.0, resp.Products[0].Score, 1e-9)
}

func TestSearchDegradesOnEmbeddingError(t *testing.T) {
	t.Parallel()

	a := productWithID(1)
	repo := &fakeRepo{
		lexical: []catalog.ScoredProduct{scored(a, 1.0)},
	}
	engine := New(repo, stubEmbedder{available: true, err: errors.New("backend down")}, Config{}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "milch"})
	require.NoError(t, err)
	require.True(t, resp.Degraded)
	assert.InDelta(t, 1.0, resp.Products[0].Score, 1e-9)
}

func TestSearchEmptyQueryBrowses(t *testing.T) {
	t.Parallel()

	a := productWithID(1)
	repo := &fakeRepo{
		page: catalog.ProductPage{Products: []catalog.Product{a}, Total: 12},
	}
	engine := New(repo, nil, Config{}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "   ", Sort: catalog.BrowseByRecency})
	require.NoError(t, err)
	require.False(t, resp.Degraded)
	require.Equal(t, 12, resp.Total)
	require.Len(t, resp.Products, 1)
	assert.Zero(t, resp.Products[0].Score)
	assert.Equal(t, catalog.BrowseByRecency, repo.browseSort)
	assert.Empty(t, repo.lexicalQuery)
}

func TestSearchAppliesFiltersPostMerge(t *testing.T) {
	t.Parallel()

	inStock := productWithID(1)
	outOfStock := productWithID(2)
	outOfStock.StockStatus = catalog.StockOutOfStock

	repo := &fakeRepo{
		lexical: []catalog.ScoredProduct{scored(inStock, 1.0), scored(outOfStock, 2.0)},
	}
	engine := New(repo, stubEmbedder{available: false}, Config{}, nil)

	resp, err := engine.Search(context.Background(), Request{
		Query:  "milch",
		Filter: catalog.ProductFilter{InStockOnly: true},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, inStock.ID, resp.Products[0].Product.ID)
}

func TestSearchTieBreaksByRecencyThenID(t *testing.T) {
	t.Parallel()

	older := productWithID(1)
	older.LastPriceUpdate = time.Unix(1000, 0)
	newer := productWithID(2)
	newer.LastPriceUpdate = time.Unix(2000, 0)
	sameTime := productWithID(3)
	sameTime.LastPriceUpdate = older.LastPriceUpdate

	repo := &fakeRepo{
		lexical: []catalog.ScoredProduct{
			scored(older, 1.0), scored(newer, 1.0), scored(sameTime, 1.0),
		},
	}
	engine := New(repo, nil, Config{DefaultWeights: Weights{Lexical: 1}}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "milch"})
	require.NoError(t, err)
	require.Len(t, resp.Products, 3)
	assert.Equal(t, newer.ID, resp.Products[0].Product.ID)
	assert.Equal(t, older.ID, resp.Products[1].Product.ID)
	assert.Equal(t, sameTime.ID, resp.Products[2].Product.ID)
}

func TestSearchTruncatesToLimitButReportsTotal(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	for i := byte(1); i <= 5; i++ {
		repo.lexical = append(repo.lexical, scored(productWithID(i), float64(i)))
	}
	engine := New(repo, nil, Config{}, nil)

	resp, err := engine.Search(context.Background(), Request{Query: "milch", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 5, resp.Total)
	require.Len(t, resp.Products, 2)
}

func TestSimilarFallsBackToCategory(t *testing.T) {
	t.Parallel()

	anchor := productWithID(1)
	anchor.Embedding.State = catalog.EmbeddingPending
	neighbor := productWithID(9)
	repo := &fakeRepo{
		anchor:          &anchor,
		similarCategory: []catalog.ScoredProduct{scored(neighbor, 0.4)},
	}
	engine := New(repo, nil, Config{}, nil)

	results, err := engine.Similar(context.Background(), anchor.ID, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, neighbor.ID, results[0].Product.ID)
}

func TestSimilarPrefersVectorNeighbors(t *testing.T) {
	t.Parallel()

	anchor := productWithID(1)
	anchor.Embedding.State = catalog.EmbeddingComputed
	vecNeighbor := productWithID(8)
	catNeighbor := productWithID(9)
	repo := &fakeRepo{
		anchor:          &anchor,
		similarVector:   []catalog.ScoredProduct{scored(vecNeighbor, 0.9)},
		similarCategory: []catalog.ScoredProduct{scored(catNeighbor, 0.4)},
	}
	engine := New(repo, nil, Config{}, nil)

	results, err := engine.Similar(context.Background(), anchor.ID, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, vecNeighbor.ID, results[0].Product.ID)
}

func TestSimilarUnknownAnchorIsNotFound(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{
		similarCategory: []catalog.ScoredProduct{scored(productWithID(9), 0.4)},
	}
	engine := New(repo, nil, Config{}, nil)

	_, err := engine.Similar(context.Background(), productWithID(1).ID, 5)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSuggestTrimsInput(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{suggestions: []string{"Vollmilch 3,5%"}}
	engine := New(repo, nil, Config{}, nil)

	names, err := engine.Suggest(context.Background(), "  voll ", 5)
	require.NoError(t, err)
	require.Equal(t, []string{"Vollmilch 3,5%"}, names)
	assert.Equal(t, "voll", repo.suggestPrefix)

	names, err = engine.Suggest(context.Background(), "   ", 5)
	require.NoError(t, err)
	require.Empty(t, names)
}

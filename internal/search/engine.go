// Package search merges lexical and vector retrieval into one ranked result.
// Lexical ranks are normalized to [0,1] by the batch maximum, cosine scores
// arrive already clipped to [0,1], and the two are combined per product as a
// weighted sum. When no query embedding can be computed the engine degrades
// to lexical-only retrieval instead of failing the request.
package search

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pricewise/catalog-search/internal/catalog"
)

// QueryEmbedder is the slice of the embedding service the engine needs.
type QueryEmbedder interface {
	Available() bool
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Weights splits the combined score between the two retrieval modes. They
// are normalized so Lexical+Vector = 1 before use.
type Weights struct {
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
}

func (w Weights) normalized() Weights {
	if w.Lexical < 0 {
		w.Lexical = 0
	}
	if w.Vector < 0 {
		w.Vector = 0
	}
	sum := w.Lexical + w.Vector
	if sum == 0 {
		return Weights{Lexical: 1}
	}
	return Weights{Lexical: w.Lexical / sum, Vector: w.Vector / sum}
}

// Request is one search invocation. A blank Query turns the request into a
// filter-only browse ordered by Sort.
type Request struct {
	Query   string
	Filter  catalog.ProductFilter
	Weights *Weights
	Sort    catalog.BrowseSort
	Limit   int
	Offset  int
}

// Response carries the ranked page. Degraded is set when the vector side was
// skipped because no query embedding could be computed.
type Response struct {
	Products []catalog.ScoredProduct
	Total    int
	Degraded bool
}

// Config tunes the engine.
type Config struct {
	// DefaultWeights apply when the request does not override them.
	DefaultWeights Weights
	// CandidateLimit bounds how many candidates each retrieval mode
	// contributes before merging.
	CandidateLimit int
	// MaxLimit caps the page size a caller may request.
	MaxLimit int
}

const (
	defaultCandidateLimit = 100
	defaultMaxLimit       = 50
	defaultPageLimit      = 20
)

// Engine is the hybrid retrieval facade over the catalog store.
type Engine struct {
	store    catalog.ProductRepository
	embedder QueryEmbedder
	cfg      Config
	logger   *zap.Logger
}

// New wires an engine. Embedder may be nil for a lexical-only deployment.
func New(store catalog.ProductRepository, embedder QueryEmbedder, cfg Config, logger *zap.Logger) *Engine {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = defaultCandidateLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = defaultMaxLimit
	}
	if cfg.DefaultWeights.Lexical == 0 && cfg.DefaultWeights.Vector == 0 {
		cfg.DefaultWeights = Weights{Lexical: 0.5, Vector: 0.5}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Search runs one hybrid query.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return e.browse(ctx, req, limit)
	}

	weights := e.cfg.DefaultWeights
	if req.Weights != nil {
		weights = *req.Weights
	}
	weights = weights.normalized()

	lexical, err := e.store.SearchLexical(ctx, query, e.cfg.CandidateLimit)
	if err != nil {
		return Response{}, fmt.Errorf("lexical search: %w", err)
	}
	normalizeByMax(lexical)

	var (
		vector   []catalog.ScoredProduct
		degraded bool
	)
	if weights.Vector > 0 {
		vector, degraded = e.vectorCandidates(ctx, query)
		if degraded {
			weights = Weights{Lexical: 1}
		}
	}

	merged := mergeScored(lexical, vector, weights)
	merged = applyFilter(merged, req.Filter)
	sortRanked(merged)

	total := len(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return Response{Products: merged, Total: total, Degraded: degraded}, nil
}

// Suggest returns autocomplete candidates for a partial product name.
func (e *Engine) Suggest(ctx context.Context, partial string, limit int) ([]string, error) {
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return nil, nil
	}
	if limit <= 0 || limit > e.cfg.MaxLimit {
		limit = 10
	}
	names, err := e.store.SuggestNames(ctx, partial, limit)
	if err != nil {
		return nil, fmt.Errorf("suggest names: %w", err)
	}
	return names, nil
}

// Similar returns products close to the given one. Products without a stored
// embedding fall back to same-category candidates ranked by lexical
// similarity of their search text. An unknown anchor is an error, not an
// empty result.
func (e *Engine) Similar(ctx context.Context, id uuid.UUID, limit int) ([]catalog.ScoredProduct, error) {
	if limit <= 0 || limit > e.cfg.MaxLimit {
		limit = 10
	}
	anchor, err := e.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load anchor product: %w", err)
	}
	if anchor.Embedding.State == catalog.EmbeddingComputed {
		neighbors, err := e.store.SimilarByVector(ctx, id, limit)
		if err != nil {
			return nil, fmt.Errorf("similar by vector: %w", err)
		}
		if len(neighbors) > 0 {
			return neighbors, nil
		}
	}
	neighbors, err := e.store.SimilarByCategory(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("similar by category: %w", err)
	}
	return neighbors, nil
}

func (e *Engine) browse(ctx context.Context, req Request, limit int) (Response, error) {
	sortBy := req.Sort
	if sortBy == "" {
		sortBy = catalog.BrowseByName
	}
	page, err := e.store.ListProducts(ctx, req.Filter, sortBy, limit, req.Offset)
	if err != nil {
		return Response{}, fmt.Errorf("browse products: %w", err)
	}
	scored := make([]catalog.ScoredProduct, len(page.Products))
	for i, p := range page.Products {
		scored[i] = catalog.ScoredProduct{Product: p}
	}
	return Response{Products: scored, Total: page.Total}, nil
}

// vectorCandidates embeds the query and fetches cosine neighbors. Any
// embedding failure degrades the request to lexical-only.
func (e *Engine) vectorCandidates(ctx context.Context, query string) ([]catalog.ScoredProduct, bool) {
	if e.embedder == nil || !e.embedder.Available() {
		return nil, true
	}
	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed, degrading to lexical", zap.Error(err))
		return nil, true
	}
	results, err := e.store.SearchVector(ctx, vec, e.cfg.CandidateLimit)
	if err != nil {
		e.logger.Warn("vector search failed, degrading to lexical", zap.Error(err))
		return nil, true
	}
	return results, false
}

// normalizeByMax rescales lexical rank scores into [0,1] in place.
func normalizeByMax(results []catalog.ScoredProduct) {
	var max float64
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	if max <= 0 {
		return
	}
	for i := range results {
		results[i].Score /= max
	}
}

// mergeScored joins the two candidate sets by product id. A product present
// in only one set keeps zero for the other component.
func mergeScored(lexical, vector []catalog.ScoredProduct, w Weights) []catalog.ScoredProduct {
	merged := make(map[uuid.UUID]catalog.ScoredProduct, len(lexical)+len(vector))
	for _, r := range lexical {
		r.Score = w.Lexical * r.Score
		merged[r.Product.ID] = r
	}
	for _, r := range vector {
		if existing, ok := merged[r.Product.ID]; ok {
			existing.Score += w.Vector * r.Score
			merged[r.Product.ID] = existing
			continue
		}
		r.Score = w.Vector * r.Score
		merged[r.Product.ID] = r
	}
	out := make([]catalog.ScoredProduct, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	return out
}

func applyFilter(results []catalog.ScoredProduct, f catalog.ProductFilter) []catalog.ScoredProduct {
	out := results[:0]
	for _, r := range results {
		if matchesFilter(r.Product, f) {
			out = append(out, r)
		}
	}
	return out
}

func matchesFilter(p catalog.Product, f catalog.ProductFilter) bool {
	if f.StoreID != nil && p.StoreID != *f.StoreID {
		return false
	}
	if f.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *f.CategoryID) {
		return false
	}
	if f.MinPrice != nil && p.Price.Amount.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.Amount.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.InStockOnly && p.StockStatus != catalog.StockInStock {
		return false
	}
	return true
}

// sortRanked orders by combined score desc, then last price update desc,
// then product id asc for a stable total order.
func sortRanked(results []catalog.ScoredProduct) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti, tj := results[i].Product.LastPriceUpdate, results[j].Product.LastPriceUpdate
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return bytes.Compare(results[i].Product.ID[:], results[j].Product.ID[:]) < 0
	})
}

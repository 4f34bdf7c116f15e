package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pricewise/catalog-search/internal/catalog"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	defaultSimilar   = 10
	maxSimilar       = 25
)

// listProducts serves GET /v1/products: filter-only browsing with paging.
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProductFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sortBy, err := parseBrowseSort(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sortBy == "" {
		sortBy = catalog.BrowseByName
	}
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.store.ListProducts(r.Context(), filter, sortBy, limit, offset)
	if err != nil {
		s.logger.Error("list products failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	views := make([]productView, 0, len(page.Products))
	for _, p := range page.Products {
		views = append(views, toProductView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": views,
		"total":    page.Total,
	})
}

// getProduct serves GET /v1/products/{product_id}.
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := s.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("get product failed", zap.String("product_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": toProductView(product)})
}

// getProductByURL serves GET /v1/products/by-url?url=... , looking a product
// up by its natural key. Scrapers use this to check what the catalog already
// holds for a page.
func (s *Server) getProductByURL(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "url parameter is required")
		return
	}
	product, err := s.store.GetProductByURL(r.Context(), rawURL)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("get product by url failed", zap.String("url", rawURL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": toProductView(product)})
}

// getSimilarProducts serves GET /v1/products/{product_id}/similar.
func (s *Server) getSimilarProducts(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := parseLimitOffset(r, defaultSimilar, maxSimilar)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	similar, err := s.engine.Similar(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("similar products failed", zap.String("product_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load similar products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toScoredViews(similar)})
}

// reembedProduct serves POST /v1/products/{product_id}/reembed. It flags the
// product for the next backfill pass without recomputing anything inline.
func (s *Server) reembedProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseProductID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.MarkEmbeddingPending(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		s.logger.Error("mark embedding pending failed", zap.String("product_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to flag product")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"product_id": id.String(),
		"embedding":  string(catalog.EmbeddingPending),
	})
}

// listCategories serves GET /v1/categories, ordered by materialized path so
// parents always precede their children.
func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategoryTree(r.Context())
	if err != nil {
		s.logger.Error("list categories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": toCategoryViews(categories)})
}

func parseProductID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "product_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("product_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid product_id")
	}
	return id, nil
}

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pricewise/catalog-search/internal/catalog"
)

type priceView struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type basePriceView struct {
	Amount   decimal.Decimal `json:"amount"`
	Unit     string          `json:"unit,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	RawText  string          `json:"raw_text,omitempty"`
}

type embeddingView struct {
	State      string     `json:"state"`
	Model      string     `json:"model,omitempty"`
	ComputedAt *time.Time `json:"computed_at,omitempty"`
}

type productView struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	SKU              string         `json:"sku,omitempty"`
	ProductURL       string         `json:"product_url"`
	ImageURL         string         `json:"image_url,omitempty"`
	Price            priceView      `json:"price"`
	BasePrice        *basePriceView `json:"base_price,omitempty"`
	StockStatus      string         `json:"stock_status"`
	AvailabilityText string         `json:"availability_text,omitempty"`
	StoreID          int64          `json:"store_id"`
	CategoryID       *int64         `json:"category_id,omitempty"`
	ManufacturerID   *int64         `json:"manufacturer_id,omitempty"`
	Embedding        embeddingView  `json:"embedding"`
	ScrapedAt        time.Time      `json:"scraped_at"`
	LastPriceUpdate  time.Time      `json:"last_price_update"`
	ScrapeCount      int64          `json:"scrape_count"`
	Details          map[string]any `json:"details,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type scoredProductView struct {
	Product productView `json:"product"`
	Score   float64     `json:"score"`
}

type categoryView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Level    int    `json:"level"`
	Path     string `json:"path"`
}

func toProductView(p catalog.Product) productView {
	view := productView{
		ID:               p.ID.String(),
		Name:             p.Name,
		Description:      p.Description,
		SKU:              p.SKU,
		ProductURL:       p.ProductURL,
		ImageURL:         p.ImageURL,
		Price:            priceView{Amount: p.Price.Amount, Currency: p.Price.Currency},
		StockStatus:      string(p.StockStatus),
		AvailabilityText: p.AvailabilityText,
		StoreID:          p.StoreID,
		CategoryID:       p.CategoryID,
		ManufacturerID:   p.ManufacturerID,
		Embedding:        embeddingView{State: string(p.Embedding.State)},
		ScrapedAt:        p.ScrapedAt,
		LastPriceUpdate:  p.LastPriceUpdate,
		ScrapeCount:      p.ScrapeCount,
		Details:          p.Details,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.BasePrice.RawText != "" || !p.BasePrice.Amount.IsZero() {
		bp := basePriceView{
			Amount:   p.BasePrice.Amount,
			Unit:     p.BasePrice.Unit,
			Quantity: p.BasePrice.Quantity,
			RawText:  p.BasePrice.RawText,
		}
		view.BasePrice = &bp
	}
	if p.Embedding.State == catalog.EmbeddingComputed {
		view.Embedding.Model = p.Embedding.Model
		computed := p.Embedding.ComputedAt
		view.Embedding.ComputedAt = &computed
	}
	return view
}

func toScoredViews(in []catalog.ScoredProduct) []scoredProductView {
	out := make([]scoredProductView, 0, len(in))
	for _, sp := range in {
		out = append(out, scoredProductView{Product: toProductView(sp.Product), Score: sp.Score})
	}
	return out
}

func toCategoryViews(in []catalog.Category) []categoryView {
	out := make([]categoryView, 0, len(in))
	for _, c := range in {
		out = append(out, categoryView{
			ID:       c.ID,
			Name:     c.Name,
			ParentID: c.ParentID,
			Level:    c.Level,
			Path:     c.Path,
		})
	}
	return out
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

// parseProductFilter reads the shared filter query parameters.
func parseProductFilter(r *http.Request) (catalog.ProductFilter, error) {
	q := r.URL.Query()
	var filter catalog.ProductFilter

	if raw := q.Get("store_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, errors.New("invalid store_id")
		}
		filter.StoreID = &id
	}
	if raw := q.Get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, errors.New("invalid category_id")
		}
		filter.CategoryID = &id
	}
	if raw := q.Get("min_price"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return filter, errors.New("invalid min_price")
		}
		filter.MinPrice = &d
	}
	if raw := q.Get("max_price"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return filter, errors.New("invalid max_price")
		}
		filter.MaxPrice = &d
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		return filter, errors.New("min_price must not exceed max_price")
	}
	if raw := q.Get("in_stock"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, errors.New("invalid in_stock")
		}
		filter.InStockOnly = val
	}
	return filter, nil
}

func parseBrowseSort(r *http.Request) (catalog.BrowseSort, error) {
	switch strings.ToLower(r.URL.Query().Get("sort")) {
	case "":
		return "", nil
	case "name":
		return catalog.BrowseByName, nil
	case "recency":
		return catalog.BrowseByRecency, nil
	default:
		return "", errors.New("invalid sort")
	}
}

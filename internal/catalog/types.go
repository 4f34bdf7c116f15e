// Package catalog defines the core entities of the product catalog and the
// interfaces its storage and enrichment layers implement.
package catalog

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StockStatus is the coarse availability classification of a product.
type StockStatus string

// Supported stock statuses.
const (
	StockInStock    StockStatus = "in_stock"
	StockOutOfStock StockStatus = "out_of_stock"
	StockUnknown    StockStatus = "unknown"
)

// Valid reports whether s is one of the known stock statuses.
func (s StockStatus) Valid() bool {
	switch s {
	case StockInStock, StockOutOfStock, StockUnknown:
		return true
	}
	return false
}

// Price is a decimal-safe amount plus ISO currency code.
type Price struct {
	Amount   decimal.Decimal
	Currency string
}

// Equal compares amounts numerically and currencies exactly.
func (p Price) Equal(o Price) bool {
	return p.Currency == o.Currency && p.Amount.Equal(o.Amount)
}

// BasePrice carries the unit-price annotation often printed next to the main
// price (e.g. "1,99 € / 100 g"). RawText retains the original fragment when
// the structured fields could not be resolved.
type BasePrice struct {
	Amount   decimal.Decimal
	Unit     string
	Quantity decimal.Decimal
	RawText  string
}

// EmbeddingState tracks where a product sits in the embedding lifecycle.
type EmbeddingState string

// Embedding lifecycle states. A product starts Absent, moves to Pending
// whenever its search text changes, and reaches Computed once the backfill
// pass stores a vector.
const (
	EmbeddingAbsent   EmbeddingState = "absent"
	EmbeddingPending  EmbeddingState = "pending"
	EmbeddingComputed EmbeddingState = "computed"
)

// Embedding is the tagged variant holding a product's vector. Vector, Model
// and ComputedAt are only meaningful when State is EmbeddingComputed.
type Embedding struct {
	State      EmbeddingState
	Vector     []float32
	Model      string
	ComputedAt time.Time
}

// Store is one retail source (one row per scraped site or chain).
type Store struct {
	ID        int64
	Name      string
	Slug      string
	CreatedAt time.Time
}

// Manufacturer is a brand entity, unique by normalized name so that case or
// diacritic variants of the same brand never produce duplicate rows.
type Manufacturer struct {
	ID             int64
	Name           string
	NormalizedName string
	CreatedAt      time.Time
}

// Category is a node in the hierarchical category tree. Path is the
// materialized ancestor chain ("getraenke/cola"), recomputed whenever the
// parent linkage changes.
type Category struct {
	ID        int64
	Name      string
	ParentID  *int64
	Level     int
	Path      string
	CreatedAt time.Time
}

// Product is the catalog's central entity. SearchText and Embedding are
// derived fields owned by the ingestion and embedding components; callers
// never set them directly.
type Product struct {
	ID          uuid.UUID
	Name        string
	Description string
	SKU         string
	ProductURL  string
	ImageURL    string

	Price     Price
	BasePrice BasePrice

	StockStatus      StockStatus
	AvailabilityText string

	StoreID        int64
	CategoryID     *int64
	ManufacturerID *int64

	SearchText string
	Embedding  Embedding

	ScrapedAt       time.Time
	LastPriceUpdate time.Time
	ScrapeCount     int64

	// Details carries scraper-specific attributes (nutrition facts,
	// deposit info) as opaque JSON.
	Details map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RawRecord is one scraped product as delivered by a crawler, before any
// validation or normalization.
type RawRecord struct {
	Name             string         `json:"name" validate:"required,min=1"`
	Description      string         `json:"description"`
	SKU              string         `json:"sku"`
	PriceText        string         `json:"price_text" validate:"required"`
	BasePriceText    string         `json:"base_price_text"`
	ProductURL       string         `json:"product_url" validate:"required,url"`
	ImageURL         string         `json:"image_url" validate:"omitempty,url"`
	StoreName        string         `json:"store_name" validate:"required,min=2"`
	CategoryPath     []string       `json:"category_path"`
	ManufacturerName string         `json:"manufacturer_name"`
	AvailabilityText string         `json:"availability_text"`
	Details          map[string]any `json:"details"`
	ScrapedAt        time.Time      `json:"scraped_at"`
}

// BuildSearchText derives the lexical search field from the contributing
// fields. It must stay a pure function of its inputs: the ingestion pipeline
// relies on comparing old and new values to decide whether the stored
// embedding went stale.
func BuildSearchText(name, description, categoryName, manufacturerName string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{name, description, categoryName, manufacturerName} {
		if trimmed := CleanText(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// CleanText collapses runs of whitespace and strips control characters.
func CleanText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	cleaned := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, f)
		if f != "" {
			cleaned = append(cleaned, f)
		}
	}
	return strings.Join(cleaned, " ")
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// German names spell umlauts either way, so ü and ue must land on the same
// normalized form before the generic diacritic strip runs.
var umlautReplacer = strings.NewReplacer(
	"ä", "ae", "Ä", "ae",
	"ö", "oe", "Ö", "oe",
	"ü", "ue", "Ü", "ue",
	"ß", "ss",
)

// NormalizeName lowercases, transliterates German umlauts and strips the
// remaining diacritics, so "Müller", "MUELLER " and "müller" resolve to one
// reference entity. Unlike a pure ASCII fold it keeps non-Latin characters
// intact.
func NormalizeName(name string) string {
	cleaned := umlautReplacer.Replace(norm.NFC.String(CleanText(name)))
	stripped, _, err := transform.String(diacriticStripper, cleaned)
	if err != nil {
		stripped = cleaned
	}
	return strings.ToLower(stripped)
}

// Slugify derives a URL-safe identifier from a display name.
func Slugify(name string) string {
	normalized := NormalizeName(name)
	var b strings.Builder
	b.Grow(len(normalized))
	lastDash := true
	for _, r := range normalized {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

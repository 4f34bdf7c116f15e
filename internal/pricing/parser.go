// Package pricing converts scraped price and availability fragments into
// structured values. Retail sites mix decimal conventions ("1,29 €",
// "€1.29", "1.234,56 EUR") and frequently annotate a unit price next to the
// main one, so parsing stays tolerant: anything it cannot resolve is kept as
// opaque text instead of being dropped.
package pricing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pricewise/catalog-search/internal/catalog"
)

// Parse errors returned to the ingestion pipeline.
var (
	ErrNoPrice       = errors.New("pricing: no price found")
	ErrNegativePrice = errors.New("pricing: negative price")
)

var (
	// Matches "1,29", "1.29", "1.234,56", "1,234.56" and bare integers.
	numberPattern = regexp.MustCompile(`-?\d{1,3}(?:[.,]\d{3})+[.,]\d{1,2}|-?\d+[.,]\d{1,2}|-?\d+`)

	// Matches unit-price annotations like "1,99 € / 100 g", "(2.50 €/kg)"
	// or "€1.20 per 100ml".
	basePricePattern = regexp.MustCompile(`(?i)(?:\()?(?:€\s*)?(\d+[.,]\d{1,2})(?:\s*€)?\s*/?\s*(?:per\s+|je\s+)?(\d+(?:[.,]\d+)?)?\s*([a-zA-Zü]+)(?:\))?`)
)

var currencySymbols = []struct {
	token string
	code  string
}{
	{"€", "EUR"},
	{"eur", "EUR"},
	{"$", "USD"},
	{"usd", "USD"},
	{"£", "GBP"},
	{"gbp", "GBP"},
	{"chf", "CHF"},
}

var unitAliases = map[string]string{
	"g": "g", "gr": "g", "gram": "g", "gramm": "g",
	"kg": "kg", "kilo": "kg", "kilogram": "kg", "kilogramm": "kg",
	"ml": "ml", "milliliter": "ml",
	"l": "L", "liter": "L", "litre": "L",
	"st": "piece", "stück": "piece", "stuck": "piece", "piece": "piece", "pcs": "piece",
	"m": "m", "meter": "m", "metre": "m",
	"cm": "cm", "centimeter": "cm",
}

// ParsePrice extracts the main price from free text. The currency defaults
// to EUR when no symbol or code is present, matching the sources the
// ingestion pipeline was built for.
func ParsePrice(text string) (catalog.Price, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return catalog.Price{}, ErrNoPrice
	}

	match := numberPattern.FindString(trimmed)
	if match == "" {
		return catalog.Price{}, fmt.Errorf("%w: %q", ErrNoPrice, text)
	}

	amount, err := decimal.NewFromString(normalizeNumber(match))
	if err != nil {
		return catalog.Price{}, fmt.Errorf("pricing: parse %q: %w", match, err)
	}
	if amount.IsNegative() {
		return catalog.Price{}, fmt.Errorf("%w: %q", ErrNegativePrice, text)
	}

	return catalog.Price{Amount: amount, Currency: detectCurrency(trimmed)}, nil
}

// ParseBasePrice extracts the unit-price annotation. When the structured
// fields cannot be resolved the raw fragment is preserved in RawText so
// nothing from the source page is lost.
func ParseBasePrice(text string) catalog.BasePrice {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return catalog.BasePrice{}
	}

	m := basePricePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return catalog.BasePrice{RawText: trimmed}
	}

	amount, err := decimal.NewFromString(normalizeNumber(m[1]))
	if err != nil {
		return catalog.BasePrice{RawText: trimmed}
	}

	quantity := decimal.NewFromInt(1)
	if m[2] != "" {
		if q, qErr := decimal.NewFromString(normalizeNumber(m[2])); qErr == nil {
			quantity = q
		}
	}

	unit := strings.ToLower(strings.TrimSpace(m[3]))
	if canonical, ok := unitAliases[unit]; ok {
		unit = canonical
	}

	return catalog.BasePrice{
		Amount:   amount,
		Unit:     unit,
		Quantity: quantity,
		RawText:  trimmed,
	}
}

var inStockPhrases = []string{
	"verfügbar", "available", "auf lager", "in stock",
	"lieferbar", "sofort verfügbar", "vorrätig",
}

var outOfStockPhrases = []string{
	"nicht verfügbar", "out of stock", "ausverkauft",
	"nicht lieferbar", "temporär nicht verfügbar",
	"nicht vorrätig", "sold out",
}

// DetectAvailability classifies free availability text into a stock status.
// Negated phrases are checked first since "nicht verfügbar" contains
// "verfügbar".
func DetectAvailability(text string) (catalog.StockStatus, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return catalog.StockUnknown, ""
	}
	lower := strings.ToLower(trimmed)

	for _, phrase := range outOfStockPhrases {
		if strings.Contains(lower, phrase) {
			return catalog.StockOutOfStock, trimmed
		}
	}
	for _, phrase := range inStockPhrases {
		if strings.Contains(lower, phrase) {
			return catalog.StockInStock, trimmed
		}
	}
	return catalog.StockUnknown, trimmed
}

// normalizeNumber rewrites a localized numeric literal into the canonical
// dot-decimal form decimal.NewFromString expects. The last separator wins as
// the decimal mark when it is followed by one or two digits; everything else
// is treated as grouping.
func normalizeNumber(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	decimalSep := byte(0)
	switch {
	case lastComma > lastDot && trailingDigits(s, lastComma) <= 2:
		decimalSep = ','
	case lastDot > lastComma && trailingDigits(s, lastDot) <= 2:
		decimalSep = '.'
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case ',', '.':
			if c == decimalSep && i == strings.LastIndexByte(s, c) {
				b.WriteByte('.')
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func trailingDigits(s string, sep int) int {
	return len(s) - sep - 1
}

func detectCurrency(text string) string {
	lower := strings.ToLower(text)
	for _, c := range currencySymbols {
		if strings.Contains(lower, c.token) {
			return c.code
		}
	}
	return "EUR"
}

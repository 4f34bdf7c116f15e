package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricewise/catalog-search/internal/catalog"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       string
		amount   string
		currency string
	}{
		{"german comma with euro sign", "1,29 €", "1.29", "EUR"},
		{"leading euro sign", "€2.99", "2.99", "EUR"},
		{"code suffix", "1.50EUR", "1.5", "EUR"},
		{"thousands german", "1.234,56 €", "1234.56", "EUR"},
		{"thousands english", "$1,234.56", "1234.56", "USD"},
		{"bare integer defaults to EUR", "3", "3", "EUR"},
		{"embedded in sentence", "Jetzt nur 0,99 € statt 1,49 €", "0.99", "EUR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			price, err := ParsePrice(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.amount, price.Amount.String())
			assert.Equal(t, tc.currency, price.Currency)
		})
	}
}

func TestParsePriceRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParsePrice("")
	require.ErrorIs(t, err, ErrNoPrice)

	_, err = ParsePrice("kostenlos anfragen")
	require.ErrorIs(t, err, ErrNoPrice)

	_, err = ParsePrice("-1,29 €")
	require.ErrorIs(t, err, ErrNegativePrice)
}

func TestParseBasePrice(t *testing.T) {
	t.Parallel()

	bp := ParseBasePrice("1,99 € / 100 g")
	assert.Equal(t, "1.99", bp.Amount.String())
	assert.Equal(t, "100", bp.Quantity.String())
	assert.Equal(t, "g", bp.Unit)
	assert.Equal(t, "1,99 € / 100 g", bp.RawText)

	bp = ParseBasePrice("(2.50 €/kg)")
	assert.Equal(t, "2.5", bp.Amount.String())
	assert.Equal(t, "1", bp.Quantity.String())
	assert.Equal(t, "kg", bp.Unit)

	bp = ParseBasePrice("€1.20 per 100ml")
	assert.Equal(t, "1.2", bp.Amount.String())
	assert.Equal(t, "100", bp.Quantity.String())
	assert.Equal(t, "ml", bp.Unit)
}

func TestParseBasePriceKeepsOpaqueFragments(t *testing.T) {
	t.Parallel()

	bp := ParseBasePrice("Grundpreis siehe Etikett")
	assert.True(t, bp.Amount.IsZero())
	assert.Equal(t, "Grundpreis siehe Etikett", bp.RawText)

	bp = ParseBasePrice("")
	assert.Empty(t, bp.RawText)
}

func TestDetectAvailability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want catalog.StockStatus
	}{
		{"Sofort verfügbar", catalog.StockInStock},
		{"Auf Lager", catalog.StockInStock},
		{"in stock - ships today", catalog.StockInStock},
		{"Nicht verfügbar", catalog.StockOutOfStock},
		{"Ausverkauft", catalog.StockOutOfStock},
		{"sold out", catalog.StockOutOfStock},
		{"Lieferzeit unbekannt", catalog.StockUnknown},
		{"", catalog.StockUnknown},
	}

	for _, tc := range tests {
		status, text := DetectAvailability(tc.in)
		assert.Equal(t, tc.want, status, "input %q", tc.in)
		if tc.in != "" {
			assert.Equal(t, tc.in, text)
		}
	}
}

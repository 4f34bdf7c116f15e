package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricewise/catalog-search/internal/catalog"
)

func TestSearchReturnsRankedResults(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.lexical = []catalog.ScoredProduct{
		{Product: sampleProduct(1), Score: 4.0},
		{Product: sampleProduct(2), Score: 2.0},
	}
	server := newTestServer(t, store, testConfig(), true)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search?q=milch&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, 1.0, first["score"])
	assert.Equal(t, "Vollmilch 3,5%", first["product"].(map[string]any)["name"])
	// No embedder was wired, so the engine must report degraded ranking.
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, float64(2), body["total"])
}

func TestSearchRejectsInvalidParams(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeStore(), testConfig(), true)

	cases := []string{
		"/v1/search?q=milch&limit=nope",
		"/v1/search?q=milch&min_price=-1",
		"/v1/search?q=milch&min_price=5&max_price=2",
		"/v1/search?q=milch&sort=price",
		"/v1/search?q=milch&lexical_weight=0&vector_weight=0",
		"/v1/search?q=milch&vector_weight=-0.5",
		"/v1/search?q=milch&store_id=abc",
	}
	for _, target := range cases {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "target %s", target)
	}
}

func TestSearchEmptyQueryBrowses(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	p := sampleProduct(1)
	store.products[p.ID] = p
	server := newTestServer(t, store, testConfig(), true)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, false, body["degraded"])
}

func TestSuggestReturnsNames(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.names = []string{"Vollmilch 3,5%", "Vollkornbrot", "Butter"}
	server := newTestServer(t, store, testConfig(), true)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search/suggestions?q=voll", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	suggestions := body["suggestions"].([]any)
	assert.Len(t, suggestions, 2)
}

func TestSuggestEmptyQueryReturnsEmptyList(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeStore(), testConfig(), true)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search/suggestions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Empty(t, body["suggestions"])
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricewise/catalog-search/internal/catalog"
	"github.com/pricewise/catalog-search/internal/progress"
	"github.com/pricewise/catalog-search/internal/progress/sinks"
)

func milkRecord() catalog.RawRecord {
	return catalog.RawRecord{
		Name:             "Vollmilch 3,5%",
		PriceText:        "1,29 €",
		ProductURL:       "https://shop.example.de/p/vollmilch",
		StoreName:        "EDEKA",
		CategoryPath:     []string{"Lebensmittel", "Milchprodukte"},
		ManufacturerName: "Müller",
		AvailabilityText: "sofort verfügbar",
	}
}

func postJSON(t *testing.T, server *Server, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIngestAcceptsBatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	server := newTestServer(t, store, testConfig(), true)

	rec := postJSON(t, server, "/v1/ingest", map[string]any{
		"records": []catalog.RawRecord{milkRecord()},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["created"])
	assert.Equal(t, float64(0), body["rejected"])
	require.Len(t, store.upserts, 1)

	outcomes := body["outcomes"].([]any)
	first := outcomes[0].(map[string]any)
	assert.Equal(t, "created", first["status"])
}

func TestIngestReportsRejections(t *testing.T) {
	t.Parallel()

	bad := milkRecord()
	bad.PriceText = "kostenlos"
	server := newTestServer(t, newFakeStore(), testConfig(), true)

	rec := postJSON(t, server, "/v1/ingest", map[string]any{
		"records": []catalog.RawRecord{bad},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["rejected"])
}

func TestIngestRejectsEmptyAndOversizedBatches(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Ingest.MaxBatchRecords = 2
	server := newTestServer(t, newFakeStore(), cfg, true)

	rec := postJSON(t, server, "/v1/ingest", map[string]any{"records": []catalog.RawRecord{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	oversized := []catalog.RawRecord{milkRecord(), milkRecord(), milkRecord()}
	rec = postJSON(t, server, "/v1/ingest", map[string]any{"records": oversized})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeStore(), testConfig(), true)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackfillTriggerLifecycle(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeStore(), testConfig(), true)

	// Nothing consumes the queue in this test, so the first trigger
	// parks and the second coalesces into a conflict.
	rec := postJSON(t, server, "/v1/embeddings/backfill", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["id"])

	rec = postJSON(t, server, "/v1/embeddings/backfill", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestBackfillTriggerWithoutBackend(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeStore(), testConfig(), false)

	rec := postJSON(t, server, "/v1/embeddings/backfill", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	server := newTestServer(t, store, testConfig(), true)
	require.NoError(t, server.runs.Consume(context.Background(), []progress.Event{
		{
			RunID: progress.UUIDToBytes(uuid.New()),
			TS:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			Kind:  progress.KindIngest,
			Stage: progress.StageRunStart,
		},
	}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?kind=ingest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, string(sinks.RunRunning), runs[0].(map[string]any)["status"])

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?kind=bogus", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pricewise/catalog-search/internal/backfill"
	"github.com/pricewise/catalog-search/internal/catalog"
	"github.com/pricewise/catalog-search/internal/embedding"
	"github.com/pricewise/catalog-search/internal/progress"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type ingestRequest struct {
	Records []catalog.RawRecord `json:"records"`
}

// submitIngest serves POST /v1/ingest. The whole batch is processed
// synchronously; per-record outcomes come back in the response so scrapers
// can retry only their rejects.
func (s *Server) submitIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records required")
		return
	}
	if max := s.cfg.Ingest.MaxBatchRecords; max > 0 && len(req.Records) > max {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d records", max))
		return
	}

	summary := s.pipeline.IngestBatch(r.Context(), req.Records)
	writeJSON(w, http.StatusOK, summary)
}

// triggerBackfill serves POST /v1/embeddings/backfill. The run happens
// asynchronously; 202 means it is queued.
func (s *Server) triggerBackfill(w http.ResponseWriter, r *http.Request) {
	job, err := s.backfill.Trigger()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, job)
	case errors.Is(err, backfill.ErrBusy):
		writeError(w, http.StatusConflict, "backfill already queued")
	case errors.Is(err, embedding.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "no embedding backend configured")
	default:
		s.logger.Error("backfill trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue backfill")
	}
}

// listRuns serves GET /v1/runs?kind=&limit=, the recent ingestion and
// backfill run history.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultRunsLimit, maxRunsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := parseRunKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.List(kind, limit)})
}

func parseRunKind(raw string) (progress.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case string(progress.KindIngest):
		return progress.KindIngest, nil
	case string(progress.KindBackfill):
		return progress.KindBackfill, nil
	default:
		return "", errors.New("invalid kind")
	}
}

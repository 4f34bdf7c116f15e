package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pricewise/catalog-search/internal/search"
	"github.com/pricewise/catalog-search/internal/telemetry"
)

const (
	defaultSearchLimit  = 20
	maxSearchLimit      = 50
	defaultSuggestLimit = 10
	maxSuggestLimit     = 25
)

// handleSearch serves GET /v1/search. A blank q turns the call into a
// filter-only browse.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
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
	limit, offset, err := parseLimitOffset(r, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	weights, err := parseWeights(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := search.Request{
		Query:   strings.TrimSpace(r.URL.Query().Get("q")),
		Filter:  filter,
		Weights: weights,
		Sort:    sortBy,
		Limit:   limit,
		Offset:  offset,
	}

	start := time.Now()
	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.logger.Error("search failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	telemetry.ObserveSearch(searchMode(req, resp), resp.Degraded, time.Since(start))

	writeJSON(w, http.StatusOK, map[string]any{
		"results":  toScoredViews(resp.Products),
		"total":    resp.Total,
		"degraded": resp.Degraded,
	})
}

// handleSuggest serves GET /v1/search/suggestions.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	partial := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, _, err := parseLimitOffset(r, defaultSuggestLimit, maxSuggestLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	names, err := s.engine.Suggest(r.Context(), partial, limit)
	if err != nil {
		s.logger.Error("suggest failed", zap.String("query", partial), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "suggest failed")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": names})
}

func parseWeights(r *http.Request) (*search.Weights, error) {
	q := r.URL.Query()
	rawLex, rawVec := q.Get("lexical_weight"), q.Get("vector_weight")
	if rawLex == "" && rawVec == "" {
		return nil, nil
	}
	var weights search.Weights
	if rawLex != "" {
		val, err := strconv.ParseFloat(rawLex, 64)
		if err != nil || val < 0 {
			return nil, errors.New("invalid lexical_weight")
		}
		weights.Lexical = val
	}
	if rawVec != "" {
		val, err := strconv.ParseFloat(rawVec, 64)
		if err != nil || val < 0 {
			return nil, errors.New("invalid vector_weight")
		}
		weights.Vector = val
	}
	if weights.Lexical == 0 && weights.Vector == 0 {
		return nil, errors.New("weights must not both be zero")
	}
	return &weights, nil
}

func searchMode(req search.Request, resp search.Response) string {
	switch {
	case req.Query == "":
		return telemetry.ModeBrowse
	case resp.Degraded, req.Weights != nil && req.Weights.Vector == 0:
		return telemetry.ModeLexical
	default:
		return telemetry.ModeHybrid
	}
}

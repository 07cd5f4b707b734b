package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sawpanic/maverick/internal/cache"
	"github.com/sawpanic/maverick/internal/models"
	"github.com/sawpanic/maverick/internal/screen"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// screeningResponse is the envelope for one algorithm's ranked results.
type screeningResponse struct {
	Algorithm    string                   `json:"algorithm"`
	DateAnalyzed string                   `json:"date_analyzed,omitempty"`
	Count        int                      `json:"count"`
	Results      []models.ScreeningResult `json:"results"`
}

// watchlistResponse is the merged cross-algorithm ranked watchlist with a
// freshness block so consumers can see which algorithm data is stale.
// OldestDate is the freshness floor: the oldest date_analyzed any included
// algorithm is still serving.
type watchlistResponse struct {
	Count         int                           `json:"count"`
	Entries       []models.WatchlistEntry       `json:"entries"`
	DataFreshness map[string]algorithmFreshness `json:"data_freshness"`
	OldestDate    string                        `json:"oldest_date,omitempty"`
}

type algorithmFreshness struct {
	Status       string `json:"status"`
	DateAnalyzed string `json:"date_analyzed,omitempty"`
	Error        string `json:"error,omitempty"`
}

// criterionFilter is one minimum bound parsed from the query string:
// min_score bounds the headline score, min_<name> bounds a single
// criteria field, e.g. min_momentum_score=80. An empty field means the
// headline score.
type criterionFilter struct {
	field string
	min   float64
}

// parseCriteriaFilters extracts min_* bounds from the query string. The
// second return is a canonical representation for cache keying: sorted,
// so parameter order never splits the cache.
func parseCriteriaFilters(r *http.Request) ([]criterionFilter, string, error) {
	q := r.URL.Query()
	names := make([]string, 0, len(q))
	for name := range q {
		if strings.HasPrefix(name, "min_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	filters := make([]criterionFilter, 0, len(names))
	parts := make([]string, 0, len(names))
	for _, name := range names {
		min, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			return nil, "", fmt.Errorf("%s must be numeric", name)
		}
		field := strings.TrimPrefix(name, "min_")
		if field == "score" {
			field = ""
		}
		filters = append(filters, criterionFilter{field: field, min: min})
		parts = append(parts, name+"="+strconv.FormatFloat(min, 'g', -1, 64))
	}
	return filters, strings.Join(parts, "&"), nil
}

// matchesFilters reports whether a result clears every minimum bound. A
// result missing a filtered criteria field does not match.
func matchesFilters(res models.ScreeningResult, filters []criterionFilter) bool {
	for _, f := range filters {
		if f.field == "" {
			if res.Score < f.min {
				return false
			}
			continue
		}
		v, ok := res.Criteria[f.field]
		if !ok || v < f.min {
			return false
		}
	}
	return true
}

// Screening serves one algorithm's latest ranked results through the
// tiered cache. min_* query parameters narrow the set to rows clearing
// the given bounds, e.g. ?min_momentum_score=80&min_score=75.
func (h *Handlers) Screening(w http.ResponseWriter, r *http.Request) {
	algorithm := mux.Vars(r)["algorithm"]
	if !h.validAlgorithm(algorithm) {
		h.writeError(w, r, http.StatusNotFound, "unknown_algorithm",
			"unknown screening algorithm: "+algorithm)
		return
	}
	limit := parseLimit(r)
	filters, filterKey, err := parseCriteriaFilters(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	key := cache.Key("screening", algorithm, strconv.Itoa(limit))
	if filterKey != "" {
		key = cache.Key("screening", algorithm, strconv.Itoa(limit), filterKey)
	}
	payload, err := h.cache.GetOrCompute(r.Context(), key, h.ttl, func(ctx context.Context) ([]byte, error) {
		fetch := limit
		if len(filters) > 0 {
			// Filtering trims after the fetch, so pull the full
			// ranked set before applying the bounds.
			fetch = maxLimit
		}
		results, err := h.results.TopRanked(ctx, algorithm, fetch)
		if err != nil {
			return nil, err
		}
		if len(filters) > 0 {
			filtered := make([]models.ScreeningResult, 0, len(results))
			for _, res := range results {
				if matchesFilters(res, filters) {
					filtered = append(filtered, res)
				}
				if len(filtered) == limit {
					break
				}
			}
			results = filtered
		}
		resp := screeningResponse{
			Algorithm: algorithm,
			Count:     len(results),
			Results:   results,
		}
		if len(results) > 0 {
			resp.DateAnalyzed = results[0].DateAnalyzed.Format("2006-01-02")
		}
		if resp.Results == nil {
			resp.Results = []models.ScreeningResult{}
		}
		return json.Marshal(resp)
	})
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "screening_read_failed", err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// Watchlist serves the merged ranked watchlist across all algorithms.
func (h *Handlers) Watchlist(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	key := cache.Key("screening", "ranked", strconv.Itoa(limit))
	payload, err := h.cache.GetOrCompute(r.Context(), key, h.ttl, func(ctx context.Context) ([]byte, error) {
		resultSets := make(map[string][]models.ScreeningResult, len(h.algorithms))
		for _, algorithm := range h.algorithms {
			results, err := h.results.TopRanked(ctx, algorithm, maxLimit)
			if err != nil {
				return nil, err
			}
			resultSets[algorithm] = results
		}

		freshness, oldest := h.freshness(ctx)
		resp := watchlistResponse{
			Entries:       screen.BuildWatchlist(resultSets, limit),
			DataFreshness: freshness,
			OldestDate:    oldest,
		}
		resp.Count = len(resp.Entries)
		if resp.Entries == nil {
			resp.Entries = []models.WatchlistEntry{}
		}
		return json.Marshal(resp)
	})
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "watchlist_read_failed", err.Error())
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// freshness renders the per-algorithm freshness block and the freshness
// floor from the latest run records. A status read failure degrades to an
// empty block rather than failing the watchlist.
func (h *Handlers) freshness(ctx context.Context) (map[string]algorithmFreshness, string) {
	out := make(map[string]algorithmFreshness, len(h.algorithms))
	status, err := h.status.Status(ctx)
	if err != nil {
		return out, ""
	}
	oldest := ""
	if !status.FreshnessFloor.IsZero() {
		oldest = status.FreshnessFloor.Format("2006-01-02")
	}

	for _, algorithm := range h.algorithms {
		run, ok := status.Algorithms[algorithm]
		if !ok {
			out[algorithm] = algorithmFreshness{Status: "never_run"}
			continue
		}
		f := algorithmFreshness{Status: string(run.Status)}
		if !run.DateAnalyzed.IsZero() {
			f.DateAnalyzed = run.DateAnalyzed.Format("2006-01-02")
		}
		if run.Status == models.RunFailed {
			f.Error = run.ErrorDetail
		}
		out[algorithm] = f
	}
	return out, oldest
}

func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

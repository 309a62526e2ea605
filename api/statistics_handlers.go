package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"greedybear/core"
	"greedybear/storage"
)

type bucketQuery func(ctx context.Context, view core.ViewType, days int) ([]storage.StatBucket, error)

// handleFeedsStatistics serves daily feed-usage buckets.
// GET /api/statistics/feeds/{sources|downloads}
func (a *API) handleFeedsStatistics(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["kind"] {
	case "sources":
		a.serveStatBuckets(w, r, core.ViewFeeds, a.stats.SourcesPerDay)
	case "downloads":
		a.serveStatBuckets(w, r, core.ViewFeeds, a.stats.RequestsPerDay)
	default:
		writeError(w, http.StatusNotFound, "unknown statistics kind", nil, a.logger)
	}
}

// handleEnrichmentStatistics serves daily enrichment-usage buckets.
// GET /api/statistics/enrichment/{sources|requests}
func (a *API) handleEnrichmentStatistics(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["kind"] {
	case "sources":
		a.serveStatBuckets(w, r, core.ViewEnrichment, a.stats.SourcesPerDay)
	case "requests":
		a.serveStatBuckets(w, r, core.ViewEnrichment, a.stats.RequestsPerDay)
	default:
		writeError(w, http.StatusNotFound, "unknown statistics kind", nil, a.logger)
	}
}

func (a *API) serveStatBuckets(w http.ResponseWriter, r *http.Request, view core.ViewType, query bucketQuery) {
	buckets, err := query(r.Context(), view, a.config.Feeds.StatisticsDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query statistics", err, a.logger)
		return
	}
	if buckets == nil {
		buckets = []storage.StatBucket{}
	}
	respondJSON(w, http.StatusOK, buckets, a.logger)
}

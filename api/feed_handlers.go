package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"greedybear/core"
	"greedybear/feeds"
	"greedybear/metrics"
)

// handleFeeds serves the path-parametrized feed:
// GET /api/feeds/{feed_type}/{attack_type}/{prioritize}.{format}
func (a *API) handleFeeds(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	req := feeds.NewRequest(r.URL.Query())
	// path segments get the same case normalization as query params
	req.FeedType = strings.ToLower(vars["feed_type"])
	req.AttackType = strings.ToLower(vars["attack_type"])
	req.Format = strings.ToLower(vars["format"])
	req.ApplyPreset(vars["prioritize"])

	a.serveFeed(w, r, req, "feeds")
}

// handleFeedsAdvanced serves the query-parametrized feed surface.
// GET /api/feeds/advanced
func (a *API) handleFeedsAdvanced(w http.ResponseWriter, r *http.Request) {
	req := feeds.NewRequest(r.URL.Query())
	req.ApplyPreset(r.URL.Query().Get("prioritize"))

	if req.Paginate == "true" {
		a.servePaginatedFeed(w, r, req, "feeds_advanced")
		return
	}
	a.serveFeed(w, r, req, "feeds_advanced")
}

// handleFeedsPaginated serves the always-paginated JSON feed.
// GET /api/feeds
func (a *API) handleFeedsPaginated(w http.ResponseWriter, r *http.Request) {
	req := feeds.NewRequest(r.URL.Query())
	req.ApplyPreset(r.URL.Query().Get("prioritize"))
	a.servePaginatedFeed(w, r, req, "feeds_paginated")
}

func (a *API) serveFeed(w http.ResponseWriter, r *http.Request, req *feeds.Request, endpoint string) {
	ctx := r.Context()

	validTypes, err := a.validFeedTypes(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve feed types", err, a.logger)
		return
	}
	spec, verr := req.Resolve(validTypes)
	if verr != nil {
		metrics.FeedRequestsRejected.WithLabelValues(endpoint).Inc()
		writeValidationError(w, verr, a.logger)
		return
	}

	start := time.Now()
	iocs, err := a.iocs.FeedIOCs(ctx, spec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query feed", err, a.logger)
		return
	}
	metrics.FeedQueryDuration.WithLabelValues("feed").Observe(time.Since(start).Seconds())

	a.recordRequest(r, core.ViewFeeds)

	err = feeds.WriteFeed(w, iocs, spec,
		a.config.Feeds.LicenseURL, a.config.Feeds.ExtractionIntervalMinutes)
	if errors.Is(err, feeds.ErrUnknownFormat) {
		metrics.FeedRequestsRejected.WithLabelValues(endpoint).Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err != nil {
		a.logger.Errorw("failed to write feed response", "error", err)
		return
	}
	metrics.FeedsServed.WithLabelValues(endpoint, spec.Format).Inc()
}

// paginatedFeed is the envelope of the paginated JSON feed
type paginatedFeed struct {
	Count      int        `json:"count"`
	TotalPages int        `json:"total_pages"`
	Page       int        `json:"page"`
	Results    feeds.Feed `json:"results"`
}

func (a *API) servePaginatedFeed(w http.ResponseWriter, r *http.Request, req *feeds.Request, endpoint string) {
	ctx := r.Context()
	// pagination is JSON-only
	req.Format = feeds.FormatJSON

	validTypes, err := a.validFeedTypes(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve feed types", err, a.logger)
		return
	}
	spec, verr := req.Resolve(validTypes)
	if verr != nil {
		metrics.FeedRequestsRejected.WithLabelValues(endpoint).Inc()
		writeValidationError(w, verr, a.logger)
		return
	}

	iocs, err := a.iocs.FeedIOCs(ctx, spec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query feed", err, a.logger)
		return
	}

	a.recordRequest(r, core.ViewFeeds)

	records := feeds.BuildRecords(iocs, spec)
	p := a.parsePagination(r.URL.Query())
	start, end := p.window(len(records))

	respondJSON(w, http.StatusOK, paginatedFeed{
		Count:      len(records),
		TotalPages: p.totalPages(len(records)),
		Page:       p.Page,
		Results: feeds.Feed{
			License: a.config.Feeds.LicenseURL,
			IOCs:    records[start:end],
		},
	}, a.logger)
	metrics.FeedsServed.WithLabelValues(endpoint, feeds.FormatJSON).Inc()
}

// handleFeedsASN serves the per-ASN aggregation.
// GET /api/feeds/asn
func (a *API) handleFeedsASN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := feeds.NewRequest(r.URL.Query())

	validTypes, err := a.validFeedTypes(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve feed types", err, a.logger)
		return
	}
	spec, verr := req.ResolveASN(validTypes)
	if verr != nil {
		metrics.FeedRequestsRejected.WithLabelValues("feeds_asn").Inc()
		writeValidationError(w, verr, a.logger)
		return
	}

	start := time.Now()
	aggs, err := a.iocs.ASNAggregates(ctx, spec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate feed", err, a.logger)
		return
	}
	metrics.FeedQueryDuration.WithLabelValues("asn").Observe(time.Since(start).Seconds())

	a.recordRequest(r, core.ViewFeeds)

	if aggs == nil {
		aggs = []core.ASNAggregate{}
	}
	respondJSON(w, http.StatusOK, aggs, a.logger)
	metrics.FeedsServed.WithLabelValues("feeds_asn", feeds.FormatJSON).Inc()
}

// recordRequest appends the audit row for a served request. Best effort:
// a failed write never fails the serving path.
func (a *API) recordRequest(r *http.Request, view core.ViewType) {
	if err := a.stats.RecordRequest(r.Context(), a.clientIP(r), view); err != nil {
		metrics.StatisticsWriteFailures.Inc()
		a.logger.Warnw("failed to record request statistics", "error", err, "view", view)
	}
}

// handleHealth reports liveness
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, a.logger)
}

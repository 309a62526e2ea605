package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"greedybear/core"
	"greedybear/metrics"
	"greedybear/storage"
)

var validate = validator.New()

// enrichmentRequest is the validated enrichment query
type enrichmentRequest struct {
	Query string `validate:"required,max=256"`
}

// enrichmentResponse reports whether the observable is a known IOC
type enrichmentResponse struct {
	Found bool      `json:"found"`
	IOC   *core.IOC `json:"ioc,omitempty"`
}

// handleEnrichment serves exact-match IOC lookups.
// GET /api/enrichment?query=<ip|domain>
func (a *API) handleEnrichment(w http.ResponseWriter, r *http.Request) {
	req := enrichmentRequest{Query: r.URL.Query().Get("query")}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "query parameter is required", nil, a.logger)
		return
	}
	if _, err := core.DetectObservableType(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, "query is not a valid IP address or domain", nil, a.logger)
		return
	}

	ioc, err := a.iocs.GetIOCByName(r.Context(), req.Query)
	if err != nil {
		if errors.Is(err, storage.ErrIOCNotFound) {
			a.recordRequest(r, core.ViewEnrichment)
			metrics.EnrichmentLookups.WithLabelValues("miss").Inc()
			respondJSON(w, http.StatusOK, enrichmentResponse{Found: false}, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "enrichment lookup failed", err, a.logger)
		return
	}

	a.recordRequest(r, core.ViewEnrichment)
	metrics.EnrichmentLookups.WithLabelValues("hit").Inc()
	respondJSON(w, http.StatusOK, enrichmentResponse{Found: true, IOC: ioc}, a.logger)
}

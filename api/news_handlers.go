package api

import (
	"net/http"

	"greedybear/news"
)

// handleNews serves cached project blog entries.
// GET /api/news
func (a *API) handleNews(w http.ResponseWriter, r *http.Request) {
	if a.news == nil {
		writeError(w, http.StatusNotFound, "news endpoint is disabled", nil, a.logger)
		return
	}
	entries, err := a.news.Entries(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch news", err, a.logger)
		return
	}
	if entries == nil {
		entries = []news.Entry{}
	}
	respondJSON(w, http.StatusOK, entries, a.logger)
}

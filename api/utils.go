package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"greedybear/feeds"
)

// writeError writes a JSON error response. The internal error is logged but
// never sent to the client.
func writeError(w http.ResponseWriter, status int, message string, err error, logger *zap.SugaredLogger) {
	if err != nil {
		logger.Errorw(message, "error", err, "status", status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondJSON writes v as a JSON response
func respondJSON(w http.ResponseWriter, status int, v interface{}, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

// writeValidationError renders a 400 with the per-field failure lists.
func writeValidationError(w http.ResponseWriter, verr *feeds.ValidationError, logger *zap.SugaredLogger) {
	logger.Debugw("request validation failed", "fields", verr.Fields)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(verr)
}

// clientIP resolves the request source address. X-Forwarded-For is only
// trusted when the deployment says a proxy terminates client connections.
func (a *API) clientIP(r *http.Request) string {
	if a.config.API.TrustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"greedybear/metrics"
)

// corsMiddleware applies the configured origin policy
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := a.config.API.AllowedOrigins
		if origin != "" {
			for _, o := range allowed {
				if o == "*" || o == origin {
					w.Header().Set("Access-Control-Allow-Origin", o)
					break
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-Api-Key, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a per-client token bucket
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.clientAllowed(a.clientIP(r)) {
			metrics.RateLimited.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) clientAllowed(ip string) bool {
	a.limiterMu.Lock()
	defer a.limiterMu.Unlock()

	cl, ok := a.limiters[ip]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(
				rate.Limit(a.config.API.RateLimit.RequestsPerSecond),
				a.config.API.RateLimit.Burst),
		}
		a.limiters[ip] = cl
	}
	cl.lastSeen = time.Now()

	// occasional sweep of stale entries to keep the map bounded
	if len(a.limiters) > 10000 {
		cutoff := time.Now().Add(-10 * time.Minute)
		for k, v := range a.limiters {
			if v.lastSeen.Before(cutoff) {
				delete(a.limiters, k)
			}
		}
	}
	return cl.limiter.Allow()
}

// requireAuth wraps a handler with bearer-JWT or API-key authentication.
// A no-op when auth is disabled in the configuration.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.config.API.Auth.Enabled {
			next(w, r)
			return
		}
		if a.authenticate(r) {
			next(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "authentication required", nil, a.logger)
	}
}

func (a *API) authenticate(r *http.Request) bool {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if a.validateJWT(strings.TrimPrefix(header, "Bearer ")) {
			return true
		}
	}
	if key := r.Header.Get("X-Api-Key"); key != "" && a.config.API.Auth.APIKeyHash != "" {
		err := bcrypt.CompareHashAndPassword([]byte(a.config.API.Auth.APIKeyHash), []byte(key))
		return err == nil
	}
	return false
}

func (a *API) validateJWT(tokenString string) bool {
	if a.config.API.Auth.JWTSecret == "" {
		return false
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.API.Auth.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		a.logger.Debugw("JWT validation failed", "error", err)
		return false
	}
	return token.Valid
}

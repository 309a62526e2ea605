// Package api exposes the HTTP surface: feed endpoints, the ASN roll-up,
// enrichment lookups, usage statistics, news, health and metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"greedybear/config"
	"greedybear/core"
	"greedybear/news"
	"greedybear/storage"
)

// NewsProvider is the news surface the API consumes. Satisfied by
// *news.Service; nil disables the endpoint.
type NewsProvider interface {
	Entries(ctx context.Context) ([]news.Entry, error)
}

// API is the HTTP server with its handler dependencies
type API struct {
	router *mux.Router
	server *http.Server

	iocs      storage.IOCStorage
	honeypots storage.HoneypotStorage
	stats     storage.StatisticsStorage
	news      NewsProvider

	config *config.Config
	logger *zap.SugaredLogger

	// feedTypes caches the active-honeypot feed-type set so every feed
	// request does not hit the registry table.
	feedTypes *expirable.LRU[string, []string]

	limiterMu sync.Mutex
	limiters  map[string]*clientLimiter
}

// NewAPI creates the API server and registers all routes.
func NewAPI(
	cfg *config.Config,
	iocs storage.IOCStorage,
	honeypots storage.HoneypotStorage,
	stats storage.StatisticsStorage,
	newsProvider NewsProvider,
	logger *zap.SugaredLogger,
) *API {
	a := &API{
		router:    mux.NewRouter(),
		iocs:      iocs,
		honeypots: honeypots,
		stats:     stats,
		news:      newsProvider,
		config:    cfg,
		logger:    logger,
		feedTypes: expirable.NewLRU[string, []string](1, nil, cfg.Feeds.RegistryCacheTTL),
		limiters:  make(map[string]*clientLimiter),
	}
	a.registerRoutes()
	return a
}

func (a *API) registerRoutes() {
	r := a.router
	r.Use(a.corsMiddleware)
	if a.config.API.RateLimit.Enabled {
		r.Use(a.rateLimitMiddleware)
	}

	// fixed paths must register before the variable feed route
	r.HandleFunc("/api/feeds/advanced", a.requireAuth(a.handleFeedsAdvanced)).Methods(http.MethodGet)
	r.HandleFunc("/api/feeds/asn", a.handleFeedsASN).Methods(http.MethodGet)
	r.HandleFunc("/api/feeds/{feed_type}/{attack_type}/{prioritize:[a-z_]+}.{format:[a-z]+}",
		a.handleFeeds).Methods(http.MethodGet)
	r.HandleFunc("/api/feeds", a.handleFeedsPaginated).Methods(http.MethodGet)

	r.HandleFunc("/api/enrichment", a.requireAuth(a.handleEnrichment)).Methods(http.MethodGet)

	r.HandleFunc("/api/statistics/feeds/{kind}", a.handleFeedsStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/statistics/enrichment/{kind}", a.handleEnrichmentStatistics).Methods(http.MethodGet)

	r.HandleFunc("/api/news", a.handleNews).Methods(http.MethodGet)

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Router exposes the handler for tests
func (a *API) Router() http.Handler {
	return a.router
}

// Start begins serving. Blocks until the server stops.
func (a *API) Start() error {
	addr := fmt.Sprintf("%s:%d", a.config.API.Host, a.config.API.Port)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	a.logger.Infow("starting API server", "addr", addr, "tls", a.config.API.TLS)
	var err error
	if a.config.API.TLS {
		err = a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
	} else {
		err = a.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully
func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// validFeedTypes returns the cached canonical feed types of the active
// honeypots.
func (a *API) validFeedTypes(ctx context.Context) ([]string, error) {
	if cached, ok := a.feedTypes.Get("active"); ok {
		return cached, nil
	}
	honeypots, err := a.honeypots.ActiveHoneypots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active honeypots: %w", err)
	}
	types := make([]string, 0, len(honeypots))
	seen := make(map[string]bool)
	for _, hp := range honeypots {
		ft := core.CanonicalFeedType(hp.Name)
		if !seen[ft] {
			seen[ft] = true
			types = append(types, ft)
		}
	}
	a.feedTypes.Add("active", types)
	return types, nil
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

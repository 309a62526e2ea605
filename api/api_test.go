package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"greedybear/config"
	"greedybear/core"
	"greedybear/feeds"
	"greedybear/storage"
)

var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	api       *API
	iocs      *storage.SQLiteIOCStorage
	honeypots *storage.SQLiteHoneypotStorage
	cfg       *config.Config
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Port = 8080
	cfg.API.Host = "127.0.0.1"
	cfg.API.AllowedOrigins = []string{"*"}
	cfg.API.RateLimit.Enabled = false
	cfg.API.Pagination.DefaultPageSize = 100
	cfg.API.Pagination.MaxPageSize = 1000
	cfg.Feeds.LicenseURL = "https://example.com/license"
	cfg.Feeds.ExtractionIntervalMinutes = 10
	cfg.Feeds.RegistryCacheTTL = time.Minute
	cfg.Feeds.StatisticsDays = 10
	cfg.Storage.QueryTimeout = 5 * time.Second
	return cfg
}

func setupAPI(t *testing.T, mutate func(*config.Config)) *testAPI {
	t.Helper()
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), 5*time.Second, zap.NewNop().Sugar())
	require.NoError(t, err)
	sqlite.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { _ = sqlite.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	iocs := storage.NewSQLiteIOCStorage(sqlite)
	honeypots := storage.NewSQLiteHoneypotStorage(sqlite)
	stats := storage.NewSQLiteStatisticsStorage(sqlite)

	return &testAPI{
		api:       NewAPI(cfg, iocs, honeypots, stats, nil, zap.NewNop().Sugar()),
		iocs:      iocs,
		honeypots: honeypots,
		cfg:       cfg,
	}
}

func (ta *testAPI) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	cowrie := &core.Honeypot{Name: "Cowrie", Active: true}
	require.NoError(t, ta.honeypots.CreateHoneypot(ctx, cowrie))
	log4pot := &core.Honeypot{Name: "Log4pot", Active: true}
	require.NoError(t, ta.honeypots.CreateHoneypot(ctx, log4pot))

	asn := int64(64496)
	first := &core.IOC{
		Name: "140.246.171.141", Type: core.IOCTypeIP,
		FirstSeen: testNow.AddDate(0, 0, -2), LastSeen: testNow.AddDate(0, 0, -1),
		AttackCount: 15, InteractionCount: 30, LoginAttempts: 5,
		NumberOfDaysSeen: 2, ASN: &asn, RecurrenceProbability: 0.5,
		ExpectedInteractions: 3.25, Scanner: true,
	}
	require.NoError(t, ta.iocs.CreateIOC(ctx, first))
	require.NoError(t, ta.iocs.AssociateHoneypot(ctx, first.ID, cowrie.ID))

	second := &core.IOC{
		Name: "198.51.100.7", Type: core.IOCTypeIP,
		FirstSeen: testNow.AddDate(0, 0, -3), LastSeen: testNow.AddDate(0, 0, -2),
		AttackCount: 5, InteractionCount: 10, LoginAttempts: 2,
		NumberOfDaysSeen: 1, ASN: &asn, RecurrenceProbability: 0.25,
		ExpectedInteractions: 1.5, PayloadRequest: true,
	}
	require.NoError(t, ta.iocs.CreateIOC(ctx, second))
	require.NoError(t, ta.iocs.AssociateHoneypot(ctx, second.ID, log4pot.ID))
}

func (ta *testAPI) get(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.10:50000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ta.api.Router().ServeHTTP(w, req)
	return w
}

// =============================================================================
// Feed endpoints
// =============================================================================

func TestFeedEndpointJSON(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds/all/all/recent.json", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body feeds.Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://example.com/license", body.License)
	require.Len(t, body.IOCs, 2)
	// default ordering is -last_seen
	assert.Equal(t, "140.246.171.141", body.IOCs[0].Value)
	assert.Equal(t, []string{"cowrie"}, body.IOCs[0].FeedType)
}

func TestFeedEndpointTXT(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds/all/scanner/recent.txt", nil)
	require.Equal(t, http.StatusOK, w.Code)

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "# "))
	assert.Equal(t, "140.246.171.141", lines[1])
}

func TestFeedEndpointCSV(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds/all/all/recent.csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "feeds.csv")
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
}

func TestFeedEndpointUnknownFormat(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds/all/all/recent.xml", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestFeedEndpointFeedTypeFilter(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds/log4j/all/recent.json", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body feeds.Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.IOCs, 1)
	assert.Equal(t, "198.51.100.7", body.IOCs[0].Value)
}

func TestFeedEndpointInvalidFeedType(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeeds-typo/all/recent.json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ta.get("/api/feeds/dionaea/all/recent.json", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body["errors"], "feed_type")
	assert.Contains(t, body["errors"]["feed_type"][0], "dionaea")
}

func TestFeedEndpointMixedCasePath(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	// path segments are case-normalized like query params
	w := ta.get("/api/feeds/Cowrie/all/recent.json", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body feeds.Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.IOCs, 1)
	assert.Equal(t, "140.246.171.141", body.IOCs[0].Value)

	w = ta.get("/api/feeds/all/Scanner/recent.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.IOCs, 1)
	assert.Equal(t, []string{"cowrie"}, body.IOCs[0].FeedType)
}

func TestFeedEndpointPersistentPreset(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	// min_days_seen=10 under the persistent preset filters everything out
	w := ta.get("/api/feeds/all/all/persistent.json", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body feeds.Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.IOCs)
}

func TestPaginatedFeedEndpoint(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds?page=1&page_size=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count      int        `json:"count"`
		TotalPages int        `json:"total_pages"`
		Page       int        `json:"page"`
		Results    feeds.Feed `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, 2, body.TotalPages)
	assert.Equal(t, 1, body.Page)
	assert.Len(t, body.Results.IOCs, 1)
}

func TestAdvancedFeedEndpointVerbose(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds/advanced?verbose=true&attack_type=scanner", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body feeds.Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.IOCs, 1)
	require.NotNil(t, body.IOCs[0].NumberOfDaysSeen)
	assert.Equal(t, int64(2), *body.IOCs[0].NumberOfDaysSeen)
}

// =============================================================================
// ASN aggregation endpoint
// =============================================================================

func TestASNEndpoint(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds/asn", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var aggs []core.ASNAggregate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &aggs))
	require.Len(t, aggs, 1)
	assert.Equal(t, int64(64496), aggs[0].ASN)
	assert.Equal(t, int64(2), aggs[0].IOCCount)
	assert.Equal(t, int64(20), aggs[0].TotalAttackCount)
	assert.Equal(t, int64(40), aggs[0].TotalInteractionCount)
	assert.Equal(t, int64(7), aggs[0].TotalLoginAttempts)
	assert.Equal(t, []string{"Cowrie", "Log4pot"}, aggs[0].Honeypots)
	assert.InDelta(t, 0.75, aggs[0].ExpectedIOCCount, 1e-9)
}

func TestASNEndpointInvalidOrdering(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/feeds/asn?ordering=honeypots", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "honeypots")
	assert.Contains(t, w.Body.String(), "invalid")
}

func TestASNEndpointEmpty(t *testing.T) {
	ta := setupAPI(t, nil)

	w := ta.get("/api/feeds/asn", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

// =============================================================================
// Enrichment endpoint
// =============================================================================

func TestEnrichmentEndpoint(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	w := ta.get("/api/enrichment?query=140.246.171.141", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Found bool      `json:"found"`
		IOC   *core.IOC `json:"ioc"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Found)
	require.NotNil(t, body.IOC)
	assert.Equal(t, int64(15), body.IOC.AttackCount)

	w = ta.get("/api/enrichment?query=9.9.9.9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Found)
}

func TestEnrichmentEndpointInvalidQuery(t *testing.T) {
	ta := setupAPI(t, nil)

	w := ta.get("/api/enrichment", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.get("/api/enrichment?query=not%20an%20observable!", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Statistics endpoints
// =============================================================================

func TestStatisticsEndpoints(t *testing.T) {
	ta := setupAPI(t, nil)
	ta.seed(t)

	// serve two feed requests and one enrichment request
	require.Equal(t, http.StatusOK, ta.get("/api/feeds/all/all/recent.json", nil).Code)
	require.Equal(t, http.StatusOK, ta.get("/api/feeds/all/all/recent.json", nil).Code)
	require.Equal(t, http.StatusOK, ta.get("/api/enrichment?query=140.246.171.141", nil).Code)

	w := ta.get("/api/statistics/feeds/downloads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var buckets []storage.StatBucket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buckets))
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(2), buckets[0].Count)

	w = ta.get("/api/statistics/feeds/sources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buckets))
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].Count)

	w = ta.get("/api/statistics/enrichment/requests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buckets))
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].Count)

	w = ta.get("/api/statistics/feeds/bogus", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Auth and infrastructure
// =============================================================================

func TestAuthRequired(t *testing.T) {
	keyHash, err := bcrypt.GenerateFromPassword([]byte("test-api-key"), bcrypt.MinCost)
	require.NoError(t, err)

	ta := setupAPI(t, func(cfg *config.Config) {
		cfg.API.Auth.Enabled = true
		cfg.API.Auth.JWTSecret = "test-secret"
		cfg.API.Auth.APIKeyHash = string(keyHash)
	})
	ta.seed(t)

	// protected endpoints reject anonymous requests
	assert.Equal(t, http.StatusUnauthorized, ta.get("/api/feeds/advanced", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ta.get("/api/enrichment?query=1.1.1.1", nil).Code)

	// the public feed stays open
	assert.Equal(t, http.StatusOK, ta.get("/api/feeds/all/all/recent.json", nil).Code)

	// API key auth
	w := ta.get("/api/feeds/advanced", map[string]string{"X-Api-Key": "test-api-key"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = ta.get("/api/feeds/advanced", map[string]string{"X-Api-Key": "wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// JWT auth
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "feeds-consumer",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	w = ta.get("/api/feeds/advanced", map[string]string{"Authorization": "Bearer " + signed})
	assert.Equal(t, http.StatusOK, w.Code)

	w = ta.get("/api/feeds/advanced", map[string]string{"Authorization": "Bearer not.a.token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit(t *testing.T) {
	ta := setupAPI(t, func(cfg *config.Config) {
		cfg.API.RateLimit.Enabled = true
		cfg.API.RateLimit.RequestsPerSecond = 1
		cfg.API.RateLimit.Burst = 2
	})

	assert.Equal(t, http.StatusOK, ta.get("/health", nil).Code)
	assert.Equal(t, http.StatusOK, ta.get("/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, ta.get("/health", nil).Code)
}

func TestHealthEndpoint(t *testing.T) {
	ta := setupAPI(t, nil)
	w := ta.get("/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

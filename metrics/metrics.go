// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedsServed counts served feed responses by endpoint and format
	FeedsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greedybear_feeds_served_total",
		Help: "Total number of feed responses served",
	}, []string{"endpoint", "format"})

	// FeedRequestsRejected counts feed requests rejected with a 4xx
	FeedRequestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greedybear_feed_requests_rejected_total",
		Help: "Total number of feed requests rejected by validation",
	}, []string{"endpoint"})

	// EnrichmentLookups counts enrichment lookups by result
	EnrichmentLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greedybear_enrichment_lookups_total",
		Help: "Total number of enrichment lookups",
	}, []string{"result"})

	// FeedQueryDuration observes store-side feed query latency
	FeedQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greedybear_feed_query_duration_seconds",
		Help:    "Feed query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	// StatisticsWriteFailures counts best-effort audit writes that failed
	StatisticsWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greedybear_statistics_write_failures_total",
		Help: "Total number of failed request-statistics writes",
	})

	// NewsCacheHits counts news cache hits and misses
	NewsCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greedybear_news_cache_total",
		Help: "News cache lookups by outcome",
	}, []string{"outcome"})

	// RateLimited counts requests rejected by the rate limiter
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "greedybear_rate_limited_total",
		Help: "Total number of rate-limited requests",
	})
)

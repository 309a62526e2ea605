// Package news serves project blog entries from an RSS feed, cached in
// redis so the upstream is fetched at most once per TTL.
package news

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"greedybear/metrics"
)

const (
	cacheKey       = "greedybear:news"
	subtextMaxLen  = 80
	fetchTimeout   = 10 * time.Second
	maxFeedEntries = 20
)

// Entry is one blog post surfaced on the news endpoint.
type Entry struct {
	Title    string `json:"title" msgpack:"title"`
	Subtext  string `json:"subtext" msgpack:"subtext"`
	Link     string `json:"link" msgpack:"link"`
	Date     string `json:"date" msgpack:"date"`
	dateTime time.Time
}

// rss mirrors the subset of the feed XML the service reads.
type rss struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Service fetches and caches news entries.
type Service struct {
	redis   *redis.Client
	httpc   *http.Client
	feedURL string
	ttl     time.Duration
	logger  *zap.SugaredLogger
}

// NewService creates a news service. The redis client may not be nil; run
// the endpoint disabled instead.
func NewService(redisClient *redis.Client, feedURL string, ttl time.Duration, logger *zap.SugaredLogger) *Service {
	return &Service{
		redis:   redisClient,
		httpc:   &http.Client{Timeout: fetchTimeout},
		feedURL: feedURL,
		ttl:     ttl,
		logger:  logger,
	}
}

// Entries returns the current news entries, newest first, serving from the
// cache when possible.
func (s *Service) Entries(ctx context.Context) ([]Entry, error) {
	cached, err := s.redis.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var entries []Entry
		if err := msgpack.Unmarshal(cached, &entries); err == nil {
			metrics.NewsCacheHits.WithLabelValues("hit").Inc()
			return entries, nil
		}
		s.logger.Warnw("discarding undecodable news cache entry", "error", err)
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warnw("news cache read failed", "error", err)
	}
	metrics.NewsCacheHits.WithLabelValues("miss").Inc()

	entries, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := msgpack.Marshal(entries)
	if err == nil {
		if err := s.redis.Set(ctx, cacheKey, encoded, s.ttl).Err(); err != nil {
			s.logger.Warnw("news cache write failed", "error", err)
		}
	}
	return entries, nil
}

func (s *Service) fetch(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build news request: %w", err)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read news feed: %w", err)
	}

	var feed rss
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse news feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		// the upstream feed is shared across projects
		if !strings.Contains(item.Title, "GreedyBear") {
			continue
		}
		e := Entry{
			Title:   item.Title,
			Subtext: truncate(stripTags(item.Description), subtextMaxLen),
			Link:    item.Link,
		}
		if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
			e.dateTime = t
			e.Date = t.Format("2006-01-02")
		} else if t, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
			e.dateTime = t
			e.Date = t.Format("2006-01-02")
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].dateTime.After(entries[b].dateTime)
	})
	if len(entries) > maxFeedEntries {
		entries = entries[:maxFeedEntries]
	}
	return entries, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// stripTags removes anything between angle brackets. Good enough for RSS
// descriptions; the output is display text, never re-rendered as HTML.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

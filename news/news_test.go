package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Project Blog</title>
    <item>
      <title>GreedyBear v2 released</title>
      <link>https://example.com/greedybear-v2</link>
      <description>&lt;p&gt;A new release with improved feeds and a lot of other changes that make this description longer than eighty characters for sure.&lt;/p&gt;</description>
      <pubDate>Mon, 24 Aug 2026 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Unrelated project update</title>
      <link>https://example.com/other</link>
      <description>Not about the bear.</description>
      <pubDate>Tue, 25 Aug 2026 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>GreedyBear honeypot guide</title>
      <link>https://example.com/greedybear-guide</link>
      <description>Short text.</description>
      <pubDate>Wed, 26 Aug 2026 10:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

func setupNews(t *testing.T, handler http.HandlerFunc) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewService(client, server.URL, time.Hour, zap.NewNop().Sugar()), mr
}

func TestEntriesFetchAndFilter(t *testing.T) {
	svc, _ := setupNews(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testRSS)
	})

	entries, err := svc.Entries(context.Background())
	require.NoError(t, err)
	// only GreedyBear posts survive the filter, newest first
	require.Len(t, entries, 2)
	assert.Equal(t, "GreedyBear honeypot guide", entries[0].Title)
	assert.Equal(t, "2026-08-26", entries[0].Date)
	assert.Equal(t, "GreedyBear v2 released", entries[1].Title)

	// long descriptions are truncated, HTML stripped
	assert.LessOrEqual(t, len([]rune(entries[1].Subtext)), 83)
	assert.NotContains(t, entries[1].Subtext, "<p>")
}

func TestEntriesServedFromCache(t *testing.T) {
	var fetches int
	svc, _ := setupNews(t, func(w http.ResponseWriter, r *http.Request) {
		fetches++
		fmt.Fprint(w, testRSS)
	})

	_, err := svc.Entries(context.Background())
	require.NoError(t, err)
	_, err = svc.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)
}

func TestEntriesCacheExpiry(t *testing.T) {
	var fetches int
	svc, mr := setupNews(t, func(w http.ResponseWriter, r *http.Request) {
		fetches++
		fmt.Fprint(w, testRSS)
	})

	_, err := svc.Entries(context.Background())
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = svc.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestEntriesUpstreamFailure(t *testing.T) {
	svc, _ := setupNews(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := svc.Entries(context.Background())
	assert.Error(t, err)
}

package feeds

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greedybear/core"
)

func sampleIOCs() []core.IOC {
	asn := int64(64496)
	return []core.IOC{
		{
			Name:                  "140.246.171.141",
			Type:                  core.IOCTypeIP,
			FirstSeen:             time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			LastSeen:              time.Date(2026, 8, 27, 9, 30, 0, 0, time.UTC),
			AttackCount:           15,
			InteractionCount:      30,
			LoginAttempts:         5,
			NumberOfDaysSeen:      4,
			DestinationPorts:      []int{22, 2222},
			ASN:                   &asn,
			RecurrenceProbability: 0.8,
			ExpectedInteractions:  12.5,
			Scanner:               true,
			Honeypots:             []string{"Cowrie"},
		},
		{
			Name:           "evil.example.com",
			Type:           core.IOCTypeDomain,
			FirstSeen:      time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC),
			LastSeen:       time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
			AttackCount:    5,
			PayloadRequest: true,
			Honeypots:      []string{"Log4pot"},
		},
	}
}

func TestBuildRecordsProjection(t *testing.T) {
	spec, verr := NewRequest(url.Values{}).Resolve([]string{"cowrie", "log4j"})
	require.Nil(t, verr)

	records := BuildRecords(sampleIOCs(), spec)
	require.Len(t, records, 2)

	rec := records[0]
	assert.Equal(t, "140.246.171.141", rec.Value)
	assert.Equal(t, core.IOCTypeIP, rec.IOCType)
	assert.Equal(t, "2026-08-20", rec.FirstSeen)
	assert.Equal(t, "2026-08-27", rec.LastSeen)
	assert.Equal(t, 2, rec.DestinationPortCount)
	assert.Equal(t, []string{"cowrie"}, rec.FeedType)
	// verbose-only fields are absent by default
	assert.Nil(t, rec.NumberOfDaysSeen)
	assert.Nil(t, rec.DestinationPorts)

	// the Log4pot honeypot surfaces as the log4j feed type
	assert.Equal(t, []string{"log4j"}, records[1].FeedType)
}

func TestBuildRecordsVerbose(t *testing.T) {
	q := url.Values{}
	q.Set("verbose", "true")
	spec, verr := NewRequest(q).Resolve([]string{"cowrie", "log4j"})
	require.Nil(t, verr)

	records := BuildRecords(sampleIOCs(), spec)
	require.NotNil(t, records[0].NumberOfDaysSeen)
	assert.Equal(t, int64(4), *records[0].NumberOfDaysSeen)
	assert.Equal(t, []int{22, 2222}, records[0].DestinationPorts)
}

func TestBuildRecordsFeedTypeSecondarySort(t *testing.T) {
	q := url.Values{}
	q.Set("ordering", "feed_type")
	r := NewRequest(q)
	r.ApplyPreset("recent")
	spec, verr := r.Resolve([]string{"cowrie", "log4j"})
	require.Nil(t, verr)
	require.Equal(t, SecondarySortAsc, spec.FeedTypeSort)

	records := BuildRecords(sampleIOCs(), spec)
	assert.Equal(t, []string{"cowrie"}, records[0].FeedType)
	assert.Equal(t, []string{"log4j"}, records[1].FeedType)

	q.Set("ordering", "-feed_type")
	r = NewRequest(q)
	r.ApplyPreset("recent")
	spec, verr = r.Resolve([]string{"cowrie", "log4j"})
	require.Nil(t, verr)
	records = BuildRecords(sampleIOCs(), spec)
	assert.Equal(t, []string{"log4j"}, records[0].FeedType)
}

func TestWriteFeedJSON(t *testing.T) {
	spec, verr := NewRequest(url.Values{}).Resolve([]string{"cowrie", "log4j"})
	require.Nil(t, verr)

	w := httptest.NewRecorder()
	require.NoError(t, WriteFeed(w, sampleIOCs(), spec, "https://example.com/license", 10))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body Feed
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://example.com/license", body.License)
	assert.Len(t, body.IOCs, 2)
}

func TestWriteFeedJSONOmitsEmptyLicense(t *testing.T) {
	spec, verr := NewRequest(url.Values{}).Resolve(nil)
	require.Nil(t, verr)

	w := httptest.NewRecorder()
	require.NoError(t, WriteFeed(w, nil, spec, "", 10))
	assert.NotContains(t, w.Body.String(), "license")
}

func TestWriteFeedTXT(t *testing.T) {
	q := url.Values{}
	q.Set("format", "txt")
	spec, verr := NewRequest(q).Resolve([]string{"cowrie", "log4j"})
	require.Nil(t, verr)

	w := httptest.NewRecorder()
	require.NoError(t, WriteFeed(w, sampleIOCs(), spec, "https://example.com/license", 10))

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "# "))
	assert.Contains(t, lines[0], "https://example.com/license")
	assert.Equal(t, "140.246.171.141", lines[1])
	assert.Equal(t, "evil.example.com", lines[2])
}

func TestWriteFeedCSV(t *testing.T) {
	q := url.Values{}
	q.Set("format", "csv")
	spec, verr := NewRequest(q).Resolve([]string{"cowrie", "log4j"})
	require.Nil(t, verr)

	w := httptest.NewRecorder()
	require.NoError(t, WriteFeed(w, sampleIOCs(), spec, "https://example.com/license", 10))
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "feeds.csv")

	lines := strings.Split(strings.TrimRight(w.Body.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "#")
	assert.Equal(t, "140.246.171.141", lines[1])
	// values must never be quoted
	assert.NotContains(t, w.Body.String(), `"`)
}

func TestWriteFeedUnknownFormat(t *testing.T) {
	spec := &Spec{Format: "xml"}
	w := httptest.NewRecorder()
	err := WriteFeed(w, nil, spec, "", 10)
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Empty(t, w.Body.String())
}

package feeds

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"greedybear/core"
)

// ErrUnknownFormat is returned for a format outside {json, txt, csv}. The
// HTTP layer turns it into a 400 with an empty body.
var ErrUnknownFormat = errors.New("unknown feed format")

const dateLayout = "2006-01-02"

// =============================================================================
// JSON Projection
// =============================================================================

// Record is the JSON projection of one IOC in a feed response. Dates are
// rendered as YYYY-MM-DD and feed_type is derived from the honeypot set.
type Record struct {
	Value                 string       `json:"value"`
	IOCType               core.IOCType `json:"ioc_type"`
	FirstSeen             string       `json:"first_seen"`
	LastSeen              string       `json:"last_seen"`
	AttackCount           int64        `json:"attack_count"`
	InteractionCount      int64        `json:"interaction_count"`
	LoginAttempts         int64        `json:"login_attempts"`
	Scanner               bool         `json:"scanner"`
	PayloadRequest        bool         `json:"payload_request"`
	IPReputation          string       `json:"ip_reputation"`
	ASN                   *int64       `json:"asn"`
	DestinationPortCount  int          `json:"destination_port_count"`
	RecurrenceProbability float64      `json:"recurrence_probability"`
	ExpectedInteractions  float64      `json:"expected_interactions"`
	FeedType              []string     `json:"feed_type"`

	// verbose-only fields
	NumberOfDaysSeen  *int64   `json:"number_of_days_seen,omitempty"`
	DestinationPorts  []int    `json:"destination_ports,omitempty"`
	DaysSeen          []string `json:"days_seen,omitempty"`
	FireholCategories []string `json:"firehol_categories,omitempty"`
}

// Feed is the top-level JSON feed body. License is omitted entirely when
// unconfigured, never rendered as null.
type Feed struct {
	License string   `json:"license,omitempty"`
	IOCs    []Record `json:"iocs"`
}

// BuildRecords projects IOCs into feed records and applies the deferred
// feed_type secondary sort when one was requested. The store ordering is
// preserved within equal feed_type sets (stable sort).
func BuildRecords(iocs []core.IOC, spec *Spec) []Record {
	records := make([]Record, 0, len(iocs))
	for i := range iocs {
		records = append(records, buildRecord(&iocs[i], spec.Verbose))
	}
	applyFeedTypeSort(records, spec.FeedTypeSort)
	return records
}

func buildRecord(ioc *core.IOC, verbose bool) Record {
	rec := Record{
		Value:                 ioc.Name,
		IOCType:               ioc.Type,
		FirstSeen:             ioc.FirstSeen.Format(dateLayout),
		LastSeen:              ioc.LastSeen.Format(dateLayout),
		AttackCount:           ioc.AttackCount,
		InteractionCount:      ioc.InteractionCount,
		LoginAttempts:         ioc.LoginAttempts,
		Scanner:               ioc.Scanner,
		PayloadRequest:        ioc.PayloadRequest,
		IPReputation:          ioc.IPReputation,
		ASN:                   ioc.ASN,
		DestinationPortCount:  len(ioc.DestinationPorts),
		RecurrenceProbability: ioc.RecurrenceProbability,
		ExpectedInteractions:  ioc.ExpectedInteractions,
		FeedType:              sortedFeedTypes(ioc),
	}
	if verbose {
		days := ioc.NumberOfDaysSeen
		rec.NumberOfDaysSeen = &days
		rec.DestinationPorts = ioc.DestinationPorts
		rec.DaysSeen = ioc.DaysSeen
		rec.FireholCategories = ioc.FireholCategories
	}
	return rec
}

func sortedFeedTypes(ioc *core.IOC) []string {
	types := ioc.FeedTypes()
	sort.Strings(types)
	return types
}

func applyFeedTypeSort(records []Record, order SecondarySort) {
	if order == SecondarySortNone {
		return
	}
	sort.SliceStable(records, func(a, b int) bool {
		ka := strings.Join(records[a].FeedType, ",")
		kb := strings.Join(records[b].FeedType, ",")
		if order == SecondarySortDesc {
			return ka > kb
		}
		return ka < kb
	})
}

// =============================================================================
// Response Writers
// =============================================================================

// LicenseComment renders the comment line prepended to txt and csv feeds.
func LicenseComment(license string, intervalMinutes int) string {
	if license == "" {
		return ""
	}
	return fmt.Sprintf("# These feeds are generated once every %d minutes and are protected by the following license: %s",
		intervalMinutes, license)
}

// WriteFeed serializes iocs to w in the spec's format with the matching
// response headers. Returns ErrUnknownFormat for an unrecognized format
// without touching w.
func WriteFeed(w http.ResponseWriter, iocs []core.IOC, spec *Spec, license string, intervalMinutes int) error {
	switch spec.Format {
	case FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case FormatTXT:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	case FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="feeds.csv"`)
	default:
		return ErrUnknownFormat
	}
	return WriteFeedTo(w, iocs, spec, license, intervalMinutes)
}

// WriteFeedTo serializes iocs to a plain writer, for CLI export.
func WriteFeedTo(w io.Writer, iocs []core.IOC, spec *Spec, license string, intervalMinutes int) error {
	switch spec.Format {
	case FormatJSON:
		return writeJSONFeed(w, iocs, spec, license)
	case FormatTXT:
		return writeTXTFeed(w, iocs, license, intervalMinutes)
	case FormatCSV:
		return writeCSVFeed(w, iocs, license, intervalMinutes)
	default:
		return ErrUnknownFormat
	}
}

func writeJSONFeed(w io.Writer, iocs []core.IOC, spec *Spec, license string) error {
	body := Feed{
		License: license,
		IOCs:    BuildRecords(iocs, spec),
	}
	return json.NewEncoder(w).Encode(body)
}

func writeTXTFeed(w io.Writer, iocs []core.IOC, license string, intervalMinutes int) error {
	if comment := LicenseComment(license, intervalMinutes); comment != "" {
		if _, err := fmt.Fprintln(w, comment); err != nil {
			return err
		}
	}
	for i := range iocs {
		if _, err := fmt.Fprintln(w, iocs[i].Name); err != nil {
			return err
		}
	}
	return nil
}

// writeCSVFeed streams one row per IOC. Values are plain addresses and
// domain names, so no quoting is ever needed.
func writeCSVFeed(w io.Writer, iocs []core.IOC, license string, intervalMinutes int) error {
	cw := csv.NewWriter(w)
	if comment := LicenseComment(license, intervalMinutes); comment != "" {
		if err := cw.Write([]string{comment}); err != nil {
			return err
		}
	}
	for i := range iocs {
		if err := cw.Write([]string{iocs[i].Name}); err != nil {
			return err
		}
		// keep memory flat on large feeds
		if i%1000 == 999 {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// Package feeds implements the feed query-and-aggregation engine: parameter
// resolution, the filter specification shared by every feed consumer, and
// response formatting for the supported output encodings.
package feeds

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"greedybear/core"
)

// =============================================================================
// Defaults and Allow-Lists
// =============================================================================

const (
	DefaultMaxAge      = "3"
	DefaultMinDaysSeen = "1"
	DefaultFeedSize    = "5000"
	DefaultOrdering    = "-last_seen"

	FormatJSON = "json"
	FormatTXT  = "txt"
	FormatCSV  = "csv"
)

// rowOrderingFields is the allow-list of store columns a row-level feed may
// be ordered by. feed_type is handled separately: it is a derived set, not a
// column, and sorts in memory after materialization.
var rowOrderingFields = map[string]bool{
	"name":                   true,
	"type":                   true,
	"first_seen":             true,
	"last_seen":              true,
	"attack_count":           true,
	"interaction_count":      true,
	"login_attempts":         true,
	"number_of_days_seen":    true,
	"asn":                    true,
	"ip_reputation":          true,
	"recurrence_probability": true,
	"expected_interactions":  true,
}

// aggOrderingFields is the separate allow-list for the ASN aggregation
// endpoint: only the aggregate's own output fields are sortable.
var aggOrderingFields = map[string]bool{
	"asn":                     true,
	"ioc_count":               true,
	"total_attack_count":      true,
	"total_interaction_count": true,
	"total_login_attempts":    true,
	"expected_ioc_count":      true,
	"expected_interactions":   true,
	"first_seen":              true,
	"last_seen":               true,
}

// DefaultExclusions resolves the process-wide default reputation exclusions
// from the caller's presence flags. Mass scanners and tor exit nodes are
// noise for most consumers, so they are filtered unless explicitly included.
func DefaultExclusions(includeMassScanners, includeTorExitNodes bool) []string {
	var excl []string
	if !includeMassScanners {
		excl = append(excl, core.ReputationMassScanner)
	}
	if !includeTorExitNodes {
		excl = append(excl, core.ReputationTorExitNode)
	}
	return excl
}

// =============================================================================
// Validation Errors
// =============================================================================

// ValidationError collects per-field validation failures. It renders as an
// HTTP 400 with the offending field and value named.
type ValidationError struct {
	Fields map[string][]string `json:"errors"`
}

// NewValidationError creates an empty ValidationError
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add records a failure message for a field
func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Fields[field] = append(e.Fields[field], fmt.Sprintf(format, args...))
}

// HasErrors reports whether any failure was recorded
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var b strings.Builder
	b.WriteString("invalid feed parameters: ")
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Fields[f], ", "))
	}
	return b.String()
}

// =============================================================================
// Request: raw parameters with defaults applied
// =============================================================================

// Request holds raw feed request parameters, query-string style, with the
// documented defaults filled in. Values stay strings until Resolve validates
// them into a Spec.
type Request struct {
	FeedType          string
	AttackType        string
	IOCType           string
	MaxAge            string
	MinDaysSeen       string
	IncludeReputation []string
	ExcludeReputation []string
	FeedSize          string
	Ordering          string
	Verbose           string
	Paginate          string
	Format            string
	ASN               string

	// feedTypeSort carries a deferred feed_type ordering request: the store
	// cannot sort by a derived multi-value field, so it is applied in memory
	// after rows are materialized.
	feedTypeSort string
}

// NewRequest builds a Request from query parameters, applying defaults and
// the default reputation-exclusion policy.
func NewRequest(q url.Values) *Request {
	get := func(key, def string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return def
	}
	r := &Request{
		FeedType:    strings.ToLower(get("feed_type", "all")),
		AttackType:  strings.ToLower(get("attack_type", "all")),
		IOCType:     strings.ToLower(get("ioc_type", "all")),
		MaxAge:      get("max_age", DefaultMaxAge),
		MinDaysSeen: get("min_days_seen", DefaultMinDaysSeen),
		FeedSize:    get("feed_size", DefaultFeedSize),
		Ordering:    strings.ReplaceAll(strings.ToLower(get("ordering", DefaultOrdering)), "value", "name"),
		Verbose:     strings.ToLower(get("verbose", "false")),
		Paginate:    strings.ToLower(get("paginate", "false")),
		Format:      strings.ToLower(get("format", FormatJSON)),
		ASN:         get("asn", ""),
	}
	if v, ok := q["include_reputation"]; ok && len(v) > 0 {
		r.IncludeReputation = strings.Split(v[0], ";")
	}
	if v, ok := q["exclude_reputation"]; ok && len(v) > 0 {
		r.ExcludeReputation = strings.Split(v[0], ";")
	}

	_, includeMass := q["include_mass_scanners"]
	_, includeTor := q["include_tor_exit_nodes"]
	r.ExcludeReputation = append(r.ExcludeReputation, DefaultExclusions(includeMass, includeTor)...)

	return r
}

// ApplyPreset applies a prioritization preset. Unknown preset names are a
// no-op. A caller-requested feed_type ordering cannot be pushed to the
// store, so every preset defers it and falls back to its own store-level
// ordering.
func (r *Request) ApplyPreset(prioritize string) {
	switch prioritize {
	case "recent":
		r.MaxAge = "3"
		r.MinDaysSeen = "1"
		r.deferFeedTypeOrdering(DefaultOrdering)
	case "persistent":
		r.MaxAge = "14"
		r.MinDaysSeen = "10"
		if !r.deferFeedTypeOrdering("-attack_count") {
			r.Ordering = "-attack_count"
		}
	case "likely_to_recur":
		r.MaxAge = "30"
		r.MinDaysSeen = "1"
		r.deferFeedTypeOrdering("-recurrence_probability")
		r.Ordering = "-recurrence_probability"
	case "most_expected_hits":
		r.MaxAge = "30"
		r.MinDaysSeen = "1"
		r.deferFeedTypeOrdering("-expected_interactions")
		r.Ordering = "-expected_interactions"
	}
}

// deferFeedTypeOrdering moves a feed_type ordering request to the in-memory
// secondary sort and replaces the store ordering with fallback. Returns true
// when a deferral happened.
func (r *Request) deferFeedTypeOrdering(fallback string) bool {
	if strings.Contains(r.Ordering, "feed_type") {
		r.feedTypeSort = r.Ordering
		r.Ordering = fallback
		return true
	}
	return false
}

// =============================================================================
// Spec: the validated filter specification
// =============================================================================

// SecondarySort describes a deferred in-memory feed_type sort.
type SecondarySort int

const (
	SecondarySortNone SecondarySort = iota
	SecondarySortAsc
	SecondarySortDesc
)

// Spec is the validated, typed filter/sort/format specification produced by
// the parameter resolver. It is the contract shared by the row-level feed
// path, the ASN aggregation path, and the response formatter. Request-scoped
// and discarded after the response.
type Spec struct {
	FeedType          string
	AttackType        core.AttackType
	IOCType           string
	MaxAge            int
	MinDaysSeen       int
	IncludeReputation []string
	ExcludeReputation []string
	FeedSize          int
	OrderField        string
	OrderDesc         bool
	FeedTypeSort      SecondarySort
	Verbose           bool
	Paginate          bool
	Format            string

	// Aggregate marks the spec as feeding the ASN roll-up: the query builder
	// skips active-honeypot scoping, ordering and the feed_size cap so sums
	// cover the complete filtered universe.
	Aggregate bool
	// ASN restricts aggregation to a single autonomous system.
	ASN *int64
}

// Resolve validates the request against the set of valid feed types and
// produces a row-level Spec, or a ValidationError naming every offending
// field and value. Validation happens entirely before any store access.
func (r *Request) Resolve(validFeedTypes []string) (*Spec, *ValidationError) {
	verr := NewValidationError()
	spec := &Spec{
		FeedType:          r.FeedType,
		IOCType:           r.IOCType,
		IncludeReputation: trimmed(r.IncludeReputation),
		ExcludeReputation: resolveExclusions(r.ExcludeReputation),
		Verbose:           r.Verbose == "true",
		Paginate:          r.Paginate == "true",
		Format:            r.Format,
	}

	if !feedTypeValid(r.FeedType, validFeedTypes) {
		verr.Add("feed_type", "%q is an invalid feed type", r.FeedType)
	}
	spec.AttackType = core.AttackType(r.AttackType)
	if !spec.AttackType.IsValid() {
		verr.Add("attack_type", "%q is an invalid attack type", r.AttackType)
	}
	if r.IOCType != "all" && !core.IOCType(r.IOCType).IsValid() {
		verr.Add("ioc_type", "%q is an invalid IOC type", r.IOCType)
	}

	spec.MaxAge = parsePositiveInt(verr, "max_age", r.MaxAge)
	spec.MinDaysSeen = parsePositiveInt(verr, "min_days_seen", r.MinDaysSeen)
	spec.FeedSize = parsePositiveInt(verr, "feed_size", r.FeedSize)

	spec.OrderField, spec.OrderDesc = resolveOrdering(verr, r.Ordering, rowOrderingFields)
	spec.FeedTypeSort = secondarySortOf(r.feedTypeSort)

	if verr.HasErrors() {
		return nil, verr
	}
	return spec, nil
}

// ResolveASN validates the request for the ASN aggregation endpoint. The
// ordering is checked against the aggregate field allow-list, the row-level
// default ordering collapses to descending ioc_count, and feed_size is
// deliberately ignored: partial aggregation would silently produce wrong
// sums.
func (r *Request) ResolveASN(validFeedTypes []string) (*Spec, *ValidationError) {
	verr := NewValidationError()
	spec := &Spec{
		FeedType:          r.FeedType,
		IOCType:           r.IOCType,
		IncludeReputation: trimmed(r.IncludeReputation),
		ExcludeReputation: resolveExclusions(r.ExcludeReputation),
		Format:            FormatJSON,
		Aggregate:         true,
	}

	if !feedTypeValid(r.FeedType, validFeedTypes) {
		verr.Add("feed_type", "%q is an invalid feed type", r.FeedType)
	}
	spec.AttackType = core.AttackType(r.AttackType)
	if !spec.AttackType.IsValid() {
		verr.Add("attack_type", "%q is an invalid attack type", r.AttackType)
	}
	if r.IOCType != "all" && !core.IOCType(r.IOCType).IsValid() {
		verr.Add("ioc_type", "%q is an invalid IOC type", r.IOCType)
	}

	spec.MaxAge = parsePositiveInt(verr, "max_age", r.MaxAge)
	spec.MinDaysSeen = parsePositiveInt(verr, "min_days_seen", r.MinDaysSeen)

	// last_seen is the row-level default and is meaningless as an aggregate
	// preference, so both of its spellings collapse to the default ordering.
	if r.Ordering == DefaultOrdering || r.Ordering == "last_seen" {
		spec.OrderField = "ioc_count"
		spec.OrderDesc = true
	} else {
		spec.OrderField, spec.OrderDesc = resolveOrdering(verr, r.Ordering, aggOrderingFields)
	}

	if r.ASN != "" {
		asn, err := strconv.ParseInt(r.ASN, 10, 64)
		if err != nil || asn < 0 {
			verr.Add("asn", "%q is an invalid ASN", r.ASN)
		} else {
			spec.ASN = &asn
		}
	}

	if verr.HasErrors() {
		return nil, verr
	}
	return spec, nil
}

// =============================================================================
// Resolution helpers
// =============================================================================

func feedTypeValid(feedType string, validFeedTypes []string) bool {
	if feedType == "all" {
		return true
	}
	for _, v := range validFeedTypes {
		if feedType == v {
			return true
		}
	}
	return false
}

func parsePositiveInt(verr *ValidationError, field, raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		verr.Add(field, "%q is an invalid value for %s", raw, field)
		return 0
	}
	return n
}

func resolveOrdering(verr *ValidationError, ordering string, allowed map[string]bool) (field string, desc bool) {
	if ordering == "" {
		verr.Add("ordering", "this field may not be blank")
		return "", false
	}
	field = ordering
	if strings.HasPrefix(field, "-") {
		desc = true
		field = field[1:]
	}
	if !allowed[field] {
		verr.Add("ordering", "%q is an invalid ordering field", field)
		return "", false
	}
	return field, desc
}

func secondarySortOf(ordering string) SecondarySort {
	switch ordering {
	case "":
		return SecondarySortNone
	case "-feed_type":
		return SecondarySortDesc
	default:
		return SecondarySortAsc
	}
}

// resolveExclusions deduplicates and trims the exclude list. Exclusion wins
// over inclusion, so nothing is subtracted for overlaps with the include
// list.
func resolveExclusions(exclude []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range trimmed(exclude) {
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

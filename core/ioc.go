package core

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// IOC Types and Constants
// =============================================================================

// IOCType represents the kind of observable an IOC describes.
type IOCType string

const (
	IOCTypeIP     IOCType = "ip"
	IOCTypeDomain IOCType = "domain"
)

// AllIOCTypes returns all valid IOC types for validation
var AllIOCTypes = []IOCType{IOCTypeIP, IOCTypeDomain}

// IsValid checks if the IOC type is valid
func (t IOCType) IsValid() bool {
	for _, valid := range AllIOCTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// AttackType is the class of honeypot interaction that produced an IOC.
type AttackType string

const (
	AttackTypeScanner        AttackType = "scanner"
	AttackTypePayloadRequest AttackType = "payload_request"
	AttackTypeAll            AttackType = "all"
)

// IsValid checks if the attack type is valid
func (a AttackType) IsValid() bool {
	return a == AttackTypeScanner || a == AttackTypePayloadRequest || a == AttackTypeAll
}

// ViewType identifies which API surface a statistics row was recorded for.
type ViewType string

const (
	ViewFeeds      ViewType = "feeds"
	ViewEnrichment ViewType = "enrichment"
)

// Reputation categories excluded from feeds by default. Callers opt back in
// with the include_mass_scanners / include_tor_exit_nodes presence flags.
const (
	ReputationMassScanner = "mass scanner"
	ReputationTorExitNode = "tor exit node"
)

// =============================================================================
// Feed Type Derivation
// =============================================================================

// feedTypeAliases maps honeypot names to the canonical feed-type string they
// are presented under. Log4pot predates the general honeypot model and its
// feed has always been published as "log4j".
var feedTypeAliases = map[string]string{
	"log4pot": "log4j",
}

// CanonicalFeedType converts a honeypot name to its feed-type string:
// lowercased, with known aliases applied.
func CanonicalFeedType(honeypotName string) string {
	name := strings.ToLower(honeypotName)
	if alias, ok := feedTypeAliases[name]; ok {
		return alias
	}
	return name
}

// HoneypotNamesForFeedType returns the lowercased honeypot names that a
// feed-type filter should match. The inverse of CanonicalFeedType: asking
// for "log4j" matches both a honeypot literally named log4j and Log4pot.
func HoneypotNamesForFeedType(feedType string) []string {
	ft := strings.ToLower(feedType)
	names := []string{ft}
	for name, alias := range feedTypeAliases {
		if alias == ft {
			names = append(names, name)
		}
	}
	return names
}

// =============================================================================
// Domain Entities
// =============================================================================

// Honeypot is a named sensor family. Inactive honeypots are excluded from
// default-scoped feed queries and from feed-type validity.
type Honeypot struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// AutonomousSystem is a network operator an IOC's address belongs to.
type AutonomousSystem struct {
	ASN  int64  `json:"asn"`
	Name string `json:"name"`
}

// IOC is an observed indicator of compromise: an attacking IP or domain with
// the derived recurrence and reputation metrics attached by the scoring
// pipeline. Rows are created and updated by the ingestion pipeline and are
// read-only from the feed engine's perspective.
type IOC struct {
	ID                    int64     `json:"-"`
	Name                  string    `json:"value"`
	Type                  IOCType   `json:"ioc_type"`
	FirstSeen             time.Time `json:"first_seen"`
	LastSeen              time.Time `json:"last_seen"`
	AttackCount           int64     `json:"attack_count"`
	InteractionCount      int64     `json:"interaction_count"`
	LoginAttempts         int64     `json:"login_attempts"`
	NumberOfDaysSeen      int64     `json:"number_of_days_seen"`
	DestinationPorts      []int     `json:"destination_ports"`
	IPReputation          string    `json:"ip_reputation"`
	FireholCategories     []string  `json:"firehol_categories"`
	ASN                   *int64    `json:"asn"`
	RecurrenceProbability float64   `json:"recurrence_probability"`
	ExpectedInteractions  float64   `json:"expected_interactions"`
	DaysSeen              []string  `json:"days_seen"`
	Scanner               bool      `json:"scanner"`
	PayloadRequest        bool      `json:"payload_request"`

	// Honeypots holds the names of the honeypots this IOC was observed by,
	// aggregated alongside the row so join fan-out never duplicates rows.
	Honeypots []string `json:"honeypots"`
}

// FeedTypes derives the feed_type set for this IOC: the canonical feed-type
// strings of its associated honeypots.
func (i *IOC) FeedTypes() []string {
	types := make([]string, 0, len(i.Honeypots))
	for _, hp := range i.Honeypots {
		if hp == "" {
			continue
		}
		types = append(types, CanonicalFeedType(hp))
	}
	return types
}

// Validate checks the IOC's structural invariants.
func (i *IOC) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("IOC name cannot be empty")
	}
	if !i.Type.IsValid() {
		return fmt.Errorf("invalid IOC type: %s", i.Type)
	}
	if i.LastSeen.Before(i.FirstSeen) {
		return fmt.Errorf("last_seen %s precedes first_seen %s", i.LastSeen, i.FirstSeen)
	}
	if int(i.NumberOfDaysSeen) > len(i.DaysSeen) && len(i.DaysSeen) > 0 {
		return fmt.Errorf("number_of_days_seen %d exceeds recorded days %d", i.NumberOfDaysSeen, len(i.DaysSeen))
	}
	if i.RecurrenceProbability < 0 || i.RecurrenceProbability > 1 {
		return fmt.Errorf("recurrence_probability %f out of range [0,1]", i.RecurrenceProbability)
	}
	if i.ExpectedInteractions < 0 {
		return fmt.Errorf("expected_interactions %f cannot be negative", i.ExpectedInteractions)
	}
	return nil
}

// Statistics is one audit row per served feed or enrichment request.
// Append-only; never read by the feed engine itself.
type Statistics struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	View        ViewType  `json:"view"`
	RequestDate time.Time `json:"request_date"`
}

// ASNAggregate is the per-ASN roll-up served by the ASN feed. Numeric sums
// cover the complete filtered row set; Honeypots only lists active-honeypot
// names, so it may not account for every counted IOC.
type ASNAggregate struct {
	ASN                   int64    `json:"asn"`
	IOCCount              int64    `json:"ioc_count"`
	TotalAttackCount      int64    `json:"total_attack_count"`
	TotalInteractionCount int64    `json:"total_interaction_count"`
	TotalLoginAttempts    int64    `json:"total_login_attempts"`
	Honeypots             []string `json:"honeypots"`
	ExpectedIOCCount      float64  `json:"expected_ioc_count"`
	ExpectedInteractions  float64  `json:"expected_interactions"`
	FirstSeen             string   `json:"first_seen"`
	LastSeen              string   `json:"last_seen"`
}

// =============================================================================
// Observable Validation
// =============================================================================

var domainPattern = regexp.MustCompile(`^[a-zA-Z\d-]{1,60}(\.[a-zA-Z\d-]{1,60})*$`)

// IsIPAddress reports whether s is a valid IPv4 or IPv6 address.
func IsIPAddress(s string) bool {
	return net.ParseIP(s) != nil
}

// IsDomain reports whether s looks like a domain name.
func IsDomain(s string) bool {
	return domainPattern.MatchString(s)
}

// DetectObservableType classifies an enrichment query string.
func DetectObservableType(value string) (IOCType, error) {
	switch {
	case IsIPAddress(value):
		return IOCTypeIP, nil
	case IsDomain(value):
		return IOCTypeDomain, nil
	default:
		return "", fmt.Errorf("observable is not a valid IP or domain: %q", value)
	}
}

package storage

import (
	"context"

	"greedybear/core"
	"greedybear/feeds"
)

// IOCStorage is the IOC store surface consumed by the API and CLI layers.
type IOCStorage interface {
	CreateIOC(ctx context.Context, ioc *core.IOC) error
	AssociateHoneypot(ctx context.Context, iocID, honeypotID int64) error
	GetIOCByName(ctx context.Context, name string) (*core.IOC, error)
	FeedIOCs(ctx context.Context, spec *feeds.Spec) ([]core.IOC, error)
	ASNAggregates(ctx context.Context, spec *feeds.Spec) ([]core.ASNAggregate, error)
}

// HoneypotStorage manages the honeypot registry.
type HoneypotStorage interface {
	CreateHoneypot(ctx context.Context, hp *core.Honeypot) error
	SetHoneypotActive(ctx context.Context, name string, active bool) error
	GetHoneypotByName(ctx context.Context, name string) (*core.Honeypot, error)
	ListHoneypots(ctx context.Context) ([]core.Honeypot, error)
	ActiveHoneypots(ctx context.Context) ([]core.Honeypot, error)
}

// StatisticsStorage appends and reads the request audit log.
type StatisticsStorage interface {
	RecordRequest(ctx context.Context, source string, view core.ViewType) error
	SourcesPerDay(ctx context.Context, view core.ViewType, days int) ([]StatBucket, error)
	RequestsPerDay(ctx context.Context, view core.ViewType, days int) ([]StatBucket, error)
}

// StatBucket is one day of aggregated request statistics.
type StatBucket struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

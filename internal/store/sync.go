package store

import (
	"context"
	"fmt"
	"time"

	"tradedesk/internal/models"
)

// SyncDataType represents the type of cached reference data.
type SyncDataType string

const (
	SyncLotSizes SyncDataType = "lot_sizes"
)

// DefaultStaleThresholds defines how old cached data may be before it is stale.
var DefaultStaleThresholds = map[SyncDataType]time.Duration{
	SyncLotSizes: 24 * time.Hour,
}

// DataFreshness represents the freshness of cached data.
type DataFreshness struct {
	DataType    SyncDataType
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// GetDataFreshness reports how old the cached copy of dataType is.
func GetDataFreshness(store DataStore, dataType SyncDataType) *DataFreshness {
	lastSync := store.GetLastSync(string(dataType))
	age := time.Since(lastSync)

	threshold := DefaultStaleThresholds[dataType]
	if threshold == 0 {
		threshold = time.Hour
	}

	return &DataFreshness{
		DataType:    dataType,
		LastUpdated: lastSync,
		IsFresh:     !lastSync.IsZero() && age < threshold,
		Age:         age,
	}
}

// LotSizeFetcher loads lot sizes from the backend of record.
type LotSizeFetcher func(ctx context.Context) ([]models.LotSize, error)

// SyncLotSizesFrom fetches lot sizes and caches them. When the fetch fails the
// cached table is returned along with its freshness; the fetch error is
// returned only if nothing is cached.
func SyncLotSizesFrom(ctx context.Context, store DataStore, fetch LotSizeFetcher) ([]models.LotSize, *DataFreshness, error) {
	sizes, fetchErr := fetch(ctx)
	if fetchErr == nil {
		if err := store.SaveLotSizes(ctx, sizes); err != nil {
			return sizes, nil, fmt.Errorf("failed to cache lot sizes: %w", err)
		}
		if err := store.SetLastSync(string(SyncLotSizes), time.Now()); err != nil {
			return sizes, nil, err
		}
		return sizes, GetDataFreshness(store, SyncLotSizes), nil
	}

	cached, err := store.GetLotSizes(ctx)
	if err != nil || len(cached) == 0 {
		return nil, nil, fetchErr
	}
	return cached, GetDataFreshness(store, SyncLotSizes), nil
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(freshness *DataFreshness) string {
	if freshness == nil || freshness.LastUpdated.IsZero() {
		return "Never synced"
	}

	age := freshness.Age
	var ageStr string

	switch {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if freshness.IsFresh {
		return fmt.Sprintf("Updated %s", ageStr)
	}
	return fmt.Sprintf("Stale - updated %s", ageStr)
}

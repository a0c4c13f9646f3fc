package storage

import (
	"context"
	"time"

	"github.com/profitpeek/profitpeek/internal/models"
)

// =============================================
// LEDGER REPOSITORIES (read-only inputs)
// =============================================

// OrderFilter bounds an order ledger read to a store and a created-at
// window. Start is inclusive, End exclusive.
type OrderFilter struct {
	StoreID string
	Start   time.Time
	End     time.Time
}

// OrderRepo reads the order ledger owned by the order source.
type OrderRepo interface {
	// CountOrders returns the number of rows matching the filter.
	CountOrders(ctx context.Context, f OrderFilter) (int, error)
	// ListOrdersPage returns one bounded page of matching orders,
	// line items included, ordered by created_at.
	ListOrdersPage(ctx context.Context, f OrderFilter, limit, offset int) ([]*models.Order, error)
	// OrderDateBounds returns the min and max created-at of qualifying
	// orders in [start, end). ok is false when no orders match.
	OrderDateBounds(ctx context.Context, storeID string, start, end time.Time) (min, max time.Time, ok bool, err error)
}

// AdSpendFilter bounds an ad spend ledger read.
type AdSpendFilter struct {
	StoreID string
	Start   time.Time
	End     time.Time
}

// AdSpendRepo reads the ad spend ledger owned by the ad spend source.
type AdSpendRepo interface {
	CountAdSpend(ctx context.Context, f AdSpendFilter) (int, error)
	ListAdSpendPage(ctx context.Context, f AdSpendFilter, limit, offset int) ([]*models.AdSpend, error)
	// DistinctSpendDates returns every date present in the ledger for
	// the store, ascending.
	DistinctSpendDates(ctx context.Context, storeID string) ([]time.Time, error)
}

// CostFilter bounds a cost-of-goods ledger read.
type CostFilter struct {
	StoreID string
	Start   time.Time
	End     time.Time
}

// CostRepo reads the cost-of-goods ledger.
type CostRepo interface {
	CountCosts(ctx context.Context, f CostFilter) (int, error)
	ListCostsPage(ctx context.Context, f CostFilter, limit, offset int) ([]*models.CostOfGoods, error)
}

// LinkRepo reads product-to-campaign links and SKU-to-product mappings.
type LinkRepo interface {
	ListCampaignLinks(ctx context.Context, storeID, sku string) ([]*models.ProductCampaignLink, error)
	// ListMappingsBySKU returns the SKU's product-id set, most
	// recently updated first.
	ListMappingsBySKU(ctx context.Context, storeID, sku string) ([]*models.ProductMapping, error)
	ListMappings(ctx context.Context, storeID string) ([]*models.ProductMapping, error)
}

// =============================================
// AGGREGATE REPOSITORIES (owned by this engine)
// =============================================

// DailyRepo stores the per (store, day) aggregate rows.
type DailyRepo interface {
	// GetDay returns the row for (store, date) or nil when absent.
	GetDay(ctx context.Context, storeID string, date time.Time) (*models.DailyAnalytics, error)
	// GetRange returns persisted rows in [start, end] ascending.
	// Missing days are not synthesized at this layer.
	GetRange(ctx context.Context, storeID string, start, end time.Time) ([]*models.DailyAnalytics, error)
	// ReplaceDay deletes any existing row for (store, date) and
	// inserts the given row in one transaction.
	ReplaceDay(ctx context.Context, row *models.DailyAnalytics) error
	// UpsertDay inserts or updates keyed by (store, date).
	UpsertDay(ctx context.Context, row *models.DailyAnalytics) error
}

// TrendRepo stores the per (store, SKU, month) aggregate rows.
type TrendRepo interface {
	DeleteTrendRange(ctx context.Context, storeID string, startMonth, endMonth time.Time) error
	InsertTrends(ctx context.Context, rows []*models.ProductTrend) error
	GetTrendRange(ctx context.Context, storeID string, startMonth, endMonth time.Time) ([]*models.ProductTrend, error)
}

// CohortRepo stores the LTV cohort grid per (store, SKU).
type CohortRepo interface {
	// GetCohorts returns all rows for the SKU ordered by cohort month
	// then offset. Empty slice when none persisted.
	GetCohorts(ctx context.Context, storeID, sku string) ([]*models.CohortRow, error)
	// ReplaceCohorts swaps the SKU's grid for the given rows.
	ReplaceCohorts(ctx context.Context, storeID, sku string, rows []*models.CohortRow) error
	// InvalidateCohorts resets calculated_at to the stale sentinel so
	// the next read recomputes.
	InvalidateCohorts(ctx context.Context, storeID, sku string) error
}

// SyncRepo tracks per-store sync watermarks.
type SyncRepo interface {
	// GetSyncState returns the store's watermarks or nil when the
	// store has never synced.
	GetSyncState(ctx context.Context, storeID string) (*models.SyncState, error)
	// AdvanceFullSync moves the full-sync watermark forward. Earlier
	// timestamps are ignored; the watermark never regresses.
	AdvanceFullSync(ctx context.Context, storeID string, t time.Time) error
	// AdvanceAdsSync moves the ads-sync watermark forward.
	AdvanceAdsSync(ctx context.Context, storeID string, t time.Time) error
}

// StoreConfigRepo reads per-store settings.
type StoreConfigRepo interface {
	// GetStoreConfig returns the store's configuration or nil when the
	// store has none recorded.
	GetStoreConfig(ctx context.Context, storeID string) (*models.StoreConfig, error)
}

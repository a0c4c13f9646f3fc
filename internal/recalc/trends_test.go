package recalc

import (
	"context"
	"testing"
	"time"

	"github.com/profitpeek/profitpeek/internal/models"
	"github.com/profitpeek/profitpeek/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTrendService(store *storage.MemoryStore) *TrendService {
	return NewTrendService(store, store, store, store, store, testRetryer(1), 2, zap.NewNop(), nil)
}

func trendMonth() time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
}

func seedTrendOrders(store *storage.MemoryStore) {
	month := trendMonth()
	store.AddOrder(&models.Order{
		ID: "o1", StoreID: "s1", CustomerID: "c1",
		FinancialStatus: models.FinancialStatusPaid,
		TotalPrice:      150, CreatedAt: month.AddDate(0, 0, 4),
		LineItems: []models.OrderLineItem{
			{ID: "l1", OrderID: "o1", Title: "2x Widget", Quantity: 2, Price: 25},
			{ID: "l2", OrderID: "o1", Title: "Gadget", Quantity: 1, Price: 100},
		},
	})
	store.AddOrder(&models.Order{
		ID: "o2", StoreID: "s1", CustomerID: "c2",
		FinancialStatus: models.FinancialStatusPaid,
		TotalPrice:      25, CreatedAt: month.AddDate(0, 0, 10),
		LineItems: []models.OrderLineItem{
			{ID: "l3", OrderID: "o2", Title: "Widget", Quantity: 1, Price: 25},
		},
	})
	// A refunded order must not contribute.
	store.AddOrder(&models.Order{
		ID: "o3", StoreID: "s1", CustomerID: "c3",
		FinancialStatus: models.FinancialStatusRefunded,
		TotalPrice:      500, CreatedAt: month.AddDate(0, 0, 12),
		LineItems: []models.OrderLineItem{
			{ID: "l4", OrderID: "o3", Title: "Widget", Quantity: 20, Price: 25},
		},
	})
}

func findTrend(t *testing.T, rows []*models.ProductTrend, sku string) *models.ProductTrend {
	t.Helper()
	for _, r := range rows {
		if r.SKU == sku {
			return r
		}
	}
	t.Fatalf("no trend row for sku %q", sku)
	return nil
}

func TestRebuildMonthGroupsByNormalizedSKU(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTrendOrders(store)

	svc := newTestTrendService(store)
	require.NoError(t, svc.RebuildMonth(context.Background(), "s1", trendMonth()))

	rows, err := store.GetTrendRange(context.Background(), "s1", trendMonth(), trendMonth())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// "2x Widget" groups with "Widget": 2*25 + 1*25 revenue, 2 orders.
	widget := findTrend(t, rows, "Widget")
	assert.Equal(t, 75.0, widget.Revenue)
	assert.Equal(t, 2, widget.OrderCount)

	gadget := findTrend(t, rows, "Gadget")
	assert.Equal(t, 100.0, gadget.Revenue)
	assert.Equal(t, 1, gadget.OrderCount)
}

func TestRebuildMonthProfitFolds(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTrendOrders(store)
	month := trendMonth()

	store.AddMapping(&models.ProductMapping{
		ID: "m1", StoreID: "s1", SKU: "Widget", ProductID: "prodW", UpdatedAt: month,
	})
	store.AddCost(&models.CostOfGoods{
		ID: "g1", StoreID: "s1", Date: month.AddDate(0, 0, 4), ProductID: "prodW", Amount: 20,
	})
	store.AddCampaignLink(&models.ProductCampaignLink{
		ID: "lk1", StoreID: "s1", SKU: "Widget", CampaignID: "campA",
		Platform: models.PlatformGoogle, UpdatedAt: month,
	})
	store.AddAdSpend(&models.AdSpend{
		ID: "a1", StoreID: "s1", Date: month.AddDate(0, 0, 5), CampaignID: "campA",
		Platform: models.PlatformGoogle, Amount: 30,
	})
	// Spend for an unlinked campaign is not attributed to any SKU.
	store.AddAdSpend(&models.AdSpend{
		ID: "a2", StoreID: "s1", Date: month.AddDate(0, 0, 5), CampaignID: "campZ",
		Platform: models.PlatformGoogle, Amount: 999,
	})

	svc := newTestTrendService(store)
	require.NoError(t, svc.RebuildMonth(context.Background(), "s1", month))

	rows, err := store.GetTrendRange(context.Background(), "s1", month, month)
	require.NoError(t, err)

	widget := findTrend(t, rows, "Widget")
	assert.Equal(t, 20.0, widget.CostOfGoods)
	assert.Equal(t, 30.0, widget.AdSpend)
	assert.Equal(t, 25.0, widget.Profit)

	// No links and no mapped costs: profit equals revenue.
	gadget := findTrend(t, rows, "Gadget")
	assert.Equal(t, 0.0, gadget.AdSpend)
	assert.Equal(t, 0.0, gadget.CostOfGoods)
	assert.Equal(t, gadget.Revenue, gadget.Profit)
}

func TestRebuildMonthReplacesPreviousRows(t *testing.T) {
	store := storage.NewMemoryStore()
	month := trendMonth()

	// Stale row for a SKU that no longer sells this month.
	require.NoError(t, store.InsertTrends(context.Background(), []*models.ProductTrend{
		{ID: "old", StoreID: "s1", SKU: "Discontinued", Month: month, Revenue: 1234},
	}))

	seedTrendOrders(store)
	svc := newTestTrendService(store)
	require.NoError(t, svc.RebuildMonth(context.Background(), "s1", month))

	rows, err := store.GetTrendRange(context.Background(), "s1", month, month)
	require.NoError(t, err)
	for _, r := range rows {
		assert.NotEqual(t, "Discontinued", r.SKU)
	}
}

func TestRebuildRange(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTrendOrders(store)
	store.AddOrder(&models.Order{
		ID: "o5", StoreID: "s1", CustomerID: "c5",
		FinancialStatus: models.FinancialStatusPaid,
		TotalPrice:      25, CreatedAt: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		LineItems: []models.OrderLineItem{
			{ID: "l5", OrderID: "o5", Title: "Widget", Quantity: 1, Price: 25},
		},
	})

	svc := newTestTrendService(store)
	var months []string
	processed, total, err := svc.RebuildRange(context.Background(), "s1",
		trendMonth(), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		func(month time.Time, current, total int) {
			months = append(months, month.Format("2006-01"))
		})
	require.NoError(t, err)

	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"2024-03", "2024-04"}, months)
}

func TestRebuildRangeZeroStartBoundedByLedger(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTrendOrders(store)

	// No explicit start: the walk must begin at the first month with
	// orders instead of the zero time.
	svc := newTestTrendService(store)
	var months []string
	processed, total, err := svc.RebuildRange(context.Background(), "s1",
		time.Time{}, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		func(month time.Time, current, total int) {
			months = append(months, month.Format("2006-01"))
		})
	require.NoError(t, err)

	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"2024-03", "2024-04"}, months)
}

func TestRebuildRangeZeroStartEmptyStore(t *testing.T) {
	svc := newTestTrendService(storage.NewMemoryStore())

	processed, total, err := svc.RebuildRange(context.Background(), "s1",
		time.Time{}, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, total)
}

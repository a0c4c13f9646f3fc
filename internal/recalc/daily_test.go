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

func newTestDailyService(store *storage.MemoryStore) *DailyService {
	return NewDailyService(store, store, store, store, testRetryer(1), 2, zap.NewNop(), nil)
}

func seedPaidOrder(store *storage.MemoryStore, id, storeID string, at time.Time, total float64) {
	store.AddOrder(&models.Order{
		ID:              id,
		StoreID:         storeID,
		CustomerID:      "cust-" + id,
		FinancialStatus: models.FinancialStatusPaid,
		TotalPrice:      total,
		CreatedAt:       at,
	})
}

func TestComputeDay(t *testing.T) {
	store := storage.NewMemoryStore()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	seedPaidOrder(store, "o1", "s1", day.Add(10*time.Hour), 600)
	seedPaidOrder(store, "o2", "s1", day.Add(14*time.Hour), 400)
	// Orders that must not count toward revenue.
	store.AddOrder(&models.Order{
		ID: "o3", StoreID: "s1", FinancialStatus: models.FinancialStatusPending,
		TotalPrice: 999, CreatedAt: day.Add(time.Hour),
	})
	store.AddOrder(&models.Order{
		ID: "o4", StoreID: "s1", FinancialStatus: models.FinancialStatusRefunded,
		TotalPrice: 999, CreatedAt: day.Add(time.Hour),
	})

	store.AddAdSpend(&models.AdSpend{ID: "a1", StoreID: "s1", Date: day, CampaignID: "c1", Platform: models.PlatformGoogle, Amount: 150})
	store.AddAdSpend(&models.AdSpend{ID: "a2", StoreID: "s1", Date: day, CampaignID: "c2", Platform: models.PlatformFacebook, Amount: 50})
	// Unknown platforms are ignored.
	store.AddAdSpend(&models.AdSpend{ID: "a3", StoreID: "s1", Date: day, CampaignID: "c3", Platform: "tiktok", Amount: 75})

	store.AddCost(&models.CostOfGoods{ID: "g1", StoreID: "s1", Date: day, ProductID: "p1", Amount: 300})

	svc := newTestDailyService(store)
	row, err := svc.ComputeDay(context.Background(), "s1", day)
	require.NoError(t, err)

	assert.Equal(t, 1000.0, row.Revenue)
	assert.Equal(t, 150.0, row.GoogleAdSpend)
	assert.Equal(t, 50.0, row.FacebookAdSpend)
	assert.Equal(t, 300.0, row.CostOfGoods)
	assert.Equal(t, 500.0, row.Profit)
	assert.Equal(t, 50.0, row.ProfitMargin)
}

func TestComputeDayPartialRefund(t *testing.T) {
	store := storage.NewMemoryStore()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	store.AddOrder(&models.Order{
		ID: "o1", StoreID: "s1", FinancialStatus: models.FinancialStatusPartiallyRefunded,
		TotalPrice: 100, RefundedAmount: 25, CreatedAt: day.Add(time.Hour),
	})

	svc := newTestDailyService(store)
	row, err := svc.ComputeDay(context.Background(), "s1", day)
	require.NoError(t, err)

	assert.Equal(t, 75.0, row.Revenue)
}

func TestComputeDayZeroRevenue(t *testing.T) {
	store := storage.NewMemoryStore()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	store.AddAdSpend(&models.AdSpend{ID: "a1", StoreID: "s1", Date: day, CampaignID: "c1", Platform: models.PlatformGoogle, Amount: 80})

	svc := newTestDailyService(store)
	row, err := svc.ComputeDay(context.Background(), "s1", day)
	require.NoError(t, err)

	assert.Equal(t, 0.0, row.Revenue)
	assert.Equal(t, -80.0, row.Profit)
	assert.Equal(t, 0.0, row.ProfitMargin, "margin must be zero, not NaN, when revenue is zero")
}

func TestComputeDayIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	seedPaidOrder(store, "o1", "s1", day.Add(time.Hour), 123.45)

	svc := newTestDailyService(store)
	first, err := svc.ComputeDay(context.Background(), "s1", day)
	require.NoError(t, err)
	second, err := svc.ComputeDay(context.Background(), "s1", day)
	require.NoError(t, err)

	assert.Equal(t, first.Revenue, second.Revenue)
	assert.Equal(t, first.Profit, second.Profit)
	assert.Equal(t, first.ProfitMargin, second.ProfitMargin)

	// Exactly one row persisted for the key.
	rows, err := store.GetRange(context.Background(), "s1", day, day)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestComputeDayScopedToStore(t *testing.T) {
	store := storage.NewMemoryStore()
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	seedPaidOrder(store, "o1", "s1", day.Add(time.Hour), 100)
	seedPaidOrder(store, "o2", "s2", day.Add(time.Hour), 900)

	svc := newTestDailyService(store)
	row, err := svc.ComputeDay(context.Background(), "s1", day)
	require.NoError(t, err)

	assert.Equal(t, 100.0, row.Revenue)
}

func TestDatesNeedingRecalc(t *testing.T) {
	store := storage.NewMemoryStore()
	d1 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	d3 := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	seedPaidOrder(store, "o1", "s1", d1, 100)
	seedPaidOrder(store, "o2", "s1", d3, 100)

	svc := newTestDailyService(store)
	dates, err := svc.DatesNeedingRecalc(context.Background(), "s1",
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// The whole span between the first and last qualifying order.
	require.Len(t, dates, 3)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), dates[0])
	assert.Equal(t, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), dates[2])
}

func TestDatesNeedingRecalcEmpty(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestDailyService(store)

	dates, err := svc.DatesNeedingRecalc(context.Background(), "s1",
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestComputeRange(t *testing.T) {
	store := storage.NewMemoryStore()
	d1 := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	seedPaidOrder(store, "o1", "s1", d1, 100)
	seedPaidOrder(store, "o2", "s1", d2, 200)

	svc := newTestDailyService(store)

	var emitted []int
	processed, total, err := svc.ComputeRange(context.Background(), "s1",
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		func(date time.Time, current, total int) {
			emitted = append(emitted, current)
		})
	require.NoError(t, err)

	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, total)
	assert.Equal(t, []int{1, 2}, emitted)

	rows, err := store.GetRange(context.Background(), "s1", models.DayOf(d1), models.DayOf(d2))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 100.0, rows[0].Revenue)
	assert.Equal(t, 200.0, rows[1].Revenue)
}

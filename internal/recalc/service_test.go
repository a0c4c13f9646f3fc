package recalc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/profitpeek/profitpeek/internal/models"
	"github.com/profitpeek/profitpeek/internal/progress"
	"github.com/profitpeek/profitpeek/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// captureSink records published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureSink) Publish(ev progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) stages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Stage)
	}
	return out
}

func newTestCoordinator(store *storage.MemoryStore, guard JobGuard, sink progress.Sink) *Coordinator {
	retry := testRetryer(1)
	logger := zap.NewNop()
	daily := NewDailyService(store, store, store, store, retry, 2, logger, nil)
	trends := NewTrendService(store, store, store, store, store, retry, 2, logger, nil)
	cohorts := NewCohortService(store, store, store, store, store, store, store, retry, 2, logger, nil)
	return NewCoordinator(daily, trends, cohorts, store, store, guard, sink, nil, logger, nil)
}

func datePtr(t time.Time) *time.Time { return &t }

func TestCoordinatorFullRunAdvancesWatermark(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPaidOrder(store, "o1", "s1", time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), 100)

	sink := &captureSink{}
	c := newTestCoordinator(store, NewLocalJobGuard(), sink)

	summary, err := c.Run(context.Background(), models.RecalcRequest{
		StoreID:   "s1",
		Mode:      models.ModeFull,
		StartDate: datePtr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		EndDate:   datePtr(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.JobID)
	assert.Equal(t, 1, summary.DatesProcessed)
	assert.Equal(t, 1, summary.TotalDates)
	assert.Equal(t, models.ModeFull, summary.Mode)

	state, err := store.GetSyncState(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), state.LastFullSync)

	stages := sink.stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageStarting, stages[0])
	assert.Equal(t, progress.StageCompleted, stages[len(stages)-1])
}

func TestCoordinatorCollisionIsDropped(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPaidOrder(store, "o1", "s1", time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), 100)

	guard := NewLocalJobGuard()
	c := newTestCoordinator(store, guard, &captureSink{})

	release, acquired, err := guard.TryAcquire(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	_, err = c.Run(context.Background(), models.RecalcRequest{
		StoreID: "s1",
		Mode:    models.ModeFull,
	})
	assert.ErrorIs(t, err, ErrJobInFlight)

	// Nothing was computed or persisted by the dropped job.
	rows, err := store.GetRange(context.Background(),
		"s1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCoordinatorReleasesGuard(t *testing.T) {
	store := storage.NewMemoryStore()
	guard := NewLocalJobGuard()
	c := newTestCoordinator(store, guard, &captureSink{})

	_, err := c.Run(context.Background(), models.RecalcRequest{StoreID: "s1", Mode: models.ModeFull})
	require.NoError(t, err)

	release, acquired, err := guard.TryAcquire(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, acquired)
	release()
}

func TestCoordinatorNothingToDo(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := &captureSink{}
	c := newTestCoordinator(store, NewLocalJobGuard(), sink)

	summary, err := c.Run(context.Background(), models.RecalcRequest{
		StoreID: "s1",
		Mode:    models.ModeFull,
	})
	require.NoError(t, err, "an empty range is a completed run, not an error")

	assert.Equal(t, 0, summary.DatesProcessed)
	assert.Equal(t, 0, summary.TotalDates)

	stages := sink.stages()
	assert.Equal(t, progress.StageCompleted, stages[len(stages)-1])

	// Watermark untouched when no work happened.
	state, err := store.GetSyncState(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCoordinatorAdsModeAdvancesAdsWatermark(t *testing.T) {
	store := storage.NewMemoryStore()
	store.AddAdSpend(&models.AdSpend{
		ID: "a1", StoreID: "s1", Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		CampaignID: "c1", Platform: models.PlatformGoogle, Amount: 10,
	})

	c := newTestCoordinator(store, NewLocalJobGuard(), &captureSink{})
	summary, err := c.Run(context.Background(), models.RecalcRequest{
		StoreID: "s1",
		Mode:    models.ModeAdsOnly,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DatesProcessed)

	state, err := store.GetSyncState(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.False(t, state.LastAdsSync.IsZero())
	assert.True(t, state.LastFullSync.IsZero())
}

func TestCoordinatorTrendsMode(t *testing.T) {
	store := storage.NewMemoryStore()
	month := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.AddOrder(&models.Order{
		ID: "o1", StoreID: "s1", CustomerID: "c1",
		FinancialStatus: models.FinancialStatusPaid,
		TotalPrice:      50, CreatedAt: month.AddDate(0, 0, 4),
		LineItems: []models.OrderLineItem{
			{ID: "l1", OrderID: "o1", Title: "Widget", Quantity: 1, Price: 50},
		},
	})

	c := newTestCoordinator(store, NewLocalJobGuard(), &captureSink{})
	summary, err := c.Run(context.Background(), models.RecalcRequest{
		StoreID:   "s1",
		Mode:      models.ModeProductTrends,
		StartDate: datePtr(month),
		EndDate:   datePtr(month.AddDate(0, 0, 30)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DatesProcessed)

	rows, err := store.GetTrendRange(context.Background(), "s1", month, month)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Widget", rows[0].SKU)
}

func TestCoordinatorTrendsModeEmptyStoreIsNoOp(t *testing.T) {
	store := storage.NewMemoryStore()
	sink := &captureSink{}
	c := newTestCoordinator(store, NewLocalJobGuard(), sink)

	// No request range, no watermark, no store config: the run must
	// complete with zero work rather than walking months from year 1.
	summary, err := c.Run(context.Background(), models.RecalcRequest{
		StoreID: "s1",
		Mode:    models.ModeProductTrends,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, summary.DatesProcessed)
	assert.Equal(t, 0, summary.TotalDates)

	stages := sink.stages()
	assert.Equal(t, progress.StageCompleted, stages[len(stages)-1])
}

// failingDailyRepo rejects every write so best-effort batches process
// nothing.
type failingDailyRepo struct {
	*storage.MemoryStore
}

func (f *failingDailyRepo) UpsertDay(ctx context.Context, row *models.DailyAnalytics) error {
	return errors.New("storage unavailable")
}

func TestCoordinatorOrdersOnlyFailedBatchKeepsWatermark(t *testing.T) {
	store := storage.NewMemoryStore()
	seedPaidOrder(store, "o1", "s1", time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), 100)

	retry := testRetryer(1)
	logger := zap.NewNop()
	daily := NewDailyService(store, store, store, &failingDailyRepo{store}, retry, 2, logger, nil)
	trends := NewTrendService(store, store, store, store, store, retry, 2, logger, nil)
	cohorts := NewCohortService(store, store, store, store, store, store, store, retry, 2, logger, nil)
	c := NewCoordinator(daily, trends, cohorts, store, store, NewLocalJobGuard(), &captureSink{}, nil, logger, nil)

	summary, err := c.Run(context.Background(), models.RecalcRequest{
		StoreID:   "s1",
		Mode:      models.ModeOrdersOnly,
		StartDate: datePtr(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		EndDate:   datePtr(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.DatesProcessed)
	assert.Equal(t, 1, summary.TotalDates)

	// Every date in the batch was skipped, so the dates must stay
	// inside the next incremental run.
	state, err := store.GetSyncState(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCoordinatorCohortsRequireSKU(t *testing.T) {
	c := newTestCoordinator(storage.NewMemoryStore(), NewLocalJobGuard(), &captureSink{})

	_, err := c.Run(context.Background(), models.RecalcRequest{
		StoreID: "s1",
		Mode:    models.ModeCohorts,
	})
	assert.ErrorIs(t, err, ErrSKURequired)
}

func TestCoordinatorRejectsUnknownMode(t *testing.T) {
	c := newTestCoordinator(storage.NewMemoryStore(), NewLocalJobGuard(), &captureSink{})

	_, err := c.Run(context.Background(), models.RecalcRequest{
		StoreID: "s1",
		Mode:    models.RecalcMode("bogus"),
	})
	assert.ErrorIs(t, err, models.ErrUnknownMode)
}

func TestLocalJobGuardPerStore(t *testing.T) {
	guard := NewLocalJobGuard()
	ctx := context.Background()

	release1, acquired, err := guard.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	require.True(t, acquired)

	// Same store: busy. Different store: free.
	_, acquired, err = guard.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, acquired)

	release2, acquired, err := guard.TryAcquire(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, acquired)
	release2()

	release1()
	release3, acquired, err := guard.TryAcquire(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, acquired)
	release3()
}

package recalc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/profitpeek/profitpeek/internal/metrics"
	"github.com/profitpeek/profitpeek/internal/models"
	"github.com/profitpeek/profitpeek/internal/storage"
	"go.uber.org/zap"
)

// DailyService computes the per (store, day) aggregate rows from the
// order, ad spend and cost ledgers.
type DailyService struct {
	orders   storage.OrderRepo
	ads      storage.AdSpendRepo
	costs    storage.CostRepo
	daily    storage.DailyRepo
	retry    *Retryer
	pageSize int
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewDailyService constructs a DailyService over the given repos.
func NewDailyService(
	orders storage.OrderRepo,
	ads storage.AdSpendRepo,
	costs storage.CostRepo,
	daily storage.DailyRepo,
	retry *Retryer,
	pageSize int,
	logger *zap.Logger,
	m *metrics.Metrics,
) *DailyService {
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	return &DailyService{
		orders:   orders,
		ads:      ads,
		costs:    costs,
		daily:    daily,
		retry:    retry,
		pageSize: pageSize,
		logger:   logger,
		metrics:  m,
	}
}

type dayTotals struct {
	revenue  float64
	google   float64
	facebook float64
	cogs     float64
}

// readRevenue sums qualifying order revenue for one calendar day.
func (s *DailyService) readRevenue(ctx context.Context, storeID string, day time.Time) (float64, error) {
	f := storage.OrderFilter{StoreID: storeID, Start: day, End: day.AddDate(0, 0, 1)}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.orders.CountOrders(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.Order, error) {
			return s.orders.ListOrdersPage(ctx, f, limit, offset)
		},
	)

	var revenue float64
	err := s.retry.Do(ctx, "read day revenue", func(ctx context.Context) error {
		revenue = 0
		return reader.ReadPages(ctx, func(rows []*models.Order, done, total int) error {
			s.metrics.RecordPage("orders", len(rows))
			for _, o := range rows {
				revenue += o.NetRevenue()
			}
			return nil
		})
	})
	return revenue, err
}

// readAdSpend sums per-platform spend for one calendar day.
func (s *DailyService) readAdSpend(ctx context.Context, storeID string, day time.Time) (google, facebook float64, err error) {
	f := storage.AdSpendFilter{StoreID: storeID, Start: day, End: day.AddDate(0, 0, 1)}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.ads.CountAdSpend(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.AdSpend, error) {
			return s.ads.ListAdSpendPage(ctx, f, limit, offset)
		},
	)

	err = s.retry.Do(ctx, "read day ad spend", func(ctx context.Context) error {
		google, facebook = 0, 0
		return reader.ReadPages(ctx, func(rows []*models.AdSpend, done, total int) error {
			s.metrics.RecordPage("ad_spend", len(rows))
			for _, a := range rows {
				switch a.Platform {
				case models.PlatformGoogle:
					google += a.Amount
				case models.PlatformFacebook:
					facebook += a.Amount
				}
			}
			return nil
		})
	})
	return google, facebook, err
}

// readCosts sums cost-of-goods for one calendar day.
func (s *DailyService) readCosts(ctx context.Context, storeID string, day time.Time) (float64, error) {
	f := storage.CostFilter{StoreID: storeID, Start: day, End: day.AddDate(0, 0, 1)}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.costs.CountCosts(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.CostOfGoods, error) {
			return s.costs.ListCostsPage(ctx, f, limit, offset)
		},
	)

	var cogs float64
	err := s.retry.Do(ctx, "read day costs", func(ctx context.Context) error {
		cogs = 0
		return reader.ReadPages(ctx, func(rows []*models.CostOfGoods, done, total int) error {
			s.metrics.RecordPage("cost_of_goods", len(rows))
			for _, c := range rows {
				cogs += c.Amount
			}
			return nil
		})
	})
	return cogs, err
}

// buildDailyRow assembles a persisted aggregate row from raw sums.
// All monetary fields are rounded to currency precision first so
// re-running the same inputs yields an identical row.
func buildDailyRow(storeID string, day time.Time, t dayTotals) *models.DailyAnalytics {
	revenue := models.RoundMoney(t.revenue)
	google := models.RoundMoney(t.google)
	facebook := models.RoundMoney(t.facebook)
	cogs := models.RoundMoney(t.cogs)
	profit := models.RoundMoney(revenue - google - facebook - cogs)

	margin := 0.0
	if revenue != 0 {
		margin = models.RoundRate(profit / revenue * 100)
	}

	now := time.Now().UTC()
	return &models.DailyAnalytics{
		ID:              uuid.NewString(),
		StoreID:         storeID,
		Date:            models.DayOf(day),
		Revenue:         revenue,
		GoogleAdSpend:   google,
		FacebookAdSpend: facebook,
		CostOfGoods:     cogs,
		Profit:          profit,
		ProfitMargin:    margin,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ComputeDay recalculates one day's aggregate row for a store and
// persists it with delete-then-insert semantics. A storage error
// aborts this date only.
func (s *DailyService) ComputeDay(ctx context.Context, storeID string, date time.Time) (*models.DailyAnalytics, error) {
	day := models.DayOf(date)

	revenue, err := s.readRevenue(ctx, storeID, day)
	if err != nil {
		return nil, err
	}
	google, facebook, err := s.readAdSpend(ctx, storeID, day)
	if err != nil {
		return nil, err
	}
	cogs, err := s.readCosts(ctx, storeID, day)
	if err != nil {
		return nil, err
	}

	row := buildDailyRow(storeID, day, dayTotals{
		revenue:  revenue,
		google:   google,
		facebook: facebook,
		cogs:     cogs,
	})

	if err := s.daily.ReplaceDay(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist day %s: %w", day.Format("2006-01-02"), err)
	}

	s.logger.Debug("computed day",
		zap.String("store_id", storeID),
		zap.String("date", day.Format("2006-01-02")),
		zap.Float64("revenue", row.Revenue),
		zap.Float64("profit", row.Profit),
	)
	return row, nil
}

// DatesNeedingRecalc shrinks [start, end] to the calendar days that
// actually have qualifying orders, so a wide requested span does not
// waste work on empty days. Empty result means nothing to do.
func (s *DailyService) DatesNeedingRecalc(ctx context.Context, storeID string, start, end time.Time) ([]time.Time, error) {
	var (
		min, max time.Time
		ok       bool
	)
	err := s.retry.Do(ctx, "order date bounds", func(ctx context.Context) error {
		var err error
		min, max, ok, err = s.orders.OrderDateBounds(ctx, storeID,
			models.DayOf(start), models.DayOf(end).AddDate(0, 0, 1))
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var dates []time.Time
	for d := models.DayOf(min); !d.After(models.DayOf(max)); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates, nil
}

// ComputeRange recalculates every date in [start, end] that has
// qualifying orders, sequentially. One progress callback fires per
// date with the running index and total. A per-date error aborts the
// remainder of the range; already-processed dates stay persisted.
func (s *DailyService) ComputeRange(ctx context.Context, storeID string, start, end time.Time, emit func(date time.Time, current, total int)) (processed, total int, err error) {
	dates, err := s.DatesNeedingRecalc(ctx, storeID, start, end)
	if err != nil {
		return 0, 0, err
	}

	for i, d := range dates {
		if _, err := s.ComputeDay(ctx, storeID, d); err != nil {
			return i, len(dates), fmt.Errorf("daily recalculation aborted at %s: %w", d.Format("2006-01-02"), err)
		}
		s.metrics.RecordDates("full", 1)
		if emit != nil {
			emit(d, i+1, len(dates))
		}
	}
	return len(dates), len(dates), nil
}

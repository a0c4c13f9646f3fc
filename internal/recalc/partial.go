package recalc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/profitpeek/profitpeek/internal/models"
	"go.uber.org/zap"
)

// recomputeDerived refreshes profit and margin after one side of the
// row changed, leaving the other fields exactly as read back.
func recomputeDerived(row *models.DailyAnalytics) {
	row.Profit = models.RoundMoney(row.Revenue - row.TotalAdSpend() - row.CostOfGoods)
	if row.Revenue != 0 {
		row.ProfitMargin = models.RoundRate(row.Profit / row.Revenue * 100)
	} else {
		row.ProfitMargin = 0
	}
	row.UpdatedAt = time.Now().UTC()
}

// emptyDailyRow is the base when no aggregate row exists yet for the
// date being partially recalculated.
func emptyDailyRow(storeID string, day time.Time) *models.DailyAnalytics {
	now := time.Now().UTC()
	return &models.DailyAnalytics{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		Date:      models.DayOf(day),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecalcOrdersOnly recomputes only the revenue of one day's aggregate
// row, preserving its ad-spend and cost-of-goods fields, then upserts
// keyed by (store, date).
func (s *DailyService) RecalcOrdersOnly(ctx context.Context, storeID string, date time.Time) (*models.DailyAnalytics, error) {
	day := models.DayOf(date)

	revenue, err := s.readRevenue(ctx, storeID, day)
	if err != nil {
		return nil, err
	}

	row, err := s.daily.GetDay(ctx, storeID, day)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = emptyDailyRow(storeID, day)
	}

	row.Revenue = models.RoundMoney(revenue)
	recomputeDerived(row)

	if err := s.daily.UpsertDay(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// RecalcAdsOnly recomputes only the per-platform ad-spend fields of
// one day's aggregate row, preserving revenue and cost-of-goods.
func (s *DailyService) RecalcAdsOnly(ctx context.Context, storeID string, date time.Time) (*models.DailyAnalytics, error) {
	day := models.DayOf(date)

	google, facebook, err := s.readAdSpend(ctx, storeID, day)
	if err != nil {
		return nil, err
	}

	row, err := s.daily.GetDay(ctx, storeID, day)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = emptyDailyRow(storeID, day)
	}

	row.GoogleAdSpend = models.RoundMoney(google)
	row.FacebookAdSpend = models.RoundMoney(facebook)
	recomputeDerived(row)

	if err := s.daily.UpsertDay(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// RecalcOrdersRange runs RecalcOrdersOnly over the days in [start, end]
// that have qualifying orders. Unlike ComputeRange, a per-date error is
// logged and skipped so the batch makes best-effort progress.
func (s *DailyService) RecalcOrdersRange(ctx context.Context, storeID string, start, end time.Time, emit func(date time.Time, current, total int)) (processed, total int, err error) {
	dates, err := s.DatesNeedingRecalc(ctx, storeID, start, end)
	if err != nil {
		return 0, 0, err
	}

	for i, d := range dates {
		if _, err := s.RecalcOrdersOnly(ctx, storeID, d); err != nil {
			s.logger.Error("orders-only recalc failed for date, skipping",
				zap.String("store_id", storeID),
				zap.String("date", d.Format("2006-01-02")),
				zap.Error(err),
			)
		} else {
			processed++
			s.metrics.RecordDates("orders_only", 1)
		}
		if emit != nil {
			emit(d, i+1, len(dates))
		}
	}
	return processed, len(dates), nil
}

// RecalcAdsRange runs RecalcAdsOnly over a date range. When start/end
// are nil the range is the full set of distinct dates present in the
// ad spend ledger for the store. Best-effort like RecalcOrdersRange.
func (s *DailyService) RecalcAdsRange(ctx context.Context, storeID string, start, end *time.Time, emit func(date time.Time, current, total int)) (processed, total int, err error) {
	var dates []time.Time
	retryErr := s.retry.Do(ctx, "list spend dates", func(ctx context.Context) error {
		var err error
		dates, err = s.ads.DistinctSpendDates(ctx, storeID)
		return err
	})
	if retryErr != nil {
		return 0, 0, retryErr
	}

	if start != nil || end != nil {
		filtered := dates[:0]
		for _, d := range dates {
			if start != nil && d.Before(models.DayOf(*start)) {
				continue
			}
			if end != nil && d.After(models.DayOf(*end)) {
				continue
			}
			filtered = append(filtered, d)
		}
		dates = filtered
	}

	for i, d := range dates {
		if _, err := s.RecalcAdsOnly(ctx, storeID, d); err != nil {
			s.logger.Error("ads-only recalc failed for date, skipping",
				zap.String("store_id", storeID),
				zap.String("date", d.Format("2006-01-02")),
				zap.Error(err),
			)
		} else {
			processed++
			s.metrics.RecordDates("ads_only", 1)
		}
		if emit != nil {
			emit(d, i+1, len(dates))
		}
	}
	return processed, len(dates), nil
}

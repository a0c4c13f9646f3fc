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

// TrendService rebuilds the per (store, SKU, month) aggregate rows.
// Trend rows are deleted for the target months and rebuilt from
// scratch: profit accumulates across three independent source folds
// (orders, costs, ad spend), so field-by-field upserts would risk
// double-subtraction.
type TrendService struct {
	orders   storage.OrderRepo
	ads      storage.AdSpendRepo
	costs    storage.CostRepo
	links    storage.LinkRepo
	trends   storage.TrendRepo
	retry    *Retryer
	pageSize int
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewTrendService(
	orders storage.OrderRepo,
	ads storage.AdSpendRepo,
	costs storage.CostRepo,
	links storage.LinkRepo,
	trends storage.TrendRepo,
	retry *Retryer,
	pageSize int,
	logger *zap.Logger,
	m *metrics.Metrics,
) *TrendService {
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	return &TrendService{
		orders:   orders,
		ads:      ads,
		costs:    costs,
		links:    links,
		trends:   trends,
		retry:    retry,
		pageSize: pageSize,
		logger:   logger,
		metrics:  m,
	}
}

// RebuildMonth deletes and rebuilds all trend rows for (store, month).
func (s *TrendService) RebuildMonth(ctx context.Context, storeID string, month time.Time) error {
	monthStart := models.MonthOf(month)
	monthEnd := monthStart.AddDate(0, 1, 0)

	acc, err := s.accumulateOrders(ctx, storeID, monthStart, monthEnd)
	if err != nil {
		return err
	}

	if err := s.foldCosts(ctx, storeID, monthStart, monthEnd, acc); err != nil {
		return err
	}
	if err := s.foldAdSpend(ctx, storeID, monthStart, monthEnd, acc); err != nil {
		return err
	}

	rows := make([]*models.ProductTrend, 0, len(acc))
	for _, t := range acc {
		t.Revenue = models.RoundMoney(t.Revenue)
		t.AdSpend = models.RoundMoney(t.AdSpend)
		t.CostOfGoods = models.RoundMoney(t.CostOfGoods)
		t.Profit = models.RoundMoney(t.Revenue - t.AdSpend - t.CostOfGoods)
		rows = append(rows, t)
	}

	if err := s.trends.DeleteTrendRange(ctx, storeID, monthStart, monthStart); err != nil {
		return err
	}
	if err := s.trends.InsertTrends(ctx, rows); err != nil {
		return fmt.Errorf("failed to persist trends for %s: %w", monthStart.Format("2006-01"), err)
	}

	s.logger.Debug("rebuilt product trends",
		zap.String("store_id", storeID),
		zap.String("month", monthStart.Format("2006-01")),
		zap.Int("skus", len(rows)),
	)
	return nil
}

// accumulateOrders streams the month's orders and groups line item
// revenue and order counts by normalized SKU. Profit starts at revenue;
// later folds each subtract their own contribution exactly once.
func (s *TrendService) accumulateOrders(ctx context.Context, storeID string, monthStart, monthEnd time.Time) (map[string]*models.ProductTrend, error) {
	f := storage.OrderFilter{StoreID: storeID, Start: monthStart, End: monthEnd}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.orders.CountOrders(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.Order, error) {
			return s.orders.ListOrdersPage(ctx, f, limit, offset)
		},
	)

	var acc map[string]*models.ProductTrend
	err := s.retry.Do(ctx, "read month orders", func(ctx context.Context) error {
		acc = make(map[string]*models.ProductTrend)
		return reader.ReadPages(ctx, func(rows []*models.Order, done, total int) error {
			s.metrics.RecordPage("orders", len(rows))
			for _, o := range rows {
				if !o.QualifiesForRevenue() {
					continue
				}
				seen := make(map[string]bool, len(o.LineItems))
				for _, li := range o.LineItems {
					sku := models.NormalizeSKU(li.Title)
					if sku == "" {
						continue
					}
					t, ok := acc[sku]
					if !ok {
						t = &models.ProductTrend{
							ID:        uuid.NewString(),
							StoreID:   storeID,
							SKU:       sku,
							Month:     monthStart,
							CreatedAt: time.Now().UTC(),
						}
						acc[sku] = t
					}
					t.Revenue += li.Price * float64(li.Quantity)
					if !seen[sku] {
						t.OrderCount++
						seen[sku] = true
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// foldCosts attributes cost-of-goods rows to SKUs through the
// product-id mapping set and subtracts them from profit via the
// CostOfGoods field.
func (s *TrendService) foldCosts(ctx context.Context, storeID string, monthStart, monthEnd time.Time, acc map[string]*models.ProductTrend) error {
	var mappings []*models.ProductMapping
	err := s.retry.Do(ctx, "read product mappings", func(ctx context.Context) error {
		var err error
		mappings, err = s.links.ListMappings(ctx, storeID)
		return err
	})
	if err != nil {
		return err
	}

	// Mappings arrive most recently updated first; when a product id
	// maps to several SKUs the most recent mapping wins.
	productToSKU := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if _, ok := productToSKU[m.ProductID]; !ok {
			productToSKU[m.ProductID] = m.SKU
		}
	}

	f := storage.CostFilter{StoreID: storeID, Start: monthStart, End: monthEnd}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.costs.CountCosts(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.CostOfGoods, error) {
			return s.costs.ListCostsPage(ctx, f, limit, offset)
		},
	)

	type fold struct{ cogs map[string]float64 }
	var folded fold
	err = s.retry.Do(ctx, "read month costs", func(ctx context.Context) error {
		folded = fold{cogs: make(map[string]float64)}
		return reader.ReadPages(ctx, func(rows []*models.CostOfGoods, done, total int) error {
			s.metrics.RecordPage("cost_of_goods", len(rows))
			for _, c := range rows {
				sku, ok := productToSKU[c.ProductID]
				if !ok {
					continue
				}
				folded.cogs[sku] += c.Amount
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for sku, amount := range folded.cogs {
		if t, ok := acc[sku]; ok {
			t.CostOfGoods += amount
		}
	}
	return nil
}

// foldAdSpend attributes the month's ad spend to SKUs through the
// campaign link table.
func (s *TrendService) foldAdSpend(ctx context.Context, storeID string, monthStart, monthEnd time.Time, acc map[string]*models.ProductTrend) error {
	campaignToSKU := make(map[string]string)
	for sku := range acc {
		var links []*models.ProductCampaignLink
		err := s.retry.Do(ctx, "read campaign links", func(ctx context.Context) error {
			var err error
			links, err = s.links.ListCampaignLinks(ctx, storeID, sku)
			return err
		})
		if err != nil {
			return err
		}
		for _, l := range links {
			if _, ok := campaignToSKU[l.CampaignID]; !ok {
				campaignToSKU[l.CampaignID] = sku
			}
		}
	}

	f := storage.AdSpendFilter{StoreID: storeID, Start: monthStart, End: monthEnd}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.ads.CountAdSpend(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.AdSpend, error) {
			return s.ads.ListAdSpendPage(ctx, f, limit, offset)
		},
	)

	var spend map[string]float64
	err := s.retry.Do(ctx, "read month ad spend", func(ctx context.Context) error {
		spend = make(map[string]float64)
		return reader.ReadPages(ctx, func(rows []*models.AdSpend, done, total int) error {
			s.metrics.RecordPage("ad_spend", len(rows))
			for _, a := range rows {
				if sku, ok := campaignToSKU[a.CampaignID]; ok {
					spend[sku] += a.Amount
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	for sku, amount := range spend {
		if t, ok := acc[sku]; ok {
			t.AdSpend += amount
		}
	}
	return nil
}

// RebuildRange rebuilds every month whose start falls in
// [startMonth, endMonth], sequentially, emitting one progress callback
// per month. A zero startMonth is bounded by the order ledger: the walk
// begins at the first month with qualifying orders, and a store without
// any is a no-op. An error aborts the remaining months.
func (s *TrendService) RebuildRange(ctx context.Context, storeID string, startMonth, endMonth time.Time, emit func(month time.Time, current, total int)) (processed, total int, err error) {
	startMonth = models.MonthOf(startMonth)
	endMonth = models.MonthOf(endMonth)

	if startMonth.IsZero() {
		var (
			min time.Time
			ok  bool
		)
		err := s.retry.Do(ctx, "order date bounds", func(ctx context.Context) error {
			var err error
			min, _, ok, err = s.orders.OrderDateBounds(ctx, storeID, time.Time{}, endMonth.AddDate(0, 1, 0))
			return err
		})
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			return 0, 0, nil
		}
		startMonth = models.MonthOf(min)
	}

	var months []time.Time
	for m := startMonth; !m.After(endMonth); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}

	for i, m := range months {
		if err := s.RebuildMonth(ctx, storeID, m); err != nil {
			return i, len(months), fmt.Errorf("trend rebuild aborted at %s: %w", m.Format("2006-01"), err)
		}
		if emit != nil {
			emit(m, i+1, len(months))
		}
	}
	return len(months), len(months), nil
}

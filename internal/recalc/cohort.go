package recalc

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/profitpeek/profitpeek/internal/metrics"
	"github.com/profitpeek/profitpeek/internal/models"
	"github.com/profitpeek/profitpeek/internal/storage"
	"go.uber.org/zap"
)

// CohortService builds the customer LTV grid for one SKU: cohort month
// by months-since-first-purchase, with revenue, profit, CAC and
// retention per cell.
type CohortService struct {
	orders    storage.OrderRepo
	ads       storage.AdSpendRepo
	costs     storage.CostRepo
	links     storage.LinkRepo
	cohorts   storage.CohortRepo
	syncRepo  storage.SyncRepo
	storeCfgs storage.StoreConfigRepo
	retry     *Retryer
	pageSize  int
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewCohortService(
	orders storage.OrderRepo,
	ads storage.AdSpendRepo,
	costs storage.CostRepo,
	links storage.LinkRepo,
	cohorts storage.CohortRepo,
	syncRepo storage.SyncRepo,
	storeCfgs storage.StoreConfigRepo,
	retry *Retryer,
	pageSize int,
	logger *zap.Logger,
	m *metrics.Metrics,
) *CohortService {
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	return &CohortService{
		orders:    orders,
		ads:       ads,
		costs:     costs,
		links:     links,
		cohorts:   cohorts,
		syncRepo:  syncRepo,
		storeCfgs: storeCfgs,
		retry:     retry,
		pageSize:  pageSize,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CohortsForSKU returns the SKU's grid, recomputing only when the
// persisted rows are stale relative to the store's full-sync
// watermark. The second return value reports whether a recomputation
// happened.
func (s *CohortService) CohortsForSKU(ctx context.Context, storeID, sku string, start, end time.Time) ([]*models.CohortRow, bool, error) {
	cached, err := s.cohorts.GetCohorts(ctx, storeID, sku)
	if err != nil {
		return nil, false, err
	}

	state, err := s.syncRepo.GetSyncState(ctx, storeID)
	if err != nil {
		return nil, false, err
	}
	var watermark time.Time
	if state != nil {
		watermark = state.LastFullSync
	}

	if len(cached) > 0 && !cached[0].CalculatedAt.Before(watermark) {
		return cached, false, nil
	}

	rows, err := s.Rebuild(ctx, storeID, sku, start, end, nil)
	if err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

// skuPurchase is one qualifying order's contribution to the SKU.
type skuPurchase struct {
	customerID string
	createdAt  time.Time
	revenue    float64
	units      int
}

// Rebuild recomputes and persists the full grid for (store, SKU).
// Cohort membership is fixed at the customer's first purchase of the
// SKU; the month-offset walk is in order and stops at the first offset
// past the available ledger data, so a row at offset n implies rows at
// every offset below n.
func (s *CohortService) Rebuild(ctx context.Context, storeID, sku string, start, end time.Time, emit func(cohortMonth time.Time, current, total int)) ([]*models.CohortRow, error) {
	now := s.now()
	historyStart := models.DayOf(start)

	// First purchases must be computed over the store's whole history,
	// not just the requested range, or a repeat buyer would be
	// misclassified as new.
	if cfg, err := s.storeCfgs.GetStoreConfig(ctx, storeID); err != nil {
		return nil, err
	} else if cfg != nil && !cfg.EarliestSyncDate.IsZero() && cfg.EarliestSyncDate.Before(historyStart) {
		historyStart = models.DayOf(cfg.EarliestSyncDate)
	}

	purchases, lastOrderAt, err := s.scanPurchases(ctx, storeID, sku, historyStart, now)
	if err != nil {
		return nil, err
	}

	spendByMonth, err := s.linkedSpendByMonth(ctx, storeID, sku, historyStart, now)
	if err != nil {
		return nil, err
	}

	cogsByMonth, err := s.skuCostsByMonth(ctx, storeID, sku, historyStart, now)
	if err != nil {
		return nil, err
	}

	rows := s.buildGrid(storeID, sku, purchases, spendByMonth, cogsByMonth, start, end, lastOrderAt, now, emit)

	if err := s.cohorts.ReplaceCohorts(ctx, storeID, sku, rows); err != nil {
		return nil, err
	}

	s.logger.Debug("rebuilt cohorts",
		zap.String("store_id", storeID),
		zap.String("sku", sku),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// scanPurchases streams the store's orders and extracts every
// qualifying purchase of the SKU. Also returns the created-at of the
// newest order seen of any kind, which bounds offset availability.
func (s *CohortService) scanPurchases(ctx context.Context, storeID, sku string, from, to time.Time) ([]skuPurchase, time.Time, error) {
	f := storage.OrderFilter{StoreID: storeID, Start: from, End: to}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.orders.CountOrders(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.Order, error) {
			return s.orders.ListOrdersPage(ctx, f, limit, offset)
		},
	)

	var (
		purchases   []skuPurchase
		lastOrderAt time.Time
	)
	err := s.retry.Do(ctx, "scan cohort orders", func(ctx context.Context) error {
		purchases = purchases[:0]
		lastOrderAt = time.Time{}
		return reader.ReadPages(ctx, func(rows []*models.Order, done, total int) error {
			s.metrics.RecordPage("orders", len(rows))
			for _, o := range rows {
				if o.CreatedAt.After(lastOrderAt) {
					lastOrderAt = o.CreatedAt
				}
				if !o.QualifiesForRevenue() || o.CustomerID == "" {
					continue
				}
				var revenue float64
				var units int
				for _, li := range o.LineItems {
					if models.NormalizeSKU(li.Title) != sku {
						continue
					}
					revenue += li.Price * float64(li.Quantity)
					units += li.Quantity
				}
				if units == 0 {
					continue
				}
				purchases = append(purchases, skuPurchase{
					customerID: o.CustomerID,
					createdAt:  o.CreatedAt,
					revenue:    revenue,
					units:      units,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return purchases, lastOrderAt, nil
}

// linkedSpendByMonth sums ad spend of campaigns linked to the SKU,
// grouped by calendar month.
func (s *CohortService) linkedSpendByMonth(ctx context.Context, storeID, sku string, from, to time.Time) (map[time.Time]float64, error) {
	var links []*models.ProductCampaignLink
	err := s.retry.Do(ctx, "read campaign links", func(ctx context.Context) error {
		var err error
		links, err = s.links.ListCampaignLinks(ctx, storeID, sku)
		return err
	})
	if err != nil {
		return nil, err
	}
	linked := make(map[string]bool, len(links))
	for _, l := range links {
		linked[l.CampaignID] = true
	}

	spend := make(map[time.Time]float64)
	if len(linked) == 0 {
		return spend, nil
	}

	f := storage.AdSpendFilter{StoreID: storeID, Start: from, End: to}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.ads.CountAdSpend(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.AdSpend, error) {
			return s.ads.ListAdSpendPage(ctx, f, limit, offset)
		},
	)

	err = s.retry.Do(ctx, "read cohort ad spend", func(ctx context.Context) error {
		spend = make(map[time.Time]float64)
		return reader.ReadPages(ctx, func(rows []*models.AdSpend, done, total int) error {
			s.metrics.RecordPage("ad_spend", len(rows))
			for _, a := range rows {
				if linked[a.CampaignID] {
					spend[models.MonthOf(a.Date)] += a.Amount
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return spend, nil
}

// skuCostsByMonth sums cost-of-goods for the SKU's product-id set,
// grouped by calendar month.
func (s *CohortService) skuCostsByMonth(ctx context.Context, storeID, sku string, from, to time.Time) (map[time.Time]float64, error) {
	var mappings []*models.ProductMapping
	err := s.retry.Do(ctx, "read product mappings", func(ctx context.Context) error {
		var err error
		mappings, err = s.links.ListMappingsBySKU(ctx, storeID, sku)
		return err
	})
	if err != nil {
		return nil, err
	}
	productIDs := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		productIDs[m.ProductID] = true
	}

	cogs := make(map[time.Time]float64)
	if len(productIDs) == 0 {
		return cogs, nil
	}

	f := storage.CostFilter{StoreID: storeID, Start: from, End: to}
	reader := storage.NewChunkedReader(s.pageSize,
		func(ctx context.Context) (int, error) { return s.costs.CountCosts(ctx, f) },
		func(ctx context.Context, limit, offset int) ([]*models.CostOfGoods, error) {
			return s.costs.ListCostsPage(ctx, f, limit, offset)
		},
	)

	err = s.retry.Do(ctx, "read cohort costs", func(ctx context.Context) error {
		cogs = make(map[time.Time]float64)
		return reader.ReadPages(ctx, func(rows []*models.CostOfGoods, done, total int) error {
			s.metrics.RecordPage("cost_of_goods", len(rows))
			for _, c := range rows {
				if productIDs[c.ProductID] {
					cogs[models.MonthOf(c.Date)] += c.Amount
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cogs, nil
}

// buildGrid derives the cohort rows from the scanned purchases.
func (s *CohortService) buildGrid(
	storeID, sku string,
	purchases []skuPurchase,
	spendByMonth, cogsByMonth map[time.Time]float64,
	start, end time.Time,
	lastOrderAt, now time.Time,
	emit func(cohortMonth time.Time, current, total int),
) []*models.CohortRow {
	first := make(map[string]time.Time)
	firstRevenue := make(map[string]float64)
	byMonth := make(map[time.Time][]skuPurchase)
	unitsByMonth := make(map[time.Time]int)

	for _, p := range purchases {
		if prev, ok := first[p.customerID]; !ok || p.createdAt.Before(prev) {
			first[p.customerID] = p.createdAt
			firstRevenue[p.customerID] = p.revenue
		}
		m := models.MonthOf(p.createdAt)
		byMonth[m] = append(byMonth[m], p)
		unitsByMonth[m] += p.units
	}

	// Cohort membership is fixed at the first purchase; only customers
	// whose first purchase falls inside the requested range form cohorts.
	members := make(map[time.Time]map[string]bool)
	for cust, at := range first {
		if at.Before(start) || at.After(end) {
			continue
		}
		cm := models.MonthOf(at)
		if members[cm] == nil {
			members[cm] = make(map[string]bool)
		}
		members[cm][cust] = true
	}

	cohortMonths := make([]time.Time, 0, len(members))
	for cm := range members {
		cohortMonths = append(cohortMonths, cm)
	}
	sort.Slice(cohortMonths, func(i, j int) bool { return cohortMonths[i].Before(cohortMonths[j]) })

	lastDataMonth := models.MonthOf(lastOrderAt)
	currentMonth := models.MonthOf(now)
	if lastDataMonth.After(currentMonth) {
		lastDataMonth = currentMonth
	}

	calculatedAt := now
	var rows []*models.CohortRow
	for i, cm := range cohortMonths {
		cohort := members[cm]
		size := len(cohort)
		if size == 0 {
			continue
		}

		var firstTotal float64
		for cust := range cohort {
			firstTotal += firstRevenue[cust]
		}
		cac := 0.0
		if spend := spendByMonth[cm]; spend > 0 {
			cac = models.RoundMoney(spend / float64(size))
		}

		maxOffset := models.MonthsBetween(cm, currentMonth)
		for offset := 0; offset <= maxOffset; offset++ {
			offsetMonth := cm.AddDate(0, offset, 0)
			// The walk stops, it does not skip: once the ledger has no
			// data for a month, later offsets are unknowable too.
			if offsetMonth.After(lastDataMonth) {
				break
			}

			var revenue float64
			var units int
			ordered := make(map[string]bool)
			for _, p := range byMonth[offsetMonth] {
				if !cohort[p.customerID] {
					continue
				}
				revenue += p.revenue
				units += p.units
				ordered[p.customerID] = true
			}

			profit := revenue
			if total := unitsByMonth[offsetMonth]; total > 0 && units > 0 {
				perUnitAd := spendByMonth[offsetMonth] / float64(total)
				perUnitCogs := cogsByMonth[offsetMonth] / float64(total)
				profit -= (perUnitAd + perUnitCogs) * float64(units)
			}

			rows = append(rows, &models.CohortRow{
				ID:                 uuid.NewString(),
				StoreID:            storeID,
				SKU:                sku,
				CohortMonth:        cm,
				MonthOffset:        offset,
				CustomerCount:      size,
				TotalRevenue:       models.RoundMoney(revenue),
				AvgRevenue:         models.RoundMoney(revenue / float64(size)),
				TotalProfit:        models.RoundMoney(profit),
				AvgProfit:          models.RoundMoney(profit / float64(size)),
				CAC:                cac,
				RetentionRate:      models.RoundRate(float64(len(ordered)) / float64(size) * 100),
				FirstOrderAvgPrice: models.RoundMoney(firstTotal / float64(size)),
				CalculatedAt:       calculatedAt,
			})
		}

		if emit != nil {
			emit(cm, i+1, len(cohortMonths))
		}
	}

	return rows
}

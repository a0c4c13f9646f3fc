package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/profitpeek/profitpeek/internal/models"
)

// MemoryStore is an in-memory implementation of every repository
// interface. It backs the engine when PostgreSQL is unavailable and is
// the fixture store for tests. Iteration order is made deterministic
// by sorting, so paged reads behave like their SQL counterparts.
type MemoryStore struct {
	mu sync.RWMutex

	orders   []*models.Order
	adSpend  []*models.AdSpend
	costs    []*models.CostOfGoods
	links    []*models.ProductCampaignLink
	mappings []*models.ProductMapping

	daily   map[string]*models.DailyAnalytics // store_id|date
	trends  map[string]*models.ProductTrend   // store_id|sku|month
	cohorts map[string][]*models.CohortRow    // store_id|sku
	sync    map[string]*models.SyncState
	configs map[string]*models.StoreConfig
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		daily:   make(map[string]*models.DailyAnalytics),
		trends:  make(map[string]*models.ProductTrend),
		cohorts: make(map[string][]*models.CohortRow),
		sync:    make(map[string]*models.SyncState),
		configs: make(map[string]*models.StoreConfig),
	}
}

func dayKey(storeID string, date time.Time) string {
	return storeID + "|" + models.DayOf(date).Format("2006-01-02")
}

func trendKey(storeID, sku string, month time.Time) string {
	return storeID + "|" + sku + "|" + models.MonthOf(month).Format("2006-01")
}

func cohortKey(storeID, sku string) string {
	return storeID + "|" + sku
}

// ---- Seeding helpers ----

func (s *MemoryStore) AddOrder(o *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
}

func (s *MemoryStore) AddAdSpend(a *models.AdSpend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adSpend = append(s.adSpend, a)
}

func (s *MemoryStore) AddCost(c *models.CostOfGoods) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costs = append(s.costs, c)
}

func (s *MemoryStore) AddCampaignLink(l *models.ProductCampaignLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, l)
}

func (s *MemoryStore) AddMapping(m *models.ProductMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = append(s.mappings, m)
}

func (s *MemoryStore) SetStoreConfig(c *models.StoreConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[c.StoreID] = c
}

// ---- OrderRepo ----

func (s *MemoryStore) matchOrders(f OrderFilter) []*models.Order {
	var out []*models.Order
	for _, o := range s.orders {
		if o.StoreID != f.StoreID {
			continue
		}
		if o.CreatedAt.Before(f.Start) || !o.CreatedAt.Before(f.End) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) CountOrders(ctx context.Context, f OrderFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchOrders(f)), nil
}

func (s *MemoryStore) ListOrdersPage(ctx context.Context, f OrderFilter, limit, offset int) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchOrders(f)
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *MemoryStore) OrderDateBounds(ctx context.Context, storeID string, start, end time.Time) (time.Time, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var min, max time.Time
	found := false
	for _, o := range s.orders {
		if o.StoreID != storeID || !o.QualifiesForRevenue() {
			continue
		}
		if o.CreatedAt.Before(start) || !o.CreatedAt.Before(end) {
			continue
		}
		if !found || o.CreatedAt.Before(min) {
			min = o.CreatedAt
		}
		if !found || o.CreatedAt.After(max) {
			max = o.CreatedAt
		}
		found = true
	}
	return min, max, found, nil
}

// ---- AdSpendRepo ----

func (s *MemoryStore) matchAdSpend(f AdSpendFilter) []*models.AdSpend {
	var out []*models.AdSpend
	for _, a := range s.adSpend {
		if a.StoreID != f.StoreID {
			continue
		}
		if a.Date.Before(f.Start) || !a.Date.Before(f.End) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func (s *MemoryStore) CountAdSpend(ctx context.Context, f AdSpendFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchAdSpend(f)), nil
}

func (s *MemoryStore) ListAdSpendPage(ctx context.Context, f AdSpendFilter, limit, offset int) ([]*models.AdSpend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchAdSpend(f)
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *MemoryStore) DistinctSpendDates(ctx context.Context, storeID string) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]time.Time)
	for _, a := range s.adSpend {
		if a.StoreID != storeID {
			continue
		}
		day := models.DayOf(a.Date)
		seen[day.Format("2006-01-02")] = day
	}
	dates := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// ---- CostRepo ----

func (s *MemoryStore) matchCosts(f CostFilter) []*models.CostOfGoods {
	var out []*models.CostOfGoods
	for _, c := range s.costs {
		if c.StoreID != f.StoreID {
			continue
		}
		if c.Date.Before(f.Start) || !c.Date.Before(f.End) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func (s *MemoryStore) CountCosts(ctx context.Context, f CostFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchCosts(f)), nil
}

func (s *MemoryStore) ListCostsPage(ctx context.Context, f CostFilter, limit, offset int) ([]*models.CostOfGoods, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchCosts(f)
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// ---- LinkRepo ----

func (s *MemoryStore) ListCampaignLinks(ctx context.Context, storeID, sku string) ([]*models.ProductCampaignLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ProductCampaignLink
	for _, l := range s.links {
		if l.StoreID == storeID && l.SKU == sku {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) ListMappingsBySKU(ctx context.Context, storeID, sku string) ([]*models.ProductMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ProductMapping
	for _, m := range s.mappings {
		if m.StoreID == storeID && m.SKU == sku {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) ListMappings(ctx context.Context, storeID string) ([]*models.ProductMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ProductMapping
	for _, m := range s.mappings {
		if m.StoreID == storeID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ---- DailyRepo ----

func (s *MemoryStore) GetDay(ctx context.Context, storeID string, date time.Time) (*models.DailyAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.daily[dayKey(storeID, date)]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) GetRange(ctx context.Context, storeID string, start, end time.Time) ([]*models.DailyAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.DailyAnalytics
	for _, d := range s.daily {
		if d.StoreID != storeID {
			continue
		}
		day := models.DayOf(d.Date)
		if day.Before(models.DayOf(start)) || day.After(models.DayOf(end)) {
			continue
		}
		copied := *d
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) ReplaceDay(ctx context.Context, row *models.DailyAnalytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *row
	s.daily[dayKey(row.StoreID, row.Date)] = &copied
	return nil
}

func (s *MemoryStore) UpsertDay(ctx context.Context, row *models.DailyAnalytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *row
	s.daily[dayKey(row.StoreID, row.Date)] = &copied
	return nil
}

// ---- TrendRepo ----

func (s *MemoryStore) DeleteTrendRange(ctx context.Context, storeID string, startMonth, endMonth time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, end := models.MonthOf(startMonth), models.MonthOf(endMonth)
	for k, t := range s.trends {
		if t.StoreID != storeID {
			continue
		}
		m := models.MonthOf(t.Month)
		if !m.Before(start) && !m.After(end) {
			delete(s.trends, k)
		}
	}
	return nil
}

func (s *MemoryStore) InsertTrends(ctx context.Context, rows []*models.ProductTrend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range rows {
		copied := *t
		s.trends[trendKey(t.StoreID, t.SKU, t.Month)] = &copied
	}
	return nil
}

func (s *MemoryStore) GetTrendRange(ctx context.Context, storeID string, startMonth, endMonth time.Time) ([]*models.ProductTrend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end := models.MonthOf(startMonth), models.MonthOf(endMonth)
	var out []*models.ProductTrend
	for _, t := range s.trends {
		if t.StoreID != storeID {
			continue
		}
		m := models.MonthOf(t.Month)
		if m.Before(start) || m.After(end) {
			continue
		}
		copied := *t
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month.Equal(out[j].Month) {
			return strings.Compare(out[i].SKU, out[j].SKU) < 0
		}
		return out[i].Month.Before(out[j].Month)
	})
	return out, nil
}

// ---- CohortRepo ----

func (s *MemoryStore) GetCohorts(ctx context.Context, storeID, sku string) ([]*models.CohortRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.cohorts[cohortKey(storeID, sku)]
	out := make([]*models.CohortRow, 0, len(rows))
	for _, c := range rows {
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CohortMonth.Equal(out[j].CohortMonth) {
			return out[i].MonthOffset < out[j].MonthOffset
		}
		return out[i].CohortMonth.Before(out[j].CohortMonth)
	})
	return out, nil
}

func (s *MemoryStore) ReplaceCohorts(ctx context.Context, storeID, sku string, rows []*models.CohortRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]*models.CohortRow, 0, len(rows))
	for _, c := range rows {
		cc := *c
		copied = append(copied, &cc)
	}
	s.cohorts[cohortKey(storeID, sku)] = copied
	return nil
}

func (s *MemoryStore) InvalidateCohorts(ctx context.Context, storeID, sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cohorts[cohortKey(storeID, sku)] {
		c.CalculatedAt = models.CohortStaleSentinel
	}
	return nil
}

// ---- SyncRepo ----

func (s *MemoryStore) GetSyncState(ctx context.Context, storeID string) (*models.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.sync[storeID]; ok {
		copied := *st
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) AdvanceFullSync(ctx context.Context, storeID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sync[storeID]
	if !ok {
		st = &models.SyncState{StoreID: storeID}
		s.sync[storeID] = st
	}
	if t.After(st.LastFullSync) {
		st.LastFullSync = t.UTC()
	}
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AdvanceAdsSync(ctx context.Context, storeID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sync[storeID]
	if !ok {
		st = &models.SyncState{StoreID: storeID}
		s.sync[storeID] = st
	}
	if t.After(st.LastAdsSync) {
		st.LastAdsSync = t.UTC()
	}
	st.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- StoreConfigRepo ----

func (s *MemoryStore) GetStoreConfig(ctx context.Context, storeID string) (*models.StoreConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.configs[storeID]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, nil
}

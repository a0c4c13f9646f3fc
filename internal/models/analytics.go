package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyAnalytics is the per (store, day) aggregate row. Exactly one
// row exists per key; days never recalculated have no row and are
// synthesized as zeros on read.
type DailyAnalytics struct {
	ID              string    `json:"id"`
	StoreID         string    `json:"store_id"`
	Date            time.Time `json:"date"`
	Revenue         float64   `json:"revenue"`
	GoogleAdSpend   float64   `json:"google_ad_spend"`
	FacebookAdSpend float64   `json:"facebook_ad_spend"`
	CostOfGoods     float64   `json:"cost_of_goods"`
	Profit          float64   `json:"profit"`
	ProfitMargin    float64   `json:"profit_margin"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TotalAdSpend sums spend across all platforms.
func (d *DailyAnalytics) TotalAdSpend() float64 {
	return d.GoogleAdSpend + d.FacebookAdSpend
}

// ProductTrend is the per (store, SKU, month) aggregate row.
type ProductTrend struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	SKU         string    `json:"sku"`
	Month       time.Time `json:"month"`
	Revenue     float64   `json:"revenue"`
	Profit      float64   `json:"profit"`
	OrderCount  int       `json:"order_count"`
	AdSpend     float64   `json:"ad_spend"`
	CostOfGoods float64   `json:"cost_of_goods"`
	CreatedAt   time.Time `json:"created_at"`
}

// CohortRow is one cell of the LTV grid for a SKU: the customers whose
// first purchase of the SKU fell in CohortMonth, measured MonthOffset
// months later.
type CohortRow struct {
	ID                 string    `json:"id"`
	StoreID            string    `json:"store_id"`
	SKU                string    `json:"sku"`
	CohortMonth        time.Time `json:"cohort_month"`
	MonthOffset        int       `json:"month_offset"`
	CustomerCount      int       `json:"customer_count"`
	TotalRevenue       float64   `json:"total_revenue"`
	AvgRevenue         float64   `json:"avg_revenue"`
	TotalProfit        float64   `json:"total_profit"`
	AvgProfit          float64   `json:"avg_profit"`
	CAC                float64   `json:"cac"`
	RetentionRate      float64   `json:"retention_rate"`
	FirstOrderAvgPrice float64   `json:"first_order_avg_price"`
	CalculatedAt       time.Time `json:"calculated_at"`
}

// SyncState tracks per-store watermarks bounding the next incremental
// recalculation. Both watermarks are monotonically non-decreasing.
type SyncState struct {
	StoreID      string    `json:"store_id"`
	LastFullSync time.Time `json:"last_full_sync"`
	LastAdsSync  time.Time `json:"last_ads_sync"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CohortStaleSentinel marks cohort rows invalidated by a mapping or
// campaign-link change; any watermark compares newer than it.
var CohortStaleSentinel = time.Unix(0, 0).UTC()

// RoundMoney rounds a monetary amount to 2 decimal places before it is
// persisted, so re-running the same computation yields identical rows.
func RoundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// RoundRate rounds a percentage to 2 decimal places.
func RoundRate(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// DayOf truncates a timestamp to midnight UTC.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthOf truncates a timestamp to the first day of its month, UTC.
func MonthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthsBetween returns the number of whole calendar months from a to
// b (0 when both fall in the same month). Negative when b precedes a.
func MonthsBetween(a, b time.Time) int {
	a, b = MonthOf(a), MonthOf(b)
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

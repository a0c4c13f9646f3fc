package models

import (
	"regexp"
	"strings"
	"time"
)

// Financial status values reported by the order source.
const (
	FinancialStatusPending           = "pending"
	FinancialStatusPaid              = "paid"
	FinancialStatusPartiallyRefunded = "partially_refunded"
	FinancialStatusRefunded          = "refunded"
)

// Ad platforms tracked in the spend ledger.
const (
	PlatformGoogle   = "google"
	PlatformFacebook = "facebook"
)

// Order is a row in the order ledger. Orders are owned by the order
// source and are read-only inputs to the recalculation engine.
type Order struct {
	ID              string          `json:"id"`
	StoreID         string          `json:"store_id"`
	CustomerID      string          `json:"customer_id"`
	FinancialStatus string          `json:"financial_status"`
	TotalPrice      float64         `json:"total_price"`
	RefundedAmount  float64         `json:"refunded_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	LineItems       []OrderLineItem `json:"line_items,omitempty"`
}

// QualifiesForRevenue reports whether the order counts toward revenue.
// Paid and partially refunded orders qualify; pending and fully
// refunded orders do not.
func (o *Order) QualifiesForRevenue() bool {
	return o.FinancialStatus == FinancialStatusPaid ||
		o.FinancialStatus == FinancialStatusPartiallyRefunded
}

// NetRevenue returns the order's revenue contribution, total price
// less any refunded amount. Zero for orders that do not qualify.
func (o *Order) NetRevenue() float64 {
	if !o.QualifiesForRevenue() {
		return 0
	}
	return o.TotalPrice - o.RefundedAmount
}

// OrderLineItem is a single product line within an order.
type OrderLineItem struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"order_id"`
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

var skuMultiplierRe = regexp.MustCompile(`^\d+\s*[xX]\s+`)

// NormalizeSKU derives a product SKU from a line item title by
// stripping a leading multiplier token such as "2x " or "3 X ", so
// bundle listings group with their base product.
func NormalizeSKU(title string) string {
	return strings.TrimSpace(skuMultiplierRe.ReplaceAllString(strings.TrimSpace(title), ""))
}

// AdSpend is a row in the ad spend ledger, one per (campaign, day).
type AdSpend struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	Date       time.Time `json:"date"`
	CampaignID string    `json:"campaign_id"`
	Platform   string    `json:"platform"`
	Amount     float64   `json:"amount"`
}

// CostOfGoods is a row in the cost ledger, one per (product, day).
type CostOfGoods struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	Date      time.Time `json:"date"`
	ProductID string    `json:"product_id"`
	Amount    float64   `json:"amount"`
}

// ProductCampaignLink attributes an ad campaign's spend to a product
// SKU. A SKU may be linked to any number of campaigns.
type ProductCampaignLink struct {
	ID         string    `json:"id"`
	StoreID    string    `json:"store_id"`
	SKU        string    `json:"sku"`
	CampaignID string    `json:"campaign_id"`
	Platform   string    `json:"platform"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProductMapping associates a SKU with one of its product ids. The
// mapping is a set: a SKU may map to several product ids (variants,
// bundles). Where a single candidate is needed the most recently
// updated row wins.
type ProductMapping struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	SKU       string    `json:"sku"`
	ProductID string    `json:"product_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoreConfig holds per-store settings looked up from data rather than
// hard-coded per store.
type StoreConfig struct {
	StoreID          string    `json:"store_id"`
	EarliestSyncDate time.Time `json:"earliest_sync_date"`
	Currency         string    `json:"currency"`
}

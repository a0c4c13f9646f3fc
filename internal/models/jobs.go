package models

import (
	"errors"
	"time"
)

// RecalcMode selects which slice of the aggregates a job rebuilds.
type RecalcMode string

const (
	ModeFull          RecalcMode = "full"
	ModeOrdersOnly    RecalcMode = "orders_only"
	ModeAdsOnly       RecalcMode = "ads_only"
	ModeProductTrends RecalcMode = "product_trends"
	ModeCohorts       RecalcMode = "cohorts"
)

var ErrUnknownMode = errors.New("unknown recalculation mode")

// ParseRecalcMode validates a mode string from an API request.
func ParseRecalcMode(s string) (RecalcMode, error) {
	switch RecalcMode(s) {
	case ModeFull, ModeOrdersOnly, ModeAdsOnly, ModeProductTrends, ModeCohorts:
		return RecalcMode(s), nil
	}
	return "", ErrUnknownMode
}

// RecalcRequest describes one recalculation job. StartDate/EndDate are
// optional; when nil the engine derives the range from the sync
// watermark and the source ledgers. SKU is required for cohort mode.
type RecalcRequest struct {
	JobID     string     `json:"job_id"`
	StoreID   string     `json:"store_id"`
	Mode      RecalcMode `json:"mode"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	SKU       string     `json:"sku,omitempty"`
}

// RunSummary is returned to the caller when a job finishes.
type RunSummary struct {
	JobID          string     `json:"job_id"`
	StoreID        string     `json:"store_id"`
	Mode           RecalcMode `json:"mode"`
	DatesProcessed int        `json:"dates_processed"`
	TotalDates     int        `json:"total_dates"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	Duration       string     `json:"duration"`
}

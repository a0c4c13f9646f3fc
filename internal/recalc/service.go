package recalc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/profitpeek/profitpeek/internal/metrics"
	"github.com/profitpeek/profitpeek/internal/models"
	"github.com/profitpeek/profitpeek/internal/progress"
	"github.com/profitpeek/profitpeek/internal/storage"
	"go.uber.org/zap"
)

// ErrJobInFlight is returned when a recalculation is dropped because
// the store already has one running.
var ErrJobInFlight = errors.New("recalculation already in flight for store")

// ErrSKURequired is returned for cohort jobs without a SKU.
var ErrSKURequired = errors.New("cohort recalculation requires a sku")

// Coordinator dispatches recalculation jobs to the mode-specific
// services, enforcing the one-job-per-store guard and advancing the
// sync watermarks after successful runs.
type Coordinator struct {
	daily    *DailyService
	trends   *TrendService
	cohorts  *CohortService
	syncRepo storage.SyncRepo
	stores   storage.StoreConfigRepo
	guard    JobGuard
	sink     progress.Sink
	audit    storage.JobAuditSink
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewCoordinator(
	daily *DailyService,
	trends *TrendService,
	cohorts *CohortService,
	syncRepo storage.SyncRepo,
	stores storage.StoreConfigRepo,
	guard JobGuard,
	sink progress.Sink,
	audit storage.JobAuditSink,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Coordinator {
	if audit == nil {
		audit = storage.NopAuditSink{}
	}
	return &Coordinator{
		daily:    daily,
		trends:   trends,
		cohorts:  cohorts,
		syncRepo: syncRepo,
		stores:   stores,
		guard:    guard,
		sink:     sink,
		audit:    audit,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one recalculation job to completion. A second job for
// the same store while one is running is dropped with ErrJobInFlight;
// nothing is computed and nothing is overwritten.
func (c *Coordinator) Run(ctx context.Context, req models.RecalcRequest) (*models.RunSummary, error) {
	if _, err := models.ParseRecalcMode(string(req.Mode)); err != nil {
		return nil, err
	}
	if req.Mode == models.ModeCohorts && req.SKU == "" {
		return nil, ErrSKURequired
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	release, acquired, err := c.guard.TryAcquire(ctx, req.StoreID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire job guard: %w", err)
	}
	if !acquired {
		c.metrics.RecordCollision(string(req.Mode))
		c.logger.Info("recalculation dropped, store busy",
			zap.String("store_id", req.StoreID),
			zap.String("mode", string(req.Mode)),
		)
		return nil, ErrJobInFlight
	}
	defer release()

	if c.metrics != nil {
		c.metrics.ActiveJobs.Inc()
		defer c.metrics.ActiveJobs.Dec()
	}

	started := c.now()
	c.emit(req, progress.StageStarting, "recalculation started", 0, 0, 0)
	c.record(ctx, req, progress.StageStarting, "", 0)

	summary, err := c.dispatch(ctx, req)
	c.flushAudit(ctx)

	if err != nil {
		c.metrics.RecordRun(string(req.Mode), "error", c.now().Sub(started))
		c.publishError(req, err)
		c.record(ctx, req, progress.StageError, err.Error(), 0)
		return nil, err
	}

	summary.JobID = req.JobID
	summary.StoreID = req.StoreID
	summary.Mode = req.Mode
	summary.Duration = c.now().Sub(started).String()

	c.metrics.RecordRun(string(req.Mode), "success", c.now().Sub(started))
	c.emit(req, progress.StageCompleted,
		fmt.Sprintf("processed %d of %d dates", summary.DatesProcessed, summary.TotalDates),
		100, summary.DatesProcessed, summary.TotalDates)
	c.record(ctx, req, progress.StageCompleted, "", int64(summary.DatesProcessed))

	c.logger.Info("recalculation finished",
		zap.String("job_id", req.JobID),
		zap.String("store_id", req.StoreID),
		zap.String("mode", string(req.Mode)),
		zap.Int("dates_processed", summary.DatesProcessed),
		zap.String("duration", summary.Duration),
	)
	return summary, nil
}

func (c *Coordinator) dispatch(ctx context.Context, req models.RecalcRequest) (*models.RunSummary, error) {
	switch req.Mode {
	case models.ModeFull:
		return c.runFull(ctx, req)
	case models.ModeOrdersOnly:
		return c.runOrdersOnly(ctx, req)
	case models.ModeAdsOnly:
		return c.runAdsOnly(ctx, req)
	case models.ModeProductTrends:
		return c.runTrends(ctx, req)
	case models.ModeCohorts:
		return c.runCohorts(ctx, req)
	}
	return nil, models.ErrUnknownMode
}

// resolveRange decides the date span a job covers. An explicit request
// range wins; otherwise the span runs from the store's watermark (or
// its earliest sync date when it has never synced) to today.
func (c *Coordinator) resolveRange(ctx context.Context, req models.RecalcRequest, ads bool) (start, end time.Time, err error) {
	end = models.DayOf(c.now())
	if req.EndDate != nil {
		end = models.DayOf(*req.EndDate)
	}
	if req.StartDate != nil {
		return models.DayOf(*req.StartDate), end, nil
	}

	state, err := c.syncRepo.GetSyncState(ctx, req.StoreID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if state != nil {
		watermark := state.LastFullSync
		if ads {
			watermark = state.LastAdsSync
		}
		if !watermark.IsZero() {
			// The watermark day itself is redone: it may have been
			// written mid-day.
			return models.DayOf(watermark), end, nil
		}
	}

	cfg, err := c.stores.GetStoreConfig(ctx, req.StoreID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if cfg != nil && !cfg.EarliestSyncDate.IsZero() {
		return models.DayOf(cfg.EarliestSyncDate), end, nil
	}

	// No watermark and no configured start: let the ledger bound it.
	return time.Time{}, end, nil
}

func (c *Coordinator) runFull(ctx context.Context, req models.RecalcRequest) (*models.RunSummary, error) {
	start, end, err := c.resolveRange(ctx, req, false)
	if err != nil {
		return nil, err
	}

	processed, total, err := c.daily.ComputeRange(ctx, req.StoreID, start, end, func(date time.Time, current, total int) {
		c.emit(req, progress.StageDaily, date.Format("2006-01-02"), percent(current, total), current, total)
	})
	if err != nil {
		return nil, err
	}

	if total > 0 {
		if err := c.syncRepo.AdvanceFullSync(ctx, req.StoreID, end); err != nil {
			return nil, fmt.Errorf("failed to advance full-sync watermark: %w", err)
		}
	}
	return &models.RunSummary{DatesProcessed: processed, TotalDates: total, StartDate: start, EndDate: end}, nil
}

func (c *Coordinator) runOrdersOnly(ctx context.Context, req models.RecalcRequest) (*models.RunSummary, error) {
	start, end, err := c.resolveRange(ctx, req, false)
	if err != nil {
		return nil, err
	}

	processed, total, err := c.daily.RecalcOrdersRange(ctx, req.StoreID, start, end, func(date time.Time, current, total int) {
		c.emit(req, progress.StageOrders, date.Format("2006-01-02"), percent(current, total), current, total)
	})
	if err != nil {
		return nil, err
	}

	// The batch is best-effort, so a nil error does not mean every date
	// landed. The watermark moves only when the whole range did; skipped
	// dates stay inside the next incremental run.
	if total > 0 && processed == total {
		if err := c.syncRepo.AdvanceFullSync(ctx, req.StoreID, end); err != nil {
			return nil, fmt.Errorf("failed to advance full-sync watermark: %w", err)
		}
	}
	return &models.RunSummary{DatesProcessed: processed, TotalDates: total, StartDate: start, EndDate: end}, nil
}

func (c *Coordinator) runAdsOnly(ctx context.Context, req models.RecalcRequest) (*models.RunSummary, error) {
	// Ads-only derives its dates from the spend ledger when the request
	// has no explicit range, so nil bounds pass straight through.
	processed, total, err := c.daily.RecalcAdsRange(ctx, req.StoreID, req.StartDate, req.EndDate, func(date time.Time, current, total int) {
		c.emit(req, progress.StageAds, date.Format("2006-01-02"), percent(current, total), current, total)
	})
	if err != nil {
		return nil, err
	}

	end := models.DayOf(c.now())
	if req.EndDate != nil {
		end = models.DayOf(*req.EndDate)
	}
	var start time.Time
	if req.StartDate != nil {
		start = models.DayOf(*req.StartDate)
	}

	if total > 0 && processed == total {
		if err := c.syncRepo.AdvanceAdsSync(ctx, req.StoreID, end); err != nil {
			return nil, fmt.Errorf("failed to advance ads-sync watermark: %w", err)
		}
	}
	return &models.RunSummary{DatesProcessed: processed, TotalDates: total, StartDate: start, EndDate: end}, nil
}

func (c *Coordinator) runTrends(ctx context.Context, req models.RecalcRequest) (*models.RunSummary, error) {
	start, end, err := c.resolveRange(ctx, req, false)
	if err != nil {
		return nil, err
	}

	processed, total, err := c.trends.RebuildRange(ctx, req.StoreID, models.MonthOf(start), models.MonthOf(end), func(month time.Time, current, total int) {
		c.emit(req, progress.StageTrends, month.Format("2006-01"), percent(current, total), current, total)
	})
	if err != nil {
		return nil, err
	}
	return &models.RunSummary{DatesProcessed: processed, TotalDates: total, StartDate: start, EndDate: end}, nil
}

func (c *Coordinator) runCohorts(ctx context.Context, req models.RecalcRequest) (*models.RunSummary, error) {
	start, end, err := c.resolveRange(ctx, req, false)
	if err != nil {
		return nil, err
	}

	var processed, total int
	_, err = c.cohorts.Rebuild(ctx, req.StoreID, req.SKU, start, end.AddDate(0, 0, 1), func(month time.Time, current, tot int) {
		processed, total = current, tot
		c.emit(req, progress.StageCohorts, month.Format("2006-01"), percent(current, tot), current, tot)
	})
	if err != nil {
		return nil, err
	}
	return &models.RunSummary{DatesProcessed: processed, TotalDates: total, StartDate: start, EndDate: end}, nil
}

func (c *Coordinator) emit(req models.RecalcRequest, stage, message string, pct, current, total int) {
	if c.sink == nil {
		return
	}
	c.sink.Publish(progress.Event{
		Channel:  req.JobID,
		Stage:    stage,
		Message:  message,
		Progress: pct,
		Current:  current,
		Total:    total,
	})
	if c.metrics != nil {
		c.metrics.ProgressEvents.Inc()
	}
}

func (c *Coordinator) publishError(req models.RecalcRequest, err error) {
	if c.sink == nil {
		return
	}
	c.sink.Publish(progress.Event{
		Channel: req.JobID,
		Stage:   progress.StageError,
		Message: "recalculation failed",
		Error:   err.Error(),
	})
}

func (c *Coordinator) record(ctx context.Context, req models.RecalcRequest, stage, detail string, rows int64) {
	c.audit.Record(ctx, storage.JobAuditEvent{
		JobID:    req.JobID,
		StoreID:  req.StoreID,
		Mode:     string(req.Mode),
		Stage:    stage,
		Detail:   detail,
		RowsRead: rows,
	})
}

func (c *Coordinator) flushAudit(ctx context.Context) {
	if err := c.audit.Flush(ctx); err != nil {
		c.logger.Warn("job audit flush failed", zap.Error(err))
	}
}

func percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return current * 100 / total
}

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/profitpeek/profitpeek/internal/config"
	"github.com/profitpeek/profitpeek/internal/database"
	"github.com/profitpeek/profitpeek/internal/metrics"
	"github.com/profitpeek/profitpeek/internal/models"
	"github.com/profitpeek/profitpeek/internal/progress"
	"github.com/profitpeek/profitpeek/internal/recalc"
	"github.com/profitpeek/profitpeek/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps HTTP handlers around the recalculation engine.
type Server struct {
	coordinator *recalc.Coordinator
	cohorts     *recalc.CohortService
	cohortRepo  storage.CohortRepo
	daily       storage.DailyRepo
	trends      storage.TrendRepo
	broadcaster *progress.Broadcaster
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	config      *config.Config
	metrics     *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	// Initialize repositories
	var (
		orderRepo    storage.OrderRepo
		adSpendRepo  storage.AdSpendRepo
		costRepo     storage.CostRepo
		linkRepo     storage.LinkRepo
		dailyRepo    storage.DailyRepo
		trendRepo    storage.TrendRepo
		cohortRepo   storage.CohortRepo
		syncRepo     storage.SyncRepo
		storeCfgRepo storage.StoreConfigRepo
	)

	if deps.DB != nil {
		ledger := storage.NewPostgresLedgerRepo(deps.DB.Pool)
		orderRepo = ledger
		adSpendRepo = ledger
		costRepo = ledger
		linkRepo = ledger
		dailyRepo = storage.NewPostgresDailyRepo(deps.DB.Pool)
		trendRepo = storage.NewPostgresTrendRepo(deps.DB.Pool)
		cohortRepo = storage.NewPostgresCohortRepo(deps.DB.Pool)
		syncRepo = storage.NewPostgresSyncRepo(deps.DB.Pool)
		storeCfgRepo = storage.NewPostgresStoreConfigRepo(deps.DB.Pool)
	} else {
		mem := storage.NewMemoryStore()
		orderRepo = mem
		adSpendRepo = mem
		costRepo = mem
		linkRepo = mem
		dailyRepo = mem
		trendRepo = mem
		cohortRepo = mem
		syncRepo = mem
		storeCfgRepo = mem
	}

	// Per-store job guard: distributed when Redis is up, local otherwise
	var guard recalc.JobGuard
	if deps.Redis != nil {
		guard = recalc.NewRedisJobGuard(deps.Redis.Client, deps.Config.Recalc.LockTTL, deps.Logger)
	} else {
		guard = recalc.NewLocalJobGuard()
	}

	var audit storage.JobAuditSink = storage.NopAuditSink{}
	if deps.ClickHouse != nil {
		audit = storage.NewClickHouseAuditSink(deps.ClickHouse.Conn, 100, deps.Logger)
	}

	retry := recalc.NewRetryer(deps.Config.Recalc.RetryMax, deps.Config.Recalc.RetryBase, deps.Logger, deps.Metrics)
	broadcaster := progress.NewBroadcaster(deps.Config.Recalc.ProgressBuffer)
	pageSize := deps.Config.Recalc.PageSize

	dailySvc := recalc.NewDailyService(orderRepo, adSpendRepo, costRepo, dailyRepo, retry, pageSize, deps.Logger, deps.Metrics)
	trendSvc := recalc.NewTrendService(orderRepo, adSpendRepo, costRepo, linkRepo, trendRepo, retry, pageSize, deps.Logger, deps.Metrics)
	cohortSvc := recalc.NewCohortService(orderRepo, adSpendRepo, costRepo, linkRepo, cohortRepo, syncRepo, storeCfgRepo, retry, pageSize, deps.Logger, deps.Metrics)

	coordinator := recalc.NewCoordinator(dailySvc, trendSvc, cohortSvc, syncRepo, storeCfgRepo, guard, broadcaster, audit, deps.Logger, deps.Metrics)

	s := &Server{
		coordinator: coordinator,
		cohorts:     cohortSvc,
		cohortRepo:  cohortRepo,
		daily:       dailyRepo,
		trends:      trendRepo,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  deps.Logger,
		config:  deps.Config,
		metrics: deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Recalculation jobs
	mux.HandleFunc("/recalc/daily", s.recalcHandler(models.ModeFull))
	mux.HandleFunc("/recalc/orders", s.recalcHandler(models.ModeOrdersOnly))
	mux.HandleFunc("/recalc/ads", s.recalcHandler(models.ModeAdsOnly))
	mux.HandleFunc("/recalc/trends", s.recalcHandler(models.ModeProductTrends))
	mux.HandleFunc("/recalc/cohorts", s.recalcHandler(models.ModeCohorts))

	// Aggregate reads
	mux.HandleFunc("/analytics/daily", s.handleDailyRange)
	mux.HandleFunc("/analytics/trends", s.handleTrendRange)
	mux.HandleFunc("/analytics/cohorts/", s.handleCohortsBySKU)

	// Progress push
	mux.HandleFunc("/progress/ws", s.handleProgressWS)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Recalculation ----

type recalcPayload struct {
	StoreID   string `json:"store_id"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	SKU       string `json:"sku,omitempty"`
}

// recalcHandler builds the POST handler for one recalculation mode.
// The job runs synchronously by default; async=true returns 202 with
// the job id and streams progress over the websocket instead.
func (s *Server) recalcHandler(mode models.RecalcMode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var p recalcPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		if p.StoreID == "" {
			s.errorResponse(w, "store_id required", http.StatusBadRequest)
			return
		}

		req := models.RecalcRequest{
			StoreID: p.StoreID,
			Mode:    mode,
			SKU:     p.SKU,
		}
		if p.StartDate != "" {
			t, err := time.Parse("2006-01-02", p.StartDate)
			if err != nil {
				s.errorResponse(w, "invalid start_date", http.StatusBadRequest)
				return
			}
			req.StartDate = &t
		}
		if p.EndDate != "" {
			t, err := time.Parse("2006-01-02", p.EndDate)
			if err != nil {
				s.errorResponse(w, "invalid end_date", http.StatusBadRequest)
				return
			}
			req.EndDate = &t
		}
		if mode == models.ModeCohorts && req.SKU == "" {
			s.errorResponse(w, "sku required", http.StatusBadRequest)
			return
		}

		if r.URL.Query().Get("async") == "true" {
			req.JobID = s.startAsync(req)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"job_id":  req.JobID,
				"channel": req.JobID,
			})
			return
		}

		summary, err := s.coordinator.Run(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, recalc.ErrJobInFlight):
				s.errorResponse(w, err.Error(), http.StatusConflict)
			case errors.Is(err, recalc.ErrSKURequired), errors.Is(err, models.ErrUnknownMode):
				s.errorResponse(w, err.Error(), http.StatusBadRequest)
			default:
				s.logger.Error("recalculation failed",
					zap.String("store_id", req.StoreID),
					zap.String("mode", string(mode)),
					zap.Error(err),
				)
				s.errorResponse(w, "recalculation failed", http.StatusInternalServerError)
			}
			return
		}

		s.jsonResponse(w, summary)
	}
}

// startAsync launches the job detached from the request lifecycle.
// Errors surface on the progress channel, not in the HTTP response.
func (s *Server) startAsync(req models.RecalcRequest) string {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	go func() {
		if _, err := s.coordinator.Run(context.Background(), req); err != nil {
			s.logger.Warn("async recalculation failed",
				zap.String("job_id", req.JobID),
				zap.String("store_id", req.StoreID),
				zap.Error(err),
			)
		}
	}()
	return req.JobID
}

// ---- Aggregate reads ----

// handleDailyRange returns one row per calendar day in the requested
// range. Days without a persisted row come back zero-filled so the
// response always covers the full span.
func (s *Server) handleDailyRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		s.errorResponse(w, "store_id required", http.StatusBadRequest)
		return
	}
	start, end, err := parseDateRange(r, 30)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.daily.GetRange(r.Context(), storeID, start, end)
	if err != nil {
		s.logger.Error("failed to read daily analytics", zap.Error(err))
		s.errorResponse(w, "failed to read analytics", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, zeroFillDaily(storeID, rows, start, end))
}

func (s *Server) handleTrendRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		s.errorResponse(w, "store_id required", http.StatusBadRequest)
		return
	}
	start, end, err := parseDateRange(r, 365)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.trends.GetTrendRange(r.Context(), storeID, models.MonthOf(start), models.MonthOf(end))
	if err != nil {
		s.logger.Error("failed to read product trends", zap.Error(err))
		s.errorResponse(w, "failed to read trends", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, rows)
}

func (s *Server) handleCohortsBySKU(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/analytics/cohorts/")
	if sku, ok := strings.CutSuffix(rest, "/invalidate"); ok {
		s.handleCohortInvalidate(w, r, sku)
		return
	}

	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sku := rest
	if sku == "" {
		s.errorResponse(w, "sku required", http.StatusBadRequest)
		return
	}
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		s.errorResponse(w, "store_id required", http.StatusBadRequest)
		return
	}
	start, end, err := parseDateRange(r, 365)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, recomputed, err := s.cohorts.CohortsForSKU(r.Context(), storeID, sku, start, end.AddDate(0, 0, 1))
	if err != nil {
		s.logger.Error("failed to read cohorts",
			zap.String("sku", sku),
			zap.Error(err),
		)
		s.errorResponse(w, "failed to read cohorts", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"sku":        sku,
		"recomputed": recomputed,
		"cohorts":    rows,
	})
}

// handleCohortInvalidate marks the SKU's persisted cohort rows stale
// after a product-mapping or campaign-link change, so the next read
// recomputes against the new attribution.
func (s *Server) handleCohortInvalidate(w http.ResponseWriter, r *http.Request, sku string) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if sku == "" {
		s.errorResponse(w, "sku required", http.StatusBadRequest)
		return
	}
	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		s.errorResponse(w, "store_id required", http.StatusBadRequest)
		return
	}

	if err := s.cohortRepo.InvalidateCohorts(r.Context(), storeID, sku); err != nil {
		s.logger.Error("failed to invalidate cohorts",
			zap.String("sku", sku),
			zap.Error(err),
		)
		s.errorResponse(w, "failed to invalidate cohorts", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"sku":         sku,
		"invalidated": true,
	})
}

// ---- Progress websocket ----

func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		s.errorResponse(w, "channel required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	events, cancel := s.broadcaster.Subscribe(channel)
	if s.metrics != nil {
		s.metrics.ProgressSubscribers.Inc()
	}

	// Reader loop exists only to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		cancel()
		conn.Close()
		if s.metrics != nil {
			s.metrics.ProgressSubscribers.Dec()
		}
	}()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		if ev.Stage == progress.StageCompleted || ev.Stage == progress.StageError {
			return
		}
	}
}

// ---- Helper Methods ----

// parseDateRange reads start_date/end_date query params, defaulting to
// the trailing defaultDays window ending today.
func parseDateRange(r *http.Request, defaultDays int) (start, end time.Time, err error) {
	end = models.DayOf(time.Now().UTC())
	start = end.AddDate(0, 0, -defaultDays)

	if v := r.URL.Query().Get("start_date"); v != "" {
		start, err = time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid start_date")
		}
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		end, err = time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid end_date")
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end_date before start_date")
	}
	return start, end, nil
}

// zeroFillDaily expands persisted rows to one row per calendar day.
// Synthesized rows are never written back.
func zeroFillDaily(storeID string, rows []*models.DailyAnalytics, start, end time.Time) []*models.DailyAnalytics {
	byDay := make(map[time.Time]*models.DailyAnalytics, len(rows))
	for _, row := range rows {
		byDay[models.DayOf(row.Date)] = row
	}

	var out []*models.DailyAnalytics
	for d := models.DayOf(start); !d.After(models.DayOf(end)); d = d.AddDate(0, 0, 1) {
		if row, ok := byDay[d]; ok {
			out = append(out, row)
			continue
		}
		out = append(out, &models.DailyAnalytics{
			StoreID: storeID,
			Date:    d,
		})
	}
	return out
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

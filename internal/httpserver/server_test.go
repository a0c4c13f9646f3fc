package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/profitpeek/profitpeek/internal/config"
	"github.com/profitpeek/profitpeek/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Recalc: config.RecalcConfig{
			PageSize:       100,
			RetryMax:       1,
			RetryBase:      time.Millisecond,
			LockTTL:        time.Minute,
			ProgressBuffer: 8,
		},
	}
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	return NewServer(&Dependencies{
		Config: testConfig(),
		Logger: zap.NewNop(),
	})
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestRecalcRequiresPost(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recalc/daily", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecalcRequiresStoreID(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/recalc/daily", strings.NewReader(`{}`))
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "store_id")
}

func TestRecalcRejectsBadDate(t *testing.T) {
	h := newTestHandler(t)

	body := `{"store_id":"s1","start_date":"03/05/2024"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/recalc/daily", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "start_date")
}

func TestRecalcCohortsRequiresSKU(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/recalc/cohorts", strings.NewReader(`{"store_id":"s1"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sku")
}

func TestRecalcEmptyStoreCompletes(t *testing.T) {
	h := newTestHandler(t)

	body := `{"store_id":"s1","start_date":"2024-03-01","end_date":"2024-03-10"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/recalc/daily", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 0, summary.DatesProcessed)
	assert.Equal(t, models.ModeFull, summary.Mode)
	assert.NotEmpty(t, summary.JobID)
}

func TestRecalcAsyncAccepted(t *testing.T) {
	h := newTestHandler(t)

	body := `{"store_id":"s1","start_date":"2024-03-01","end_date":"2024-03-10"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/recalc/daily?async=true", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, resp["job_id"], resp["channel"])
}

func TestDailyRangeZeroFilled(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/analytics/daily?store_id=s1&start_date=2024-03-01&end_date=2024-03-05", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var rows []*models.DailyAnalytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))

	// One row per calendar day, all zeros for a store with no data.
	require.Len(t, rows, 5)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), rows[0].Date)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), rows[4].Date)
	for _, row := range rows {
		assert.Equal(t, "s1", row.StoreID)
		assert.Equal(t, 0.0, row.Revenue)
	}
}

func TestDailyRangeRequiresStoreID(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/daily", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDailyRangeRejectsInvertedRange(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/analytics/daily?store_id=s1&start_date=2024-03-10&end_date=2024-03-01", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCohortsEndpointRequiresSKU(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/cohorts/?store_id=s1", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCohortInvalidate(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/analytics/cohorts/Widget/invalidate?store_id=s1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"invalidated":true`)
	assert.Contains(t, rec.Body.String(), `"sku":"Widget"`)
}

func TestCohortInvalidateRequiresPost(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/analytics/cohorts/Widget/invalidate?store_id=s1", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCohortInvalidateRequiresStoreID(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/analytics/cohorts/Widget/invalidate", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressWSRequiresChannel(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/progress/ws", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

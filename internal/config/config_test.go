package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROFITPEEK_AUTH_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 1000, cfg.Recalc.PageSize)
	assert.Equal(t, 3, cfg.Recalc.RetryMax)
	assert.Equal(t, time.Second, cfg.Recalc.RetryBase)
	assert.Equal(t, 2*time.Hour, cfg.Recalc.LockTTL)
	assert.False(t, cfg.ClickHouse.Enabled)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.Auth.SkipPaths)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PROFITPEEK_HTTP_ADDR", ":9999")
	t.Setenv("PROFITPEEK_ENV", "production")
	t.Setenv("PROFITPEEK_DB_HOST", "db.internal")
	t.Setenv("PROFITPEEK_DB_PORT", "5433")
	t.Setenv("PROFITPEEK_API_KEY_MASTER", "secret")
	t.Setenv("PROFITPEEK_RECALC_PAGE_SIZE", "250")
	t.Setenv("PROFITPEEK_RECALC_RETRY_BASE", "500ms")
	t.Setenv("PROFITPEEK_AUTH_SKIP_PATHS", "/health, /metrics, /progress/ws")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 250, cfg.Recalc.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Recalc.RetryBase)
	assert.Equal(t, []string{"/health", "/metrics", "/progress/ws"}, cfg.Auth.SkipPaths)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "u", Password: "p",
		DBName: "analytics", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://u:p@localhost:5432/analytics?sslmode=disable", d.DSN())
}

func TestValidateRequiresMasterKey(t *testing.T) {
	t.Setenv("PROFITPEEK_AUTH_ENABLED", "true")
	t.Setenv("PROFITPEEK_API_KEY_MASTER", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROFITPEEK_API_KEY_MASTER")
}

func TestValidateRejectsBadPageSize(t *testing.T) {
	t.Setenv("PROFITPEEK_AUTH_ENABLED", "false")
	t.Setenv("PROFITPEEK_RECALC_PAGE_SIZE", "-5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAGE_SIZE")
}

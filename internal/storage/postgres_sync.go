package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/profitpeek/profitpeek/internal/models"
)

// PostgresSyncRepo implements SyncRepo using PostgreSQL.
type PostgresSyncRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncRepo(pool *pgxpool.Pool) *PostgresSyncRepo {
	return &PostgresSyncRepo{pool: pool}
}

func (r *PostgresSyncRepo) GetSyncState(ctx context.Context, storeID string) (*models.SyncState, error) {
	var s models.SyncState
	err := r.pool.QueryRow(ctx, `
		SELECT store_id, last_full_sync, last_ads_sync, updated_at
		FROM store_sync_state WHERE store_id = $1
	`, storeID).Scan(&s.StoreID, &s.LastFullSync, &s.LastAdsSync, &s.UpdatedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &s, nil
}

// AdvanceFullSync moves the full-sync watermark forward. GREATEST
// keeps the watermark monotonic even if callers race.
func (r *PostgresSyncRepo) AdvanceFullSync(ctx context.Context, storeID string, t time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO store_sync_state (store_id, last_full_sync, last_ads_sync, updated_at)
		VALUES ($1, $2, to_timestamp(0), now())
		ON CONFLICT (store_id) DO UPDATE SET
			last_full_sync = GREATEST(store_sync_state.last_full_sync, EXCLUDED.last_full_sync),
			updated_at = now()
	`, storeID, t.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance full-sync watermark: %w", err)
	}
	return nil
}

func (r *PostgresSyncRepo) AdvanceAdsSync(ctx context.Context, storeID string, t time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO store_sync_state (store_id, last_full_sync, last_ads_sync, updated_at)
		VALUES ($1, to_timestamp(0), $2, now())
		ON CONFLICT (store_id) DO UPDATE SET
			last_ads_sync = GREATEST(store_sync_state.last_ads_sync, EXCLUDED.last_ads_sync),
			updated_at = now()
	`, storeID, t.UTC())
	if err != nil {
		return fmt.Errorf("failed to advance ads-sync watermark: %w", err)
	}
	return nil
}

// PostgresStoreConfigRepo implements StoreConfigRepo using PostgreSQL.
type PostgresStoreConfigRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresStoreConfigRepo(pool *pgxpool.Pool) *PostgresStoreConfigRepo {
	return &PostgresStoreConfigRepo{pool: pool}
}

func (r *PostgresStoreConfigRepo) GetStoreConfig(ctx context.Context, storeID string) (*models.StoreConfig, error) {
	var c models.StoreConfig
	err := r.pool.QueryRow(ctx, `
		SELECT store_id, earliest_sync_date, currency
		FROM store_config WHERE store_id = $1
	`, storeID).Scan(&c.StoreID, &c.EarliestSyncDate, &c.Currency)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store config: %w", err)
	}
	return &c, nil
}

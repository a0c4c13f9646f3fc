package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/profitpeek/profitpeek/internal/models"
)

// PostgresDailyRepo implements DailyRepo using PostgreSQL.
type PostgresDailyRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresDailyRepo(pool *pgxpool.Pool) *PostgresDailyRepo {
	return &PostgresDailyRepo{pool: pool}
}

const dailyColumns = `id, store_id, date, revenue, google_ad_spend, facebook_ad_spend,
	   cost_of_goods, profit, profit_margin, created_at, updated_at`

func (r *PostgresDailyRepo) GetDay(ctx context.Context, storeID string, date time.Time) (*models.DailyAnalytics, error) {
	var d models.DailyAnalytics
	err := r.pool.QueryRow(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_analytics WHERE store_id = $1 AND date = $2
	`, storeID, models.DayOf(date)).Scan(
		&d.ID, &d.StoreID, &d.Date, &d.Revenue, &d.GoogleAdSpend, &d.FacebookAdSpend,
		&d.CostOfGoods, &d.Profit, &d.ProfitMargin, &d.CreatedAt, &d.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily analytics: %w", err)
	}
	return &d, nil
}

func (r *PostgresDailyRepo) GetRange(ctx context.Context, storeID string, start, end time.Time) ([]*models.DailyAnalytics, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+dailyColumns+`
		FROM daily_analytics
		WHERE store_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date
	`, storeID, models.DayOf(start), models.DayOf(end))
	if err != nil {
		return nil, fmt.Errorf("failed to get daily analytics range: %w", err)
	}
	defer rows.Close()

	var result []*models.DailyAnalytics
	for rows.Next() {
		var d models.DailyAnalytics
		if err := rows.Scan(
			&d.ID, &d.StoreID, &d.Date, &d.Revenue, &d.GoogleAdSpend, &d.FacebookAdSpend,
			&d.CostOfGoods, &d.Profit, &d.ProfitMargin, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}

	return result, rows.Err()
}

// ReplaceDay deletes any existing row for (store, date) and inserts
// the new one in a single transaction.
func (r *PostgresDailyRepo) ReplaceDay(ctx context.Context, row *models.DailyAnalytics) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `DELETE FROM daily_analytics WHERE store_id = $1 AND date = $2`,
		row.StoreID, models.DayOf(row.Date))
	if err != nil {
		return fmt.Errorf("failed to delete daily analytics: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO daily_analytics (`+dailyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, row.ID, row.StoreID, models.DayOf(row.Date), row.Revenue, row.GoogleAdSpend,
		row.FacebookAdSpend, row.CostOfGoods, row.Profit, row.ProfitMargin,
		row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert daily analytics: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresDailyRepo) UpsertDay(ctx context.Context, row *models.DailyAnalytics) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_analytics (`+dailyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (store_id, date) DO UPDATE SET
			revenue = EXCLUDED.revenue,
			google_ad_spend = EXCLUDED.google_ad_spend,
			facebook_ad_spend = EXCLUDED.facebook_ad_spend,
			cost_of_goods = EXCLUDED.cost_of_goods,
			profit = EXCLUDED.profit,
			profit_margin = EXCLUDED.profit_margin,
			updated_at = EXCLUDED.updated_at
	`, row.ID, row.StoreID, models.DayOf(row.Date), row.Revenue, row.GoogleAdSpend,
		row.FacebookAdSpend, row.CostOfGoods, row.Profit, row.ProfitMargin,
		row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert daily analytics: %w", err)
	}
	return nil
}

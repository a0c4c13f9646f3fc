package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/profitpeek/profitpeek/internal/models"
)

// PostgresTrendRepo implements TrendRepo using PostgreSQL.
type PostgresTrendRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTrendRepo(pool *pgxpool.Pool) *PostgresTrendRepo {
	return &PostgresTrendRepo{pool: pool}
}

func (r *PostgresTrendRepo) DeleteTrendRange(ctx context.Context, storeID string, startMonth, endMonth time.Time) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM product_trends
		WHERE store_id = $1 AND month >= $2 AND month <= $3
	`, storeID, models.MonthOf(startMonth), models.MonthOf(endMonth))
	if err != nil {
		return fmt.Errorf("failed to delete product trends: %w", err)
	}
	return nil
}

// InsertTrends writes a rebuilt batch inside one transaction so a
// partially written month is never visible to readers.
func (r *PostgresTrendRepo) InsertTrends(ctx context.Context, rows []*models.ProductTrend) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range rows {
		batch.Queue(`
			INSERT INTO product_trends
				(id, store_id, sku, month, revenue, profit, order_count, ad_spend, cost_of_goods, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, t.ID, t.StoreID, t.SKU, models.MonthOf(t.Month), t.Revenue, t.Profit,
			t.OrderCount, t.AdSpend, t.CostOfGoods, t.CreatedAt)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert product trend: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PostgresTrendRepo) GetTrendRange(ctx context.Context, storeID string, startMonth, endMonth time.Time) ([]*models.ProductTrend, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, sku, month, revenue, profit, order_count, ad_spend, cost_of_goods, created_at
		FROM product_trends
		WHERE store_id = $1 AND month >= $2 AND month <= $3
		ORDER BY month, sku
	`, storeID, models.MonthOf(startMonth), models.MonthOf(endMonth))
	if err != nil {
		return nil, fmt.Errorf("failed to get product trends: %w", err)
	}
	defer rows.Close()

	var result []*models.ProductTrend
	for rows.Next() {
		var t models.ProductTrend
		if err := rows.Scan(
			&t.ID, &t.StoreID, &t.SKU, &t.Month, &t.Revenue, &t.Profit,
			&t.OrderCount, &t.AdSpend, &t.CostOfGoods, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &t)
	}

	return result, rows.Err()
}

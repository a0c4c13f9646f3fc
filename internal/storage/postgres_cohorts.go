package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/profitpeek/profitpeek/internal/models"
)

// PostgresCohortRepo implements CohortRepo using PostgreSQL.
type PostgresCohortRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCohortRepo(pool *pgxpool.Pool) *PostgresCohortRepo {
	return &PostgresCohortRepo{pool: pool}
}

const cohortColumns = `id, store_id, sku, cohort_month, month_offset, customer_count,
	   total_revenue, avg_revenue, total_profit, avg_profit, cac, retention_rate,
	   first_order_avg_price, calculated_at`

func (r *PostgresCohortRepo) GetCohorts(ctx context.Context, storeID, sku string) ([]*models.CohortRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+cohortColumns+`
		FROM customer_cohorts
		WHERE store_id = $1 AND sku = $2
		ORDER BY cohort_month, month_offset
	`, storeID, sku)
	if err != nil {
		return nil, fmt.Errorf("failed to get cohorts: %w", err)
	}
	defer rows.Close()

	var result []*models.CohortRow
	for rows.Next() {
		var c models.CohortRow
		if err := rows.Scan(
			&c.ID, &c.StoreID, &c.SKU, &c.CohortMonth, &c.MonthOffset, &c.CustomerCount,
			&c.TotalRevenue, &c.AvgRevenue, &c.TotalProfit, &c.AvgProfit, &c.CAC,
			&c.RetentionRate, &c.FirstOrderAvgPrice, &c.CalculatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}

	return result, rows.Err()
}

func (r *PostgresCohortRepo) ReplaceCohorts(ctx context.Context, storeID, sku string, rows []*models.CohortRow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `DELETE FROM customer_cohorts WHERE store_id = $1 AND sku = $2`, storeID, sku)
	if err != nil {
		return fmt.Errorf("failed to delete cohorts: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range rows {
		batch.Queue(`
			INSERT INTO customer_cohorts (`+cohortColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, c.ID, c.StoreID, c.SKU, c.CohortMonth, c.MonthOffset, c.CustomerCount,
			c.TotalRevenue, c.AvgRevenue, c.TotalProfit, c.AvgProfit, c.CAC,
			c.RetentionRate, c.FirstOrderAvgPrice, c.CalculatedAt)
	}

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert cohort row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// InvalidateCohorts soft-expires the SKU's grid by resetting
// calculated_at to the stale sentinel.
func (r *PostgresCohortRepo) InvalidateCohorts(ctx context.Context, storeID, sku string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE customer_cohorts SET calculated_at = $3
		WHERE store_id = $1 AND sku = $2
	`, storeID, sku, models.CohortStaleSentinel)
	if err != nil {
		return fmt.Errorf("failed to invalidate cohorts: %w", err)
	}
	return nil
}

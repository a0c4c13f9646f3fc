package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/profitpeek/profitpeek/internal/models"
)

// PostgresLedgerRepo reads the raw ledgers (orders, ad spend, costs,
// campaign links, product mappings). The ledgers are owned by the
// order and ad spend sources; this repo never writes them.
type PostgresLedgerRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresLedgerRepo(pool *pgxpool.Pool) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{pool: pool}
}

// ---- Orders ----

func (r *PostgresLedgerRepo) CountOrders(ctx context.Context, f OrderFilter) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
	`, f.StoreID, f.Start, f.End).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

func (r *PostgresLedgerRepo) ListOrdersPage(ctx context.Context, f OrderFilter, limit, offset int) ([]*models.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, customer_id, financial_status, total_price, refunded_amount, created_at
		FROM orders
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id
		LIMIT $4 OFFSET $5
	`, f.StoreID, f.Start, f.End, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	ids := make([]string, 0, limit)
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.StoreID, &o.CustomerID, &o.FinancialStatus,
			&o.TotalPrice, &o.RefundedAmount, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.listLineItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.LineItems = items[o.ID]
	}

	return orders, nil
}

func (r *PostgresLedgerRepo) listLineItems(ctx context.Context, orderIDs []string) (map[string][]models.OrderLineItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, title, quantity, price
		FROM order_line_items WHERE order_id = ANY($1)
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]models.OrderLineItem)
	for rows.Next() {
		var li models.OrderLineItem
		if err := rows.Scan(&li.ID, &li.OrderID, &li.ProductID, &li.Title, &li.Quantity, &li.Price); err != nil {
			return nil, err
		}
		items[li.OrderID] = append(items[li.OrderID], li)
	}

	return items, rows.Err()
}

// OrderDateBounds returns the min and max created-at of qualifying
// orders in [start, end), used to shrink a requested recalculation
// span to the days that actually have orders.
func (r *PostgresLedgerRepo) OrderDateBounds(ctx context.Context, storeID string, start, end time.Time) (time.Time, time.Time, bool, error) {
	var min, max *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT MIN(created_at), MAX(created_at) FROM orders
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
		  AND financial_status IN ('paid', 'partially_refunded')
	`, storeID, start, end).Scan(&min, &max)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to get order date bounds: %w", err)
	}
	if min == nil || max == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return *min, *max, true, nil
}

// ---- Ad spend ----

func (r *PostgresLedgerRepo) CountAdSpend(ctx context.Context, f AdSpendFilter) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM ad_spend
		WHERE store_id = $1 AND date >= $2 AND date < $3
	`, f.StoreID, f.Start, f.End).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ad spend: %w", err)
	}
	return n, nil
}

func (r *PostgresLedgerRepo) ListAdSpendPage(ctx context.Context, f AdSpendFilter, limit, offset int) ([]*models.AdSpend, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, date, campaign_id, platform, amount
		FROM ad_spend
		WHERE store_id = $1 AND date >= $2 AND date < $3
		ORDER BY date, id
		LIMIT $4 OFFSET $5
	`, f.StoreID, f.Start, f.End, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ad spend: %w", err)
	}
	defer rows.Close()

	var result []*models.AdSpend
	for rows.Next() {
		var a models.AdSpend
		if err := rows.Scan(&a.ID, &a.StoreID, &a.Date, &a.CampaignID, &a.Platform, &a.Amount); err != nil {
			return nil, err
		}
		result = append(result, &a)
	}

	return result, rows.Err()
}

func (r *PostgresLedgerRepo) DistinctSpendDates(ctx context.Context, storeID string) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT date FROM ad_spend WHERE store_id = $1 ORDER BY date
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spend dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}

	return dates, rows.Err()
}

// ---- Cost of goods ----

func (r *PostgresLedgerRepo) CountCosts(ctx context.Context, f CostFilter) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM cost_of_goods
		WHERE store_id = $1 AND date >= $2 AND date < $3
	`, f.StoreID, f.Start, f.End).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count costs: %w", err)
	}
	return n, nil
}

func (r *PostgresLedgerRepo) ListCostsPage(ctx context.Context, f CostFilter, limit, offset int) ([]*models.CostOfGoods, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, date, product_id, amount
		FROM cost_of_goods
		WHERE store_id = $1 AND date >= $2 AND date < $3
		ORDER BY date, id
		LIMIT $4 OFFSET $5
	`, f.StoreID, f.Start, f.End, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list costs: %w", err)
	}
	defer rows.Close()

	var result []*models.CostOfGoods
	for rows.Next() {
		var c models.CostOfGoods
		if err := rows.Scan(&c.ID, &c.StoreID, &c.Date, &c.ProductID, &c.Amount); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}

	return result, rows.Err()
}

// ---- Links and mappings ----

func (r *PostgresLedgerRepo) ListCampaignLinks(ctx context.Context, storeID, sku string) ([]*models.ProductCampaignLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, sku, campaign_id, platform, updated_at
		FROM product_campaign_links
		WHERE store_id = $1 AND sku = $2
		ORDER BY updated_at DESC
	`, storeID, sku)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign links: %w", err)
	}
	defer rows.Close()

	var links []*models.ProductCampaignLink
	for rows.Next() {
		var l models.ProductCampaignLink
		if err := rows.Scan(&l.ID, &l.StoreID, &l.SKU, &l.CampaignID, &l.Platform, &l.UpdatedAt); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}

	return links, rows.Err()
}

func (r *PostgresLedgerRepo) ListMappingsBySKU(ctx context.Context, storeID, sku string) ([]*models.ProductMapping, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, sku, product_id, updated_at
		FROM product_mappings
		WHERE store_id = $1 AND sku = $2
		ORDER BY updated_at DESC
	`, storeID, sku)
	if err != nil {
		return nil, fmt.Errorf("failed to list product mappings: %w", err)
	}
	defer rows.Close()

	return scanMappings(rows)
}

func (r *PostgresLedgerRepo) ListMappings(ctx context.Context, storeID string) ([]*models.ProductMapping, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, store_id, sku, product_id, updated_at
		FROM product_mappings
		WHERE store_id = $1
		ORDER BY updated_at DESC
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list product mappings: %w", err)
	}
	defer rows.Close()

	return scanMappings(rows)
}

func scanMappings(rows pgx.Rows) ([]*models.ProductMapping, error) {
	var mappings []*models.ProductMapping
	for rows.Next() {
		var m models.ProductMapping
		if err := rows.Scan(&m.ID, &m.StoreID, &m.SKU, &m.ProductID, &m.UpdatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

package inventory

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// LowStockRow is one replenishment candidate. The effective reorder point
// prefers the variant's threshold over the product's.
type LowStockRow struct {
	ProductID     int64   `json:"product_id" db:"product_id"`
	VariantID     int64   `json:"variant_id" db:"variant_id"`
	LocationID    int64   `json:"location_id" db:"location_id"`
	SKU           string  `json:"sku" db:"sku"`
	ProductName   string  `json:"product_name" db:"product_name"`
	VariantSKU    string  `json:"variant_sku" db:"variant_sku"`
	WarehouseName string  `json:"warehouse_name" db:"warehouse_name"`
	LocationCode  string  `json:"location_code" db:"location_code"`
	Qty           float64 `json:"qty" db:"qty"`
	ReorderPoint  float64 `json:"reorder_point" db:"reorder_point"`
}

// LowStockFilter narrows the low stock listing.
type LowStockFilter struct {
	WarehouseID int64
	CategoryID  int64
	Search      string
	Page        int
	PerPage     int
}

// LowStockEngine lists balances sitting at or below their reorder point.
// Only STOCKED items with a positive threshold participate; zero and negative
// balances are excluded because they signal issue problems, not reorder needs.
type LowStockEngine struct {
	pool    *pgxpool.Pool
	builder sq.StatementBuilderType
}

// NewLowStockEngine builds LowStockEngine.
func NewLowStockEngine(pool *pgxpool.Pool) *LowStockEngine {
	return &LowStockEngine{
		pool:    pool,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// List returns the current page of low stock rows with an exact total count.
func (e *LowStockEngine) List(ctx context.Context, filter LowStockFilter) ([]LowStockRow, shared.Pagination, error) {
	base := e.builder.
		Select().
		From("stock_balances b").
		Join("products p ON p.id = b.product_id").
		LeftJoin("variants v ON v.id = NULLIF(b.variant_id, 0)").
		Join("locations l ON l.id = b.location_id").
		Join("warehouses w ON w.id = l.warehouse_id").
		Where("COALESCE(NULLIF(v.stock_type, ''), p.stock_type) = 'STOCKED'").
		Where("b.qty > 0").
		Where("COALESCE(NULLIF(v.reorder_point, 0), p.reorder_point) > 0").
		Where("b.qty <= COALESCE(NULLIF(v.reorder_point, 0), p.reorder_point)")

	if filter.WarehouseID > 0 {
		base = base.Where(sq.Eq{"w.id": filter.WarehouseID})
	}
	if filter.CategoryID > 0 {
		base = base.Where(sq.Eq{"p.category_id": filter.CategoryID})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		base = base.Where(sq.Or{
			sq.ILike{"p.sku": pattern},
			sq.ILike{"p.name": pattern},
			sq.ILike{"v.sku": pattern},
		})
	}

	countQuery, countArgs, err := base.Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("build low stock count: %w", err)
	}
	var total int
	if err := e.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("count low stock: %w", err)
	}

	pagination := shared.NewPagination(filter.Page, filter.PerPage, total)

	query, args, err := base.
		Columns(
			"b.product_id",
			"b.variant_id",
			"b.location_id",
			"p.sku",
			"p.name AS product_name",
			"COALESCE(v.sku, '') AS variant_sku",
			"w.name AS warehouse_name",
			"l.code AS location_code",
			"b.qty",
			"COALESCE(NULLIF(v.reorder_point, 0), p.reorder_point) AS reorder_point",
		).
		OrderBy("b.qty / COALESCE(NULLIF(v.reorder_point, 0), p.reorder_point)", "p.sku", "l.code").
		Limit(uint64(pagination.PerPage)).
		Offset(uint64(pagination.Offset())).
		ToSql()
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("build low stock query: %w", err)
	}
	var rows []LowStockRow
	if err := pgxscan.Select(ctx, e.pool, &rows, query, args...); err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list low stock: %w", err)
	}
	return rows, pagination, nil
}

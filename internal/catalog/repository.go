package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists catalog master data in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

type productRow struct {
	ID           int64   `db:"id"`
	SKU          string  `db:"sku"`
	Name         string  `db:"name"`
	CategoryID   int64   `db:"category_id"`
	StockType    string  `db:"stock_type"`
	UnitCost     string  `db:"unit_cost"`
	ReorderPoint float64 `db:"reorder_point"`
	IsActive     bool    `db:"is_active"`
}

// ListProducts returns a filtered page of products plus the exact total.
func (r *Repository) ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	if filter.PerPage <= 0 {
		filter.PerPage = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	base := r.builder.Select().From("products p")
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		base = base.Where(squirrel.Or{
			squirrel.ILike{"p.sku": pattern},
			squirrel.ILike{"p.name": pattern},
		})
	}
	if filter.CategoryID != 0 {
		base = base.Where(squirrel.Eq{"p.category_id": filter.CategoryID})
	}
	if filter.ActiveOnly {
		base = base.Where(squirrel.Eq{"p.is_active": true})
	}

	countSQL, countArgs, err := base.Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: build count: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := base.
		Columns("p.id", "p.sku", "p.name", "p.category_id", "p.stock_type", "p.unit_cost::text AS unit_cost", "p.reorder_point", "p.is_active").
		OrderBy("p.sku ASC").
		Limit(uint64(filter.PerPage)).
		Offset(uint64((filter.Page - 1) * filter.PerPage)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: build list: %w", err)
	}
	var rows []productRow
	if err := pgxscan.Select(ctx, r.pool, &rows, listSQL, listArgs...); err != nil {
		return nil, 0, err
	}
	products := make([]Product, 0, len(rows))
	for _, row := range rows {
		p, err := row.toProduct()
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, nil
}

// GetProduct fetches one product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var row productRow
	err := pgxscan.Get(ctx, r.pool, &row, `SELECT id, sku, name, category_id, stock_type, unit_cost::text AS unit_cost, reorder_point, is_active
FROM products WHERE id=$1`, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return row.toProduct()
}

// CreateProduct inserts a product and returns it with its id.
func (r *Repository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, name, category_id, stock_type, unit_cost, reorder_point, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.SKU, p.Name, p.CategoryID, string(p.StockType), p.UnitCost, p.ReorderPoint, p.IsActive).Scan(&p.ID)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// UpdateProduct rewrites the mutable product columns.
func (r *Repository) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET sku=$2, name=$3, category_id=$4, stock_type=$5, unit_cost=$6, reorder_point=$7, is_active=$8, updated_at=NOW()
WHERE id=$1`, p.ID, p.SKU, p.Name, p.CategoryID, string(p.StockType), p.UnitCost, p.ReorderPoint, p.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetVariant fetches one variant by id.
func (r *Repository) GetVariant(ctx context.Context, id int64) (Variant, error) {
	var v Variant
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, sku, option_summary, stock_type, unit_cost, reorder_point, is_active, created_at, updated_at
FROM variants WHERE id=$1`, id).Scan(&v.ID, &v.ProductID, &v.SKU, &v.OptionSummary, &v.StockType, &v.UnitCost, &v.ReorderPoint, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Variant{}, ErrNotFound
		}
		return Variant{}, err
	}
	return v, nil
}

// ListVariants lists all variants of one product.
func (r *Repository) ListVariants(ctx context.Context, productID int64) ([]Variant, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, sku, option_summary, stock_type, unit_cost, reorder_point, is_active, created_at, updated_at
FROM variants WHERE product_id=$1 ORDER BY sku ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var variants []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.SKU, &v.OptionSummary, &v.StockType, &v.UnitCost, &v.ReorderPoint, &v.IsActive, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

// CreateVariant inserts a variant and returns it with its id.
func (r *Repository) CreateVariant(ctx context.Context, v Variant) (Variant, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO variants (product_id, sku, option_summary, stock_type, unit_cost, reorder_point, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		v.ProductID, v.SKU, v.OptionSummary, string(v.StockType), v.UnitCost, v.ReorderPoint, v.IsActive).Scan(&v.ID)
	if err != nil {
		return Variant{}, err
	}
	return v, nil
}

// GetLocation fetches one location by id.
func (r *Repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var loc Location
	err := r.pool.QueryRow(ctx, `SELECT id, warehouse_id, code, name FROM locations WHERE id=$1`, id).
		Scan(&loc.ID, &loc.WarehouseID, &loc.Code, &loc.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrNotFound
		}
		return Location{}, err
	}
	return loc, nil
}

// ListLocations lists locations, optionally scoped to one warehouse.
func (r *Repository) ListLocations(ctx context.Context, warehouseID int64) ([]Location, error) {
	query := r.builder.Select("id", "warehouse_id", "code", "name").From("locations").OrderBy("code ASC")
	if warehouseID != 0 {
		query = query.Where(squirrel.Eq{"warehouse_id": warehouseID})
	}
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("catalog: build locations: %w", err)
	}
	var locations []Location
	if err := pgxscan.Select(ctx, r.pool, &locations, sql, args...); err != nil {
		return nil, err
	}
	return locations, nil
}

// CreateLot inserts a lot and returns it with its id.
func (r *Repository) CreateLot(ctx context.Context, lot Lot) (Lot, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO lots (lot_number, expiry_date, manufactured_at)
VALUES ($1, $2, $3) RETURNING id`, lot.LotNumber, lot.ExpiryDate, lot.ManufacturedAt).Scan(&lot.ID)
	if err != nil {
		return Lot{}, err
	}
	return lot, nil
}

func (row productRow) toProduct() (Product, error) {
	cost, err := parseCost(row.UnitCost)
	if err != nil {
		return Product{}, err
	}
	return Product{
		ID:           row.ID,
		SKU:          row.SKU,
		Name:         row.Name,
		CategoryID:   row.CategoryID,
		StockType:    StockType(row.StockType),
		UnitCost:     cost,
		ReorderPoint: row.ReorderPoint,
		IsActive:     row.IsActive,
	}, nil
}

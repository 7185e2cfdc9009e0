package inventory

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReplayRepo is the Postgres ReplayRepository. Replay is a pure read over
// movement_lines; it never touches stock_balances except in CurrentBalances.
type ReplayRepo struct {
	pool    *pgxpool.Pool
	builder sq.StatementBuilderType
}

// NewReplayRepo builds ReplayRepo.
func NewReplayRepo(pool *pgxpool.Pool) *ReplayRepo {
	return &ReplayRepo{
		pool:    pool,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// replayCTE folds every line of a POSTED movement into signed per-location
// contributions: the from side subtracts, the to side adds. This is the SQL
// twin of the effect rule the posting engine applies line by line.
const replayCTE = `WITH contributions AS (
		SELECT ml.product_id, ml.variant_id, ml.from_location_id AS location_id, -ml.qty AS qty,
			0::numeric AS in_qty, 0::numeric AS in_cost
		FROM movement_lines ml
		JOIN movements m ON m.id = ml.movement_id
		WHERE m.status = 'POSTED' AND m.posted_at < ? AND ml.from_location_id <> 0
	UNION ALL
		SELECT ml.product_id, ml.variant_id, ml.to_location_id, ml.qty,
			ml.qty::numeric, ml.qty::numeric * ml.unit_cost
		FROM movement_lines ml
		JOIN movements m ON m.id = ml.movement_id
		WHERE m.status = 'POSTED' AND m.posted_at < ? AND ml.to_location_id <> 0
	), net AS (
		SELECT product_id, variant_id, location_id, SUM(qty) AS qty,
			CASE WHEN SUM(in_qty) > 0 THEN SUM(in_cost) / SUM(in_qty) ELSE 0 END AS avg_cost
		FROM contributions
		GROUP BY product_id, variant_id, location_id
		HAVING SUM(qty) <> 0
	)`

var snapshotColumns = []string{
	"n.product_id",
	"n.variant_id",
	"n.location_id",
	"n.qty",
	"p.sku",
	"p.name AS product_name",
	"COALESCE(v.sku, '') AS variant_sku",
	"COALESCE(c.name, '') AS category_name",
	"w.name AS warehouse_name",
	"l.code AS location_code",
	"COALESCE(NULLIF(v.unit_cost, 0), p.unit_cost) AS unit_cost",
	"n.avg_cost",
}

func (r *ReplayRepo) BalancesAt(ctx context.Context, cutoff time.Time, filter SnapshotFilter) ([]SnapshotRow, error) {
	qb := r.builder.
		Select(snapshotColumns...).
		PrefixExpr(sq.Expr(replayCTE, cutoff, cutoff)).
		From("net n").
		Join("products p ON p.id = n.product_id").
		LeftJoin("variants v ON v.id = NULLIF(n.variant_id, 0)").
		LeftJoin("categories c ON c.id = p.category_id").
		Join("locations l ON l.id = n.location_id").
		Join("warehouses w ON w.id = l.warehouse_id").
		OrderBy("p.sku", "variant_sku", "l.code")

	qb = applySnapshotFilter(qb, filter)

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build snapshot query: %w", err)
	}
	var rows []SnapshotRow
	if err := pgxscan.Select(ctx, r.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("replay balances: %w", err)
	}
	return rows, nil
}

func (r *ReplayRepo) CurrentBalances(ctx context.Context) ([]SnapshotRow, error) {
	qb := r.builder.
		Select(
			"b.product_id",
			"b.variant_id",
			"b.location_id",
			"b.qty",
			"p.sku",
			"p.name AS product_name",
			"COALESCE(v.sku, '') AS variant_sku",
			"COALESCE(c.name, '') AS category_name",
			"w.name AS warehouse_name",
			"l.code AS location_code",
			"COALESCE(NULLIF(v.unit_cost, 0), p.unit_cost) AS unit_cost",
			"b.avg_cost",
		).
		From("stock_balances b").
		Join("products p ON p.id = b.product_id").
		LeftJoin("variants v ON v.id = NULLIF(b.variant_id, 0)").
		LeftJoin("categories c ON c.id = p.category_id").
		Join("locations l ON l.id = b.location_id").
		Join("warehouses w ON w.id = l.warehouse_id").
		Where("b.qty <> 0").
		OrderBy("p.sku", "variant_sku", "l.code")

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build balances query: %w", err)
	}
	var rows []SnapshotRow
	if err := pgxscan.Select(ctx, r.pool, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("current balances: %w", err)
	}
	return rows, nil
}

func applySnapshotFilter(qb sq.SelectBuilder, filter SnapshotFilter) sq.SelectBuilder {
	if filter.WarehouseID > 0 {
		qb = qb.Where(sq.Eq{"w.id": filter.WarehouseID})
	}
	if filter.CategoryID > 0 {
		qb = qb.Where(sq.Eq{"p.category_id": filter.CategoryID})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		qb = qb.Where(sq.Or{
			sq.ILike{"p.sku": pattern},
			sq.ILike{"p.name": pattern},
			sq.ILike{"v.sku": pattern},
		})
	}
	return qb
}

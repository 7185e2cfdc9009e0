package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian-ims/internal/platform/db"
	"github.com/meridian-ims/meridian-ims/internal/sequence"
)

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	gen  *sequence.Generator
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, gen *sequence.Generator) *Repository {
	return &Repository{pool: pool, gen: gen}
}

// TxRepository exposes the transactional operations the posting engine and
// the variant merge need.
type TxRepository interface {
	NextNumber(ctx context.Context, docType string) (string, error)
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	InsertMovementLines(ctx context.Context, movementID int64, lines []MovementLine) error
	GetMovementForUpdate(ctx context.Context, id int64) (Movement, []MovementLine, error)
	SetMovementStatus(ctx context.Context, id int64, status MovementStatus, postedAt time.Time) error
	ApplyBalanceDelta(ctx context.Context, key BalanceKey, delta float64, unitCost decimal.Decimal) (StockBalance, error)
	EnsureLineRefs(ctx context.Context, line MovementLine) error
	GetVariantForMerge(ctx context.Context, id int64) (VariantRef, error)
	ReassignMovementLines(ctx context.Context, sourceVariantID, targetVariantID int64, tag string) (int64, error)
	ListVariantBalances(ctx context.Context, variantID int64) ([]StockBalance, error)
	FoldBalanceInto(ctx context.Context, balance StockBalance, targetVariantID int64) error
	RetireVariant(ctx context.Context, variantID int64) error
}

type txRepository struct {
	tx  pgx.Tx
	gen *sequence.Generator
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, gen: r.gen})
	})
}

// Bind wraps an externally owned transaction. Document workflows use it so
// their status writes share one transaction with ledger posting.
func (r *Repository) Bind(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx, gen: r.gen}
}

// GetMovement loads one movement with its lines.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, []MovementLine, error) {
	return loadMovement(ctx, r.pool, id, false)
}

// StockCard lists ledger entries touching one balance key, oldest first, with
// a running balance over the listed range. VariantID 0 matches only
// base-product lines, mirroring the balance key.
func (r *Repository) StockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT m.number, m.type, m.posted_at,
  CASE WHEN ml.to_location_id = $3 THEN ml.qty ELSE 0 END AS qty_in,
  CASE WHEN ml.from_location_id = $3 THEN ml.qty ELSE 0 END AS qty_out,
  SUM(CASE WHEN ml.to_location_id = $3 THEN ml.qty ELSE -ml.qty END)
    OVER (ORDER BY m.posted_at ASC, ml.id ASC) AS balance_qty,
  ml.unit_cost, m.note
FROM movement_lines ml
JOIN movements m ON m.id = ml.movement_id
WHERE m.status = 'POSTED'
  AND ml.product_id = $1
  AND ml.variant_id = $2
  AND (ml.from_location_id = $3 OR ml.to_location_id = $3)
  AND m.posted_at >= COALESCE(NULLIF($4::timestamptz, 'epoch'), '-infinity')
  AND m.posted_at <= COALESCE(NULLIF($5::timestamptz, 'epoch'), 'infinity')
ORDER BY m.posted_at ASC, ml.id ASC
LIMIT $6`, filter.ProductID, filter.VariantID, filter.LocationID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []StockCardEntry{}
	for rows.Next() {
		var entry StockCardEntry
		if err := rows.Scan(&entry.Number, &entry.Type, &entry.PostedAt, &entry.QtyIn, &entry.QtyOut, &entry.BalanceQty, &entry.UnitCost, &entry.Note); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *txRepository) NextNumber(ctx context.Context, docType string) (string, error) {
	return r.gen.Next(ctx, r.tx, sequence.DocType(docType), time.Now().UTC())
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO movements (number, type, status, note, ref_module, ref_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid, $7, $8) RETURNING id`,
		mv.Number, string(mv.Type), string(mv.Status), mv.Note, mv.RefModule, mv.RefID, mv.CreatedBy, mv.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertMovementLines(ctx context.Context, movementID int64, lines []MovementLine) error {
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO movement_lines (movement_id, product_id, variant_id, from_location_id, to_location_id, qty, unit_cost, lot_id, order_ref, rewrite_tag)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '')`,
			movementID, line.ProductID, line.VariantID, line.FromLocationID, line.ToLocationID, line.Qty, line.UnitCost, line.LotID, line.OrderRef)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetMovementForUpdate(ctx context.Context, id int64) (Movement, []MovementLine, error) {
	return loadMovement(ctx, r.tx, id, true)
}

func (r *txRepository) SetMovementStatus(ctx context.Context, id int64, status MovementStatus, postedAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE movements SET status = $2, posted_at = NULLIF($3::timestamptz, 'epoch') WHERE id = $1`,
		id, string(status), nullTime(postedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyBalanceDelta is the single atomic read-modify-write per balance key.
// The upsert increments in place, so concurrent postings to the same key
// serialize on the row and unrelated keys never contend.
func (r *txRepository) ApplyBalanceDelta(ctx context.Context, key BalanceKey, delta float64, unitCost decimal.Decimal) (StockBalance, error) {
	balance := StockBalance{BalanceKey: key}
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_balances (product_id, variant_id, location_id, qty, avg_cost, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (product_id, variant_id, location_id) DO UPDATE SET
  avg_cost = CASE
    WHEN EXCLUDED.qty > 0 AND stock_balances.qty + EXCLUDED.qty <> 0
      THEN (stock_balances.qty * stock_balances.avg_cost + EXCLUDED.qty * EXCLUDED.avg_cost)
           / (stock_balances.qty + EXCLUDED.qty)
    ELSE stock_balances.avg_cost
  END,
  qty = stock_balances.qty + EXCLUDED.qty,
  updated_at = NOW()
RETURNING qty, avg_cost, updated_at`,
		key.ProductID, key.VariantID, key.LocationID, delta, unitCost).
		Scan(&balance.Qty, &balance.AvgCost, &balance.UpdatedAt)
	if err != nil {
		return StockBalance{}, err
	}
	return balance, nil
}

func (r *txRepository) EnsureLineRefs(ctx context.Context, line MovementLine) error {
	var productOK, variantOK, fromOK, toOK, lotOK bool
	err := r.tx.QueryRow(ctx, `SELECT
  EXISTS(SELECT 1 FROM products WHERE id = $1),
  $2::bigint = 0 OR EXISTS(SELECT 1 FROM variants WHERE id = $2 AND product_id = $1),
  $3::bigint = 0 OR EXISTS(SELECT 1 FROM locations WHERE id = $3),
  $4::bigint = 0 OR EXISTS(SELECT 1 FROM locations WHERE id = $4),
  $5::bigint = 0 OR EXISTS(SELECT 1 FROM lots WHERE id = $5)`,
		line.ProductID, line.VariantID, line.FromLocationID, line.ToLocationID, line.LotID).
		Scan(&productOK, &variantOK, &fromOK, &toOK, &lotOK)
	if err != nil {
		return err
	}
	switch {
	case !productOK:
		return fmt.Errorf("%w: product %d", ErrUnknownRef, line.ProductID)
	case !variantOK:
		return fmt.Errorf("%w: variant %d for product %d", ErrUnknownRef, line.VariantID, line.ProductID)
	case !fromOK:
		return fmt.Errorf("%w: location %d", ErrUnknownRef, line.FromLocationID)
	case !toOK:
		return fmt.Errorf("%w: location %d", ErrUnknownRef, line.ToLocationID)
	case !lotOK:
		return fmt.Errorf("%w: lot %d", ErrUnknownRef, line.LotID)
	}
	return nil
}

func (r *txRepository) GetVariantForMerge(ctx context.Context, id int64) (VariantRef, error) {
	var ref VariantRef
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, is_active FROM variants WHERE id = $1 FOR UPDATE`, id).
		Scan(&ref.ID, &ref.ProductID, &ref.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VariantRef{}, ErrNotFound
		}
		return VariantRef{}, err
	}
	return ref, nil
}

func (r *txRepository) ReassignMovementLines(ctx context.Context, sourceVariantID, targetVariantID int64, tag string) (int64, error) {
	result, err := r.tx.Exec(ctx, `UPDATE movement_lines SET variant_id = $2, rewrite_tag = $3 WHERE variant_id = $1`,
		sourceVariantID, targetVariantID, tag)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (r *txRepository) ListVariantBalances(ctx context.Context, variantID int64) ([]StockBalance, error) {
	rows, err := r.tx.Query(ctx, `SELECT product_id, variant_id, location_id, qty, avg_cost, updated_at
FROM stock_balances WHERE variant_id = $1 FOR UPDATE`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var balances []StockBalance
	for rows.Next() {
		var b StockBalance
		if err := rows.Scan(&b.ProductID, &b.VariantID, &b.LocationID, &b.Qty, &b.AvgCost, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// FoldBalanceInto adds a source balance into the target variant's row at the
// same location, creating the row when the target holds nothing there, then
// removes the source row. Never produces a duplicate key.
func (r *txRepository) FoldBalanceInto(ctx context.Context, balance StockBalance, targetVariantID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (product_id, variant_id, location_id, qty, avg_cost, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (product_id, variant_id, location_id) DO UPDATE SET
  qty = stock_balances.qty + EXCLUDED.qty,
  updated_at = NOW()`,
		balance.ProductID, targetVariantID, balance.LocationID, balance.Qty, balance.AvgCost)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `DELETE FROM stock_balances WHERE product_id = $1 AND variant_id = $2 AND location_id = $3`,
		balance.ProductID, balance.VariantID, balance.LocationID)
	return err
}

func (r *txRepository) RetireVariant(ctx context.Context, variantID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE variants SET is_active = false, updated_at = NOW() WHERE id = $1`, variantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadMovement(ctx context.Context, q rowQuerier, id int64, forUpdate bool) (Movement, []MovementLine, error) {
	query := `SELECT id, number, type, status, note, ref_module, COALESCE(ref_id::text, ''), COALESCE(posted_at, 'epoch'), created_by, created_at
FROM movements WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var mv Movement
	err := q.QueryRow(ctx, query, id).
		Scan(&mv.ID, &mv.Number, &mv.Type, &mv.Status, &mv.Note, &mv.RefModule, &mv.RefID, &mv.PostedAt, &mv.CreatedBy, &mv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, nil, ErrNotFound
		}
		return Movement{}, nil, err
	}
	if mv.PostedAt.Unix() == 0 {
		mv.PostedAt = time.Time{}
	}
	rows, err := q.Query(ctx, `SELECT id, movement_id, product_id, variant_id, from_location_id, to_location_id, qty, unit_cost, lot_id, order_ref, rewrite_tag
FROM movement_lines WHERE movement_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return Movement{}, nil, err
	}
	defer rows.Close()
	var lines []MovementLine
	for rows.Next() {
		var line MovementLine
		if err := rows.Scan(&line.ID, &line.MovementID, &line.ProductID, &line.VariantID, &line.FromLocationID, &line.ToLocationID,
			&line.Qty, &line.UnitCost, &line.LotID, &line.OrderRef, &line.RewriteTag); err != nil {
			return Movement{}, nil, err
		}
		lines = append(lines, line)
	}
	return mv, lines, rows.Err()
}

func nullTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}

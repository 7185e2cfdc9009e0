package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-ims/meridian-ims/internal/inventory"
	"github.com/meridian-ims/meridian-ims/internal/platform/db"
	"github.com/meridian-ims/meridian-ims/internal/sequence"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Repository persists procurement documents in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	gen     *sequence.Generator
	inv     *inventory.Repository
	builder sq.StatementBuilderType
}

// NewRepository constructs Repository. The inventory repository is needed to
// bind ledger posting onto procurement transactions.
func NewRepository(pool *pgxpool.Pool, gen *sequence.Generator, inv *inventory.Repository) *Repository {
	return &Repository{
		pool:    pool,
		gen:     gen,
		inv:     inv,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// TxRepository exposes the transactional operations of the document
// workflows. InventoryTx hands the same transaction to the posting engine.
type TxRepository interface {
	NextNumber(ctx context.Context, docType string) (string, error)
	InsertPR(ctx context.Context, pr PurchaseRequest) (int64, error)
	UpdatePRHeader(ctx context.Context, pr PurchaseRequest) error
	ReplacePRLines(ctx context.Context, prID int64, lines []PRLine) error
	SetPRStatus(ctx context.Context, prID int64, status PRStatus) error
	GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequest, []PRLine, error)
	InsertPO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLines(ctx context.Context, poID int64, lines []POLine) error
	SetPOStatus(ctx context.Context, poID int64, status POStatus) error
	GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	AddPOLineReceived(ctx context.Context, poLineID int64, qty float64) error
	InsertGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertGRNLines(ctx context.Context, grnID int64, lines []GRNLine) error
	SetGRNStatus(ctx context.Context, grnID int64, status GRNStatus, postedBy int64) error
	GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error)
	InventoryTx() inventory.TxRepository
}

type txRepository struct {
	tx  pgx.Tx
	gen *sequence.Generator
	inv *inventory.Repository
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, gen: r.gen, inv: r.inv})
	})
}

func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequest, []PRLine, error) {
	return loadPR(ctx, r.pool, id, false)
}

func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return loadPO(ctx, r.pool, id, false)
}

func (r *Repository) GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	return loadGRN(ctx, r.pool, id, false)
}

// ApproverIDs resolves active users holding an approving role.
func (r *Repository) ApproverIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE role IN ($1, $2) AND is_active`,
		shared.RoleAdmin, shared.RolePurchasing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type prRow struct {
	ID          int64     `db:"id"`
	Number      string    `db:"number"`
	SupplierID  int64     `db:"supplier_id"`
	RequestedBy int64     `db:"requested_by"`
	Status      string    `db:"status"`
	Note        string    `db:"note"`
	NeededBy    time.Time `db:"needed_by"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *Repository) ListPRs(ctx context.Context, filter ListFilter) ([]PurchaseRequest, int, error) {
	base := r.builder.Select().From("purchase_requests pr")
	if filter.Status != "" {
		base = base.Where(sq.Eq{"pr.status": filter.Status})
	}
	if filter.Search != "" {
		base = base.Where(sq.ILike{"pr.number": "%" + filter.Search + "%"})
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, 0)

	countQuery, countArgs, err := base.Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count purchase requests: %w", err)
	}

	query, args, err := base.
		Columns("pr.id", "pr.number", "pr.supplier_id", "pr.requested_by", "pr.status", "pr.note", "pr.needed_by", "pr.created_at", "pr.updated_at").
		OrderBy("pr.id DESC").
		Limit(uint64(pagination.PerPage)).
		Offset(uint64(pagination.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	var rows []prRow
	if err := pgxscan.Select(ctx, r.pool, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list purchase requests: %w", err)
	}
	out := make([]PurchaseRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, prFromRow(row))
	}
	return out, total, nil
}

type poRow struct {
	ID           int64     `db:"id"`
	Number       string    `db:"number"`
	PRID         int64     `db:"pr_id"`
	SupplierID   int64     `db:"supplier_id"`
	Status       string    `db:"status"`
	Currency     string    `db:"currency"`
	ExpectedDate time.Time `db:"expected_date"`
	Note         string    `db:"note"`
	CreatedBy    int64     `db:"created_by"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *Repository) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	base := r.builder.Select().From("purchase_orders po")
	if filter.Status != "" {
		base = base.Where(sq.Eq{"po.status": filter.Status})
	}
	if filter.Search != "" {
		base = base.Where(sq.ILike{"po.number": "%" + filter.Search + "%"})
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, 0)

	countQuery, countArgs, err := base.Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count purchase orders: %w", err)
	}

	query, args, err := base.
		Columns("po.id", "po.number", "po.pr_id", "po.supplier_id", "po.status", "po.currency", "po.expected_date", "po.note", "po.created_by", "po.created_at").
		OrderBy("po.id DESC").
		Limit(uint64(pagination.PerPage)).
		Offset(uint64(pagination.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	var rows []poRow
	if err := pgxscan.Select(ctx, r.pool, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list purchase orders: %w", err)
	}
	out := make([]PurchaseOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, poFromRow(row))
	}
	return out, total, nil
}

type grnRow struct {
	ID          int64     `db:"id"`
	Number      string    `db:"number"`
	POID        int64     `db:"po_id"`
	SupplierID  int64     `db:"supplier_id"`
	WarehouseID int64     `db:"warehouse_id"`
	Status      string    `db:"status"`
	ReceivedAt  time.Time `db:"received_at"`
	Note        string    `db:"note"`
	PostedBy    int64     `db:"posted_by"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *Repository) ListGRNs(ctx context.Context, filter ListFilter) ([]GoodsReceipt, int, error) {
	base := r.builder.Select().From("goods_receipts g")
	if filter.Status != "" {
		base = base.Where(sq.Eq{"g.status": filter.Status})
	}
	if filter.Search != "" {
		base = base.Where(sq.ILike{"g.number": "%" + filter.Search + "%"})
	}
	pagination := shared.NewPagination(filter.Page, filter.PerPage, 0)

	countQuery, countArgs, err := base.Columns("COUNT(*)").ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count goods receipts: %w", err)
	}

	query, args, err := base.
		Columns("g.id", "g.number", "g.po_id", "g.supplier_id", "g.warehouse_id", "g.status", "g.received_at", "g.note", "g.posted_by", "g.created_at").
		OrderBy("g.id DESC").
		Limit(uint64(pagination.PerPage)).
		Offset(uint64(pagination.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, err
	}
	var rows []grnRow
	if err := pgxscan.Select(ctx, r.pool, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list goods receipts: %w", err)
	}
	out := make([]GoodsReceipt, 0, len(rows))
	for _, row := range rows {
		out = append(out, grnFromRow(row))
	}
	return out, total, nil
}

func (r *txRepository) NextNumber(ctx context.Context, docType string) (string, error) {
	return r.gen.Next(ctx, r.tx, sequence.DocType(docType), time.Now().UTC())
}

func (r *txRepository) InventoryTx() inventory.TxRepository {
	return r.inv.Bind(r.tx)
}

func (r *txRepository) InsertPR(ctx context.Context, pr PurchaseRequest) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_requests (number, supplier_id, requested_by, status, note, needed_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		pr.Number, pr.SupplierID, pr.RequestedBy, string(pr.Status), pr.Note, nullTime(pr.NeededBy), pr.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase request: %w", err)
	}
	return id, nil
}

func (r *txRepository) UpdatePRHeader(ctx context.Context, pr PurchaseRequest) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_requests SET supplier_id = $2, note = $3, needed_by = $4, updated_at = $5 WHERE id = $1`,
		pr.ID, pr.SupplierID, pr.Note, nullTime(pr.NeededBy), pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update purchase request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) ReplacePRLines(ctx context.Context, prID int64, lines []PRLine) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM pr_lines WHERE pr_id = $1`, prID); err != nil {
		return fmt.Errorf("clear pr lines: %w", err)
	}
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO pr_lines (pr_id, product_id, variant_id, qty, note)
VALUES ($1, $2, NULLIF($3, 0), $4, $5)`, prID, line.ProductID, line.VariantID, line.Qty, line.Note)
		if err != nil {
			return fmt.Errorf("insert pr line: %w", err)
		}
	}
	return nil
}

func (r *txRepository) SetPRStatus(ctx context.Context, prID int64, status PRStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_requests SET status = $2, updated_at = NOW() WHERE id = $1`, prID, string(status))
	if err != nil {
		return fmt.Errorf("set pr status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) GetPRForUpdate(ctx context.Context, id int64) (PurchaseRequest, []PRLine, error) {
	return loadPR(ctx, r.tx, id, true)
}

func (r *txRepository) InsertPO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, pr_id, supplier_id, status, currency, expected_date, note, created_by, created_at)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		po.Number, po.PRID, po.SupplierID, string(po.Status), po.Currency, nullTime(po.ExpectedDate), po.Note, po.CreatedBy, po.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase order: %w", err)
	}
	return id, nil
}

func (r *txRepository) InsertPOLines(ctx context.Context, poID int64, lines []POLine) error {
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO po_lines (po_id, product_id, variant_id, qty, received_qty, price, note)
VALUES ($1, $2, NULLIF($3, 0), $4, 0, $5, $6)`, poID, line.ProductID, line.VariantID, line.Qty, line.Price, line.Note)
		if err != nil {
			return fmt.Errorf("insert po line: %w", err)
		}
	}
	return nil
}

func (r *txRepository) SetPOStatus(ctx context.Context, poID int64, status POStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2 WHERE id = $1`, poID, string(status))
	if err != nil {
		return fmt.Errorf("set po status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return loadPO(ctx, r.tx, id, true)
}

func (r *txRepository) AddPOLineReceived(ctx context.Context, poLineID int64, qty float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE po_lines SET received_qty = received_qty + $2 WHERE id = $1`, poLineID, qty)
	if err != nil {
		return fmt.Errorf("add po line received: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO goods_receipts (number, po_id, supplier_id, warehouse_id, status, received_at, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		grn.Number, grn.POID, grn.SupplierID, grn.WarehouseID, string(grn.Status), grn.ReceivedAt, grn.Note, grn.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert goods receipt: %w", err)
	}
	return id, nil
}

func (r *txRepository) InsertGRNLines(ctx context.Context, grnID int64, lines []GRNLine) error {
	for _, line := range lines {
		_, err := r.tx.Exec(ctx, `INSERT INTO grn_lines (grn_id, po_line_id, product_id, variant_id, location_id, qty, unit_cost, lot_id)
VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, NULLIF($8, 0))`,
			grnID, line.POLineID, line.ProductID, line.VariantID, line.LocationID, line.Qty, line.UnitCost, line.LotID)
		if err != nil {
			return fmt.Errorf("insert grn line: %w", err)
		}
	}
	return nil
}

func (r *txRepository) SetGRNStatus(ctx context.Context, grnID int64, status GRNStatus, postedBy int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE goods_receipts SET status = $2, posted_by = NULLIF($3, 0) WHERE id = $1`,
		grnID, string(status), postedBy)
	if err != nil {
		return fmt.Errorf("set grn status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	return loadGRN(ctx, r.tx, id, true)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadPR(ctx context.Context, q rowQuerier, id int64, forUpdate bool) (PurchaseRequest, []PRLine, error) {
	query := `SELECT id, number, supplier_id, requested_by, status, COALESCE(note, ''), COALESCE(needed_by, 'epoch'::timestamptz), created_at, updated_at
FROM purchase_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row prRow
	err := q.QueryRow(ctx, query, id).Scan(&row.ID, &row.Number, &row.SupplierID, &row.RequestedBy, &row.Status, &row.Note, &row.NeededBy, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequest{}, nil, ErrNotFound
		}
		return PurchaseRequest{}, nil, fmt.Errorf("load purchase request: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT id, pr_id, product_id, COALESCE(variant_id, 0), qty, COALESCE(note, '')
FROM pr_lines WHERE pr_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseRequest{}, nil, fmt.Errorf("load pr lines: %w", err)
	}
	defer rows.Close()
	var lines []PRLine
	for rows.Next() {
		var line PRLine
		if err := rows.Scan(&line.ID, &line.PRID, &line.ProductID, &line.VariantID, &line.Qty, &line.Note); err != nil {
			return PurchaseRequest{}, nil, err
		}
		lines = append(lines, line)
	}
	return prFromRow(row), lines, rows.Err()
}

func loadPO(ctx context.Context, q rowQuerier, id int64, forUpdate bool) (PurchaseOrder, []POLine, error) {
	query := `SELECT id, number, COALESCE(pr_id, 0), supplier_id, status, currency, COALESCE(expected_date, 'epoch'::timestamptz), COALESCE(note, ''), created_by, created_at
FROM purchase_orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row poRow
	err := q.QueryRow(ctx, query, id).Scan(&row.ID, &row.Number, &row.PRID, &row.SupplierID, &row.Status, &row.Currency, &row.ExpectedDate, &row.Note, &row.CreatedBy, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, fmt.Errorf("load purchase order: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT id, po_id, product_id, COALESCE(variant_id, 0), qty, received_qty, price, COALESCE(note, '')
FROM po_lines WHERE po_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, fmt.Errorf("load po lines: %w", err)
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		var price decimal.Decimal
		if err := rows.Scan(&line.ID, &line.POID, &line.ProductID, &line.VariantID, &line.Qty, &line.ReceivedQty, &price, &line.Note); err != nil {
			return PurchaseOrder{}, nil, err
		}
		line.Price = price
		lines = append(lines, line)
	}
	return poFromRow(row), lines, rows.Err()
}

func loadGRN(ctx context.Context, q rowQuerier, id int64, forUpdate bool) (GoodsReceipt, []GRNLine, error) {
	query := `SELECT id, number, po_id, supplier_id, warehouse_id, status, received_at, COALESCE(note, ''), COALESCE(posted_by, 0), created_at
FROM goods_receipts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row grnRow
	err := q.QueryRow(ctx, query, id).Scan(&row.ID, &row.Number, &row.POID, &row.SupplierID, &row.WarehouseID, &row.Status, &row.ReceivedAt, &row.Note, &row.PostedBy, &row.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceipt{}, nil, ErrNotFound
		}
		return GoodsReceipt{}, nil, fmt.Errorf("load goods receipt: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT id, grn_id, po_line_id, product_id, COALESCE(variant_id, 0), location_id, qty, unit_cost, COALESCE(lot_id, 0)
FROM grn_lines WHERE grn_id = $1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceipt{}, nil, fmt.Errorf("load grn lines: %w", err)
	}
	defer rows.Close()
	var lines []GRNLine
	for rows.Next() {
		var line GRNLine
		if err := rows.Scan(&line.ID, &line.GRNID, &line.POLineID, &line.ProductID, &line.VariantID, &line.LocationID, &line.Qty, &line.UnitCost, &line.LotID); err != nil {
			return GoodsReceipt{}, nil, err
		}
		lines = append(lines, line)
	}
	return grnFromRow(row), lines, rows.Err()
}

func prFromRow(row prRow) PurchaseRequest {
	return PurchaseRequest{
		ID: row.ID, Number: row.Number, SupplierID: row.SupplierID, RequestedBy: row.RequestedBy,
		Status: PRStatus(row.Status), Note: row.Note, NeededBy: row.NeededBy,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
}

func poFromRow(row poRow) PurchaseOrder {
	return PurchaseOrder{
		ID: row.ID, Number: row.Number, PRID: row.PRID, SupplierID: row.SupplierID,
		Status: POStatus(row.Status), Currency: row.Currency, ExpectedDate: row.ExpectedDate,
		Note: row.Note, CreatedBy: row.CreatedBy, CreatedAt: row.CreatedAt,
	}
}

func grnFromRow(row grnRow) GoodsReceipt {
	return GoodsReceipt{
		ID: row.ID, Number: row.Number, POID: row.POID, SupplierID: row.SupplierID,
		WarehouseID: row.WarehouseID, Status: GRNStatus(row.Status), ReceivedAt: row.ReceivedAt,
		Note: row.Note, PostedBy: row.PostedBy, CreatedAt: row.CreatedAt,
	}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

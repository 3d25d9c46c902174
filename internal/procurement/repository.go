package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
)

// TxRepository exposes purchase persistence inside one transaction. Inventory
// binds the lot-store operations to the same transaction so the approval
// commits its intake and status change together.
type TxRepository interface {
	PurchaseForUpdate(ctx context.Context, purchaseID int64) (Purchase, error)
	LinesByPurchase(ctx context.Context, purchaseID int64) ([]PurchaseLine, error)
	MarkPurchaseApproved(ctx context.Context, purchaseID int64, at time.Time) error
	Inventory() inventory.TxRepository
}

// Repository persists the procurement chain in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *txRepository) Inventory() inventory.TxRepository {
	return inventory.NewTxRepository(r.tx)
}

// CreateQuotation inserts a quotation with its lines and stamps the document number.
func (r *Repository) CreateQuotation(ctx context.Context, q Quotation, lines []QuotationLine, numberFor func(id int64) string) (Quotation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Quotation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO quotations (supplier_id, approved, created_at)
VALUES ($1,false,NOW()) RETURNING id, created_at`, q.SupplierID).Scan(&q.ID, &q.CreatedAt)
	if err != nil {
		return Quotation{}, err
	}
	q.DocumentNumber = numberFor(q.ID)
	if _, err := tx.Exec(ctx, `UPDATE quotations SET document_number=$2 WHERE id=$1`, q.ID, q.DocumentNumber); err != nil {
		return Quotation{}, err
	}
	for _, line := range lines {
		if _, err := tx.Exec(ctx, `INSERT INTO quotation_lines (quotation_id, product_id, qty, unit_price)
VALUES ($1,$2,$3,$4)`, q.ID, line.ProductID, line.Qty, line.UnitPrice); err != nil {
			return Quotation{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Quotation{}, err
	}
	return q, nil
}

// Quotation returns one quotation by id.
func (r *Repository) Quotation(ctx context.Context, quotationID int64) (Quotation, error) {
	var q Quotation
	err := r.pool.QueryRow(ctx, `SELECT id, document_number, supplier_id, approved, created_at
FROM quotations WHERE id=$1`, quotationID).Scan(&q.ID, &q.DocumentNumber, &q.SupplierID, &q.Approved, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quotation{}, ErrQuotationNotFound
	}
	return q, err
}

// ApproveQuotation flips the quotation's approval flag.
func (r *Repository) ApproveQuotation(ctx context.Context, quotationID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE quotations SET approved=true WHERE id=$1`, quotationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotationNotFound
	}
	return nil
}

// CreateBuyOrder inserts a buy order against a quotation.
func (r *Repository) CreateBuyOrder(ctx context.Context, order BuyOrder, numberFor func(id int64) string) (BuyOrder, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return BuyOrder{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO buy_orders (quotation_id, approved, created_at)
VALUES ($1,false,NOW()) RETURNING id, created_at`, order.QuotationID).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return BuyOrder{}, err
	}
	order.DocumentNumber = numberFor(order.ID)
	if _, err := tx.Exec(ctx, `UPDATE buy_orders SET document_number=$2 WHERE id=$1`, order.ID, order.DocumentNumber); err != nil {
		return BuyOrder{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return BuyOrder{}, err
	}
	return order, nil
}

// BuyOrder returns one buy order by id.
func (r *Repository) BuyOrder(ctx context.Context, orderID int64) (BuyOrder, error) {
	var o BuyOrder
	err := r.pool.QueryRow(ctx, `SELECT id, document_number, quotation_id, approved, created_at
FROM buy_orders WHERE id=$1`, orderID).Scan(&o.ID, &o.DocumentNumber, &o.QuotationID, &o.Approved, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BuyOrder{}, ErrBuyOrderNotFound
	}
	return o, err
}

// ApproveBuyOrder flips the buy order's approval flag.
func (r *Repository) ApproveBuyOrder(ctx context.Context, orderID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE buy_orders SET approved=true WHERE id=$1`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBuyOrderNotFound
	}
	return nil
}

// CreatePurchase inserts a pending purchase with its lines.
func (r *Repository) CreatePurchase(ctx context.Context, p Purchase, lines []PurchaseLine, numberFor func(id int64) string) (Purchase, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Purchase{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO purchases (buy_order_id, branch_id, batch, status, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id, created_at`,
		p.BuyOrderID, p.BranchID, p.Batch, StatusPending).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Purchase{}, err
	}
	p.DocumentNumber = numberFor(p.ID)
	if _, err := tx.Exec(ctx, `UPDATE purchases SET document_number=$2 WHERE id=$1`, p.ID, p.DocumentNumber); err != nil {
		return Purchase{}, err
	}
	for _, line := range lines {
		if _, err := tx.Exec(ctx, `INSERT INTO purchase_lines (purchase_id, product_id, qty, verified_qty, unit_price)
VALUES ($1,$2,$3,0,$4)`, p.ID, line.ProductID, line.Qty, line.UnitPrice); err != nil {
			return Purchase{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Purchase{}, err
	}
	p.Status = StatusPending
	return p, nil
}

const purchaseColumns = `id, document_number, buy_order_id, branch_id, batch, status, created_at, COALESCE(approved_at, 'epoch')`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.DocumentNumber, &p.BuyOrderID, &p.BranchID, &p.Batch, &p.Status, &p.CreatedAt, &p.ApprovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrPurchaseNotFound
	}
	return p, err
}

// Purchase returns one purchase by id.
func (r *Repository) Purchase(ctx context.Context, purchaseID int64) (Purchase, error) {
	return scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, purchaseID))
}

// PurchaseLines returns the purchase's lines ordered by id.
func (r *Repository) PurchaseLines(ctx context.Context, purchaseID int64) ([]PurchaseLine, error) {
	return queryPurchaseLines(ctx, r.pool, purchaseID)
}

// PurchaseLine returns one line by id.
func (r *Repository) PurchaseLine(ctx context.Context, lineID int64) (PurchaseLine, error) {
	var l PurchaseLine
	err := r.pool.QueryRow(ctx, `SELECT id, purchase_id, product_id, qty, verified_qty, unit_price
FROM purchase_lines WHERE id=$1`, lineID).Scan(&l.ID, &l.PurchaseID, &l.ProductID, &l.Qty, &l.VerifiedQty, &l.UnitPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseLine{}, ErrLineNotFound
	}
	return l, err
}

// SetVerifiedQty records the counted quantity on a pending purchase line.
func (r *Repository) SetVerifiedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE purchase_lines SET verified_qty=$2 WHERE id=$1`, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (r *txRepository) PurchaseForUpdate(ctx context.Context, purchaseID int64) (Purchase, error) {
	return scanPurchase(r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, purchaseID))
}

func (r *txRepository) LinesByPurchase(ctx context.Context, purchaseID int64) ([]PurchaseLine, error) {
	return queryPurchaseLines(ctx, r.tx, purchaseID)
}

func (r *txRepository) MarkPurchaseApproved(ctx context.Context, purchaseID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchases SET status=$2, approved_at=$3 WHERE id=$1`,
		purchaseID, StatusApproved, at)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryPurchaseLines(ctx context.Context, q querier, purchaseID int64) ([]PurchaseLine, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_id, product_id, qty, verified_qty, unit_price
FROM purchase_lines WHERE purchase_id=$1 ORDER BY id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []PurchaseLine{}
	for rows.Next() {
		var l PurchaseLine
		if err := rows.Scan(&l.ID, &l.PurchaseID, &l.ProductID, &l.Qty, &l.VerifiedQty, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

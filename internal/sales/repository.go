package sales

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
)

// TxRepository exposes sale persistence inside one transaction. Inventory
// returns the lot-store operations bound to the same transaction so a
// completion commits its stock movement and document freeze together.
type TxRepository interface {
	SaleForUpdate(ctx context.Context, saleID int64) (Sale, error)
	LinesBySale(ctx context.Context, saleID int64) ([]SaleLine, error)
	SetLinePrice(ctx context.Context, lineID int64, price decimal.Decimal) error
	CompleteSale(ctx context.Context, saleID int64, subtotal, tax, total decimal.Decimal, at time.Time) error
	Inventory() inventory.TxRepository
}

// Repository persists sales in PostgreSQL.
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

const saleColumns = `id, document_number, branch_id, client_id, document_type, status, subtotal, tax, total, created_at, updated_at, COALESCE(completed_at, 'epoch')`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.DocumentNumber, &s.BranchID, &s.ClientID, &s.DocumentType, &s.Status,
		&s.Subtotal, &s.Tax, &s.Total, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	return s, err
}

// CreateSale inserts a draft and stamps its document number in one transaction.
func (r *Repository) CreateSale(ctx context.Context, sale Sale, numberFor func(id int64) string) (Sale, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Sale{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO sales (branch_id, client_id, document_type, status, subtotal, tax, total, created_at, updated_at)
VALUES ($1,$2,$3,$4,0,0,0,NOW(),NOW()) RETURNING id, created_at`,
		sale.BranchID, sale.ClientID, sale.DocumentType, StatusDraft).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return Sale{}, err
	}
	sale.DocumentNumber = numberFor(sale.ID)
	if _, err := tx.Exec(ctx, `UPDATE sales SET document_number=$2 WHERE id=$1`, sale.ID, sale.DocumentNumber); err != nil {
		return Sale{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Sale{}, err
	}
	sale.Status = StatusDraft
	return sale, nil
}

// Sale returns one sale by id.
func (r *Repository) Sale(ctx context.Context, saleID int64) (Sale, error) {
	return scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, saleID))
}

// Lines returns the sale's lines ordered by id.
func (r *Repository) Lines(ctx context.Context, saleID int64) ([]SaleLine, error) {
	return queryLines(ctx, r.pool, saleID)
}

// InsertLine appends a line to a draft.
func (r *Repository) InsertLine(ctx context.Context, line SaleLine) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, product_id, qty, unit_price, discount_pct)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		line.SaleID, line.ProductID, line.Qty, line.UnitPrice, line.DiscountPct).Scan(&id)
	return id, err
}

// UpdateLine replaces a line's quantity, price and discount.
func (r *Repository) UpdateLine(ctx context.Context, line SaleLine) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sale_lines SET qty=$2, unit_price=$3, discount_pct=$4 WHERE id=$1`,
		line.ID, line.Qty, line.UnitPrice, line.DiscountPct)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// DeleteLine removes a line from a draft.
func (r *Repository) DeleteLine(ctx context.Context, lineID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sale_lines WHERE id=$1`, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// Line returns one line by id.
func (r *Repository) Line(ctx context.Context, lineID int64) (SaleLine, error) {
	var l SaleLine
	err := r.pool.QueryRow(ctx, `SELECT id, sale_id, product_id, qty, unit_price, discount_pct FROM sale_lines WHERE id=$1`, lineID).
		Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Qty, &l.UnitPrice, &l.DiscountPct)
	if errors.Is(err, pgx.ErrNoRows) {
		return SaleLine{}, ErrLineNotFound
	}
	return l, err
}

// ClientByID returns the customer projection used for document-type checks.
func (r *Repository) ClientByID(ctx context.Context, clientID int64) (Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT id, name, tax_contributor FROM clients WHERE id=$1`, clientID).
		Scan(&c.ID, &c.Name, &c.TaxContributor)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrClientNotFound
	}
	return c, err
}

func (r *txRepository) SaleForUpdate(ctx context.Context, saleID int64) (Sale, error) {
	return scanSale(r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, saleID))
}

func (r *txRepository) LinesBySale(ctx context.Context, saleID int64) ([]SaleLine, error) {
	return queryLines(ctx, r.tx, saleID)
}

func (r *txRepository) SetLinePrice(ctx context.Context, lineID int64, price decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE sale_lines SET unit_price=$2 WHERE id=$1`, lineID, price)
	return err
}

func (r *txRepository) CompleteSale(ctx context.Context, saleID int64, subtotal, tax, total decimal.Decimal, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales SET status=$2, subtotal=$3, tax=$4, total=$5, completed_at=$6, updated_at=NOW() WHERE id=$1`,
		saleID, StatusCompleted, subtotal, tax, total, at)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, saleID int64) ([]SaleLine, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, qty, unit_price, discount_pct
FROM sale_lines WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []SaleLine{}
	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Qty, &l.UnitPrice, &l.DiscountPct); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

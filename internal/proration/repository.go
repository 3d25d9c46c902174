package proration

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxRepository exposes proration persistence inside one transaction so a run
// overwrites totals and item outputs atomically.
type TxRepository interface {
	ProrationForUpdate(ctx context.Context, prorationID int64) (Proration, error)
	ItemsByProration(ctx context.Context, prorationID int64) ([]Item, error)
	ExpensesByProration(ctx context.Context, prorationID int64) ([]ExpenseLine, error)
	SetTotals(ctx context.Context, prorationID int64, totalFOB, freight, dai, other decimal.Decimal) error
	SetItemOutputs(ctx context.Context, item Item) error
}

// Repository persists prorations in PostgreSQL.
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

const prorationColumns = `id, purchase_id, total_fob, total_freight, total_dai, total_other, created_at, updated_at`

func scanProration(row pgx.Row) (Proration, error) {
	var p Proration
	err := row.Scan(&p.ID, &p.PurchaseID, &p.TotalFOB, &p.TotalFreight, &p.TotalDAI, &p.TotalOther, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Proration{}, ErrProrationNotFound
	}
	return p, err
}

// CreateProration inserts a proration with its items.
func (r *Repository) CreateProration(ctx context.Context, p Proration, items []Item) (Proration, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Proration{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO prorations (purchase_id, total_fob, total_freight, total_dai, total_other, created_at, updated_at)
VALUES ($1,0,0,0,0,NOW(),NOW()) RETURNING id, created_at`, p.PurchaseID).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Proration{}, err
	}
	for _, item := range items {
		if _, err := tx.Exec(ctx, `INSERT INTO proration_items (proration_id, product_id, qty, fob_unit_value,
cost_percentage, allocated_freight, allocated_dai, allocated_other, prorated_unit_cost)
VALUES ($1,$2,$3,$4,0,0,0,0,0)`, p.ID, item.ProductID, item.Qty, item.FOBUnitValue); err != nil {
			return Proration{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Proration{}, err
	}
	return p, nil
}

// Proration returns one proration by id.
func (r *Repository) Proration(ctx context.Context, prorationID int64) (Proration, error) {
	return scanProration(r.pool.QueryRow(ctx, `SELECT `+prorationColumns+` FROM prorations WHERE id=$1`, prorationID))
}

// Items returns the proration's items ordered by id.
func (r *Repository) Items(ctx context.Context, prorationID int64) ([]Item, error) {
	return queryItems(ctx, r.pool, prorationID)
}

// Expenses returns the proration's expense lines ordered by id.
func (r *Repository) Expenses(ctx context.Context, prorationID int64) ([]ExpenseLine, error) {
	return queryExpenses(ctx, r.pool, prorationID)
}

// AddExpense appends an expense line.
func (r *Repository) AddExpense(ctx context.Context, line ExpenseLine) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO proration_expenses (proration_id, category, description, amount, includable)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		line.ProrationID, line.Category, line.Description, line.Amount, line.Includable).Scan(&id)
	return id, err
}

// UpdateExpense replaces an expense line's amount and includable flag.
func (r *Repository) UpdateExpense(ctx context.Context, lineID int64, amount decimal.Decimal, includable bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE proration_expenses SET amount=$2, includable=$3 WHERE id=$1`,
		lineID, amount, includable)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrExpenseNotFound
	}
	return nil
}

func (r *txRepository) ProrationForUpdate(ctx context.Context, prorationID int64) (Proration, error) {
	return scanProration(r.tx.QueryRow(ctx, `SELECT `+prorationColumns+` FROM prorations WHERE id=$1 FOR UPDATE`, prorationID))
}

func (r *txRepository) ItemsByProration(ctx context.Context, prorationID int64) ([]Item, error) {
	return queryItems(ctx, r.tx, prorationID)
}

func (r *txRepository) ExpensesByProration(ctx context.Context, prorationID int64) ([]ExpenseLine, error) {
	return queryExpenses(ctx, r.tx, prorationID)
}

func (r *txRepository) SetTotals(ctx context.Context, prorationID int64, totalFOB, freight, dai, other decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE prorations SET total_fob=$2, total_freight=$3, total_dai=$4, total_other=$5, updated_at=NOW() WHERE id=$1`,
		prorationID, totalFOB, freight, dai, other)
	return err
}

func (r *txRepository) SetItemOutputs(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE proration_items SET cost_percentage=$2, allocated_freight=$3,
allocated_dai=$4, allocated_other=$5, prorated_unit_cost=$6 WHERE id=$1`,
		item.ID, item.CostPercentage, item.AllocatedFreight, item.AllocatedDAI, item.AllocatedOther, item.ProratedUnitCost)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, prorationID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, proration_id, product_id, qty, fob_unit_value,
cost_percentage, allocated_freight, allocated_dai, allocated_other, prorated_unit_cost
FROM proration_items WHERE proration_id=$1 ORDER BY id`, prorationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ProrationID, &it.ProductID, &it.Qty, &it.FOBUnitValue,
			&it.CostPercentage, &it.AllocatedFreight, &it.AllocatedDAI, &it.AllocatedOther, &it.ProratedUnitCost); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func queryExpenses(ctx context.Context, q querier, prorationID int64) ([]ExpenseLine, error) {
	rows, err := q.Query(ctx, `SELECT id, proration_id, category, description, amount, includable
FROM proration_expenses WHERE proration_id=$1 ORDER BY id`, prorationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []ExpenseLine{}
	for rows.Next() {
		var l ExpenseLine
		if err := rows.Scan(&l.ID, &l.ProrationID, &l.Category, &l.Description, &l.Amount, &l.Includable); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

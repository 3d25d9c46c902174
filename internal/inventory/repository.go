package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxRepository exposes the lot-store and ledger operations available inside
// one transaction. Other modules bind it to their own transaction via
// NewTxRepository so a whole business transition commits atomically.
type TxRepository interface {
	AvailableLotsForUpdate(ctx context.Context, branchID, productID int64) ([]Lot, error)
	LotByBatchForUpdate(ctx context.Context, branchID, productID int64, batch uuid.UUID) (Lot, error)
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	SetLotQty(ctx context.Context, lotID int64, qty decimal.Decimal) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
}

// Repository persists lots and kardex entries in PostgreSQL.
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

// NewTxRepository binds the inventory operations to an existing transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
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

const lotColumns = `id, entry_number, branch_id, product_id, batch, original_qty, qty, cost, active, created_at, updated_at`

func scanLot(row pgx.Row) (Lot, error) {
	var lot Lot
	err := row.Scan(&lot.ID, &lot.EntryNumber, &lot.BranchID, &lot.ProductID, &lot.Batch,
		&lot.OriginalQty, &lot.Qty, &lot.Cost, &lot.Active, &lot.CreatedAt, &lot.UpdatedAt)
	return lot, err
}

// AvailableLots lists lots with remaining stock for branch/product, oldest first.
func (r *Repository) AvailableLots(ctx context.Context, branchID, productID int64) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM lots
WHERE branch_id=$1 AND product_id=$2 AND qty > 0 AND active
ORDER BY created_at ASC, id ASC`, branchID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLots(rows)
}

// OldestAvailableLot returns the oldest lot with stock, used for draft price suggestions.
func (r *Repository) OldestAvailableLot(ctx context.Context, branchID, productID int64) (Lot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots
WHERE branch_id=$1 AND product_id=$2 AND qty > 0 AND active
ORDER BY created_at ASC, id ASC
LIMIT 1`, branchID, productID)
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	return lot, err
}

// LedgerEntries lists kardex records matching the filter, oldest first.
func (r *Repository) LedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT k.id, k.transaction_id, k.document_number, k.movement_type_id, m.code,
k.lot_id, k.branch_id, k.product_id, k.batch, k.qty, k.cost, k.created_at
FROM kardex k
JOIN movement_types m ON m.id = k.movement_type_id
WHERE ($1 = 0 OR k.branch_id = $1)
  AND ($2 = 0 OR k.product_id = $2)
  AND ($3 = '' OR k.document_number = $3)
  AND k.created_at BETWEEN COALESCE($4, '-infinity') AND COALESCE($5, 'infinity')
ORDER BY k.created_at ASC, k.id ASC
LIMIT $6`, filter.BranchID, filter.ProductID, filter.DocumentNumber, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.DocumentNumber, &e.MovementTypeID, &e.MovementCode,
			&e.LotID, &e.BranchID, &e.ProductID, &e.Batch, &e.Qty, &e.Cost, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MovementTypes loads the active movement-type configuration.
func (r *Repository) MovementTypes(ctx context.Context) ([]MovementType, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, flow FROM movement_types WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var types []MovementType
	for rows.Next() {
		var mt MovementType
		if err := rows.Scan(&mt.ID, &mt.Code, &mt.Name, &mt.Flow); err != nil {
			return nil, err
		}
		types = append(types, mt)
	}
	return types, rows.Err()
}

func (r *txRepository) AvailableLotsForUpdate(ctx context.Context, branchID, productID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotColumns+` FROM lots
WHERE branch_id=$1 AND product_id=$2 AND qty > 0 AND active
ORDER BY created_at ASC, id ASC
FOR UPDATE`, branchID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLots(rows)
}

func (r *txRepository) LotByBatchForUpdate(ctx context.Context, branchID, productID int64, batch uuid.UUID) (Lot, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots
WHERE branch_id=$1 AND product_id=$2 AND batch=$3 AND active
FOR UPDATE`, branchID, productID, batch)
	lot, err := scanLot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotNotFound
	}
	return lot, err
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO lots (entry_number, branch_id, product_id, batch, original_qty, qty, cost, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		lot.EntryNumber, lot.BranchID, lot.ProductID, lot.Batch, lot.OriginalQty, lot.Qty, lot.Cost, lot.Active, lot.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) SetLotQty(ctx context.Context, lotID int64, qty decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE lots SET qty=$2, updated_at=NOW() WHERE id=$1`, lotID, qty)
	return err
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO kardex (transaction_id, document_number, movement_type_id, lot_id, branch_id, product_id, batch, qty, cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		entry.TransactionID, entry.DocumentNumber, entry.MovementTypeID, entry.LotID, entry.BranchID,
		entry.ProductID, entry.Batch, entry.Qty, entry.Cost, entry.CreatedAt).Scan(&id)
	return id, err
}

func collectLots(rows pgx.Rows) ([]Lot, error) {
	lots := []Lot{}
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

package transfers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
)

// TxRepository exposes transfer persistence inside one transaction. Inventory
// binds the lot-store operations to the same transaction so a dispatch moves
// stock and advances the document atomically.
type TxRepository interface {
	TransferForUpdate(ctx context.Context, transferID int64) (Transfer, error)
	LinesByTransfer(ctx context.Context, transferID int64) ([]TransferLine, error)
	VehicleBusy(ctx context.Context, vehicleID, excludeTransferID int64) (bool, error)
	MarkTransit(ctx context.Context, transferID int64, at time.Time) error
	MarkReceived(ctx context.Context, transferID int64, at time.Time) error
	SetLineReceivedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error
	Inventory() inventory.TxRepository
}

// Repository persists transfers in PostgreSQL.
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

const transferColumns = `id, document_number, source_branch_id, dest_branch_id, vehicle_id, status,
created_at, updated_at, COALESCE(dispatched_at, 'epoch'), COALESCE(received_at, 'epoch')`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.DocumentNumber, &t.SourceBranchID, &t.DestBranchID, &t.VehicleID, &t.Status,
		&t.CreatedAt, &t.UpdatedAt, &t.DispatchedAt, &t.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	return t, err
}

// CreateTransfer inserts a picking transfer and stamps its document number.
func (r *Repository) CreateTransfer(ctx context.Context, transfer Transfer, numberFor func(id int64) string) (Transfer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Transfer{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO transfers (source_branch_id, dest_branch_id, vehicle_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING id, created_at`,
		transfer.SourceBranchID, transfer.DestBranchID, transfer.VehicleID, StatusPicking).Scan(&transfer.ID, &transfer.CreatedAt)
	if err != nil {
		return Transfer{}, err
	}
	transfer.DocumentNumber = numberFor(transfer.ID)
	if _, err := tx.Exec(ctx, `UPDATE transfers SET document_number=$2 WHERE id=$1`, transfer.ID, transfer.DocumentNumber); err != nil {
		return Transfer{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transfer{}, err
	}
	transfer.Status = StatusPicking
	return transfer, nil
}

// Transfer returns one transfer by id.
func (r *Repository) Transfer(ctx context.Context, transferID int64) (Transfer, error) {
	return scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, transferID))
}

// Lines returns the transfer's lines ordered by id.
func (r *Repository) Lines(ctx context.Context, transferID int64) ([]TransferLine, error) {
	return queryLines(ctx, r.pool, transferID)
}

// Line returns one line by id.
func (r *Repository) Line(ctx context.Context, lineID int64) (TransferLine, error) {
	var l TransferLine
	err := r.pool.QueryRow(ctx, `SELECT id, transfer_id, product_id, sent_qty, received_qty FROM transfer_lines WHERE id=$1`, lineID).
		Scan(&l.ID, &l.TransferID, &l.ProductID, &l.SentQty, &l.ReceivedQty)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransferLine{}, ErrLineNotFound
	}
	return l, err
}

// InsertLine appends a line to a picking transfer.
func (r *Repository) InsertLine(ctx context.Context, line TransferLine) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO transfer_lines (transfer_id, product_id, sent_qty, received_qty)
VALUES ($1,$2,$3,0) RETURNING id`, line.TransferID, line.ProductID, line.SentQty).Scan(&id)
	return id, err
}

// UpdateLine replaces a line's product and quantity.
func (r *Repository) UpdateLine(ctx context.Context, line TransferLine) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transfer_lines SET product_id=$2, sent_qty=$3 WHERE id=$1`,
		line.ID, line.ProductID, line.SentQty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// DeleteLine removes a line from a picking transfer.
func (r *Repository) DeleteLine(ctx context.Context, lineID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transfer_lines WHERE id=$1`, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// VehicleBusy reports whether the vehicle is on another transfer that has not
// been received yet.
func (r *Repository) VehicleBusy(ctx context.Context, vehicleID, excludeTransferID int64) (bool, error) {
	return vehicleBusy(ctx, r.pool, vehicleID, excludeTransferID)
}

func (r *txRepository) TransferForUpdate(ctx context.Context, transferID int64) (Transfer, error) {
	return scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1 FOR UPDATE`, transferID))
}

func (r *txRepository) LinesByTransfer(ctx context.Context, transferID int64) ([]TransferLine, error) {
	return queryLines(ctx, r.tx, transferID)
}

func (r *txRepository) VehicleBusy(ctx context.Context, vehicleID, excludeTransferID int64) (bool, error) {
	return vehicleBusy(ctx, r.tx, vehicleID, excludeTransferID)
}

func (r *txRepository) MarkTransit(ctx context.Context, transferID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfers SET status=$2, dispatched_at=$3, updated_at=NOW() WHERE id=$1`,
		transferID, StatusTransit, at)
	return err
}

func (r *txRepository) MarkReceived(ctx context.Context, transferID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfers SET status=$2, received_at=$3, updated_at=NOW() WHERE id=$1`,
		transferID, StatusReceived, at)
	return err
}

func (r *txRepository) SetLineReceivedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE transfer_lines SET received_qty=$2 WHERE id=$1`, lineID, qty)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func queryLines(ctx context.Context, q querier, transferID int64) ([]TransferLine, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, sent_qty, received_qty
FROM transfer_lines WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []TransferLine{}
	for rows.Next() {
		var l TransferLine
		if err := rows.Scan(&l.ID, &l.TransferID, &l.ProductID, &l.SentQty, &l.ReceivedQty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func vehicleBusy(ctx context.Context, q querier, vehicleID, excludeTransferID int64) (bool, error) {
	var busy bool
	err := q.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM transfers WHERE vehicle_id=$1 AND status <> $2 AND id <> $3)`,
		vehicleID, StatusReceived, excludeTransferID).Scan(&busy)
	return busy, err
}

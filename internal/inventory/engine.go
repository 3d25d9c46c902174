package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine implements the lot-store mutations and FIFO consumption used by the
// sale, transfer and purchase processors. Every method operates on a
// TxRepository bound to the caller's transaction, so a processor's lot
// debits, credits and ledger records commit or roll back as one unit.
type Engine struct {
	movements *Registry
}

// NewEngine constructs an Engine over the given movement-type registry.
func NewEngine(movements *Registry) *Engine {
	return &Engine{movements: movements}
}

// Consume selects lots for branch/product oldest-first and returns the exact
// splits covering needed. The matching lot rows are locked before the
// availability check, so two concurrent consumers cannot both pass it. No
// mutation happens here; callers debit and ledger each split afterwards
// inside the same transaction.
func (e *Engine) Consume(ctx context.Context, tx TxRepository, branchID, productID int64, needed decimal.Decimal) ([]Consumption, error) {
	if !needed.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	lots, err := tx.AvailableLotsForUpdate(ctx, branchID, productID)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	for _, lot := range lots {
		available = available.Add(lot.Qty)
	}
	if available.LessThan(needed) {
		return nil, &InsufficientStockError{
			BranchID:  branchID,
			ProductID: productID,
			Required:  needed,
			Available: available,
		}
	}

	var splits []Consumption
	remaining := needed
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(lot.Qty, remaining)
		splits = append(splits, Consumption{Lot: lot, Qty: take})
		remaining = remaining.Sub(take)
	}
	return splits, nil
}

// Debit removes qty from the lot. The balance can never go negative: an
// overdraft is rejected before any mutation.
func (e *Engine) Debit(ctx context.Context, tx TxRepository, lot Lot, qty decimal.Decimal) (Lot, error) {
	if !qty.IsPositive() {
		return Lot{}, ErrInvalidQuantity
	}
	if qty.GreaterThan(lot.Qty) {
		return Lot{}, &InsufficientStockError{
			BranchID:  lot.BranchID,
			ProductID: lot.ProductID,
			Required:  qty,
			Available: lot.Qty,
		}
	}
	lot.Qty = lot.Qty.Sub(qty)
	if err := tx.SetLotQty(ctx, lot.ID, lot.Qty); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// CreditOrCreate adds qty to the (branch, product, batch) lot, creating it
// with the batch cost when it does not exist yet. The batch identifier is
// shared across branches so cost lineage survives transfers.
func (e *Engine) CreditOrCreate(ctx context.Context, tx TxRepository, branchID, productID int64, batch uuid.UUID, qty, cost decimal.Decimal) (Lot, error) {
	if !qty.IsPositive() {
		return Lot{}, ErrInvalidQuantity
	}
	lot, err := tx.LotByBatchForUpdate(ctx, branchID, productID, batch)
	switch {
	case err == nil:
		lot.Qty = lot.Qty.Add(qty)
		if err := tx.SetLotQty(ctx, lot.ID, lot.Qty); err != nil {
			return Lot{}, err
		}
		return lot, nil
	case err == ErrLotNotFound:
		lot = Lot{
			EntryNumber: uuid.New(),
			BranchID:    branchID,
			ProductID:   productID,
			Batch:       batch,
			OriginalQty: qty,
			Qty:         qty,
			Cost:        cost,
			Active:      true,
			CreatedAt:   time.Now().UTC(),
		}
		id, err := tx.InsertLot(ctx, lot)
		if err != nil {
			return Lot{}, err
		}
		lot.ID = id
		return lot, nil
	default:
		return Lot{}, err
	}
}

// Record appends one kardex entry for a lot mutation. The quantity is signed:
// positive for in-flow movement types, negative for out-flow; a sign that
// contradicts the configured flow is rejected.
func (e *Engine) Record(ctx context.Context, tx TxRepository, code string, lot Lot, qty, cost decimal.Decimal, transactionID int64, documentNumber string) (LedgerEntry, error) {
	mt, err := e.movements.Resolve(code)
	if err != nil {
		return LedgerEntry{}, err
	}
	if mt.Flow == FlowIn && !qty.IsPositive() || mt.Flow == FlowOut && !qty.IsNegative() {
		return LedgerEntry{}, ErrMovementSign
	}
	entry := LedgerEntry{
		TransactionID:  transactionID,
		DocumentNumber: documentNumber,
		MovementTypeID: mt.ID,
		MovementCode:   mt.Code,
		LotID:          lot.ID,
		BranchID:       lot.BranchID,
		ProductID:      lot.ProductID,
		Batch:          lot.Batch,
		Qty:            qty,
		Cost:           cost,
		CreatedAt:      time.Now().UTC(),
	}
	id, err := tx.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, err
	}
	entry.ID = id
	return entry, nil
}

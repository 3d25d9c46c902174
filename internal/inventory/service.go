package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	AvailableLots(ctx context.Context, branchID, productID int64) ([]Lot, error)
	OldestAvailableLot(ctx context.Context, branchID, productID int64) (Lot, error)
	LedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
}

// Service exposes lot balances, the kardex stream and manual adjustments to
// the workflow layer. Sales, transfers and purchases run the Engine inside
// their own transactions instead of going through Service.
type Service struct {
	repo        RepositoryPort
	engine      *Engine
	audit       shared.AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, engine *Engine, audit shared.AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, engine: engine, audit: audit, idempotency: idem}
}

// AvailableLots returns the current lot balances for branch/product, oldest first.
func (s *Service) AvailableLots(ctx context.Context, branchID, productID int64) ([]Lot, error) {
	if branchID == 0 || productID == 0 {
		return nil, fmt.Errorf("inventory: branch and product required")
	}
	return s.repo.AvailableLots(ctx, branchID, productID)
}

// LedgerEntries returns kardex records matching the filter.
func (s *Service) LedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	return s.repo.LedgerEntries(ctx, filter)
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	BranchID       int64
	ProductID      int64
	Qty            decimal.Decimal
	Cost           decimal.Decimal
	DocumentNumber string
	ActorID        int64
}

// PostAdjustment applies a signed correction. A positive quantity creates a
// new lot under a fresh batch (ADJ-POS); a negative one drains lots FIFO
// (ADJ-NEG). Lot mutations and kardex records commit as one unit.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) ([]LedgerEntry, error) {
	if input.BranchID == 0 || input.ProductID == 0 {
		return nil, fmt.Errorf("inventory: branch and product required")
	}
	if input.Qty.IsZero() {
		return nil, ErrInvalidQuantity
	}
	if input.Qty.IsPositive() && !input.Cost.IsPositive() {
		return nil, fmt.Errorf("inventory: positive adjustment requires a unit cost")
	}
	docNumber := input.DocumentNumber
	if docNumber == "" {
		docNumber = fmt.Sprintf("ADJ-%d", time.Now().UnixNano())
	}

	key := fmt.Sprintf("ADJ:%s:%d:%d", docNumber, input.BranchID, input.ProductID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	var entries []LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.Qty.IsPositive() {
			lot, err := s.engine.CreditOrCreate(ctx, tx, input.BranchID, input.ProductID, uuid.New(), input.Qty, input.Cost)
			if err != nil {
				return err
			}
			entry, err := s.engine.Record(ctx, tx, MoveAdjustmentPos, lot, input.Qty, lot.Cost, 0, docNumber)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		}

		needed := input.Qty.Neg()
		splits, err := s.engine.Consume(ctx, tx, input.BranchID, input.ProductID, needed)
		if err != nil {
			return err
		}
		for _, split := range splits {
			lot, err := s.engine.Debit(ctx, tx, split.Lot, split.Qty)
			if err != nil {
				return err
			}
			entry, err := s.engine.Record(ctx, tx, MoveAdjustmentNeg, lot, split.Qty.Neg(), lot.Cost, 0, docNumber)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory:adjustment",
			Entity:   "kardex",
			EntityID: docNumber,
			Meta: map[string]any{
				"branch_id":  input.BranchID,
				"product_id": input.ProductID,
				"qty":        input.Qty.String(),
			},
		})
	}
	return entries, nil
}

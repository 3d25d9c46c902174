package proration

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
	"github.com/bodega-erp/bodega-erp/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateProration(ctx context.Context, p Proration, items []Item) (Proration, error)
	Proration(ctx context.Context, prorationID int64) (Proration, error)
	Items(ctx context.Context, prorationID int64) ([]Item, error)
	Expenses(ctx context.Context, prorationID int64) ([]ExpenseLine, error)
	AddExpense(ctx context.Context, line ExpenseLine) (int64, error)
	UpdateExpense(ctx context.Context, lineID int64, amount decimal.Decimal, includable bool) error
}

// Service implements the landed-cost proration workflow.
type Service struct {
	logger *slog.Logger
	repo   RepositoryPort
	audit  shared.AuditPort
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, audit shared.AuditPort) *Service {
	return &Service{logger: logger, repo: repo, audit: audit}
}

// ItemInput is one purchased position entering a new proration.
type ItemInput struct {
	ProductID    int64
	Qty          decimal.Decimal
	FOBUnitValue decimal.Decimal
}

// Create opens a proration for a purchase.
func (s *Service) Create(ctx context.Context, purchaseID int64, items []ItemInput) (Proration, error) {
	rows := make([]Item, 0, len(items))
	for _, item := range items {
		if !item.Qty.IsPositive() || item.FOBUnitValue.IsNegative() {
			return Proration{}, inventory.ErrInvalidQuantity
		}
		rows = append(rows, Item{ProductID: item.ProductID, Qty: item.Qty, FOBUnitValue: item.FOBUnitValue})
	}
	if len(rows) == 0 {
		return Proration{}, ErrNoItems
	}
	return s.repo.CreateProration(ctx, Proration{PurchaseID: purchaseID}, rows)
}

// Proration returns a proration with items and expense lines.
func (s *Service) Proration(ctx context.Context, prorationID int64) (Proration, []Item, []ExpenseLine, error) {
	p, err := s.repo.Proration(ctx, prorationID)
	if err != nil {
		return Proration{}, nil, nil, err
	}
	items, err := s.repo.Items(ctx, prorationID)
	if err != nil {
		return Proration{}, nil, nil, err
	}
	expenses, err := s.repo.Expenses(ctx, prorationID)
	if err != nil {
		return Proration{}, nil, nil, err
	}
	return p, items, expenses, nil
}

// ExpenseInput describes a new or edited expense line.
type ExpenseInput struct {
	Category    string
	Description string
	Amount      decimal.Decimal
	Includable  bool
}

// AddExpense appends an expense line. Re-run the proration afterwards to pick
// it up.
func (s *Service) AddExpense(ctx context.Context, prorationID int64, input ExpenseInput) (ExpenseLine, error) {
	if input.Category != ExpenseFreight && input.Category != ExpenseDAI && input.Category != ExpenseOther {
		return ExpenseLine{}, ErrInvalidCategory
	}
	if input.Amount.IsNegative() {
		return ExpenseLine{}, inventory.ErrInvalidQuantity
	}
	if _, err := s.repo.Proration(ctx, prorationID); err != nil {
		return ExpenseLine{}, err
	}
	line := ExpenseLine{
		ProrationID: prorationID,
		Category:    input.Category,
		Description: input.Description,
		Amount:      input.Amount,
		Includable:  input.Includable,
	}
	var err error
	line.ID, err = s.repo.AddExpense(ctx, line)
	if err != nil {
		return ExpenseLine{}, err
	}
	return line, nil
}

// UpdateExpense edits an expense line's amount and includable flag.
func (s *Service) UpdateExpense(ctx context.Context, lineID int64, amount decimal.Decimal, includable bool) error {
	if amount.IsNegative() {
		return inventory.ErrInvalidQuantity
	}
	return s.repo.UpdateExpense(ctx, lineID, amount, includable)
}

// Run recomputes the whole proration. Allocation is by FOB value share; a
// non-positive total FOB zeroes every output instead of failing, so a
// proration whose items are not priced yet is a no-op, not an error. Outputs
// fully overwrite the previous run, which makes re-running after expense
// edits safe.
func (s *Service) Run(ctx context.Context, prorationID, actorID int64) (Proration, []Item, error) {
	var (
		proration Proration
		items     []Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		proration, err = tx.ProrationForUpdate(ctx, prorationID)
		if err != nil {
			return err
		}
		items, err = tx.ItemsByProration(ctx, prorationID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrNoItems
		}
		expenses, err := tx.ExpensesByProration(ctx, prorationID)
		if err != nil {
			return err
		}

		totalFOB := decimal.Zero
		for _, item := range items {
			totalFOB = totalFOB.Add(item.FOBValue())
		}
		freight, dai, other := decimal.Zero, decimal.Zero, decimal.Zero
		for _, expense := range expenses {
			if !expense.Includable {
				continue
			}
			switch expense.Category {
			case ExpenseFreight:
				freight = freight.Add(expense.Amount)
			case ExpenseDAI:
				dai = dai.Add(expense.Amount)
			case ExpenseOther:
				other = other.Add(expense.Amount)
			}
		}

		for i := range items {
			if !totalFOB.IsPositive() {
				items[i].CostPercentage = decimal.Zero
				items[i].AllocatedFreight = decimal.Zero
				items[i].AllocatedDAI = decimal.Zero
				items[i].AllocatedOther = decimal.Zero
				items[i].ProratedUnitCost = decimal.Zero
			} else {
				fob := items[i].FOBValue()
				share := fob.Div(totalFOB)
				items[i].CostPercentage = share.Mul(hundred).Round(4)
				items[i].AllocatedFreight = freight.Mul(share).Round(4)
				items[i].AllocatedDAI = dai.Mul(share).Round(4)
				items[i].AllocatedOther = other.Mul(share).Round(4)
				landed := fob.Add(items[i].AllocatedFreight).Add(items[i].AllocatedDAI).Add(items[i].AllocatedOther)
				items[i].ProratedUnitCost = landed.Div(items[i].Qty).Round(4)
			}
			if err := tx.SetItemOutputs(ctx, items[i]); err != nil {
				return err
			}
		}

		if err := tx.SetTotals(ctx, prorationID, totalFOB, freight, dai, other); err != nil {
			return err
		}
		proration.TotalFOB = totalFOB
		proration.TotalFreight = freight
		proration.TotalDAI = dai
		proration.TotalOther = other
		return nil
	})
	if err != nil {
		return Proration{}, nil, err
	}

	s.logger.Info("proration computed",
		slog.Int64("proration_id", proration.ID),
		slog.String("total_fob", proration.TotalFOB.String()))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "proration:run",
			Entity:   "proration",
			EntityID: shared.DocumentCode("PRO", proration.CreatedAt, proration.ID),
			Meta:     map[string]any{"proration_id": proration.ID},
		})
	}
	return proration, items, nil
}

package proration

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Expense categories allocated onto item FOB values.
const (
	ExpenseFreight = "FREIGHT"
	ExpenseDAI     = "DAI"
	ExpenseOther   = "OTHER"
)

// Proration distributes the shared import expenses of one purchase across its
// items by FOB value share. Computed totals are overwritten on every run.
type Proration struct {
	ID           int64
	PurchaseID   int64
	TotalFOB     decimal.Decimal
	TotalFreight decimal.Decimal
	TotalDAI     decimal.Decimal
	TotalOther   decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExpenseLine is one import expense. Only includable lines enter the
// allocation; excluded ones stay on the document for reference.
type ExpenseLine struct {
	ID          int64
	ProrationID int64
	Category    string
	Description string
	Amount      decimal.Decimal
	Includable  bool
}

// Item is one purchased product position with its computed shares. The
// computed fields are outputs of Run and carry no hand-entered data.
type Item struct {
	ID           int64
	ProrationID  int64
	ProductID    int64
	Qty          decimal.Decimal
	FOBUnitValue decimal.Decimal

	CostPercentage   decimal.Decimal
	AllocatedFreight decimal.Decimal
	AllocatedDAI     decimal.Decimal
	AllocatedOther   decimal.Decimal
	ProratedUnitCost decimal.Decimal
}

// FOBValue is the item's total FOB contribution.
func (i Item) FOBValue() decimal.Decimal {
	return i.Qty.Mul(i.FOBUnitValue)
}

var (
	// ErrProrationNotFound indicates no proration matches the id.
	ErrProrationNotFound = errors.New("proration: proration not found")
	// ErrExpenseNotFound indicates no expense line matches the id.
	ErrExpenseNotFound = errors.New("proration: expense line not found")
	// ErrInvalidCategory indicates an unknown expense category.
	ErrInvalidCategory = errors.New("proration: invalid expense category")
	// ErrNoItems indicates a proration without items.
	ErrNoItems = errors.New("proration: proration has no items")
)

package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// Analysis statuses. Approval activates the prices and is terminal.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// DefaultUtility is the margin proposed for new analysis lines.
var DefaultUtility = decimal.RequireFromString("0.20")

var one = decimal.NewFromInt(1)

// AnalysisMachine describes the price analysis workflow.
func AnalysisMachine() *shared.Machine {
	return shared.NewMachine(map[string][]string{
		StatusPending:  {StatusApproved},
		StatusApproved: {},
	})
}

// SalePrice derives the selling price from a landed cost and a utility
// fraction. A utility at or above 1 would make the denominator non-positive,
// so the cost passes through unchanged in that case.
func SalePrice(cost, utility decimal.Decimal) decimal.Decimal {
	if utility.GreaterThanOrEqual(one) {
		return cost
	}
	return cost.Div(one.Sub(utility)).Round(2)
}

// Analysis proposes sale prices for the items of one proration.
type Analysis struct {
	ID          int64
	ProrationID int64
	Status      string
	CreatedAt   time.Time
	ApprovedAt  time.Time
}

// AnalysisLine carries one product's landed cost, margin and derived price.
type AnalysisLine struct {
	ID         int64
	AnalysisID int64
	ProductID  int64
	Cost       decimal.Decimal
	Utility    decimal.Decimal
	SalePrice  decimal.Decimal
}

// PriceHistory is one activation record. At most one row per product is
// active at any time.
type PriceHistory struct {
	ID        int64
	ProductID int64
	Price     decimal.Decimal
	Active    bool
	CreatedAt time.Time
}

var (
	// ErrAnalysisNotFound indicates no analysis matches the id.
	ErrAnalysisNotFound = errors.New("pricing: analysis not found")
	// ErrLineNotFound indicates no analysis line matches the id.
	ErrLineNotFound = errors.New("pricing: line not found")
	// ErrAnalysisApproved indicates an edit attempt on an approved analysis.
	ErrAnalysisApproved = errors.New("pricing: approved analysis cannot be modified")
	// ErrNoActivePrice indicates the product has no active price.
	ErrNoActivePrice = errors.New("pricing: no active price for product")
	// ErrInvalidUtility indicates a negative utility fraction.
	ErrInvalidUtility = errors.New("pricing: utility must not be negative")
	// ErrNoLines indicates an approval attempt on an analysis without lines.
	ErrNoLines = errors.New("pricing: analysis has no lines")
)

package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// Sale statuses. A completed sale is terminal and frozen.
const (
	StatusDraft     = "draft"
	StatusCompleted = "completed"
)

// Document types. CCF adds tax and requires a tax-contributor client.
const (
	DocFinalConsumer = "FCF"
	DocTaxCredit     = "CCF"
)

// Markup applied over lot cost when pricing a sale line.
var Markup = decimal.RequireFromString("1.20")

// TaxRate applied to the subtotal of tax-credit documents.
var TaxRate = decimal.RequireFromString("0.13")

// StateMachine describes the sale workflow.
func StateMachine() *shared.Machine {
	return shared.NewMachine(map[string][]string{
		StatusDraft:     {StatusCompleted},
		StatusCompleted: {},
	})
}

// Sale is the owning aggregate; lines reference it by id only.
type Sale struct {
	ID             int64
	DocumentNumber string
	BranchID       int64
	ClientID       int64
	DocumentType   string
	Status         string
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    time.Time
}

// SaleLine is one product position. UnitPrice holds the draft suggestion until
// completion recomputes it from the actual lots consumed.
type SaleLine struct {
	ID          int64
	SaleID      int64
	ProductID   int64
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
}

// LineTotal is quantity times price net of the percentage discount.
func (l SaleLine) LineTotal() decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(l.DiscountPct.Div(decimal.NewFromInt(100)))
	return l.Qty.Mul(l.UnitPrice).Mul(factor)
}

// Client is the minimal customer projection the sale workflow needs.
type Client struct {
	ID             int64
	Name           string
	TaxContributor bool
}

var (
	// ErrSaleNotFound indicates no sale matches the id.
	ErrSaleNotFound = errors.New("sales: sale not found")
	// ErrLineNotFound indicates no line matches the id.
	ErrLineNotFound = errors.New("sales: line not found")
	// ErrClientNotFound indicates no client matches the id.
	ErrClientNotFound = errors.New("sales: client not found")
	// ErrSaleFrozen indicates an edit attempt on a completed sale.
	ErrSaleFrozen = errors.New("sales: completed sale cannot be modified")
	// ErrNoLines indicates a completion attempt on a sale without lines.
	ErrNoLines = errors.New("sales: sale has no lines")
	// ErrTaxDocumentNotAllowed indicates a CCF request for a non-contributor client.
	ErrTaxDocumentNotAllowed = errors.New("sales: client is not a tax contributor")
	// ErrInvalidDocumentType indicates an unknown document type.
	ErrInvalidDocumentType = errors.New("sales: invalid document type")
)

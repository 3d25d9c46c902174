package procurement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// Purchase statuses. Approval is terminal: it performs the lot intake.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// PurchaseMachine describes the purchase approval workflow.
func PurchaseMachine() *shared.Machine {
	return shared.NewMachine(map[string][]string{
		StatusPending:  {StatusApproved},
		StatusApproved: {},
	})
}

// Quotation is a supplier offer. It must be approved before a buy order can
// reference it.
type Quotation struct {
	ID             int64
	DocumentNumber string
	SupplierID     int64
	Approved       bool
	CreatedAt      time.Time
}

// QuotationLine is one offered product position.
type QuotationLine struct {
	ID          int64
	QuotationID int64
	ProductID   int64
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
}

// BuyOrder turns an approved quotation into a commitment to buy.
type BuyOrder struct {
	ID             int64
	DocumentNumber string
	QuotationID    int64
	Approved       bool
	CreatedAt      time.Time
}

// Purchase is the goods receipt document. All lots created by its approval
// share one batch identifier.
type Purchase struct {
	ID             int64
	DocumentNumber string
	BuyOrderID     int64
	BranchID       int64
	Batch          uuid.UUID
	Status         string
	CreatedAt      time.Time
	ApprovedAt     time.Time
}

// PurchaseLine is one received product position. VerifiedQty holds the
// counted quantity; when positive it wins over the ordered Qty at intake.
type PurchaseLine struct {
	ID          int64
	PurchaseID  int64
	ProductID   int64
	Qty         decimal.Decimal
	VerifiedQty decimal.Decimal
	UnitPrice   decimal.Decimal
}

// IntakeQty is the quantity the lot intake uses for the line.
func (l PurchaseLine) IntakeQty() decimal.Decimal {
	if l.VerifiedQty.IsPositive() {
		return l.VerifiedQty
	}
	return l.Qty
}

var (
	// ErrQuotationNotFound indicates no quotation matches the id.
	ErrQuotationNotFound = errors.New("procurement: quotation not found")
	// ErrBuyOrderNotFound indicates no buy order matches the id.
	ErrBuyOrderNotFound = errors.New("procurement: buy order not found")
	// ErrPurchaseNotFound indicates no purchase matches the id.
	ErrPurchaseNotFound = errors.New("procurement: purchase not found")
	// ErrLineNotFound indicates no line matches the id.
	ErrLineNotFound = errors.New("procurement: line not found")
	// ErrQuotationNotApproved indicates a buy order against an unapproved quotation.
	ErrQuotationNotApproved = errors.New("procurement: quotation is not approved")
	// ErrBuyOrderNotApproved indicates a purchase against an unapproved buy order.
	ErrBuyOrderNotApproved = errors.New("procurement: buy order is not approved")
	// ErrPurchaseApproved indicates an edit attempt on an approved purchase.
	ErrPurchaseApproved = errors.New("procurement: approved purchase cannot be modified")
	// ErrNoLines indicates an approval attempt on a purchase without lines.
	ErrNoLines = errors.New("procurement: purchase has no lines")
)

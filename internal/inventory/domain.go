package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementFlow classifies whether a movement type adds or removes stock.
type MovementFlow string

const (
	// FlowIn marks movement types that increase lot balances.
	FlowIn MovementFlow = "in"
	// FlowOut marks movement types that decrease lot balances.
	FlowOut MovementFlow = "out"
)

// Movement type codes resolved at processing time. The vocabulary is fixed
// configuration: a missing code aborts the whole operation.
const (
	MovePurchase      = "PURCHASE"
	MoveSale          = "SALE"
	MoveTransferOut   = "TRANS-OUT"
	MoveTransferIn    = "TRANS-IN"
	MoveAdjustmentPos = "ADJ-POS"
	MoveAdjustmentNeg = "ADJ-NEG"
)

// MovementType is a named flow classification used to tag ledger entries.
type MovementType struct {
	ID   int64
	Code string
	Name string
	Flow MovementFlow
}

// Lot is the per-branch, per-product, per-batch inventory unit. OriginalQty
// is the snapshot taken at creation and never changes; Qty is the remaining
// balance and never goes negative. Lots are soft-deactivated, not deleted.
type Lot struct {
	ID          int64
	EntryNumber uuid.UUID
	BranchID    int64
	ProductID   int64
	Batch       uuid.UUID
	OriginalQty decimal.Decimal
	Qty         decimal.Decimal
	Cost        decimal.Decimal
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LedgerEntry is one immutable kardex record: a single signed quantity delta
// against one lot, linked to the originating transaction. Entries are created
// exactly once per physical movement and never updated or deleted.
type LedgerEntry struct {
	ID             int64
	TransactionID  int64
	DocumentNumber string
	MovementTypeID int64
	MovementCode   string
	LotID          int64
	BranchID       int64
	ProductID      int64
	Batch          uuid.UUID
	Qty            decimal.Decimal
	Cost           decimal.Decimal
	CreatedAt      time.Time
}

// Consumption is one FIFO split: take Qty from Lot.
type Consumption struct {
	Lot Lot
	Qty decimal.Decimal
}

// LedgerFilter narrows ledger queries.
type LedgerFilter struct {
	BranchID       int64
	ProductID      int64
	DocumentNumber string
	From           time.Time
	To             time.Time
	Limit          int
}

// InsufficientStockError reports a requested quantity exceeding availability
// for a product at a branch. Raised before any mutation.
type InsufficientStockError struct {
	BranchID  int64
	ProductID int64
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d at branch %d: required %s, available %s",
		e.ProductID, e.BranchID, e.Required, e.Available)
}

// MissingMovementTypeError indicates a required movement-type code is absent
// from configuration. Configuration-class: the batch operation aborts.
type MissingMovementTypeError struct {
	Code string
}

func (e *MissingMovementTypeError) Error() string {
	return fmt.Sprintf("inventory: movement type %q is not configured", e.Code)
}

var (
	// ErrLotNotFound indicates no lot matches the lookup.
	ErrLotNotFound = errors.New("inventory: lot not found")
	// ErrInvalidQuantity indicates a non-positive quantity where a positive one is required.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrMovementSign indicates a ledger quantity whose sign contradicts the movement flow.
	ErrMovementSign = errors.New("inventory: ledger quantity sign does not match movement flow")
)

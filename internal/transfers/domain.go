package transfers

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// Transfer statuses. Picking is the only editable state; received is terminal.
const (
	StatusPicking  = "picking"
	StatusTransit  = "transit"
	StatusReceived = "received"
)

// StateMachine describes the transfer workflow. There is no reverse edge:
// once stock moved the document can only advance.
func StateMachine() *shared.Machine {
	return shared.NewMachine(map[string][]string{
		StatusPicking:  {StatusTransit},
		StatusTransit:  {StatusReceived},
		StatusReceived: {},
	})
}

// Transfer moves stock between two branches on a vehicle.
type Transfer struct {
	ID             int64
	DocumentNumber string
	SourceBranchID int64
	DestBranchID   int64
	VehicleID      int64
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DispatchedAt   time.Time
	ReceivedAt     time.Time
}

// TransferLine is one product position. ReceivedQty stays zero until the
// destination confirms; while in transit it is the only editable field.
type TransferLine struct {
	ID          int64
	TransferID  int64
	ProductID   int64
	SentQty     decimal.Decimal
	ReceivedQty decimal.Decimal
}

var (
	// ErrTransferNotFound indicates no transfer matches the id.
	ErrTransferNotFound = errors.New("transfers: transfer not found")
	// ErrLineNotFound indicates no line matches the id.
	ErrLineNotFound = errors.New("transfers: line not found")
	// ErrSameBranch indicates source and destination are the same branch.
	ErrSameBranch = errors.New("transfers: source and destination branch must differ")
	// ErrVehicleBusy indicates the vehicle is assigned to another open transfer.
	ErrVehicleBusy = errors.New("transfers: vehicle is assigned to another open transfer")
	// ErrNotPicking indicates a line edit outside the picking state.
	ErrNotPicking = errors.New("transfers: lines are editable only while picking")
	// ErrNotTransit indicates a receive action outside the transit state.
	ErrNotTransit = errors.New("transfers: transfer is not in transit")
	// ErrTransferFrozen indicates an edit attempt on a received transfer.
	ErrTransferFrozen = errors.New("transfers: received transfer cannot be modified")
	// ErrNoLines indicates a dispatch attempt on a transfer without lines.
	ErrNoLines = errors.New("transfers: transfer has no lines")
)

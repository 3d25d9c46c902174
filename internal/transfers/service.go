package transfers

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateTransfer(ctx context.Context, transfer Transfer, numberFor func(id int64) string) (Transfer, error)
	Transfer(ctx context.Context, transferID int64) (Transfer, error)
	Lines(ctx context.Context, transferID int64) ([]TransferLine, error)
	Line(ctx context.Context, lineID int64) (TransferLine, error)
	InsertLine(ctx context.Context, line TransferLine) (int64, error)
	UpdateLine(ctx context.Context, line TransferLine) error
	DeleteLine(ctx context.Context, lineID int64) error
	VehicleBusy(ctx context.Context, vehicleID, excludeTransferID int64) (bool, error)
}

// Service implements the branch transfer workflow.
type Service struct {
	logger  *slog.Logger
	repo    RepositoryPort
	engine  *inventory.Engine
	machine *shared.Machine
	audit   shared.AuditPort
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, engine *inventory.Engine, audit shared.AuditPort) *Service {
	return &Service{logger: logger, repo: repo, engine: engine, machine: StateMachine(), audit: audit}
}

// CreateTransferInput describes a new picking transfer.
type CreateTransferInput struct {
	SourceBranchID int64
	DestBranchID   int64
	VehicleID      int64
	ActorID        int64
}

// Create opens a picking transfer. Transfers always start in picking; there
// is no way to create one already in transit.
func (s *Service) Create(ctx context.Context, input CreateTransferInput) (Transfer, error) {
	if input.SourceBranchID == input.DestBranchID {
		return Transfer{}, ErrSameBranch
	}
	if input.VehicleID != 0 {
		busy, err := s.repo.VehicleBusy(ctx, input.VehicleID, 0)
		if err != nil {
			return Transfer{}, err
		}
		if busy {
			return Transfer{}, ErrVehicleBusy
		}
	}
	now := time.Now().UTC()
	return s.repo.CreateTransfer(ctx, Transfer{
		SourceBranchID: input.SourceBranchID,
		DestBranchID:   input.DestBranchID,
		VehicleID:      input.VehicleID,
	}, func(id int64) string {
		return shared.DocumentCode("TRF", now, id)
	})
}

// Transfer returns a transfer with its lines.
func (s *Service) Transfer(ctx context.Context, transferID int64) (Transfer, []TransferLine, error) {
	transfer, err := s.repo.Transfer(ctx, transferID)
	if err != nil {
		return Transfer{}, nil, err
	}
	lines, err := s.repo.Lines(ctx, transferID)
	if err != nil {
		return Transfer{}, nil, err
	}
	return transfer, lines, nil
}

// LineInput describes a line add or edit.
type LineInput struct {
	TransferID int64
	ProductID  int64
	SentQty    decimal.Decimal
}

// AddLine appends a line while picking.
func (s *Service) AddLine(ctx context.Context, input LineInput) (TransferLine, error) {
	if err := s.guardPicking(ctx, input.TransferID); err != nil {
		return TransferLine{}, err
	}
	if !input.SentQty.IsPositive() {
		return TransferLine{}, inventory.ErrInvalidQuantity
	}
	line := TransferLine{TransferID: input.TransferID, ProductID: input.ProductID, SentQty: input.SentQty}
	var err error
	line.ID, err = s.repo.InsertLine(ctx, line)
	if err != nil {
		return TransferLine{}, err
	}
	return line, nil
}

// UpdateLine edits a picking line.
func (s *Service) UpdateLine(ctx context.Context, lineID int64, input LineInput) (TransferLine, error) {
	line, err := s.repo.Line(ctx, lineID)
	if err != nil {
		return TransferLine{}, err
	}
	if err := s.guardPicking(ctx, line.TransferID); err != nil {
		return TransferLine{}, err
	}
	if !input.SentQty.IsPositive() {
		return TransferLine{}, inventory.ErrInvalidQuantity
	}
	if input.ProductID != 0 {
		line.ProductID = input.ProductID
	}
	line.SentQty = input.SentQty
	if err := s.repo.UpdateLine(ctx, line); err != nil {
		return TransferLine{}, err
	}
	return line, nil
}

// RemoveLine deletes a picking line.
func (s *Service) RemoveLine(ctx context.Context, lineID int64) error {
	line, err := s.repo.Line(ctx, lineID)
	if err != nil {
		return err
	}
	if err := s.guardPicking(ctx, line.TransferID); err != nil {
		return err
	}
	return s.repo.DeleteLine(ctx, lineID)
}

func (s *Service) guardPicking(ctx context.Context, transferID int64) error {
	transfer, err := s.repo.Transfer(ctx, transferID)
	if err != nil {
		return err
	}
	switch transfer.Status {
	case StatusPicking:
		return nil
	case StatusReceived:
		return ErrTransferFrozen
	default:
		return ErrNotPicking
	}
}

// Dispatch runs the picking to transit transition. Per line it drains source
// lots oldest-first; each split debits the source lot, records TRANS-OUT with
// the negative quantity, credits a destination lot under the same batch
// identifier so the cost lineage survives the move, and records TRANS-IN with
// the positive quantity. Any failure aborts the whole transition and the
// transfer stays in picking with no stock moved.
func (s *Service) Dispatch(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	var transfer Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transfer, err = tx.TransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if err := s.machine.Guard(transfer.Status, StatusTransit); err != nil {
			return err
		}
		if transfer.VehicleID != 0 {
			busy, err := tx.VehicleBusy(ctx, transfer.VehicleID, transfer.ID)
			if err != nil {
				return err
			}
			if busy {
				return ErrVehicleBusy
			}
		}
		lines, err := tx.LinesByTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoLines
		}

		inv := tx.Inventory()
		for _, line := range lines {
			splits, err := s.engine.Consume(ctx, inv, transfer.SourceBranchID, line.ProductID, line.SentQty)
			if err != nil {
				return err
			}
			for _, split := range splits {
				src, err := s.engine.Debit(ctx, inv, split.Lot, split.Qty)
				if err != nil {
					return err
				}
				if _, err := s.engine.Record(ctx, inv, inventory.MoveTransferOut, src, split.Qty.Neg(), src.Cost, transfer.ID, transfer.DocumentNumber); err != nil {
					return err
				}
				dst, err := s.engine.CreditOrCreate(ctx, inv, transfer.DestBranchID, line.ProductID, src.Batch, split.Qty, src.Cost)
				if err != nil {
					return err
				}
				if _, err := s.engine.Record(ctx, inv, inventory.MoveTransferIn, dst, split.Qty, dst.Cost, transfer.ID, transfer.DocumentNumber); err != nil {
					return err
				}
			}
		}

		now := time.Now().UTC()
		if err := tx.MarkTransit(ctx, transferID, now); err != nil {
			return err
		}
		transfer.Status = StatusTransit
		transfer.DispatchedAt = now
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}

	s.logger.Info("transfer dispatched",
		slog.Int64("transfer_id", transfer.ID),
		slog.String("document", transfer.DocumentNumber))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "transfers:dispatch",
			Entity:   "transfer",
			EntityID: transfer.DocumentNumber,
			Meta:     map[string]any{"transfer_id": transfer.ID},
		})
	}
	return transfer, nil
}

// Receive closes the transfer. Received quantities default to the sent
// quantity when the destination does not report a different count. After this
// the document is fully immutable.
func (s *Service) Receive(ctx context.Context, transferID, actorID int64, receivedQty map[int64]decimal.Decimal) (Transfer, error) {
	var transfer Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transfer, err = tx.TransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer.Status != StatusTransit {
			if transfer.Status == StatusReceived {
				return ErrTransferFrozen
			}
			return ErrNotTransit
		}
		lines, err := tx.LinesByTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			qty := line.SentQty
			if reported, ok := receivedQty[line.ID]; ok {
				if reported.IsNegative() {
					return inventory.ErrInvalidQuantity
				}
				qty = reported
			}
			if err := tx.SetLineReceivedQty(ctx, line.ID, qty); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := tx.MarkReceived(ctx, transferID, now); err != nil {
			return err
		}
		transfer.Status = StatusReceived
		transfer.ReceivedAt = now
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "transfers:receive",
			Entity:   "transfer",
			EntityID: transfer.DocumentNumber,
			Meta:     map[string]any{"transfer_id": transfer.ID},
		})
	}
	return transfer, nil
}

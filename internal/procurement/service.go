package procurement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateQuotation(ctx context.Context, q Quotation, lines []QuotationLine, numberFor func(id int64) string) (Quotation, error)
	Quotation(ctx context.Context, quotationID int64) (Quotation, error)
	ApproveQuotation(ctx context.Context, quotationID int64) error
	CreateBuyOrder(ctx context.Context, order BuyOrder, numberFor func(id int64) string) (BuyOrder, error)
	BuyOrder(ctx context.Context, orderID int64) (BuyOrder, error)
	ApproveBuyOrder(ctx context.Context, orderID int64) error
	CreatePurchase(ctx context.Context, p Purchase, lines []PurchaseLine, numberFor func(id int64) string) (Purchase, error)
	Purchase(ctx context.Context, purchaseID int64) (Purchase, error)
	PurchaseLines(ctx context.Context, purchaseID int64) ([]PurchaseLine, error)
	PurchaseLine(ctx context.Context, lineID int64) (PurchaseLine, error)
	SetVerifiedQty(ctx context.Context, lineID int64, qty decimal.Decimal) error
}

// Service implements the quotation, buy order and purchase chain. Approving
// the purchase is the step that puts goods on the shelf.
type Service struct {
	logger  *slog.Logger
	repo    RepositoryPort
	engine  *inventory.Engine
	machine *shared.Machine
	audit   shared.AuditPort
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, engine *inventory.Engine, audit shared.AuditPort) *Service {
	return &Service{logger: logger, repo: repo, engine: engine, machine: PurchaseMachine(), audit: audit}
}

// QuotationLineInput is one offered position on a new quotation.
type QuotationLineInput struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreateQuotation registers a supplier offer.
func (s *Service) CreateQuotation(ctx context.Context, supplierID int64, lines []QuotationLineInput) (Quotation, error) {
	qLines := make([]QuotationLine, 0, len(lines))
	for _, line := range lines {
		if !line.Qty.IsPositive() || line.UnitPrice.IsNegative() {
			return Quotation{}, inventory.ErrInvalidQuantity
		}
		qLines = append(qLines, QuotationLine{ProductID: line.ProductID, Qty: line.Qty, UnitPrice: line.UnitPrice})
	}
	now := time.Now().UTC()
	return s.repo.CreateQuotation(ctx, Quotation{SupplierID: supplierID}, qLines, func(id int64) string {
		return shared.DocumentCode("QUO", now, id)
	})
}

// ApproveQuotation marks the quotation ready for ordering.
func (s *Service) ApproveQuotation(ctx context.Context, quotationID int64) error {
	if _, err := s.repo.Quotation(ctx, quotationID); err != nil {
		return err
	}
	return s.repo.ApproveQuotation(ctx, quotationID)
}

// CreateBuyOrder opens a buy order against an approved quotation.
func (s *Service) CreateBuyOrder(ctx context.Context, quotationID int64) (BuyOrder, error) {
	quotation, err := s.repo.Quotation(ctx, quotationID)
	if err != nil {
		return BuyOrder{}, err
	}
	if !quotation.Approved {
		return BuyOrder{}, ErrQuotationNotApproved
	}
	now := time.Now().UTC()
	return s.repo.CreateBuyOrder(ctx, BuyOrder{QuotationID: quotationID}, func(id int64) string {
		return shared.DocumentCode("ORD", now, id)
	})
}

// ApproveBuyOrder marks the buy order ready for receiving.
func (s *Service) ApproveBuyOrder(ctx context.Context, orderID int64) error {
	if _, err := s.repo.BuyOrder(ctx, orderID); err != nil {
		return err
	}
	return s.repo.ApproveBuyOrder(ctx, orderID)
}

// PurchaseLineInput is one expected position on a new purchase.
type PurchaseLineInput struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreatePurchase opens a pending goods receipt against an approved buy order.
// All its future lots share one freshly minted batch identifier.
func (s *Service) CreatePurchase(ctx context.Context, orderID, branchID int64, lines []PurchaseLineInput) (Purchase, error) {
	order, err := s.repo.BuyOrder(ctx, orderID)
	if err != nil {
		return Purchase{}, err
	}
	if !order.Approved {
		return Purchase{}, ErrBuyOrderNotApproved
	}
	pLines := make([]PurchaseLine, 0, len(lines))
	for _, line := range lines {
		if !line.Qty.IsPositive() || !line.UnitPrice.IsPositive() {
			return Purchase{}, inventory.ErrInvalidQuantity
		}
		pLines = append(pLines, PurchaseLine{ProductID: line.ProductID, Qty: line.Qty, UnitPrice: line.UnitPrice})
	}
	now := time.Now().UTC()
	return s.repo.CreatePurchase(ctx, Purchase{
		BuyOrderID: orderID,
		BranchID:   branchID,
		Batch:      uuid.New(),
	}, pLines, func(id int64) string {
		return shared.DocumentCode("PUR", now, id)
	})
}

// Purchase returns a purchase with its lines.
func (s *Service) Purchase(ctx context.Context, purchaseID int64) (Purchase, []PurchaseLine, error) {
	purchase, err := s.repo.Purchase(ctx, purchaseID)
	if err != nil {
		return Purchase{}, nil, err
	}
	lines, err := s.repo.PurchaseLines(ctx, purchaseID)
	if err != nil {
		return Purchase{}, nil, err
	}
	return purchase, lines, nil
}

// VerifyLine records the counted quantity for a pending purchase line.
func (s *Service) VerifyLine(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	if qty.IsNegative() {
		return inventory.ErrInvalidQuantity
	}
	line, err := s.repo.PurchaseLine(ctx, lineID)
	if err != nil {
		return err
	}
	purchase, err := s.repo.Purchase(ctx, line.PurchaseID)
	if err != nil {
		return err
	}
	if purchase.Status != StatusPending {
		return ErrPurchaseApproved
	}
	return s.repo.SetVerifiedQty(ctx, lineID, qty)
}

// ApprovePurchase runs the intake. Per line it credits a lot at the purchase
// branch under the purchase batch, taking the verified quantity when one was
// counted and the ordered quantity otherwise, and appends a PURCHASE ledger
// record. Intake and approval commit in one transaction.
func (s *Service) ApprovePurchase(ctx context.Context, purchaseID, actorID int64) (Purchase, error) {
	var purchase Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		purchase, err = tx.PurchaseForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if err := s.machine.Guard(purchase.Status, StatusApproved); err != nil {
			return err
		}
		lines, err := tx.LinesByPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoLines
		}

		inv := tx.Inventory()
		for _, line := range lines {
			qty := line.IntakeQty()
			lot, err := s.engine.CreditOrCreate(ctx, inv, purchase.BranchID, line.ProductID, purchase.Batch, qty, line.UnitPrice)
			if err != nil {
				return err
			}
			if _, err := s.engine.Record(ctx, inv, inventory.MovePurchase, lot, qty, lot.Cost, purchase.ID, purchase.DocumentNumber); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.MarkPurchaseApproved(ctx, purchaseID, now); err != nil {
			return err
		}
		purchase.Status = StatusApproved
		purchase.ApprovedAt = now
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}

	s.logger.Info("purchase approved",
		slog.Int64("purchase_id", purchase.ID),
		slog.String("document", purchase.DocumentNumber))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "procurement:approve_purchase",
			Entity:   "purchase",
			EntityID: purchase.DocumentNumber,
			Meta:     map[string]any{"purchase_id": purchase.ID},
		})
	}
	return purchase, nil
}

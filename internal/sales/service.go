package sales

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
	CreateSale(ctx context.Context, sale Sale, numberFor func(id int64) string) (Sale, error)
	Sale(ctx context.Context, saleID int64) (Sale, error)
	Lines(ctx context.Context, saleID int64) ([]SaleLine, error)
	Line(ctx context.Context, lineID int64) (SaleLine, error)
	InsertLine(ctx context.Context, line SaleLine) (int64, error)
	UpdateLine(ctx context.Context, line SaleLine) error
	DeleteLine(ctx context.Context, lineID int64) error
	ClientByID(ctx context.Context, clientID int64) (Client, error)
}

// LotReader reads lot balances outside a sale transaction.
type LotReader interface {
	OldestAvailableLot(ctx context.Context, branchID, productID int64) (inventory.Lot, error)
}

// Service implements the sale workflow: draft editing, price suggestion and
// the draft to completed transition that moves stock.
type Service struct {
	logger  *slog.Logger
	repo    RepositoryPort
	lots    LotReader
	engine  *inventory.Engine
	machine *shared.Machine
	audit   shared.AuditPort
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, lots LotReader, engine *inventory.Engine, audit shared.AuditPort) *Service {
	return &Service{
		logger:  logger,
		repo:    repo,
		lots:    lots,
		engine:  engine,
		machine: StateMachine(),
		audit:   audit,
	}
}

// CreateSaleInput describes a new draft.
type CreateSaleInput struct {
	BranchID     int64
	ClientID     int64
	DocumentType string
	ActorID      int64
}

// CreateDraft opens a new draft sale. Tax-credit documents are only issued to
// tax-contributor clients; the check runs here so no draft exists in a state
// that could never complete.
func (s *Service) CreateDraft(ctx context.Context, input CreateSaleInput) (Sale, error) {
	if input.DocumentType != DocFinalConsumer && input.DocumentType != DocTaxCredit {
		return Sale{}, ErrInvalidDocumentType
	}
	client, err := s.repo.ClientByID(ctx, input.ClientID)
	if err != nil {
		return Sale{}, err
	}
	if input.DocumentType == DocTaxCredit && !client.TaxContributor {
		return Sale{}, ErrTaxDocumentNotAllowed
	}
	sale := Sale{
		BranchID:     input.BranchID,
		ClientID:     input.ClientID,
		DocumentType: input.DocumentType,
	}
	now := time.Now().UTC()
	return s.repo.CreateSale(ctx, sale, func(id int64) string {
		return shared.DocumentCode("SLE", now, id)
	})
}

// Sale returns a sale with its lines.
func (s *Service) Sale(ctx context.Context, saleID int64) (Sale, []SaleLine, error) {
	sale, err := s.repo.Sale(ctx, saleID)
	if err != nil {
		return Sale{}, nil, err
	}
	lines, err := s.repo.Lines(ctx, saleID)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, lines, nil
}

// SuggestPrice estimates a unit price from the oldest available lot cost plus
// markup. It is only a draft aid; completion recomputes the real price from
// the lots actually consumed.
func (s *Service) SuggestPrice(ctx context.Context, branchID, productID int64) (decimal.Decimal, error) {
	lot, err := s.lots.OldestAvailableLot(ctx, branchID, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return lot.Cost.Mul(Markup).Round(2), nil
}

// LineInput describes a line add or edit. A zero UnitPrice requests the
// suggested price.
type LineInput struct {
	SaleID      int64
	ProductID   int64
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
}

// AddLine appends a line to a draft.
func (s *Service) AddLine(ctx context.Context, input LineInput) (SaleLine, error) {
	sale, err := s.guardDraft(ctx, input.SaleID)
	if err != nil {
		return SaleLine{}, err
	}
	if !input.Qty.IsPositive() {
		return SaleLine{}, inventory.ErrInvalidQuantity
	}
	price := input.UnitPrice
	if price.IsZero() {
		price, err = s.SuggestPrice(ctx, sale.BranchID, input.ProductID)
		if err != nil {
			return SaleLine{}, err
		}
	}
	line := SaleLine{
		SaleID:      input.SaleID,
		ProductID:   input.ProductID,
		Qty:         input.Qty,
		UnitPrice:   price,
		DiscountPct: input.DiscountPct,
	}
	line.ID, err = s.repo.InsertLine(ctx, line)
	if err != nil {
		return SaleLine{}, err
	}
	return line, nil
}

// UpdateLine edits a draft line.
func (s *Service) UpdateLine(ctx context.Context, lineID int64, input LineInput) (SaleLine, error) {
	line, err := s.repo.Line(ctx, lineID)
	if err != nil {
		return SaleLine{}, err
	}
	if _, err := s.guardDraft(ctx, line.SaleID); err != nil {
		return SaleLine{}, err
	}
	if !input.Qty.IsPositive() {
		return SaleLine{}, inventory.ErrInvalidQuantity
	}
	line.Qty = input.Qty
	if !input.UnitPrice.IsZero() {
		line.UnitPrice = input.UnitPrice
	}
	line.DiscountPct = input.DiscountPct
	if err := s.repo.UpdateLine(ctx, line); err != nil {
		return SaleLine{}, err
	}
	return line, nil
}

// RemoveLine deletes a draft line.
func (s *Service) RemoveLine(ctx context.Context, lineID int64) error {
	line, err := s.repo.Line(ctx, lineID)
	if err != nil {
		return err
	}
	if _, err := s.guardDraft(ctx, line.SaleID); err != nil {
		return err
	}
	return s.repo.DeleteLine(ctx, lineID)
}

func (s *Service) guardDraft(ctx context.Context, saleID int64) (Sale, error) {
	sale, err := s.repo.Sale(ctx, saleID)
	if err != nil {
		return Sale{}, err
	}
	if sale.Status != StatusDraft {
		return Sale{}, ErrSaleFrozen
	}
	return sale, nil
}

// Complete runs the draft to completed transition. Per line it drains lots
// oldest-first, debits each lot and appends a SALE ledger record with the
// negative quantity taken, then reprices the line as the quantity-weighted
// average lot cost plus markup. Totals are recomputed from the final prices
// and the whole document freezes. Everything commits in one transaction; any
// failing line aborts the transition and the sale stays draft.
func (s *Service) Complete(ctx context.Context, saleID, actorID int64) (Sale, []SaleLine, error) {
	var (
		sale  Sale
		lines []SaleLine
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.SaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if err := s.machine.Guard(sale.Status, StatusCompleted); err != nil {
			return err
		}
		lines, err = tx.LinesBySale(ctx, saleID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoLines
		}

		inv := tx.Inventory()
		subtotal := decimal.Zero
		for i, line := range lines {
			splits, err := s.engine.Consume(ctx, inv, sale.BranchID, line.ProductID, line.Qty)
			if err != nil {
				return err
			}
			costSum := decimal.Zero
			for _, split := range splits {
				lot, err := s.engine.Debit(ctx, inv, split.Lot, split.Qty)
				if err != nil {
					return err
				}
				if _, err := s.engine.Record(ctx, inv, inventory.MoveSale, lot, split.Qty.Neg(), lot.Cost, sale.ID, sale.DocumentNumber); err != nil {
					return err
				}
				costSum = costSum.Add(split.Qty.Mul(lot.Cost))
			}
			finalPrice := costSum.Div(line.Qty).Mul(Markup).Round(2)
			if err := tx.SetLinePrice(ctx, line.ID, finalPrice); err != nil {
				return err
			}
			lines[i].UnitPrice = finalPrice
			subtotal = subtotal.Add(lines[i].LineTotal())
		}

		tax := decimal.Zero
		if sale.DocumentType == DocTaxCredit {
			tax = subtotal.Mul(TaxRate).Round(2)
		}
		total := subtotal.Add(tax)
		now := time.Now().UTC()
		if err := tx.CompleteSale(ctx, saleID, subtotal, tax, total, now); err != nil {
			return err
		}
		sale.Status = StatusCompleted
		sale.Subtotal = subtotal
		sale.Tax = tax
		sale.Total = total
		sale.CompletedAt = now
		return nil
	})
	if err != nil {
		return Sale{}, nil, err
	}

	s.logger.Info("sale completed",
		slog.Int64("sale_id", sale.ID),
		slog.String("document", sale.DocumentNumber),
		slog.String("total", sale.Total.String()))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "sales:complete",
			Entity:   "sale",
			EntityID: sale.DocumentNumber,
			Meta: map[string]any{
				"sale_id": sale.ID,
				"total":   sale.Total.String(),
			},
		})
	}
	return sale, lines, nil
}

package procurement

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bodega-erp/bodega-erp/internal/inventory"
	"github.com/bodega-erp/bodega-erp/internal/shared"
)

type fakeLotStore struct {
	lots   map[int64]*inventory.Lot
	ledger []inventory.LedgerEntry
	nextID int64
}

func newFakeLotStore() *fakeLotStore {
	return &fakeLotStore{lots: make(map[int64]*inventory.Lot)}
}

func (s *fakeLotStore) AvailableLotsForUpdate(_ context.Context, branchID, productID int64) ([]inventory.Lot, error) {
	var lots []inventory.Lot
	for id := int64(1); id <= s.nextID; id++ {
		lot, ok := s.lots[id]
		if ok && lot.BranchID == branchID && lot.ProductID == productID && lot.Qty.IsPositive() && lot.Active {
			lots = append(lots, *lot)
		}
	}
	return lots, nil
}

func (s *fakeLotStore) LotByBatchForUpdate(_ context.Context, branchID, productID int64, batch uuid.UUID) (inventory.Lot, error) {
	for _, lot := range s.lots {
		if lot.BranchID == branchID && lot.ProductID == productID && lot.Batch == batch && lot.Active {
			return *lot, nil
		}
	}
	return inventory.Lot{}, inventory.ErrLotNotFound
}

func (s *fakeLotStore) InsertLot(_ context.Context, lot inventory.Lot) (int64, error) {
	s.nextID++
	lot.ID = s.nextID
	s.lots[lot.ID] = &lot
	return lot.ID, nil
}

func (s *fakeLotStore) SetLotQty(_ context.Context, lotID int64, qty decimal.Decimal) error {
	lot, ok := s.lots[lotID]
	if !ok {
		return inventory.ErrLotNotFound
	}
	lot.Qty = qty
	return nil
}

func (s *fakeLotStore) InsertLedgerEntry(_ context.Context, entry inventory.LedgerEntry) (int64, error) {
	entry.ID = int64(len(s.ledger) + 1)
	s.ledger = append(s.ledger, entry)
	return entry.ID, nil
}

type fakeRepo struct {
	quotations  map[int64]*Quotation
	orders      map[int64]*BuyOrder
	purchases   map[int64]*Purchase
	lines       map[int64]*PurchaseLine
	lotStore    *fakeLotStore
	nextQID     int64
	nextOrderID int64
	nextPurID   int64
	nextLineID  int64
}

func newFakeRepo(lots *fakeLotStore) *fakeRepo {
	return &fakeRepo{
		quotations: make(map[int64]*Quotation),
		orders:     make(map[int64]*BuyOrder),
		purchases:  make(map[int64]*Purchase),
		lines:      make(map[int64]*PurchaseLine),
		lotStore:   lots,
	}
}

type fakeTx struct {
	repo     *fakeRepo
	approved map[int64]time.Time
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	lotsBackup := make(map[int64]*inventory.Lot, len(r.lotStore.lots))
	for id, lot := range r.lotStore.lots {
		copied := *lot
		lotsBackup[id] = &copied
	}
	ledgerBackup := append([]inventory.LedgerEntry(nil), r.lotStore.ledger...)
	nextIDBackup := r.lotStore.nextID

	tx := &fakeTx{repo: r, approved: make(map[int64]time.Time)}
	if err := fn(ctx, tx); err != nil {
		r.lotStore.lots = lotsBackup
		r.lotStore.ledger = ledgerBackup
		r.lotStore.nextID = nextIDBackup
		return err
	}
	for id, at := range tx.approved {
		r.purchases[id].Status = StatusApproved
		r.purchases[id].ApprovedAt = at
	}
	return nil
}

func (r *fakeRepo) CreateQuotation(_ context.Context, q Quotation, lines []QuotationLine, numberFor func(id int64) string) (Quotation, error) {
	r.nextQID++
	q.ID = r.nextQID
	q.DocumentNumber = numberFor(q.ID)
	q.CreatedAt = time.Now().UTC()
	stored := q
	r.quotations[q.ID] = &stored
	return q, nil
}

func (r *fakeRepo) Quotation(_ context.Context, quotationID int64) (Quotation, error) {
	q, ok := r.quotations[quotationID]
	if !ok {
		return Quotation{}, ErrQuotationNotFound
	}
	return *q, nil
}

func (r *fakeRepo) ApproveQuotation(_ context.Context, quotationID int64) error {
	q, ok := r.quotations[quotationID]
	if !ok {
		return ErrQuotationNotFound
	}
	q.Approved = true
	return nil
}

func (r *fakeRepo) CreateBuyOrder(_ context.Context, order BuyOrder, numberFor func(id int64) string) (BuyOrder, error) {
	r.nextOrderID++
	order.ID = r.nextOrderID
	order.DocumentNumber = numberFor(order.ID)
	order.CreatedAt = time.Now().UTC()
	stored := order
	r.orders[order.ID] = &stored
	return order, nil
}

func (r *fakeRepo) BuyOrder(_ context.Context, orderID int64) (BuyOrder, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return BuyOrder{}, ErrBuyOrderNotFound
	}
	return *o, nil
}

func (r *fakeRepo) ApproveBuyOrder(_ context.Context, orderID int64) error {
	o, ok := r.orders[orderID]
	if !ok {
		return ErrBuyOrderNotFound
	}
	o.Approved = true
	return nil
}

func (r *fakeRepo) CreatePurchase(_ context.Context, p Purchase, lines []PurchaseLine, numberFor func(id int64) string) (Purchase, error) {
	r.nextPurID++
	p.ID = r.nextPurID
	p.Status = StatusPending
	p.DocumentNumber = numberFor(p.ID)
	p.CreatedAt = time.Now().UTC()
	stored := p
	r.purchases[p.ID] = &stored
	for _, line := range lines {
		r.nextLineID++
		line.ID = r.nextLineID
		line.PurchaseID = p.ID
		storedLine := line
		r.lines[line.ID] = &storedLine
	}
	return p, nil
}

func (r *fakeRepo) Purchase(_ context.Context, purchaseID int64) (Purchase, error) {
	p, ok := r.purchases[purchaseID]
	if !ok {
		return Purchase{}, ErrPurchaseNotFound
	}
	return *p, nil
}

func (r *fakeRepo) PurchaseLines(_ context.Context, purchaseID int64) ([]PurchaseLine, error) {
	var lines []PurchaseLine
	for id := int64(1); id <= r.nextLineID; id++ {
		if line, ok := r.lines[id]; ok && line.PurchaseID == purchaseID {
			lines = append(lines, *line)
		}
	}
	return lines, nil
}

func (r *fakeRepo) PurchaseLine(_ context.Context, lineID int64) (PurchaseLine, error) {
	line, ok := r.lines[lineID]
	if !ok {
		return PurchaseLine{}, ErrLineNotFound
	}
	return *line, nil
}

func (r *fakeRepo) SetVerifiedQty(_ context.Context, lineID int64, qty decimal.Decimal) error {
	line, ok := r.lines[lineID]
	if !ok {
		return ErrLineNotFound
	}
	line.VerifiedQty = qty
	return nil
}

func (tx *fakeTx) PurchaseForUpdate(ctx context.Context, purchaseID int64) (Purchase, error) {
	return tx.repo.Purchase(ctx, purchaseID)
}

func (tx *fakeTx) LinesByPurchase(ctx context.Context, purchaseID int64) ([]PurchaseLine, error) {
	return tx.repo.PurchaseLines(ctx, purchaseID)
}

func (tx *fakeTx) MarkPurchaseApproved(_ context.Context, purchaseID int64, at time.Time) error {
	tx.approved[purchaseID] = at
	return nil
}

func (tx *fakeTx) Inventory() inventory.TxRepository {
	return tx.repo.lotStore
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(repo *fakeRepo) *Service {
	engine := inventory.NewEngine(inventory.NewRegistry([]inventory.MovementType{
		{ID: 1, Code: inventory.MovePurchase, Flow: inventory.FlowIn},
	}))
	return NewService(slog.Default(), repo, engine, nil)
}

func approvedPurchaseChain(t *testing.T, svc *Service, lines []PurchaseLineInput) Purchase {
	t.Helper()
	ctx := context.Background()
	quotation, err := svc.CreateQuotation(ctx, 1, []QuotationLineInput{{ProductID: 7, Qty: dec("10"), UnitPrice: dec("4.00")}})
	require.NoError(t, err)
	require.NoError(t, svc.ApproveQuotation(ctx, quotation.ID))
	order, err := svc.CreateBuyOrder(ctx, quotation.ID)
	require.NoError(t, err)
	require.NoError(t, svc.ApproveBuyOrder(ctx, order.ID))
	purchase, err := svc.CreatePurchase(ctx, order.ID, 1, lines)
	require.NoError(t, err)
	return purchase
}

func TestApprovePurchaseCreatesLots(t *testing.T) {
	lots := newFakeLotStore()
	repo := newFakeRepo(lots)
	svc := newTestService(repo)
	ctx := context.Background()

	purchase := approvedPurchaseChain(t, svc, []PurchaseLineInput{
		{ProductID: 7, Qty: dec("10"), UnitPrice: dec("4.00")},
		{ProductID: 8, Qty: dec("6"), UnitPrice: dec("2.50")},
	})
	// counted 9 where 10 were ordered
	lines, err := repo.PurchaseLines(ctx, purchase.ID)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyLine(ctx, lines[0].ID, dec("9")))

	approved, err := svc.ApprovePurchase(ctx, purchase.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)

	require.Len(t, lots.lots, 2)
	first := lots.lots[1]
	require.Equal(t, purchase.Batch, first.Batch)
	require.True(t, first.Qty.Equal(dec("9")), "verified quantity wins, got %s", first.Qty)
	require.True(t, first.Cost.Equal(dec("4.00")))
	second := lots.lots[2]
	require.Equal(t, purchase.Batch, second.Batch)
	require.True(t, second.Qty.Equal(dec("6")))

	require.Len(t, lots.ledger, 2)
	for _, entry := range lots.ledger {
		require.Equal(t, inventory.MovePurchase, entry.MovementCode)
		require.True(t, entry.Qty.IsPositive())
		require.Equal(t, purchase.DocumentNumber, entry.DocumentNumber)
	}
}

func TestBuyOrderRequiresApprovedQuotation(t *testing.T) {
	repo := newFakeRepo(newFakeLotStore())
	svc := newTestService(repo)
	ctx := context.Background()

	quotation, err := svc.CreateQuotation(ctx, 1, []QuotationLineInput{{ProductID: 7, Qty: dec("10"), UnitPrice: dec("4.00")}})
	require.NoError(t, err)
	_, err = svc.CreateBuyOrder(ctx, quotation.ID)
	require.ErrorIs(t, err, ErrQuotationNotApproved)
}

func TestPurchaseRequiresApprovedBuyOrder(t *testing.T) {
	repo := newFakeRepo(newFakeLotStore())
	svc := newTestService(repo)
	ctx := context.Background()

	quotation, err := svc.CreateQuotation(ctx, 1, []QuotationLineInput{{ProductID: 7, Qty: dec("10"), UnitPrice: dec("4.00")}})
	require.NoError(t, err)
	require.NoError(t, svc.ApproveQuotation(ctx, quotation.ID))
	order, err := svc.CreateBuyOrder(ctx, quotation.ID)
	require.NoError(t, err)

	_, err = svc.CreatePurchase(ctx, order.ID, 1, []PurchaseLineInput{{ProductID: 7, Qty: dec("10"), UnitPrice: dec("4.00")}})
	require.ErrorIs(t, err, ErrBuyOrderNotApproved)
}

func TestApprovePurchaseIsTerminal(t *testing.T) {
	lots := newFakeLotStore()
	repo := newFakeRepo(lots)
	svc := newTestService(repo)
	ctx := context.Background()

	purchase := approvedPurchaseChain(t, svc, []PurchaseLineInput{{ProductID: 7, Qty: dec("10"), UnitPrice: dec("4.00")}})
	_, err := svc.ApprovePurchase(ctx, purchase.ID, 1)
	require.NoError(t, err)

	_, err = svc.ApprovePurchase(ctx, purchase.ID, 1)
	require.ErrorIs(t, err, shared.ErrTransitionNotAllowed)
	require.Len(t, lots.ledger, 1)

	lines, err := repo.PurchaseLines(ctx, purchase.ID)
	require.NoError(t, err)
	require.ErrorIs(t, svc.VerifyLine(ctx, lines[0].ID, dec("5")), ErrPurchaseApproved)
}

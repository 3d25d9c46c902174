package transfers

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

func (s *fakeLotStore) seedLot(branchID, productID int64, qty, cost string, createdAt time.Time) *inventory.Lot {
	s.nextID++
	lot := &inventory.Lot{
		ID:          s.nextID,
		EntryNumber: uuid.New(),
		BranchID:    branchID,
		ProductID:   productID,
		Batch:       uuid.New(),
		OriginalQty: dec(qty),
		Qty:         dec(qty),
		Cost:        dec(cost),
		Active:      true,
		CreatedAt:   createdAt,
	}
	s.lots[lot.ID] = lot
	return lot
}

func (s *fakeLotStore) branchLots(branchID int64) []*inventory.Lot {
	var out []*inventory.Lot
	for id := int64(1); id <= s.nextID; id++ {
		if lot, ok := s.lots[id]; ok && lot.BranchID == branchID {
			out = append(out, lot)
		}
	}
	return out
}

func (s *fakeLotStore) AvailableLotsForUpdate(_ context.Context, branchID, productID int64) ([]inventory.Lot, error) {
	var lots []inventory.Lot
	for _, lot := range s.lots {
		if lot.BranchID == branchID && lot.ProductID == productID && lot.Qty.IsPositive() && lot.Active {
			lots = append(lots, *lot)
		}
	}
	for i := 0; i < len(lots); i++ {
		for j := i + 1; j < len(lots); j++ {
			a, b := lots[i], lots[j]
			if b.CreatedAt.Before(a.CreatedAt) || (b.CreatedAt.Equal(a.CreatedAt) && b.ID < a.ID) {
				lots[i], lots[j] = b, a
			}
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
	transfers  map[int64]*Transfer
	lines      map[int64]*TransferLine
	lotStore   *fakeLotStore
	nextTrfID  int64
	nextLineID int64
}

func newFakeRepo(lots *fakeLotStore) *fakeRepo {
	return &fakeRepo{
		transfers: make(map[int64]*Transfer),
		lines:     make(map[int64]*TransferLine),
		lotStore:  lots,
	}
}

type fakeTx struct {
	repo     *fakeRepo
	status   map[int64]*Transfer
	received map[int64]decimal.Decimal
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	lotsBackup := make(map[int64]*inventory.Lot, len(r.lotStore.lots))
	for id, lot := range r.lotStore.lots {
		copied := *lot
		lotsBackup[id] = &copied
	}
	ledgerBackup := append([]inventory.LedgerEntry(nil), r.lotStore.ledger...)
	nextIDBackup := r.lotStore.nextID

	tx := &fakeTx{repo: r, status: make(map[int64]*Transfer), received: make(map[int64]decimal.Decimal)}
	if err := fn(ctx, tx); err != nil {
		r.lotStore.lots = lotsBackup
		r.lotStore.ledger = ledgerBackup
		r.lotStore.nextID = nextIDBackup
		return err
	}
	for id, updated := range tx.status {
		*r.transfers[id] = *updated
	}
	for lineID, qty := range tx.received {
		r.lines[lineID].ReceivedQty = qty
	}
	return nil
}

func (r *fakeRepo) CreateTransfer(_ context.Context, transfer Transfer, numberFor func(id int64) string) (Transfer, error) {
	r.nextTrfID++
	transfer.ID = r.nextTrfID
	transfer.Status = StatusPicking
	transfer.DocumentNumber = numberFor(transfer.ID)
	transfer.CreatedAt = time.Now().UTC()
	stored := transfer
	r.transfers[transfer.ID] = &stored
	return transfer, nil
}

func (r *fakeRepo) Transfer(_ context.Context, transferID int64) (Transfer, error) {
	transfer, ok := r.transfers[transferID]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return *transfer, nil
}

func (r *fakeRepo) Lines(_ context.Context, transferID int64) ([]TransferLine, error) {
	var lines []TransferLine
	for id := int64(1); id <= r.nextLineID; id++ {
		if line, ok := r.lines[id]; ok && line.TransferID == transferID {
			lines = append(lines, *line)
		}
	}
	return lines, nil
}

func (r *fakeRepo) Line(_ context.Context, lineID int64) (TransferLine, error) {
	line, ok := r.lines[lineID]
	if !ok {
		return TransferLine{}, ErrLineNotFound
	}
	return *line, nil
}

func (r *fakeRepo) InsertLine(_ context.Context, line TransferLine) (int64, error) {
	r.nextLineID++
	line.ID = r.nextLineID
	r.lines[line.ID] = &line
	return line.ID, nil
}

func (r *fakeRepo) UpdateLine(_ context.Context, line TransferLine) error {
	if _, ok := r.lines[line.ID]; !ok {
		return ErrLineNotFound
	}
	r.lines[line.ID] = &line
	return nil
}

func (r *fakeRepo) DeleteLine(_ context.Context, lineID int64) error {
	if _, ok := r.lines[lineID]; !ok {
		return ErrLineNotFound
	}
	delete(r.lines, lineID)
	return nil
}

func (r *fakeRepo) VehicleBusy(_ context.Context, vehicleID, excludeTransferID int64) (bool, error) {
	for _, transfer := range r.transfers {
		if transfer.VehicleID == vehicleID && transfer.Status != StatusReceived && transfer.ID != excludeTransferID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *fakeTx) TransferForUpdate(ctx context.Context, transferID int64) (Transfer, error) {
	return tx.repo.Transfer(ctx, transferID)
}

func (tx *fakeTx) LinesByTransfer(ctx context.Context, transferID int64) ([]TransferLine, error) {
	return tx.repo.Lines(ctx, transferID)
}

func (tx *fakeTx) VehicleBusy(ctx context.Context, vehicleID, excludeTransferID int64) (bool, error) {
	return tx.repo.VehicleBusy(ctx, vehicleID, excludeTransferID)
}

func (tx *fakeTx) MarkTransit(_ context.Context, transferID int64, at time.Time) error {
	transfer := *tx.repo.transfers[transferID]
	transfer.Status = StatusTransit
	transfer.DispatchedAt = at
	tx.status[transferID] = &transfer
	return nil
}

func (tx *fakeTx) MarkReceived(_ context.Context, transferID int64, at time.Time) error {
	transfer := *tx.repo.transfers[transferID]
	transfer.Status = StatusReceived
	transfer.ReceivedAt = at
	tx.status[transferID] = &transfer
	return nil
}

func (tx *fakeTx) SetLineReceivedQty(_ context.Context, lineID int64, qty decimal.Decimal) error {
	tx.received[lineID] = qty
	return nil
}

func (tx *fakeTx) Inventory() inventory.TxRepository {
	return tx.repo.lotStore
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testEngine() *inventory.Engine {
	return inventory.NewEngine(inventory.NewRegistry([]inventory.MovementType{
		{ID: 3, Code: inventory.MoveTransferOut, Flow: inventory.FlowOut},
		{ID: 4, Code: inventory.MoveTransferIn, Flow: inventory.FlowIn},
	}))
}

func newTestService(repo *fakeRepo) *Service {
	return NewService(slog.Default(), repo, testEngine(), nil)
}

func TestDispatchMovesStockAcrossBranches(t *testing.T) {
	lots := newFakeLotStore()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	first := lots.seedLot(1, 7, "8", "10.00", base)
	second := lots.seedLot(1, 7, "10", "12.00", base.Add(time.Hour))
	repo := newFakeRepo(lots)
	svc := newTestService(repo)
	ctx := context.Background()

	transfer, err := svc.Create(ctx, CreateTransferInput{SourceBranchID: 1, DestBranchID: 2, VehicleID: 5})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, LineInput{TransferID: transfer.ID, ProductID: 7, SentQty: dec("12")})
	require.NoError(t, err)

	dispatched, err := svc.Dispatch(ctx, transfer.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusTransit, dispatched.Status)

	// source: first lot drained, 6 remain in the second
	require.True(t, lots.lots[first.ID].Qty.IsZero())
	require.True(t, lots.lots[second.ID].Qty.Equal(dec("6")))

	// destination: two lots carrying the same batch and cost
	destLots := lots.branchLots(2)
	require.Len(t, destLots, 2)
	require.Equal(t, first.Batch, destLots[0].Batch)
	require.True(t, destLots[0].Qty.Equal(dec("8")))
	require.True(t, destLots[0].Cost.Equal(dec("10.00")))
	require.Equal(t, second.Batch, destLots[1].Batch)
	require.True(t, destLots[1].Qty.Equal(dec("4")))
	require.True(t, destLots[1].Cost.Equal(dec("12.00")))

	require.Len(t, lots.ledger, 4)
	outs, ins := 0, 0
	for _, entry := range lots.ledger {
		switch entry.MovementCode {
		case inventory.MoveTransferOut:
			outs++
			require.True(t, entry.Qty.IsNegative())
		case inventory.MoveTransferIn:
			ins++
			require.True(t, entry.Qty.IsPositive())
		}
		require.Equal(t, dispatched.DocumentNumber, entry.DocumentNumber)
	}
	require.Equal(t, 2, outs)
	require.Equal(t, 2, ins)
}

func TestDispatchInsufficientStockRollsBack(t *testing.T) {
	lots := newFakeLotStore()
	lot := lots.seedLot(1, 7, "5", "10.00", time.Now().UTC())
	repo := newFakeRepo(lots)
	svc := newTestService(repo)
	ctx := context.Background()

	transfer, err := svc.Create(ctx, CreateTransferInput{SourceBranchID: 1, DestBranchID: 2})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, LineInput{TransferID: transfer.ID, ProductID: 7, SentQty: dec("9")})
	require.NoError(t, err)

	_, err = svc.Dispatch(ctx, transfer.ID, 1)
	var insufficient *inventory.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	got, _ := repo.Transfer(ctx, transfer.ID)
	require.Equal(t, StatusPicking, got.Status)
	require.True(t, lots.lots[lot.ID].Qty.Equal(dec("5")))
	require.Empty(t, lots.branchLots(2))
	require.Empty(t, lots.ledger)
}

func TestCreateRejectsSameBranch(t *testing.T) {
	svc := newTestService(newFakeRepo(newFakeLotStore()))
	_, err := svc.Create(context.Background(), CreateTransferInput{SourceBranchID: 3, DestBranchID: 3})
	require.ErrorIs(t, err, ErrSameBranch)
}

func TestVehicleDoubleBookingRejected(t *testing.T) {
	repo := newFakeRepo(newFakeLotStore())
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateTransferInput{SourceBranchID: 1, DestBranchID: 2, VehicleID: 9})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateTransferInput{SourceBranchID: 2, DestBranchID: 3, VehicleID: 9})
	require.ErrorIs(t, err, ErrVehicleBusy)
}

func TestDispatchRequiresLines(t *testing.T) {
	repo := newFakeRepo(newFakeLotStore())
	svc := newTestService(repo)
	ctx := context.Background()

	transfer, err := svc.Create(ctx, CreateTransferInput{SourceBranchID: 1, DestBranchID: 2})
	require.NoError(t, err)
	_, err = svc.Dispatch(ctx, transfer.ID, 1)
	require.ErrorIs(t, err, ErrNoLines)
}

func TestLifecycleGuards(t *testing.T) {
	lots := newFakeLotStore()
	lots.seedLot(1, 7, "10", "10.00", time.Now().UTC())
	repo := newFakeRepo(lots)
	svc := newTestService(repo)
	ctx := context.Background()

	transfer, err := svc.Create(ctx, CreateTransferInput{SourceBranchID: 1, DestBranchID: 2})
	require.NoError(t, err)
	line, err := svc.AddLine(ctx, LineInput{TransferID: transfer.ID, ProductID: 7, SentQty: dec("4")})
	require.NoError(t, err)

	// cannot receive before dispatch
	_, err = svc.Receive(ctx, transfer.ID, 1, nil)
	require.ErrorIs(t, err, ErrNotTransit)

	_, err = svc.Dispatch(ctx, transfer.ID, 1)
	require.NoError(t, err)

	// lines frozen in transit, no double dispatch
	_, err = svc.AddLine(ctx, LineInput{TransferID: transfer.ID, ProductID: 7, SentQty: dec("1")})
	require.ErrorIs(t, err, ErrNotPicking)
	_, err = svc.Dispatch(ctx, transfer.ID, 1)
	require.ErrorIs(t, err, shared.ErrTransitionNotAllowed)

	received, err := svc.Receive(ctx, transfer.ID, 1, map[int64]decimal.Decimal{line.ID: dec("3")})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.True(t, repo.lines[line.ID].ReceivedQty.Equal(dec("3")))

	// received transfer is fully immutable
	_, err = svc.Receive(ctx, transfer.ID, 1, nil)
	require.ErrorIs(t, err, ErrTransferFrozen)
	_, err = svc.UpdateLine(ctx, line.ID, LineInput{SentQty: dec("2")})
	require.ErrorIs(t, err, ErrTransferFrozen)
}

func TestReceiveDefaultsToSentQty(t *testing.T) {
	lots := newFakeLotStore()
	lots.seedLot(1, 7, "10", "10.00", time.Now().UTC())
	repo := newFakeRepo(lots)
	svc := newTestService(repo)
	ctx := context.Background()

	transfer, err := svc.Create(ctx, CreateTransferInput{SourceBranchID: 1, DestBranchID: 2})
	require.NoError(t, err)
	line, err := svc.AddLine(ctx, LineInput{TransferID: transfer.ID, ProductID: 7, SentQty: dec("6")})
	require.NoError(t, err)
	_, err = svc.Dispatch(ctx, transfer.ID, 1)
	require.NoError(t, err)

	_, err = svc.Receive(ctx, transfer.ID, 1, nil)
	require.NoError(t, err)
	require.True(t, repo.lines[line.ID].ReceivedQty.Equal(dec("6")))
}

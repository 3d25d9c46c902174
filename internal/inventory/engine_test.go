package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	lots       map[int64]*Lot
	ledger     []LedgerEntry
	nextLotID  int64
	nextCardID int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{lots: make(map[int64]*Lot)}
}

func (s *memoryStore) seedLot(branchID, productID int64, qty, cost string, createdAt time.Time) *Lot {
	s.nextLotID++
	lot := &Lot{
		ID:          s.nextLotID,
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

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{store: s})
}

func (s *memoryStore) AvailableLots(ctx context.Context, branchID, productID int64) ([]Lot, error) {
	return (&memoryTx{store: s}).AvailableLotsForUpdate(ctx, branchID, productID)
}

func (s *memoryStore) OldestAvailableLot(ctx context.Context, branchID, productID int64) (Lot, error) {
	lots, _ := s.AvailableLots(ctx, branchID, productID)
	if len(lots) == 0 {
		return Lot{}, ErrLotNotFound
	}
	return lots[0], nil
}

func (s *memoryStore) LedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	out := []LedgerEntry{}
	for _, e := range s.ledger {
		if filter.BranchID != 0 && e.BranchID != filter.BranchID {
			continue
		}
		if filter.ProductID != 0 && e.ProductID != filter.ProductID {
			continue
		}
		if filter.DocumentNumber != "" && e.DocumentNumber != filter.DocumentNumber {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type memoryTx struct {
	store *memoryStore
}

func (tx *memoryTx) AvailableLotsForUpdate(ctx context.Context, branchID, productID int64) ([]Lot, error) {
	var lots []Lot
	for _, lot := range tx.store.lots {
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

func (tx *memoryTx) LotByBatchForUpdate(ctx context.Context, branchID, productID int64, batch uuid.UUID) (Lot, error) {
	for _, lot := range tx.store.lots {
		if lot.BranchID == branchID && lot.ProductID == productID && lot.Batch == batch && lot.Active {
			return *lot, nil
		}
	}
	return Lot{}, ErrLotNotFound
}

func (tx *memoryTx) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	tx.store.nextLotID++
	lot.ID = tx.store.nextLotID
	tx.store.lots[lot.ID] = &lot
	return lot.ID, nil
}

func (tx *memoryTx) SetLotQty(ctx context.Context, lotID int64, qty decimal.Decimal) error {
	lot, ok := tx.store.lots[lotID]
	if !ok {
		return ErrLotNotFound
	}
	lot.Qty = qty
	return nil
}

func (tx *memoryTx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	tx.store.nextCardID++
	entry.ID = tx.store.nextCardID
	tx.store.ledger = append(tx.store.ledger, entry)
	return entry.ID, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testRegistry() *Registry {
	return NewRegistry([]MovementType{
		{ID: 1, Code: MovePurchase, Name: "Purchase", Flow: FlowIn},
		{ID: 2, Code: MoveSale, Name: "Sale", Flow: FlowOut},
		{ID: 3, Code: MoveTransferOut, Name: "Transfer out", Flow: FlowOut},
		{ID: 4, Code: MoveTransferIn, Name: "Transfer in", Flow: FlowIn},
		{ID: 5, Code: MoveAdjustmentPos, Name: "Adjustment in", Flow: FlowIn},
		{ID: 6, Code: MoveAdjustmentNeg, Name: "Adjustment out", Flow: FlowOut},
	})
}

func TestConsumeSplitsOldestFirst(t *testing.T) {
	store := newMemoryStore()
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	first := store.seedLot(1, 7, "5", "2.00", base)
	second := store.seedLot(1, 7, "10", "3.00", base.Add(time.Hour))
	engine := NewEngine(testRegistry())
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		splits, err := engine.Consume(ctx, tx, 1, 7, dec("10"))
		require.NoError(t, err)
		require.Len(t, splits, 2)
		require.Equal(t, first.ID, splits[0].Lot.ID)
		require.True(t, splits[0].Qty.Equal(dec("5")))
		require.Equal(t, second.ID, splits[1].Lot.ID)
		require.True(t, splits[1].Qty.Equal(dec("5")))
		return nil
	})
	require.NoError(t, err)
}

func TestConsumeInsufficientStock(t *testing.T) {
	store := newMemoryStore()
	store.seedLot(1, 7, "4", "2.00", time.Now().UTC())
	engine := NewEngine(testRegistry())
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := engine.Consume(ctx, tx, 1, 7, dec("10"))
		return err
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.Equal(dec("4")))
	require.True(t, insufficient.Required.Equal(dec("10")))
	// nothing was mutated
	lots, err := store.AvailableLots(ctx, 1, 7)
	require.NoError(t, err)
	require.True(t, lots[0].Qty.Equal(dec("4")))
}

func TestConsumeTieBreaksByLotID(t *testing.T) {
	store := newMemoryStore()
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	first := store.seedLot(2, 9, "3", "1.00", at)
	store.seedLot(2, 9, "3", "1.50", at)
	engine := NewEngine(testRegistry())

	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		splits, err := engine.Consume(ctx, tx, 2, 9, dec("2"))
		require.NoError(t, err)
		require.Len(t, splits, 1)
		require.Equal(t, first.ID, splits[0].Lot.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestDebitRejectsOverdraft(t *testing.T) {
	store := newMemoryStore()
	lot := store.seedLot(1, 1, "2", "5.00", time.Now().UTC())
	engine := NewEngine(testRegistry())

	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := engine.Debit(ctx, tx, *lot, dec("3"))
		return err
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, lot.Qty.Equal(dec("2")))
}

func TestCreditOrCreatePreservesBatchAndCost(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(testRegistry())
	batch := uuid.New()
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := engine.CreditOrCreate(ctx, tx, 1, 3, batch, dec("6"), dec("10.5000"))
		require.NoError(t, err)
		require.True(t, created.OriginalQty.Equal(dec("6")))

		// same batch at another branch keeps the cost lineage
		moved, err := engine.CreditOrCreate(ctx, tx, 2, 3, batch, dec("4"), created.Cost)
		require.NoError(t, err)
		require.Equal(t, batch, moved.Batch)
		require.True(t, moved.Cost.Equal(dec("10.5000")))

		// crediting the existing lot only raises the balance
		again, err := engine.CreditOrCreate(ctx, tx, 2, 3, batch, dec("1"), dec("99"))
		require.NoError(t, err)
		require.Equal(t, moved.ID, again.ID)
		require.True(t, again.Qty.Equal(dec("5")))
		require.True(t, again.OriginalQty.Equal(dec("4")))
		return nil
	})
	require.NoError(t, err)
}

func TestRecordEnforcesFlowSign(t *testing.T) {
	store := newMemoryStore()
	lot := store.seedLot(1, 1, "5", "2.00", time.Now().UTC())
	engine := NewEngine(testRegistry())

	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := engine.Record(ctx, tx, MoveSale, *lot, dec("5"), lot.Cost, 0, "SLE-1")
		require.ErrorIs(t, err, ErrMovementSign)

		_, err = engine.Record(ctx, tx, MovePurchase, *lot, dec("-5"), lot.Cost, 0, "PUR-1")
		require.ErrorIs(t, err, ErrMovementSign)

		entry, err := engine.Record(ctx, tx, MoveSale, *lot, dec("-5"), lot.Cost, 42, "SLE-1")
		require.NoError(t, err)
		require.Equal(t, MoveSale, entry.MovementCode)
		require.Equal(t, int64(42), entry.TransactionID)
		return nil
	})
	require.NoError(t, err)
}

func TestRecordMissingMovementType(t *testing.T) {
	store := newMemoryStore()
	lot := store.seedLot(1, 1, "5", "2.00", time.Now().UTC())
	engine := NewEngine(NewRegistry(nil))

	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := engine.Record(ctx, tx, MoveSale, *lot, dec("-1"), lot.Cost, 0, "SLE-1")
		return err
	})
	var missing *MissingMovementTypeError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, MoveSale, missing.Code)
}

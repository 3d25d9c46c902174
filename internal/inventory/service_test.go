package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostAdjustmentPositiveCreatesLot(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, NewEngine(testRegistry()), nil, nil)
	ctx := context.Background()

	entries, err := svc.PostAdjustment(ctx, AdjustmentInput{
		BranchID:       1,
		ProductID:      7,
		Qty:            dec("5"),
		Cost:           dec("3.25"),
		DocumentNumber: "ADJ-0001",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, MoveAdjustmentPos, entries[0].MovementCode)
	require.True(t, entries[0].Qty.Equal(dec("5")))

	lots, err := svc.AvailableLots(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.True(t, lots[0].Qty.Equal(dec("5")))
	require.True(t, lots[0].Cost.Equal(dec("3.25")))
}

func TestPostAdjustmentNegativeDrainsFIFO(t *testing.T) {
	store := newMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.seedLot(1, 7, "4", "2.00", base)
	store.seedLot(1, 7, "10", "3.00", base.Add(time.Hour))
	svc := NewService(store, NewEngine(testRegistry()), nil, nil)
	ctx := context.Background()

	entries, err := svc.PostAdjustment(ctx, AdjustmentInput{
		BranchID:       1,
		ProductID:      7,
		Qty:            dec("-6"),
		DocumentNumber: "ADJ-0002",
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, MoveAdjustmentNeg, entries[0].MovementCode)
	require.True(t, entries[0].Qty.Equal(dec("-4")))
	require.True(t, entries[0].Cost.Equal(dec("2.00")))
	require.True(t, entries[1].Qty.Equal(dec("-2")))
	require.True(t, entries[1].Cost.Equal(dec("3.00")))

	lots, err := svc.AvailableLots(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.True(t, lots[0].Qty.Equal(dec("8")))
}

func TestPostAdjustmentInsufficientStockLeavesStateUntouched(t *testing.T) {
	store := newMemoryStore()
	store.seedLot(1, 7, "4", "2.00", time.Now().UTC())
	svc := NewService(store, NewEngine(testRegistry()), nil, nil)
	ctx := context.Background()

	_, err := svc.PostAdjustment(ctx, AdjustmentInput{
		BranchID:       1,
		ProductID:      7,
		Qty:            dec("-9"),
		DocumentNumber: "ADJ-0003",
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	lots, err := svc.AvailableLots(ctx, 1, 7)
	require.NoError(t, err)
	require.True(t, lots[0].Qty.Equal(dec("4")))
	require.Empty(t, store.ledger)
}

func TestPostAdjustmentRejectsZeroQty(t *testing.T) {
	svc := NewService(newMemoryStore(), NewEngine(testRegistry()), nil, nil)
	_, err := svc.PostAdjustment(context.Background(), AdjustmentInput{BranchID: 1, ProductID: 1})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

package proration

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	prorations map[int64]*Proration
	items      map[int64]*Item
	expenses   map[int64]*ExpenseLine
	nextProID  int64
	nextItemID int64
	nextExpID  int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		prorations: make(map[int64]*Proration),
		items:      make(map[int64]*Item),
		expenses:   make(map[int64]*ExpenseLine),
	}
}

type fakeTx struct {
	repo *fakeRepo
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &fakeTx{repo: r})
}

func (r *fakeRepo) CreateProration(_ context.Context, p Proration, items []Item) (Proration, error) {
	r.nextProID++
	p.ID = r.nextProID
	p.CreatedAt = time.Now().UTC()
	stored := p
	r.prorations[p.ID] = &stored
	for _, item := range items {
		r.nextItemID++
		item.ID = r.nextItemID
		item.ProrationID = p.ID
		storedItem := item
		r.items[item.ID] = &storedItem
	}
	return p, nil
}

func (r *fakeRepo) Proration(_ context.Context, prorationID int64) (Proration, error) {
	p, ok := r.prorations[prorationID]
	if !ok {
		return Proration{}, ErrProrationNotFound
	}
	return *p, nil
}

func (r *fakeRepo) Items(_ context.Context, prorationID int64) ([]Item, error) {
	var items []Item
	for id := int64(1); id <= r.nextItemID; id++ {
		if item, ok := r.items[id]; ok && item.ProrationID == prorationID {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (r *fakeRepo) Expenses(_ context.Context, prorationID int64) ([]ExpenseLine, error) {
	var lines []ExpenseLine
	for id := int64(1); id <= r.nextExpID; id++ {
		if line, ok := r.expenses[id]; ok && line.ProrationID == prorationID {
			lines = append(lines, *line)
		}
	}
	return lines, nil
}

func (r *fakeRepo) AddExpense(_ context.Context, line ExpenseLine) (int64, error) {
	r.nextExpID++
	line.ID = r.nextExpID
	r.expenses[line.ID] = &line
	return line.ID, nil
}

func (r *fakeRepo) UpdateExpense(_ context.Context, lineID int64, amount decimal.Decimal, includable bool) error {
	line, ok := r.expenses[lineID]
	if !ok {
		return ErrExpenseNotFound
	}
	line.Amount = amount
	line.Includable = includable
	return nil
}

func (tx *fakeTx) ProrationForUpdate(ctx context.Context, prorationID int64) (Proration, error) {
	return tx.repo.Proration(ctx, prorationID)
}

func (tx *fakeTx) ItemsByProration(ctx context.Context, prorationID int64) ([]Item, error) {
	return tx.repo.Items(ctx, prorationID)
}

func (tx *fakeTx) ExpensesByProration(ctx context.Context, prorationID int64) ([]ExpenseLine, error) {
	return tx.repo.Expenses(ctx, prorationID)
}

func (tx *fakeTx) SetTotals(_ context.Context, prorationID int64, totalFOB, freight, dai, other decimal.Decimal) error {
	p := tx.repo.prorations[prorationID]
	p.TotalFOB = totalFOB
	p.TotalFreight = freight
	p.TotalDAI = dai
	p.TotalOther = other
	return nil
}

func (tx *fakeTx) SetItemOutputs(_ context.Context, item Item) error {
	stored, ok := tx.repo.items[item.ID]
	if !ok {
		return ErrProrationNotFound
	}
	*stored = item
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRunAllocatesByFOBShare(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(slog.Default(), repo, nil)
	ctx := context.Background()

	// total fob 1000: item A 400 (4 x 100), item B 600 (6 x 100)
	p, err := svc.Create(ctx, 1, []ItemInput{
		{ProductID: 7, Qty: dec("4"), FOBUnitValue: dec("100")},
		{ProductID: 8, Qty: dec("6"), FOBUnitValue: dec("100")},
	})
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, p.ID, ExpenseInput{Category: ExpenseFreight, Amount: dec("100"), Includable: true})
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, p.ID, ExpenseInput{Category: ExpenseDAI, Amount: dec("50"), Includable: true})
	require.NoError(t, err)

	result, items, err := svc.Run(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, result.TotalFOB.Equal(dec("1000")))
	require.True(t, result.TotalFreight.Equal(dec("100")))
	require.True(t, result.TotalDAI.Equal(dec("50")))

	require.Len(t, items, 2)
	first := items[0]
	require.True(t, first.CostPercentage.Equal(dec("40")), "got %s", first.CostPercentage)
	require.True(t, first.AllocatedFreight.Equal(dec("40")))
	require.True(t, first.AllocatedDAI.Equal(dec("20")))
	// (400 + 40 + 20) / 4 = 115
	require.True(t, first.ProratedUnitCost.Equal(dec("115")), "got %s", first.ProratedUnitCost)

	second := items[1]
	require.True(t, second.CostPercentage.Equal(dec("60")))
	require.True(t, second.ProratedUnitCost.Equal(dec("115")))
}

func TestRunIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(slog.Default(), repo, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, 1, []ItemInput{
		{ProductID: 7, Qty: dec("3"), FOBUnitValue: dec("50.25")},
		{ProductID: 8, Qty: dec("7"), FOBUnitValue: dec("12.80")},
	})
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, p.ID, ExpenseInput{Category: ExpenseOther, Amount: dec("33.33"), Includable: true})
	require.NoError(t, err)

	_, firstRun, err := svc.Run(ctx, p.ID, 1)
	require.NoError(t, err)
	_, secondRun, err := svc.Run(ctx, p.ID, 1)
	require.NoError(t, err)

	require.Len(t, secondRun, len(firstRun))
	for i := range firstRun {
		require.True(t, firstRun[i].ProratedUnitCost.Equal(secondRun[i].ProratedUnitCost))
		require.True(t, firstRun[i].CostPercentage.Equal(secondRun[i].CostPercentage))
		require.True(t, firstRun[i].AllocatedOther.Equal(secondRun[i].AllocatedOther))
	}
}

func TestRunExcludedExpensesIgnored(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(slog.Default(), repo, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, 1, []ItemInput{{ProductID: 7, Qty: dec("10"), FOBUnitValue: dec("10")}})
	require.NoError(t, err)
	line, err := svc.AddExpense(ctx, p.ID, ExpenseInput{Category: ExpenseFreight, Amount: dec("100"), Includable: false})
	require.NoError(t, err)

	result, items, err := svc.Run(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, result.TotalFreight.IsZero())
	require.True(t, items[0].AllocatedFreight.IsZero())
	// unit cost is pure fob: 100 / 10
	require.True(t, items[0].ProratedUnitCost.Equal(dec("10")))

	// including the line and re-running picks it up
	require.NoError(t, svc.UpdateExpense(ctx, line.ID, dec("100"), true))
	result, items, err = svc.Run(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, result.TotalFreight.Equal(dec("100")))
	require.True(t, items[0].ProratedUnitCost.Equal(dec("20")))
}

func TestRunZeroFOBZeroesOutputs(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(slog.Default(), repo, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, 1, []ItemInput{{ProductID: 7, Qty: dec("5"), FOBUnitValue: dec("0")}})
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, p.ID, ExpenseInput{Category: ExpenseFreight, Amount: dec("80"), Includable: true})
	require.NoError(t, err)

	result, items, err := svc.Run(ctx, p.ID, 1)
	require.NoError(t, err)
	require.True(t, result.TotalFOB.IsZero())
	require.True(t, items[0].CostPercentage.IsZero())
	require.True(t, items[0].AllocatedFreight.IsZero())
	require.True(t, items[0].ProratedUnitCost.IsZero())
}

func TestAddExpenseRejectsUnknownCategory(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(slog.Default(), repo, nil)
	ctx := context.Background()

	p, err := svc.Create(ctx, 1, []ItemInput{{ProductID: 7, Qty: dec("5"), FOBUnitValue: dec("10")}})
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, p.ID, ExpenseInput{Category: "INSURANCE", Amount: dec("10"), Includable: true})
	require.ErrorIs(t, err, ErrInvalidCategory)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donationcore/internal/infra/persistence/memory"
	"donationcore/pkg/domain"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	var seq atomic.Int64
	fixed := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	e := NewEngine(store,
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }),
	)
	return e, store
}

func intake(t *testing.T, e *Engine, qty string) domain.StockIntake {
	t.Helper()
	in, err := e.RegisterIntake(context.Background(), "inst-1", IntakeInput{CategoryID: "arroz", Quantity: dec(qty)})
	require.NoError(t, err)
	return in
}

func withdraw(e *Engine, intakeID, qty string) (domain.StockWithdrawal, error) {
	return e.RegisterWithdrawal(context.Background(), "inst-1", WithdrawalInput{IntakeID: intakeID, Quantity: dec(qty), Recipient: "Família Alves"})
}

func TestComputeAvailable(t *testing.T) {
	in := domain.StockIntake{Base: domain.Base{ID: "a"}, Quantity: decimal.RequireFromString("10")}
	ws := []domain.StockWithdrawal{
		{IntakeID: "a", QuantityWithdrawn: decimal.RequireFromString("0.1")},
		{IntakeID: "a", QuantityWithdrawn: decimal.RequireFromString("0.2")},
		{IntakeID: "b", QuantityWithdrawn: decimal.RequireFromString("5")},
	}
	got := ComputeAvailable(in, ws)
	assert.True(t, decimal.RequireFromString("9.7").Equal(got), got.String())
	assert.True(t, in.Quantity.Equal(ComputeAvailable(in, nil)))
}

func TestRegisterIntakeDefaults(t *testing.T) {
	e, _ := newEngine(t)
	in := intake(t, e, "12.5")
	assert.Equal(t, "id-001", in.ID)
	assert.Equal(t, domain.AnonymousOrigin, in.Origin)
	assert.Equal(t, in.CreatedAt, in.RecordedAt)

	recorded := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	in, err := e.RegisterIntake(context.Background(), "inst-1", IntakeInput{
		CategoryID: " cestas ", Quantity: dec("3"), Origin: "Supermercado Bom Preço", RecordedAt: recorded,
	})
	require.NoError(t, err)
	assert.Equal(t, "cestas", in.CategoryID)
	assert.Equal(t, "Supermercado Bom Preço", in.Origin)
	assert.Equal(t, recorded, in.RecordedAt)
}

func TestRegisterIntakeValidation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	_, err := e.RegisterIntake(ctx, "", IntakeInput{CategoryID: "x", Quantity: dec("1")})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	for name, in := range map[string]IntakeInput{
		"no category": {Quantity: dec("1")},
		"no quantity": {CategoryID: "x"},
		"zero":        {CategoryID: "x", Quantity: dec("0")},
		"negative":    {CategoryID: "x", Quantity: dec("-2")},
		"tiny scale":  {CategoryID: "x", Quantity: dec("1e-30000000")},
		"huge":        {CategoryID: "x", Quantity: dec("1e30000000")},
	} {
		_, err := e.RegisterIntake(ctx, "inst-1", in)
		require.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}
}

func TestWithdrawExactlyAvailable(t *testing.T) {
	e, _ := newEngine(t)
	in := intake(t, e, "100")
	_, err := withdraw(e, in.ID, "10")
	require.NoError(t, err)
	_, err = withdraw(e, in.ID, "90")
	require.NoError(t, err)
	avail, err := e.Available(context.Background(), "inst-1", in.ID)
	require.NoError(t, err)
	assert.True(t, avail.IsZero())
}

func TestWithdrawBeyondAvailableByACent(t *testing.T) {
	e, _ := newEngine(t)
	in := intake(t, e, "10.50")
	_, err := withdraw(e, in.ID, "10.51")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stock *domain.InsufficientStockError
	require.True(t, errors.As(err, &stock))
	assert.Equal(t, "10.51", stock.Requested.String())
	assert.Equal(t, "10.5", stock.Available.String())
	assert.Equal(t, "A quantidade solicitada (10.51) é maior que o estoque disponível (10.5).", err.Error())

	ws, err := e.ListWithdrawals(context.Background(), "inst-1", in.ID)
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestFractionalWithdrawalsStayExact(t *testing.T) {
	e, _ := newEngine(t)
	in := intake(t, e, "0.3")
	for i := 0; i < 3; i++ {
		_, err := withdraw(e, in.ID, "0.1")
		require.NoError(t, err)
	}
	level, err := e.Level(context.Background(), "inst-1", in.ID)
	require.NoError(t, err)
	assert.True(t, level.Available.IsZero(), level.Available.String())
	assert.True(t, decimal.RequireFromString("0.3").Equal(level.Withdrawn))
	_, err = withdraw(e, in.ID, "0.0001")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestWithdrawalValidationRunsBeforeStore(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	cases := map[string]WithdrawalInput{
		"no intake":    {Quantity: dec("1"), Recipient: "r"},
		"no quantity":  {IntakeID: "missing", Recipient: "r"},
		"zero":         {IntakeID: "missing", Quantity: dec("0"), Recipient: "r"},
		"negative":     {IntakeID: "missing", Quantity: dec("-1"), Recipient: "r"},
		"no recipient": {IntakeID: "missing", Quantity: dec("1"), Recipient: "  "},
		"tiny scale":   {IntakeID: "missing", Quantity: dec("1e-30000000"), Recipient: "r"},
		"seven places": {IntakeID: "missing", Quantity: dec("0.0000001"), Recipient: "r"},
	}
	for name, in := range cases {
		_, err := e.RegisterWithdrawal(ctx, "inst-1", in)
		// An unknown intake would yield NotFound if the store were consulted.
		require.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}
	_, err := e.RegisterWithdrawal(ctx, "", WithdrawalInput{IntakeID: "x", Quantity: dec("1"), Recipient: "r"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestWithdrawalScopedToOwner(t *testing.T) {
	e, _ := newEngine(t)
	in := intake(t, e, "5")
	_, err := e.RegisterWithdrawal(context.Background(), "inst-2", WithdrawalInput{IntakeID: in.ID, Quantity: dec("1"), Recipient: "r"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.Level(context.Background(), "inst-2", in.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	levels, err := e.InventoryLevels(context.Background(), "inst-2")
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestConcurrentWithdrawalsNeverExceedIntake(t *testing.T) {
	e, _ := newEngine(t)
	in := intake(t, e, "100")

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := withdraw(e, in.ID, "3")
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 33, accepted.Load())
	assert.EqualValues(t, 17, rejected.Load())

	level, err := e.Level(context.Background(), "inst-1", in.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", level.Available.String())
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) AppendWithdrawal(context.Context, string, domain.StockWithdrawal, domain.WithdrawalGuard) (domain.StockWithdrawal, error) {
	return domain.StockWithdrawal{}, errors.New("connection reset")
}

func TestStoreFailuresAreInternal(t *testing.T) {
	store := brokenStore{memory.NewStore()}
	e := NewEngine(store)
	in, err := e.RegisterIntake(context.Background(), "inst-1", IntakeInput{CategoryID: "x", Quantity: dec("1")})
	require.NoError(t, err)
	_, err = e.RegisterWithdrawal(context.Background(), "inst-1", WithdrawalInput{IntakeID: in.ID, Quantity: dec("1"), Recipient: "r"})
	require.ErrorIs(t, err, domain.ErrInternal)
	assert.Contains(t, err.Error(), "connection reset")
}

package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/core"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/model"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDenom = "ucollateral"

var testParams = LedgerParams{Denom: testDenom, LTVBps: 5000}

func coins(amount uint64, denom string) model.Coins {
	return model.Coins{model.NewCoin(amount, denom)}
}

func newTestLedger(t *testing.T) (core.Ledger, repository.Store) {
	t.Helper()
	store := repository.NewMemoryStore()
	ledger, err := NewLedgerService(store, testParams, nil, nil)
	require.NoError(t, err)
	return ledger, store
}

func newInitializedLedger(t *testing.T) (core.Ledger, repository.Store) {
	t.Helper()
	ledger, store := newTestLedger(t)
	_, err := ledger.Initialize(context.Background(), "creator", coins(1000, testDenom))
	require.NoError(t, err)
	return ledger, store
}

func TestNewLedgerServiceValidatesParams(t *testing.T) {
	store := repository.NewMemoryStore()

	_, err := NewLedgerService(store, LedgerParams{Denom: "", LTVBps: 5000}, nil, nil)
	require.Error(t, err)
	_, err = NewLedgerService(store, LedgerParams{Denom: testDenom, LTVBps: 0}, nil, nil)
	require.Error(t, err)
	_, err = NewLedgerService(store, LedgerParams{Denom: testDenom, LTVBps: 10_001}, nil, nil)
	require.Error(t, err)
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		funds   model.Coins
		wantErr error
	}{
		{"single coin of denom", coins(1000, testDenom), nil},
		{"zero amount", coins(0, testDenom), ErrInvalidInstantiation},
		{"second entry with zero amount", model.Coins{model.NewCoin(100, testDenom), model.NewCoin(0, "uluna")}, ErrInvalidInstantiation},
		{"no funds", model.Coins{}, ErrInvalidInstantiation},
		{"wrong denom", coins(1000, "uluna"), ErrInvalidInstantiation},
		{"two coins", model.Coins{model.NewCoin(10, testDenom), model.NewCoin(10, "uluna")}, ErrInvalidInstantiation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ledger, store := newTestLedger(t)

			resp, err := ledger.Initialize(ctx, "creator", tt.funds)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				cfg, err := store.LoadConfig(ctx)
				require.NoError(t, err)
				assert.Nil(t, cfg, "failed instantiation must leave the ledger uninitialized")
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, resp.TxID)
			assert.Contains(t, resp.Attributes, model.Attribute{Key: "method", Value: "instantiate"})

			cfg, err := ledger.GetConfig(ctx)
			require.NoError(t, err)
			assert.Equal(t, testDenom, cfg.Denom)
			assert.Equal(t, uint64(5000), cfg.LTVBps)
			assert.Equal(t, "creator", cfg.Owner)
		})
	}
}

func TestInitializeTwice(t *testing.T) {
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Initialize(context.Background(), "mallory", coins(1, testDenom))
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	cfg, err := ledger.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "creator", cfg.Owner)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.Deposit(ctx, "alice", coins(100, testDenom))
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(1), nil)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = ledger.GetBalance(ctx, "alice")
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = ledger.GetDebt(ctx, "alice")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestDepositSuccess(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	resp, err := ledger.Deposit(ctx, "alice", coins(100, testDenom))
	require.NoError(t, err)
	assert.Contains(t, resp.Attributes, model.Attribute{Key: "method", Value: "deposit"})
	assert.Contains(t, resp.Attributes, model.Attribute{Key: "amount", Value: "100"})

	balance, err := ledger.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.NewCoin(100, testDenom), balance.Amount)

	_, err = ledger.Deposit(ctx, "alice", coins(50, testDenom))
	require.NoError(t, err)

	balance, err = ledger.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.NewAmount(150), balance.Amount.Amount)

	debt, err := ledger.GetDebt(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, debt.Amount.IsZero())
}

func TestDepositFailure(t *testing.T) {
	tests := []struct {
		name  string
		funds model.Coins
	}{
		{"other denom", coins(10, "uluna")},
		{"no funds", nil},
		{"zero amount", coins(0, testDenom)},
		{"second entry with zero amount", model.Coins{model.NewCoin(100, testDenom), model.NewCoin(0, "uluna")}},
		{"zero entry of denom first", model.Coins{model.NewCoin(0, testDenom), model.NewCoin(100, testDenom)}},
		{"valid plus other token", model.Coins{model.NewCoin(10, testDenom), model.NewCoin(10, "uluna")}},
		{"denom twice", model.Coins{model.NewCoin(10, testDenom), model.NewCoin(10, testDenom)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ledger, store := newInitializedLedger(t)

			_, err := ledger.Deposit(ctx, "bob", tt.funds)
			require.ErrorIs(t, err, ErrInvalidDeposit)
			assert.EqualError(t, err, "Invalid deposit!")

			balance, err := ledger.GetBalance(ctx, "bob")
			require.NoError(t, err)
			assert.True(t, balance.Amount.Amount.IsZero())

			acc, err := store.GetAccount(ctx, "bob")
			require.NoError(t, err)
			assert.Nil(t, acc)
		})
	}
}

func TestDepositOverflow(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	ceiling := model.MustParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	_, err := ledger.Deposit(ctx, "alice", model.Coins{{Denom: testDenom, Amount: ceiling}})
	require.NoError(t, err)

	_, err = ledger.Deposit(ctx, "alice", coins(1, testDenom))
	require.ErrorIs(t, err, ErrAmountOverflow)

	balance, err := ledger.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ceiling, balance.Amount.Amount)
}

func TestBorrowSuccess(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Deposit(ctx, "alice", coins(1000, testDenom))
	require.NoError(t, err)

	resp, err := ledger.Borrow(ctx, "alice", model.NewAmount(500), model.Coins{})
	require.NoError(t, err)
	assert.Contains(t, resp.Attributes, model.Attribute{Key: "method", Value: "borrow"})

	debt, err := ledger.GetDebt(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.NewAmount(500), debt.Amount)
}

func TestBorrowFail(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Deposit(ctx, "bob", coins(1000, testDenom))
	require.NoError(t, err)

	_, err = ledger.Borrow(ctx, "bob", model.NewAmount(501), model.Coins{})
	require.ErrorIs(t, err, ErrBorrowTooMuch)
	assert.EqualError(t, err, "Borrow too much!")

	acc, err := ledger.GetAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.NewAmount(1000), acc.Balance.Amount)
	assert.True(t, acc.Debt.IsZero())
	assert.Equal(t, model.NewAmount(500), acc.Borrowable)
}

func TestBorrowAccumulatesDebt(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Deposit(ctx, "alice", coins(1000, testDenom))
	require.NoError(t, err)

	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(200), nil)
	require.NoError(t, err)
	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(300), nil)
	require.NoError(t, err)

	debt, err := ledger.GetDebt(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.NewAmount(500), debt.Amount)

	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(300), nil)
	require.ErrorIs(t, err, ErrBorrowTooMuch)
	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(1), nil)
	require.ErrorIs(t, err, ErrBorrowTooMuch)

	debt, err = ledger.GetDebt(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.NewAmount(500), debt.Amount)
}

func TestBorrowCapacityGrowsWithDeposit(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Deposit(ctx, "alice", coins(1000, testDenom))
	require.NoError(t, err)
	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(500), nil)
	require.NoError(t, err)

	_, err = ledger.Deposit(ctx, "alice", coins(1, testDenom))
	require.NoError(t, err)
	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(1), nil)
	require.ErrorIs(t, err, ErrBorrowTooMuch, "floor(1001 * 0.5) is still 500")

	_, err = ledger.Deposit(ctx, "alice", coins(1, testDenom))
	require.NoError(t, err)
	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(1), nil)
	require.NoError(t, err)
}

func TestBorrowWithoutDeposit(t *testing.T) {
	ctx := context.Background()
	ledger, store := newInitializedLedger(t)

	_, err := ledger.Borrow(ctx, "carol", model.NewAmount(1), nil)
	require.ErrorIs(t, err, ErrBorrowTooMuch)

	_, err = ledger.Borrow(ctx, "carol", model.NewAmount(0), nil)
	require.NoError(t, err)

	acc, err := store.GetAccount(ctx, "carol")
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestBorrowRejectsAttachedFunds(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Deposit(ctx, "alice", coins(1000, testDenom))
	require.NoError(t, err)

	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(100), coins(5, testDenom))
	require.ErrorIs(t, err, ErrFundsNotAccepted)

	_, err = ledger.Borrow(ctx, "alice", model.NewAmount(100), coins(0, testDenom))
	require.ErrorIs(t, err, ErrFundsNotAccepted)

	debt, err := ledger.GetDebt(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, debt.Amount.IsZero())
}

func TestAccountsAreIsolated(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Deposit(ctx, "alice", coins(1000, testDenom))
	require.NoError(t, err)

	_, err = ledger.Borrow(ctx, "bob", model.NewAmount(1), nil)
	require.ErrorIs(t, err, ErrBorrowTooMuch)

	balance, err := ledger.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, balance.Amount.Amount.IsZero())
}

func TestInvalidAddress(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Deposit(ctx, " ", coins(10, testDenom))
	require.ErrorIs(t, err, ErrInvalidAddress)
	_, err = ledger.GetBalance(ctx, "")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

// Random operation sequences never break debt <= floor(balance * ltv).
func TestSolvencyInvariant(t *testing.T) {
	ctx := context.Background()
	ledger, store := newInitializedLedger(t)
	rng := rand.New(rand.NewSource(42))
	users := []string{"alice", "bob", "carol"}

	for i := 0; i < 2000; i++ {
		user := users[rng.Intn(len(users))]
		if rng.Intn(3) == 0 {
			_, err := ledger.Deposit(ctx, user, coins(uint64(rng.Intn(100)), testDenom))
			if err != nil {
				require.ErrorIs(t, err, ErrInvalidDeposit)
			}
		} else {
			_, err := ledger.Borrow(ctx, user, model.NewAmount(uint64(rng.Intn(60))), nil)
			if err != nil {
				require.ErrorIs(t, err, ErrBorrowTooMuch)
			}
		}

		acc, err := store.GetAccount(ctx, user)
		require.NoError(t, err)
		if acc != nil {
			require.True(t, acc.Solvent(testParams.LTVBps), "step %d: %s debt %s balance %s",
				i, user, acc.Debt, acc.Balance)
		}
	}
}

func TestConcurrentBorrowsNeverExceedLimit(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newInitializedLedger(t)

	_, err := ledger.Deposit(ctx, "alice", coins(1000, testDenom))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Borrow(ctx, "alice", model.NewAmount(30), nil); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, succeeded)
	debt, err := ledger.GetDebt(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.NewAmount(480), debt.Amount)
}

func TestMetricsRecordOutcomes(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	ledger, err := NewLedgerService(repository.NewMemoryStore(), testParams, metrics, nil)
	require.NoError(t, err)

	_, err = ledger.Initialize(ctx, "creator", coins(1000, testDenom))
	require.NoError(t, err)
	_, err = ledger.Deposit(ctx, "alice", coins(10, "uluna"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("instantiate", outcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("deposit", outcomeRejected)))
}

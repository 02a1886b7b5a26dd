package portfolio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didac-crst/mockexchange-api/internal/store"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
	"github.com/didac-crst/mockexchange-api/pkg/logging"
)

func newPortfolio(t *testing.T) *Portfolio {
	t.Helper()
	return New(store.NewMemoryStore(), 5*time.Second, logging.NewNop())
}

func TestGetMissingIsZero(t *testing.T) {
	p := newPortfolio(t)
	bal, err := p.Get(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", bal.Asset)
	assert.Zero(t, bal.Free)
	assert.Zero(t, bal.Used)
}

func TestDepositWithdraw(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	bal, err := p.Deposit(ctx, "USDT", 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, bal.Free)

	bal, err = p.Withdraw(ctx, "USDT", 400)
	require.NoError(t, err)
	assert.Equal(t, 600.0, bal.Free)

	cap, err := p.Capital(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, cap.Deposited)
	assert.Equal(t, 400.0, cap.Withdrawn)

	_, err = p.Withdraw(ctx, "USDT", 601)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInsufficientFunds, apperrors.KindOf(err))

	_, err = p.Deposit(ctx, "USDT", -5)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}

func TestReserveRelease(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	_, err := p.Deposit(ctx, "USDT", 100)
	require.NoError(t, err)

	require.NoError(t, p.Reserve(ctx, "USDT", 60))
	bal, _ := p.Get(ctx, "USDT")
	assert.Equal(t, 40.0, bal.Free)
	assert.Equal(t, 60.0, bal.Used)

	// Over-reserving fails and leaves the row untouched.
	err = p.Reserve(ctx, "USDT", 41)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInsufficientFunds, apperrors.KindOf(err))
	bal, _ = p.Get(ctx, "USDT")
	assert.Equal(t, 40.0, bal.Free)
	assert.Equal(t, 60.0, bal.Used)

	released, err := p.Release(ctx, "USDT", 60)
	require.NoError(t, err)
	assert.Equal(t, 60.0, released)
	bal, _ = p.Get(ctx, "USDT")
	assert.Equal(t, 100.0, bal.Free)
	assert.Zero(t, bal.Used)
}

func TestReleaseClampsToUsed(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	_, err := p.Deposit(ctx, "BTC", 1)
	require.NoError(t, err)
	require.NoError(t, p.Reserve(ctx, "BTC", 0.5))

	// Asking for more than used releases only what is there.
	released, err := p.Release(ctx, "BTC", 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0.5, released)

	bal, _ := p.Get(ctx, "BTC")
	assert.Equal(t, 1.0, bal.Free)
	assert.Zero(t, bal.Used)
}

func TestReleaseSquashesDust(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	_, err := p.Deposit(ctx, "USDT", 1000)
	require.NoError(t, err)
	require.NoError(t, p.Reserve(ctx, "USDT", 100))

	// Leave a sub-dust residue in used; release must zero it out.
	released, err := p.Release(ctx, "USDT", 100-1e-11)
	require.NoError(t, err)
	assert.InDelta(t, 100, released, 1e-9)

	bal, _ := p.Get(ctx, "USDT")
	assert.Zero(t, bal.Used)
}

func TestSettleBuy(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	// S1 shape: buy 0.05 BTC at 50000, commission 0.00075.
	_, err := p.Deposit(ctx, "USDT", 100000)
	require.NoError(t, err)
	reserve := 0.05 * 50000 * 1.00075
	require.NoError(t, p.Reserve(ctx, "USDT", reserve))

	notional := 0.05 * 50000.0
	fee := notional * 0.00075
	spend := notional + fee
	require.NoError(t, p.SettleBuy(ctx, "BTC", "USDT", 0.05, spend, reserve-spend))

	usdt, _ := p.Get(ctx, "USDT")
	btc, _ := p.Get(ctx, "BTC")
	assert.InDelta(t, 100000-2501.875, usdt.Free, 1e-9)
	assert.Zero(t, usdt.Used)
	assert.InDelta(t, 0.05, btc.Free, 1e-12)
}

func TestSettleSell(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	_, err := p.Deposit(ctx, "BTC", 1)
	require.NoError(t, err)
	require.NoError(t, p.Reserve(ctx, "BTC", 1))

	// Partial: 0.6 filled at 50000, remainder released.
	notional := 0.6 * 50000.0
	fee := notional * 0.00075
	require.NoError(t, p.SettleSell(ctx, "BTC", "USDT", 0.6, notional-fee, 0.4))

	btc, _ := p.Get(ctx, "BTC")
	usdt, _ := p.Get(ctx, "USDT")
	assert.InDelta(t, 0.4, btc.Free, 1e-12)
	assert.Zero(t, btc.Used)
	assert.InDelta(t, notional-fee, usdt.Free, 1e-9)
}

func TestSettleOutBeyondUsedIsFatal(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	_, err := p.Deposit(ctx, "USDT", 10)
	require.NoError(t, err)
	require.NoError(t, p.Reserve(ctx, "USDT", 5))

	err = p.SettleBuy(ctx, "BTC", "USDT", 1, 50, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindFatal, apperrors.KindOf(err))
}

func TestSetValidatesNonNegative(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	bal, err := p.Set(ctx, "ETH", 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 10.0, bal.Free)
	assert.Equal(t, 2.0, bal.Used)

	_, err = p.Set(ctx, "ETH", -1, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
}

func TestListSnapshotClear(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	_, err := p.Deposit(ctx, "USDT", 100)
	require.NoError(t, err)
	_, err = p.Deposit(ctx, "BTC", 1)
	require.NoError(t, err)

	assets, err := p.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "USDT"}, assets)

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Equal(t, 100.0, snap["USDT"].Free)

	require.NoError(t, p.Clear(ctx))
	assets, err = p.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, assets)
	cap, err := p.Capital(ctx, "USDT")
	require.NoError(t, err)
	assert.Zero(t, cap.Deposited)
}

func TestConcurrentReservesNeverGoNegative(t *testing.T) {
	p := newPortfolio(t)
	ctx := context.Background()

	_, err := p.Deposit(ctx, "USDT", 100)
	require.NoError(t, err)

	// 20 workers race to reserve 10 each out of 100: exactly 10 must win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Reserve(ctx, "USDT", 10); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	bal, _ := p.Get(ctx, "USDT")
	assert.Zero(t, bal.Free)
	assert.Equal(t, 100.0, bal.Used)
}

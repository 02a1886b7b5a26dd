package orderbook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/store"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
	"github.com/didac-crst/mockexchange-api/pkg/logging"
)

func newBook(t *testing.T) *Book {
	t.Helper()
	return New(store.NewMemoryStore(), 5*time.Second, logging.NewNop())
}

func newOrder(symbol string, side core.Side, typ core.OrderType, amount float64) *core.Order {
	return &core.Order{
		Symbol:         symbol,
		Side:           side,
		Type:           typ,
		Amount:         amount,
		Status:         core.StatusNew,
		CommissionRate: 0.00075,
		CashAsset:      "USDT",
	}
}

func TestCreateAndGet(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	o := newOrder("BTC/USDT", core.SideBuy, core.TypeLimit, 0.1)
	o.LimitPrice = 49000
	o.Reserved = 4903.6775
	require.NoError(t, b.Create(ctx, o))
	require.NotEmpty(t, o.OID)
	require.NotZero(t, o.TsCreate)

	got, err := b.Get(ctx, o.OID)
	require.NoError(t, err)
	assert.Equal(t, o.OID, got.OID)
	assert.Equal(t, core.StatusNew, got.Status)
	assert.Equal(t, 49000.0, got.LimitPrice)
	assert.Equal(t, 4903.6775, got.Reserved)
	require.Len(t, got.History, 1)
	assert.Equal(t, core.StatusNew, got.History[0].Status)

	_, err = b.Get(ctx, "ghost")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestNewOIDSortsByCreation(t *testing.T) {
	early := NewOID(time.Unix(1700000000, 0))
	late := NewOID(time.Unix(1700000001, 0))
	assert.Less(t, early, late)
	assert.Len(t, early, 17)
	assert.Equal(t, byte('='), early[10])
}

func TestListFilters(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	mk := func(symbol string, side core.Side, status core.Status) *core.Order {
		o := newOrder(symbol, side, core.TypeLimit, 1)
		o.LimitPrice = 100
		o.Status = status
		require.NoError(t, b.Create(ctx, o))
		return o
	}

	mk("BTC/USDT", core.SideBuy, core.StatusNew)
	mk("BTC/USDT", core.SideSell, core.StatusNew)
	mk("ETH/USDT", core.SideBuy, core.StatusNew)
	rejected := mk("BTC/USDT", core.SideBuy, core.StatusRejected)

	all, err := b.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	btc, err := b.List(ctx, Filter{Symbol: "BTC/USDT"})
	require.NoError(t, err)
	assert.Len(t, btc, 3)

	btcBuyNew, err := b.List(ctx, Filter{
		Statuses: []core.Status{core.StatusNew},
		Symbol:   "BTC/USDT",
		Side:     core.SideBuy,
	})
	require.NoError(t, err)
	require.Len(t, btcBuyNew, 1)
	assert.NotEqual(t, rejected.OID, btcBuyNew[0].OID)

	open, err := b.ScanOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 3)

	tail, err := b.List(ctx, Filter{Tail: 2})
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestListOpenFIFO(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	now := time.Unix(1700000000, 0)
	b.nowFn = func() time.Time { return now }

	var oids []string
	for i := 0; i < 3; i++ {
		o := newOrder("BTC/USDT", core.SideBuy, core.TypeLimit, 1)
		o.LimitPrice = 100
		require.NoError(t, b.Create(ctx, o))
		oids = append(oids, o.OID)
		now = now.Add(time.Second)
	}

	fifo, err := b.ListOpenFIFO(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, fifo, 3)
	for i, o := range fifo {
		assert.Equal(t, oids[i], o.OID)
	}
}

func TestUpdateGuardsTransitions(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	o := newOrder("BTC/USDT", core.SideBuy, core.TypeMarket, 1)
	require.NoError(t, b.Create(ctx, o))

	// Legal: new -> filled.
	got, err := b.Update(ctx, o.OID, func(o *core.Order) error {
		o.Status = core.StatusFilled
		o.Filled = 1
		o.AvgPrice = 50000
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFilled, got.Status)
	assert.NotZero(t, got.TsFinal)
	assert.Len(t, got.History, 2)

	// Illegal: filled -> canceled leaves the record untouched.
	_, err = b.Update(ctx, o.OID, func(o *core.Order) error {
		o.Status = core.StatusCanceled
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindIllegalTransition, apperrors.KindOf(err))

	got, err = b.Get(ctx, o.OID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFilled, got.Status)

	// Index followed the status change.
	ids, err := b.ListIDs(ctx, Filter{Statuses: []core.Status{core.StatusNew}})
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = b.ListIDs(ctx, Filter{Statuses: []core.Status{core.StatusFilled}})
	require.NoError(t, err)
	assert.Equal(t, []string{o.OID}, ids)
}

func TestUpdateSkip(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	o := newOrder("BTC/USDT", core.SideBuy, core.TypeMarket, 1)
	require.NoError(t, b.Create(ctx, o))
	before, _ := b.Get(ctx, o.OID)

	got, err := b.Update(ctx, o.OID, func(o *core.Order) error {
		return ErrSkip
	})
	require.NoError(t, err)
	assert.Equal(t, before.TsUpdate, got.TsUpdate)
	assert.Equal(t, core.StatusNew, got.Status)
}

func TestDeleteRemovesIndexes(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	o := newOrder("BTC/USDT", core.SideSell, core.TypeLimit, 1)
	o.LimitPrice = 100
	require.NoError(t, b.Create(ctx, o))

	require.NoError(t, b.Delete(ctx, o.OID))

	_, err := b.Get(ctx, o.OID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	for _, f := range []Filter{
		{},
		{Statuses: []core.Status{core.StatusNew}},
		{Symbol: "BTC/USDT"},
		{Side: core.SideSell},
	} {
		ids, err := b.ListIDs(ctx, f)
		require.NoError(t, err)
		assert.Empty(t, ids)
	}
}

func TestScanTerminalOlderThan(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	now := time.Unix(1700000000, 0)
	b.nowFn = func() time.Time { return now }

	o := newOrder("BTC/USDT", core.SideBuy, core.TypeMarket, 1)
	require.NoError(t, b.Create(ctx, o))
	_, err := b.Update(ctx, o.OID, func(o *core.Order) error {
		o.Status = core.StatusFilled
		return nil
	})
	require.NoError(t, err)

	stale, err := b.ScanTerminalOlderThan(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = b.ScanTerminalOlderThan(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, o.OID, stale[0].OID)
}

func TestHistoryRoundTrip(t *testing.T) {
	b := newBook(t)
	ctx := context.Background()

	o := newOrder("ETH/USDT", core.SideBuy, core.TypeLimit, 2)
	o.LimitPrice = 3000
	require.NoError(t, b.Create(ctx, o))

	_, err := b.Update(ctx, o.OID, func(o *core.Order) error {
		o.Status = core.StatusCanceled
		o.CancelReason = "Order canceled by user"
		return nil
	})
	require.NoError(t, err)

	got, err := b.Get(ctx, o.OID)
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, core.StatusNew, got.History[0].Status)
	assert.Equal(t, core.StatusCanceled, got.History[1].Status)
	assert.Equal(t, "Order canceled by user", got.History[1].Comment)
	assert.Equal(t, "Order canceled by user", got.CancelReason)
}

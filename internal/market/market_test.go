package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/didac-crst/mockexchange-api/internal/store"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
	"github.com/didac-crst/mockexchange-api/pkg/logging"
)

func newMarket(t *testing.T) (*Market, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, logging.NewNop()), st
}

func writeTicker(t *testing.T, st *store.MemoryStore, symbol string, fields map[string]string) {
	t.Helper()
	require.NoError(t, st.HSet(context.Background(), tickerPrefix+symbol, fields))
}

func fullTicker(price float64, ts time.Time) map[string]string {
	return map[string]string{
		"price":     store.FormatFloat(price),
		"timestamp": store.FormatFloat(float64(ts.UnixNano()) / float64(time.Second)),
	}
}

func TestSymbolsSorted(t *testing.T) {
	m, st := newMarket(t)
	ctx := context.Background()
	now := time.Now()
	writeTicker(t, st, "ETH/USDT", fullTicker(3000, now))
	writeTicker(t, st, "BTC/USDT", fullTicker(50000, now))

	symbols, err := m.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, symbols)
}

func TestTickerDefaults(t *testing.T) {
	m, st := newMarket(t)
	ctx := context.Background()

	t.Run("bid and ask default to last", func(t *testing.T) {
		writeTicker(t, st, "BTC/USDT", fullTicker(50000, time.Now()))
		tk, err := m.Ticker(ctx, "BTC/USDT")
		require.NoError(t, err)
		assert.Equal(t, 50000.0, tk.Last)
		assert.Equal(t, 50000.0, tk.Bid)
		assert.Equal(t, 50000.0, tk.Ask)
		assert.Zero(t, tk.BidVolume)
	})

	t.Run("explicit bid and ask win", func(t *testing.T) {
		fields := fullTicker(3000, time.Now())
		fields["bid"] = "2999.5"
		fields["ask"] = "3000.5"
		fields["bidVolume"] = "12"
		writeTicker(t, st, "ETH/USDT", fields)

		tk, err := m.Ticker(ctx, "ETH/USDT")
		require.NoError(t, err)
		assert.Equal(t, 2999.5, tk.Bid)
		assert.Equal(t, 3000.5, tk.Ask)
		assert.Equal(t, 12.0, tk.BidVolume)
	})

	t.Run("missing symbol", func(t *testing.T) {
		_, err := m.Ticker(ctx, "DOGE/USDT")
		assert.Equal(t, apperrors.KindUnknownSymbol, apperrors.KindOf(err))
	})

	t.Run("malformed hash", func(t *testing.T) {
		writeTicker(t, st, "BAD/USDT", map[string]string{"price": "50000"})
		_, err := m.Ticker(ctx, "BAD/USDT")
		require.Error(t, err)
	})
}

func TestLastPrice(t *testing.T) {
	m, st := newMarket(t)
	ctx := context.Background()
	writeTicker(t, st, "BTC/USDT", fullTicker(48123.5, time.Now()))

	price, err := m.LastPrice(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 48123.5, price)

	_, err = m.LastPrice(ctx, "DOGE/USDT")
	assert.Equal(t, apperrors.KindUnknownSymbol, apperrors.KindOf(err))
}

func TestIsStale(t *testing.T) {
	m, st := newMarket(t)
	ctx := context.Background()
	now := time.Now()
	m.nowFn = func() time.Time { return now }

	writeTicker(t, st, "OLD/USDT", fullTicker(1, now.Add(-10*time.Minute)))
	writeTicker(t, st, "NEW/USDT", fullTicker(1, now.Add(-time.Second)))

	t.Run("old ticker is stale", func(t *testing.T) {
		stale, err := m.IsStale(ctx, "OLD/USDT", 5*time.Minute)
		require.NoError(t, err)
		assert.True(t, stale)
	})

	t.Run("fresh ticker is not", func(t *testing.T) {
		stale, err := m.IsStale(ctx, "NEW/USDT", 5*time.Minute)
		require.NoError(t, err)
		assert.False(t, stale)
	})

	t.Run("zero max age disables the check", func(t *testing.T) {
		stale, err := m.IsStale(ctx, "OLD/USDT", 0)
		require.NoError(t, err)
		assert.False(t, stale)
	})

	t.Run("missing symbol", func(t *testing.T) {
		_, err := m.IsStale(ctx, "DOGE/USDT", 5*time.Minute)
		assert.Equal(t, apperrors.KindUnknownSymbol, apperrors.KindOf(err))
	})
}

func TestSetPrice(t *testing.T) {
	m, st := newMarket(t)
	ctx := context.Background()
	now := time.Now()
	m.nowFn = func() time.Time { return now }

	fields := fullTicker(50000, now.Add(-time.Hour))
	fields["bid"] = "49999"
	fields["ask"] = "50001"
	writeTicker(t, st, "BTC/USDT", fields)

	t.Run("overwrites price and refreshes timestamp", func(t *testing.T) {
		tk, err := m.SetPrice(ctx, "BTC/USDT", 51000)
		require.NoError(t, err)
		assert.Equal(t, 51000.0, tk.Last)
		assert.Equal(t, 51000.0, tk.Bid)
		assert.Equal(t, 51000.0, tk.Ask)
		assert.InDelta(t, float64(now.UnixNano())/float64(time.Second), tk.Timestamp, 1e-3)
	})

	t.Run("rejects non-positive price", func(t *testing.T) {
		_, err := m.SetPrice(ctx, "BTC/USDT", 0)
		assert.Equal(t, apperrors.KindInvalidArgument, apperrors.KindOf(err))
	})

	t.Run("unknown symbol stays unknown", func(t *testing.T) {
		_, err := m.SetPrice(ctx, "DOGE/USDT", 1)
		assert.Equal(t, apperrors.KindUnknownSymbol, apperrors.KindOf(err))
	})
}

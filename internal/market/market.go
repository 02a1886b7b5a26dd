// Package market is the read-only facade over the ticker hashes an external
// feeder maintains, plus the admin price writer.
package market

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/store"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

const tickerPrefix = "sym_"

// Market resolves last price, bid/ask and staleness for a symbol.
type Market struct {
	store  store.Store
	logger core.ILogger
	nowFn  func() time.Time
}

// New creates a market view over the given store.
func New(st store.Store, logger core.ILogger) *Market {
	return &Market{
		store:  st,
		logger: logger.WithField("component", "market"),
		nowFn:  time.Now,
	}
}

func tickerKey(symbol string) string { return tickerPrefix + symbol }

// Symbols lists every symbol the feeder has written a ticker for.
func (m *Market) Symbols(ctx context.Context) ([]string, error) {
	keys, err := m.store.KeysWithPrefix(ctx, tickerPrefix)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(keys))
	for _, k := range keys {
		symbols = append(symbols, strings.TrimPrefix(k, tickerPrefix))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Ticker returns the full snapshot for a symbol.
func (m *Market) Ticker(ctx context.Context, symbol string) (core.Ticker, error) {
	h, err := m.store.HGetAll(ctx, tickerKey(symbol))
	if err != nil {
		return core.Ticker{}, err
	}
	if len(h) == 0 {
		return core.Ticker{}, apperrors.UnknownSymbolf(symbol)
	}
	return parseTicker(symbol, h)
}

// LastPrice resolves the last trade price for a symbol.
func (m *Market) LastPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := m.Ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.Last, nil
}

// IsStale reports whether the ticker is older than maxAge. A non-positive
// maxAge disables the check.
func (m *Market) IsStale(ctx context.Context, symbol string, maxAge time.Duration) (bool, error) {
	if maxAge <= 0 {
		return false, nil
	}
	t, err := m.Ticker(ctx, symbol)
	if err != nil {
		return false, err
	}
	return t.Age(m.nowFn()) > maxAge, nil
}

// SetPrice force-writes the last price of an existing ticker and returns the
// fresh snapshot. Only admin surfaces call this; the feeder owns creation.
func (m *Market) SetPrice(ctx context.Context, symbol string, price float64) (core.Ticker, error) {
	if price <= 0 {
		return core.Ticker{}, apperrors.InvalidArgumentf("price must be > 0, got %v", price)
	}
	h, err := m.store.HGetAll(ctx, tickerKey(symbol))
	if err != nil {
		return core.Ticker{}, err
	}
	if len(h) == 0 {
		return core.Ticker{}, apperrors.UnknownSymbolf(symbol)
	}

	now := float64(m.nowFn().UnixNano()) / float64(time.Second)
	err = m.store.HSet(ctx, tickerKey(symbol), map[string]string{
		"symbol":    symbol,
		"price":     store.FormatFloat(price),
		"timestamp": store.FormatFloat(now),
		"bid":       store.FormatFloat(price),
		"ask":       store.FormatFloat(price),
	})
	if err != nil {
		return core.Ticker{}, err
	}

	m.logger.Info("ticker price forced", "symbol", symbol, "price", price)
	return m.Ticker(ctx, symbol)
}

// parseTicker maps a hash into a Ticker. price and timestamp are mandatory;
// bid/ask default to the last price and volumes to zero.
func parseTicker(symbol string, h map[string]string) (core.Ticker, error) {
	if h["price"] == "" || h["timestamp"] == "" {
		return core.Ticker{}, apperrors.Fatalf("malformed ticker %s: missing price or timestamp", symbol)
	}
	price, err := store.ParseFloat(h["price"])
	if err != nil {
		return core.Ticker{}, apperrors.Fatalf("malformed ticker %s: %v", symbol, err)
	}
	ts, err := store.ParseFloat(h["timestamp"])
	if err != nil {
		return core.Ticker{}, apperrors.Fatalf("malformed ticker %s: %v", symbol, err)
	}

	t := core.Ticker{
		Symbol:    symbol,
		Last:      price,
		Timestamp: ts,
		Bid:       price,
		Ask:       price,
	}
	if v := h["bid"]; v != "" {
		if t.Bid, err = store.ParseFloat(v); err != nil {
			return core.Ticker{}, apperrors.Fatalf("malformed ticker %s: %v", symbol, err)
		}
	}
	if v := h["ask"]; v != "" {
		if t.Ask, err = store.ParseFloat(v); err != nil {
			return core.Ticker{}, apperrors.Fatalf("malformed ticker %s: %v", symbol, err)
		}
	}
	if v := h["bidVolume"]; v != "" {
		if t.BidVolume, err = store.ParseFloat(v); err != nil {
			return core.Ticker{}, apperrors.Fatalf("malformed ticker %s: %v", symbol, err)
		}
	}
	if v := h["askVolume"]; v != "" {
		if t.AskVolume, err = store.ParseFloat(v); err != nil {
			return core.Ticker{}, apperrors.Fatalf("malformed ticker %s: %v", symbol, err)
		}
	}
	return t, nil
}

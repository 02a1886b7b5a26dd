package engine

import (
	"context"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/orderbook"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// crosses reports whether a limit order is eligible to fill against the
// latest last-trade price.
func crosses(o *core.Order, last float64) bool {
	if o.Side == core.SideBuy {
		return last <= o.LimitPrice
	}
	return last >= o.LimitPrice
}

// Tick runs one limit-settlement pass for a symbol: every OPEN limit order
// that crosses the current last price fills its remainder in full at the
// limit price. Orders settle FIFO by ts_create (oid breaks ties); the
// order lock is held one order at a time. Per-order failures are logged
// and do not abort the sweep. Returns the number of orders settled.
func (e *Engine) Tick(ctx context.Context, symbol string) (int, error) {
	t, err := e.market.Ticker(ctx, symbol)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknownSymbol {
			e.refreshOpenGauge(ctx, symbol)
			return 0, nil // open orders on a symbol the feeder dropped; wait
		}
		return 0, err
	}
	if maxAge := e.cfg.StaleTickerMaxAge(); maxAge > 0 && t.Age(e.nowFn()) > maxAge {
		e.logger.Warn("ticker stale, deferring limit settlement", "symbol", symbol)
		e.refreshOpenGauge(ctx, symbol)
		return 0, nil
	}
	last := t.Last

	open, err := e.book.ListOpenFIFO(ctx, symbol)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, cand := range open {
		if cand.Type != core.TypeLimit || !crosses(cand, last) {
			continue
		}

		applied := false
		o, err := e.book.Update(ctx, cand.OID, func(o *core.Order) error {
			// Re-check under the lock: cancel/expire may have won.
			if !o.Status.IsOpen() || o.Type != core.TypeLimit || !crosses(o, last) {
				return orderbook.ErrSkip
			}
			if err := e.fillLocked(ctx, o, o.Remaining(), o.LimitPrice); err != nil {
				return err
			}
			o.Status = core.StatusFilled
			applied = true
			return nil
		})
		if err != nil {
			e.logger.Error("limit settlement failed", "oid", cand.OID, "symbol", symbol, "error", err)
			continue
		}
		if !applied {
			continue // skipped under the lock
		}

		settled++
		e.logger.Info("limit order settled",
			"oid", o.OID, "symbol", o.Symbol, "side", o.Side,
			"filled", o.Filled, "limit_price", o.LimitPrice, "fee", o.Fee)
		e.metrics.RecordOrderSettled(ctx, string(o.Status))
		e.metrics.RecordFillLatency(ctx, float64(o.TsFinal-o.TsCreate))
		e.publishOrder(o)
	}

	e.refreshOpenGauge(ctx, symbol)
	return settled, nil
}

// refreshOpenGauge re-reads the symbol's OPEN orders (limit and in-flight
// market alike) and updates the gauge from that count.
func (e *Engine) refreshOpenGauge(ctx context.Context, symbol string) {
	open, err := e.book.ListOpenFIFO(ctx, symbol)
	if err != nil {
		e.logger.Warn("open-order gauge refresh failed", "symbol", symbol, "error", err)
		return
	}
	e.metrics.SetOpenOrders(symbol, int64(len(open)))
}

// TickAll runs a settlement pass over every symbol that currently has an
// OPEN order.
func (e *Engine) TickAll(ctx context.Context) (int, error) {
	open, err := e.book.ScanOpen(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	total := 0
	for _, o := range open {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		n, err := e.Tick(ctx, o.Symbol)
		if err != nil {
			e.logger.Error("tick pass failed", "symbol", o.Symbol, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

// SetTickerPrice force-writes the last price of a symbol, runs an
// immediate settlement pass against it and broadcasts the new ticker.
// Admin surface only; normal price flow comes from the external feeder.
func (e *Engine) SetTickerPrice(ctx context.Context, symbol string, price float64) (core.Ticker, error) {
	t, err := e.market.SetPrice(ctx, symbol, price)
	if err != nil {
		return core.Ticker{}, err
	}
	if _, err := e.Tick(ctx, symbol); err != nil {
		e.logger.Error("settlement pass after price write failed", "symbol", symbol, "error", err)
	}
	e.publishTicker(t)
	return t, nil
}

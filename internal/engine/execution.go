package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/orderbook"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// fillRatioFloor keeps sampled ratios strictly positive; a market order
// always moves some quantity.
const fillRatioFloor = 1e-6

// dispatchMarket hands a market order to asynchronous execution. The
// request context dies with the HTTP call, so the worker runs detached.
func (e *Engine) dispatchMarket(ctx context.Context, oid string) {
	bg := context.WithoutCancel(ctx)
	run := func() { e.executeMarket(bg, oid) }
	if e.pool != nil {
		if err := e.pool.Submit(run); err != nil {
			e.logger.Error("market execution submit failed, running inline", "oid", oid, "error", err)
			go run()
		}
		return
	}
	go run()
}

// executeMarket settles one market order: sleep the artificial latency
// window, re-read the price, sample a fill ratio and apply the balance
// moves under the order lock. Market orders never stay open; the order
// ends filled, partially_canceled or rejected.
func (e *Engine) executeMarket(ctx context.Context, oid string) {
	e.sleepFn(ctx, e.answerLatency())

	applied := false
	o, err := e.book.Update(ctx, oid, func(o *core.Order) error {
		if !o.Status.IsOpen() {
			return orderbook.ErrSkip // canceled or expired while in flight
		}
		applied = true

		t, err := e.market.Ticker(ctx, o.Symbol)
		if err != nil {
			if apperrors.KindOf(err) != apperrors.KindUnknownSymbol {
				return err
			}
			return e.rejectLocked(ctx, o, "ticker disappeared before execution")
		}
		if maxAge := e.cfg.StaleTickerMaxAge(); maxAge > 0 && t.Age(e.nowFn()) > maxAge {
			return e.rejectLocked(ctx, o, apperrors.ErrStaleTicker.Error())
		}

		r := e.sampleFillRatio()
		qty := o.Amount * r
		reserveCapped := false
		if o.Side == core.SideBuy {
			// The reservation was priced at placement time; a price that
			// rose during the latency window cannot draw more quote than
			// this order reserved.
			affordable := o.RemainingReservation() / (t.Last * (1 + o.CommissionRate))
			if affordable < qty {
				qty = affordable
				reserveCapped = true
			}
		}
		if qty <= 0 {
			return e.rejectLocked(ctx, o, fmt.Sprintf(
				"insufficient %s reserved to buy at %v", o.QuoteAsset(), t.Last))
		}
		if err := e.fillLocked(ctx, o, qty, t.Last); err != nil {
			return err
		}
		switch {
		case reserveCapped:
			o.Status = core.StatusPartiallyCanceled
			o.CancelReason = fmt.Sprintf(
				"insufficient %s reserved to fill %v at %v (filled %v)",
				o.QuoteAsset(), o.Amount, t.Last, o.Filled)
		case r == 1:
			o.Status = core.StatusFilled
		default:
			o.Status = core.StatusPartiallyCanceled
			o.CancelReason = fmt.Sprintf("market order partially filled (ratio %.6f)", r)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("market execution failed", "oid", oid, "error", err)
		return
	}
	if !applied {
		return // a concurrent cancel or expire won the race
	}

	e.logger.Info("market order settled",
		"oid", o.OID, "symbol", o.Symbol, "status", o.Status,
		"filled", o.Filled, "avg_price", o.AvgPrice, "fee", o.Fee)
	e.metrics.RecordOrderSettled(ctx, string(o.Status))
	e.metrics.RecordFillLatency(ctx, float64(o.TsFinal-o.TsCreate))
	e.publishOrder(o)
}

// fillLocked applies one fill of qty base at price to the order and its
// balances. Caller holds the order lock and sets the resulting status.
func (e *Engine) fillLocked(ctx context.Context, o *core.Order, qty, price float64) error {
	notional := qty * price
	fee := notional * o.CommissionRate

	if o.Side == core.SideBuy {
		spend := notional + fee
		// A fill never draws more quote than the order reserved; other
		// orders' reservations on the same asset are not this order's.
		if rem := o.RemainingReservation(); spend > rem {
			spend = rem
		}
		release := o.RemainingReservation() - spend
		if release < 0 {
			release = 0
		}
		if err := e.ledger.SettleBuy(ctx, o.BaseAsset(), o.QuoteAsset(), qty, spend, release); err != nil {
			return err
		}
	} else {
		release := o.Remaining() - qty
		if release < 0 {
			release = 0
		}
		if err := e.ledger.SettleSell(ctx, o.BaseAsset(), o.QuoteAsset(), qty, notional-fee, release); err != nil {
			return err
		}
	}

	o.Filled += qty
	o.Notional += notional
	o.Fee += fee
	if o.Filled > 0 {
		o.AvgPrice = o.Notional / o.Filled
	}
	return nil
}

// rejectLocked releases the order's full remaining reservation and marks
// it rejected. Caller holds the order lock.
func (e *Engine) rejectLocked(ctx context.Context, o *core.Order, reason string) error {
	if _, err := e.ledger.Release(ctx, o.ReservationAsset(), o.RemainingReservation()); err != nil {
		return err
	}
	o.Status = core.StatusRejected
	o.CancelReason = reason
	return nil
}

// answerLatency samples the uniform market-order response delay.
func (e *Engine) answerLatency() time.Duration {
	lo, hi := e.cfg.MinAnswerTime(), e.cfg.MaxAnswerTime()
	if hi <= lo {
		return lo
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return lo + time.Duration(e.rng.Int63n(int64(hi-lo)+1))
}

// sampleFillRatio draws the market fill ratio: truncated normal with mean 1
// and the configured sigma, clipped to (0, 1]. Sigma 0 always fills in full.
func (e *Engine) sampleFillRatio() float64 {
	if e.fillRatio != nil {
		return e.fillRatio()
	}
	sigma := e.cfg.SigmaFillMarketOrder
	if sigma <= 0 {
		return 1
	}
	e.rngMu.Lock()
	r := 1 + sigma*e.rng.NormFloat64()
	e.rngMu.Unlock()
	if r >= 1 {
		return 1
	}
	if r < fillRatioFloor {
		return fillRatioFloor
	}
	return r
}

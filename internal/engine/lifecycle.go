package engine

import (
	"context"
	"time"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/orderbook"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// Cancel revokes an OPEN order: the remaining reservation returns to free
// and the order ends canceled (partially_canceled when it already has
// fills). Canceling a terminal order fails with IllegalTransition.
func (e *Engine) Cancel(ctx context.Context, oid string) (*core.Order, error) {
	o, err := e.book.Update(ctx, oid, func(o *core.Order) error {
		if !o.Status.IsOpen() {
			return apperrors.IllegalTransitionf(oid, string(o.Status), string(core.StatusCanceled))
		}
		if _, err := e.ledger.Release(ctx, o.ReservationAsset(), o.RemainingReservation()); err != nil {
			return err
		}
		if o.Filled > 0 {
			o.Status = core.StatusPartiallyCanceled
		} else {
			o.Status = core.StatusCanceled
		}
		o.CancelReason = "canceled by user"
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("order canceled", "oid", o.OID, "symbol", o.Symbol, "status", o.Status)
	e.metrics.RecordOrderSettled(ctx, string(o.Status))
	e.publishOrder(o)
	return o, nil
}

// PruneStats reports one prune sweep.
type PruneStats struct {
	Expired int `json:"expired"`
	Deleted int `json:"deleted"`
}

// Prune ages the book: OPEN orders older than expireAfter (by ts_create)
// are expired with their reservation released; terminal orders older than
// staleAfter (by ts_final) are deleted. A non-positive threshold disables
// that half. The sweep is idempotent and per-order failures never abort it.
func (e *Engine) Prune(ctx context.Context, expireAfter, staleAfter time.Duration) (PruneStats, error) {
	var stats PruneStats
	now := e.nowFn()

	if expireAfter > 0 {
		open, err := e.book.ScanOpen(ctx)
		if err != nil {
			return stats, err
		}
		cutoff := now.Add(-expireAfter).UnixMilli()
		for _, cand := range open {
			if cand.TsCreate >= cutoff {
				continue
			}
			applied := false
			o, err := e.book.Update(ctx, cand.OID, func(o *core.Order) error {
				if !o.Status.IsOpen() || o.TsCreate >= cutoff {
					return orderbook.ErrSkip
				}
				if _, err := e.ledger.Release(ctx, o.ReservationAsset(), o.RemainingReservation()); err != nil {
					return err
				}
				o.Status = core.StatusExpired
				o.CancelReason = "expired"
				applied = true
				return nil
			})
			if err != nil {
				e.logger.Error("expire failed", "oid", cand.OID, "error", err)
				continue
			}
			if !applied {
				continue
			}
			stats.Expired++
			e.logger.Info("order expired", "oid", o.OID, "symbol", o.Symbol, "age_ms", now.UnixMilli()-o.TsCreate)
			e.metrics.RecordOrderSettled(ctx, string(o.Status))
			e.publishOrder(o)
		}
	}

	if staleAfter > 0 {
		stale, err := e.book.ScanTerminalOlderThan(ctx, now.Add(-staleAfter))
		if err != nil {
			return stats, err
		}
		for _, o := range stale {
			if err := e.book.Delete(ctx, o.OID); err != nil {
				e.logger.Error("prune delete failed", "oid", o.OID, "error", err)
				continue
			}
			stats.Deleted++
		}
		e.metrics.RecordOrdersPruned(ctx, stats.Deleted)
	}

	if stats.Expired > 0 || stats.Deleted > 0 {
		e.logger.Info("prune sweep done", "expired", stats.Expired, "deleted", stats.Deleted)
	}
	return stats, nil
}

// Reset wipes balances, orders and capital counters. Tickers stay; the
// external feeder owns them. Admin surface only.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.book.Clear(ctx); err != nil {
		return err
	}
	if err := e.ledger.Clear(ctx); err != nil {
		return err
	}
	e.logger.Warn("exchange state wiped")
	return nil
}

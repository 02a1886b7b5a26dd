package engine

import (
	"context"
	"math"
	"sort"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/orderbook"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// reconcileEps tolerates float residue when comparing used against the
// open-order reservation sum.
const reconcileEps = 1e-9

// AssetOverview is one row of the reconciliation report.
type AssetOverview struct {
	Asset        string  `json:"asset"`
	Free         float64 `json:"free"`
	Used         float64 `json:"used"`
	ExpectedUsed float64 `json:"expected_used"`
	Mismatch     bool    `json:"mismatch"`
}

// AssetsReport is the reconciliation report: per asset, the ledger's used
// amount against the sum of open-order reservations on that asset.
type AssetsReport struct {
	Assets     []AssetOverview `json:"assets"`
	Mismatches int             `json:"mismatches"`
	CheckedAt  int64           `json:"checked_at"`
}

// OverviewAssets builds the reconciliation report. This is the production
// oracle for the conservation invariant; any mismatch means a bug or a
// torn concurrent write.
func (e *Engine) OverviewAssets(ctx context.Context) (*AssetsReport, error) {
	balances, err := e.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	open, err := e.book.ScanOpen(ctx)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]float64)
	for _, o := range open {
		expected[o.ReservationAsset()] += o.RemainingReservation()
	}
	// Open orders may reserve an asset whose row was never written.
	for asset := range expected {
		if _, ok := balances[asset]; !ok {
			balances[asset] = core.AssetBalance{Asset: asset}
		}
	}

	report := &AssetsReport{CheckedAt: e.nowFn().UnixMilli()}
	assets := make([]string, 0, len(balances))
	for asset := range balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		bal := balances[asset]
		row := AssetOverview{
			Asset:        asset,
			Free:         bal.Free,
			Used:         bal.Used,
			ExpectedUsed: expected[asset],
		}
		if math.Abs(row.Used-row.ExpectedUsed) > reconcileEps {
			row.Mismatch = true
			report.Mismatches++
			e.logger.Error("reconciliation mismatch",
				"asset", asset, "used", row.Used, "expected_used", row.ExpectedUsed)
		}
		report.Assets = append(report.Assets, row)
	}

	e.metrics.SetSanityMismatches(int64(report.Mismatches))
	return report, nil
}

// CapitalEntry values one asset in cash terms with its deposit history.
// Deposited and Withdrawn are cumulative counters in asset units; Equity
// and PnL are in the cash asset, both legs valued at the current price.
type CapitalEntry struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Equity    float64 `json:"equity"`
	Valued    bool    `json:"valued"`
	Deposited float64 `json:"deposited"`
	Withdrawn float64 `json:"withdrawn"`
	PnL       float64 `json:"pnl"`
}

// CapitalReport is the capital overview: per asset, or aggregated into the
// cash asset.
type CapitalReport struct {
	CashAsset string         `json:"cash_asset"`
	Assets    []CapitalEntry `json:"assets,omitempty"`
	Aggregate *CapitalEntry  `json:"aggregate,omitempty"`
}

// OverviewCapital values every holding in the cash asset using last prices
// and reports pnl = equity + withdrawn − deposited. Assets without a
// <ASSET>/<CASH> ticker stay unvalued in per-asset mode and are skipped
// from the aggregate.
func (e *Engine) OverviewCapital(ctx context.Context, aggregate bool) (*CapitalReport, error) {
	balances, err := e.ledger.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	assets := make([]string, 0, len(balances))
	for asset := range balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	report := &CapitalReport{CashAsset: e.cfg.CashAsset}
	entries := make([]CapitalEntry, 0, len(assets))
	prices := make(map[string]float64, len(assets))
	for _, asset := range assets {
		bal := balances[asset]
		counters, err := e.ledger.Capital(ctx, asset)
		if err != nil {
			return nil, err
		}
		entry := CapitalEntry{
			Asset:     asset,
			Total:     bal.Total(),
			Deposited: counters.Deposited,
			Withdrawn: counters.Withdrawn,
		}
		price := 0.0
		if asset == e.cfg.CashAsset {
			price = 1
		} else {
			last, err := e.market.LastPrice(ctx, core.MakeSymbol(asset, e.cfg.CashAsset))
			if err != nil {
				if apperrors.KindOf(err) != apperrors.KindUnknownSymbol {
					return nil, err
				}
			} else {
				price = last
			}
		}
		if price > 0 {
			entry.Valued = true
			entry.Equity = entry.Total * price
			entry.PnL = entry.Equity + entry.Withdrawn*price - entry.Deposited*price
			prices[asset] = price
		}
		entries = append(entries, entry)
	}

	if !aggregate {
		report.Assets = entries
		return report, nil
	}

	agg := &CapitalEntry{Asset: e.cfg.CashAsset, Valued: true}
	for _, entry := range entries {
		// Holdings without a cash ticker cannot be valued; skip them.
		if !entry.Valued {
			continue
		}
		price := prices[entry.Asset]
		agg.Total += entry.Equity
		agg.Equity += entry.Equity
		agg.Deposited += entry.Deposited * price
		agg.Withdrawn += entry.Withdrawn * price
	}
	agg.PnL = agg.Equity + agg.Withdrawn - agg.Deposited
	report.Aggregate = agg
	return report, nil
}

// TradeStats aggregates the terminal orders of one (base asset, side) pair.
type TradeStats struct {
	Asset    string    `json:"asset"`
	Side     core.Side `json:"side"`
	Orders   int       `json:"orders"`
	Filled   float64   `json:"filled"`
	Notional float64   `json:"notional"`
	Fees     float64   `json:"fees"`
	AvgPrice float64   `json:"avg_price"`
}

// OverviewTrades summarizes terminal orders that moved funds (filled > 0),
// grouped by base asset and side. assets and side narrow the report; empty
// means all.
func (e *Engine) OverviewTrades(ctx context.Context, assets []string, side core.Side) ([]TradeStats, error) {
	orders, err := e.book.List(ctx, orderbook.Filter{Statuses: core.TerminalStatuses, Side: side})
	if err != nil {
		return nil, err
	}

	var wanted map[string]struct{}
	if len(assets) > 0 {
		wanted = make(map[string]struct{}, len(assets))
		for _, a := range assets {
			wanted[a] = struct{}{}
		}
	}

	type key struct {
		asset string
		side  core.Side
	}
	groups := make(map[key]*TradeStats)
	for _, o := range orders {
		if o.Filled <= 0 {
			continue
		}
		base := o.BaseAsset()
		if wanted != nil {
			if _, ok := wanted[base]; !ok {
				continue
			}
		}
		k := key{asset: base, side: o.Side}
		g, ok := groups[k]
		if !ok {
			g = &TradeStats{Asset: base, Side: o.Side}
			groups[k] = g
		}
		g.Orders++
		g.Filled += o.Filled
		g.Notional += o.Notional
		g.Fees += o.Fee
	}

	out := make([]TradeStats, 0, len(groups))
	for _, g := range groups {
		if g.Filled > 0 {
			g.AvgPrice = g.Notional / g.Filled
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Side < out[j].Side
	})
	return out, nil
}

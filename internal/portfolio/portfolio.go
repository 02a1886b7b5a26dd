// Package portfolio is the balance ledger: per-asset free/used rows with
// reserve, release and settle primitives. Every mutation runs under the
// asset's advisory lock; fills touch two assets and take both locks in
// lexicographic order.
package portfolio

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/store"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

const (
	balancePrefix = "bal_"
	capitalPrefix = "cap_"

	// Residual used amounts below this fraction of free are rounding dust
	// left by float arithmetic and get squashed to zero on release.
	dustRatio = 1e-10
)

// Capital is the cumulative deposit/withdrawal counter pair for one asset.
type Capital struct {
	Deposited float64 `json:"deposited"`
	Withdrawn float64 `json:"withdrawn"`
}

// Portfolio owns the bal_<ASSET> rows. Only the engine mutates it.
type Portfolio struct {
	store   store.Store
	lockTTL time.Duration
	logger  core.ILogger
}

// New creates a portfolio over the given store.
func New(st store.Store, lockTTL time.Duration, logger core.ILogger) *Portfolio {
	return &Portfolio{
		store:   st,
		lockTTL: lockTTL,
		logger:  logger.WithField("component", "portfolio"),
	}
}

func balanceKey(asset string) string { return balancePrefix + asset }
func capitalKey(asset string) string { return capitalPrefix + asset }

// Get returns the balance row for an asset; a missing row is all zeros.
func (p *Portfolio) Get(ctx context.Context, asset string) (core.AssetBalance, error) {
	h, err := p.store.HGetAll(ctx, balanceKey(asset))
	if err != nil {
		return core.AssetBalance{}, err
	}
	return parseBalance(asset, h)
}

// Set overwrites a balance row. Admin surface only.
func (p *Portfolio) Set(ctx context.Context, asset string, free, used float64) (core.AssetBalance, error) {
	if free < 0 || used < 0 {
		return core.AssetBalance{}, apperrors.InvalidArgumentf("free/used must be >= 0, got free=%v used=%v", free, used)
	}
	var out core.AssetBalance
	err := p.withAsset(ctx, asset, func(bal *core.AssetBalance) error {
		bal.Free = free
		bal.Used = used
		out = *bal
		return nil
	})
	return out, err
}

// Deposit credits free and bumps the cumulative deposited counter.
func (p *Portfolio) Deposit(ctx context.Context, asset string, amount float64) (core.AssetBalance, error) {
	if amount <= 0 {
		return core.AssetBalance{}, apperrors.InvalidArgumentf("deposit amount must be > 0, got %v", amount)
	}
	var out core.AssetBalance
	err := p.withAsset(ctx, asset, func(bal *core.AssetBalance) error {
		bal.Free += amount
		out = *bal
		return nil
	})
	if err != nil {
		return core.AssetBalance{}, err
	}
	if _, err := p.store.HIncrByFloat(ctx, capitalKey(asset), "deposited", amount); err != nil {
		return core.AssetBalance{}, err
	}
	p.logger.Info("deposit", "asset", asset, "amount", amount)
	return out, nil
}

// Withdraw debits free and bumps the cumulative withdrawn counter. Fails
// when free funds do not cover the amount.
func (p *Portfolio) Withdraw(ctx context.Context, asset string, amount float64) (core.AssetBalance, error) {
	if amount <= 0 {
		return core.AssetBalance{}, apperrors.InvalidArgumentf("withdrawal amount must be > 0, got %v", amount)
	}
	var out core.AssetBalance
	err := p.withAsset(ctx, asset, func(bal *core.AssetBalance) error {
		if bal.Free < amount {
			return apperrors.InsufficientFundsf("need %v %s free, have %v", amount, asset, bal.Free)
		}
		bal.Free -= amount
		out = *bal
		return nil
	})
	if err != nil {
		return core.AssetBalance{}, err
	}
	if _, err := p.store.HIncrByFloat(ctx, capitalKey(asset), "withdrawn", amount); err != nil {
		return core.AssetBalance{}, err
	}
	p.logger.Info("withdrawal", "asset", asset, "amount", amount)
	return out, nil
}

// Reserve moves amount from free to used, backing an OPEN order.
func (p *Portfolio) Reserve(ctx context.Context, asset string, amount float64) error {
	if amount <= 0 {
		return apperrors.InvalidArgumentf("reserve amount must be > 0, got %v", amount)
	}
	return p.withAsset(ctx, asset, func(bal *core.AssetBalance) error {
		if bal.Free < amount {
			return apperrors.InsufficientFundsf("need %v %s, have %v", amount, asset, bal.Free)
		}
		bal.Free -= amount
		bal.Used += amount
		return nil
	})
}

// Release moves amount from used back to free and returns what was actually
// released. The move is clamped to used so rounding residue from fills can
// never drive the row negative; dust left in used is squashed.
func (p *Portfolio) Release(ctx context.Context, asset string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, nil
	}
	var released float64
	err := p.withAsset(ctx, asset, func(bal *core.AssetBalance) error {
		released = releaseLocked(bal, amount)
		return nil
	})
	return released, err
}

// SettleBuy applies one buy fill atomically under both asset locks:
// spend quote leaves used, the unused reservation returns to free, and the
// filled base quantity lands in free.
func (p *Portfolio) SettleBuy(ctx context.Context, base, quote string, filled, spend, release float64) error {
	return p.withPair(ctx, base, quote, func(bals map[string]*core.AssetBalance) error {
		q := bals[quote]
		if err := settleOutLocked(q, quote, spend); err != nil {
			return err
		}
		releaseLocked(q, release)
		bals[base].Free += filled
		return nil
	})
}

// SettleSell applies one sell fill atomically under both asset locks:
// the delivered base leaves used, the undelivered base reservation returns
// to free, and the quote proceeds net of fee land in free.
func (p *Portfolio) SettleSell(ctx context.Context, base, quote string, filled, credit, release float64) error {
	return p.withPair(ctx, base, quote, func(bals map[string]*core.AssetBalance) error {
		b := bals[base]
		if err := settleOutLocked(b, base, filled); err != nil {
			return err
		}
		releaseLocked(b, release)
		bals[quote].Free += credit
		return nil
	})
}

// List returns the asset names with a balance row, sorted.
func (p *Portfolio) List(ctx context.Context) ([]string, error) {
	keys, err := p.store.KeysWithPrefix(ctx, balancePrefix)
	if err != nil {
		return nil, err
	}
	assets := make([]string, 0, len(keys))
	for _, k := range keys {
		assets = append(assets, strings.TrimPrefix(k, balancePrefix))
	}
	sort.Strings(assets)
	return assets, nil
}

// Snapshot returns every balance row keyed by asset.
func (p *Portfolio) Snapshot(ctx context.Context) (map[string]core.AssetBalance, error) {
	assets, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.AssetBalance, len(assets))
	for _, a := range assets {
		bal, err := p.Get(ctx, a)
		if err != nil {
			return nil, err
		}
		out[a] = bal
	}
	return out, nil
}

// Capital returns the cumulative deposited/withdrawn counters for an asset.
func (p *Portfolio) Capital(ctx context.Context, asset string) (Capital, error) {
	h, err := p.store.HGetAll(ctx, capitalKey(asset))
	if err != nil {
		return Capital{}, err
	}
	dep, err := store.ParseFloat(h["deposited"])
	if err != nil {
		return Capital{}, err
	}
	wd, err := store.ParseFloat(h["withdrawn"])
	if err != nil {
		return Capital{}, err
	}
	return Capital{Deposited: dep, Withdrawn: wd}, nil
}

// Clear wipes every balance row and capital counter. Admin surface only.
func (p *Portfolio) Clear(ctx context.Context) error {
	for _, prefix := range []string{balancePrefix, capitalPrefix} {
		keys, err := p.store.KeysWithPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if err := p.store.Delete(ctx, keys...); err != nil {
			return err
		}
	}
	return nil
}

// withAsset runs fn on the asset's row under its lock and persists the result.
func (p *Portfolio) withAsset(ctx context.Context, asset string, fn func(*core.AssetBalance) error) error {
	return p.store.WithLock(ctx, balanceKey(asset), p.lockTTL, func() error {
		bal, err := p.Get(ctx, asset)
		if err != nil {
			return err
		}
		if err := fn(&bal); err != nil {
			return err
		}
		return p.write(ctx, bal)
	})
}

// withPair runs fn on both rows holding both locks, acquired in
// lexicographic order to keep concurrent fills deadlock-free.
func (p *Portfolio) withPair(ctx context.Context, a, b string, fn func(map[string]*core.AssetBalance) error) error {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	return p.store.WithLock(ctx, balanceKey(first), p.lockTTL, func() error {
		return p.store.WithLock(ctx, balanceKey(second), p.lockTTL, func() error {
			balA, err := p.Get(ctx, a)
			if err != nil {
				return err
			}
			balB, err := p.Get(ctx, b)
			if err != nil {
				return err
			}
			bals := map[string]*core.AssetBalance{a: &balA, b: &balB}
			if err := fn(bals); err != nil {
				return err
			}
			if err := p.write(ctx, balA); err != nil {
				return err
			}
			return p.write(ctx, balB)
		})
	})
}

func (p *Portfolio) write(ctx context.Context, bal core.AssetBalance) error {
	if bal.Free < 0 || bal.Used < 0 {
		return apperrors.Fatalf("balance %s would go negative: free=%v used=%v", bal.Asset, bal.Free, bal.Used)
	}
	return p.store.HSet(ctx, balanceKey(bal.Asset), map[string]string{
		"free": store.FormatFloat(bal.Free),
		"used": store.FormatFloat(bal.Used),
	})
}

// releaseLocked moves up to amount from used to free, clamped to used,
// and squashes dust. Returns the released quantity.
func releaseLocked(bal *core.AssetBalance, amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	if amount > bal.Used {
		amount = bal.Used
	}
	bal.Used -= amount
	bal.Free += amount
	if bal.Free > 0 && bal.Used/bal.Free < dustRatio {
		bal.Used = 0
	}
	return amount
}

// settleOutLocked removes amount from used; the funds leave the account.
// A deficit beyond float tolerance is an invariant violation.
func settleOutLocked(bal *core.AssetBalance, asset string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	if bal.Used < amount {
		if amount-bal.Used > 1e-9 {
			return apperrors.Fatalf("settle %v %s exceeds used %v", amount, asset, bal.Used)
		}
		amount = bal.Used
	}
	bal.Used -= amount
	return nil
}

func parseBalance(asset string, h map[string]string) (core.AssetBalance, error) {
	free, err := store.ParseFloat(h["free"])
	if err != nil {
		return core.AssetBalance{}, err
	}
	used, err := store.ParseFloat(h["used"])
	if err != nil {
		return core.AssetBalance{}, err
	}
	return core.AssetBalance{Asset: asset, Free: free, Used: used}, nil
}

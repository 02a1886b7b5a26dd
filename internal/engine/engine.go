// Package engine is the matching and portfolio core: order intake with
// pre-trade reservation, simulated market execution, tick-driven limit
// settlement, cancel, prune and the reconciliation overviews. It is the
// only component that mutates orders or balances.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/didac-crst/mockexchange-api/internal/config"
	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/market"
	"github.com/didac-crst/mockexchange-api/internal/orderbook"
	"github.com/didac-crst/mockexchange-api/internal/portfolio"
	"github.com/didac-crst/mockexchange-api/internal/telemetry"
	"github.com/didac-crst/mockexchange-api/pkg/concurrency"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
	"github.com/didac-crst/mockexchange-api/pkg/liveserver"
)

// Engine composes the market view, orderbook and portfolio into the
// exchange core. It holds no authoritative in-memory state; everything
// lives in the store.
type Engine struct {
	market *market.Market
	book   *orderbook.Book
	ledger *portfolio.Portfolio
	cfg    config.ExchangeConfig
	logger core.ILogger

	pool    *concurrency.WorkerPool // nil runs market execution on a goroutine
	hub     *liveserver.Hub         // nil disables event broadcasting
	metrics *telemetry.Metrics      // nil disables metrics

	rngMu sync.Mutex
	rng   *rand.Rand

	nowFn     func() time.Time
	sleepFn   func(ctx context.Context, d time.Duration)
	fillRatio func() float64 // overrides the sampler when set
}

// Option customizes an Engine; used by main for wiring and by tests for
// determinism.
type Option func(*Engine)

// WithPool runs market-order execution on the given worker pool.
func WithPool(p *concurrency.WorkerPool) Option {
	return func(e *Engine) { e.pool = p }
}

// WithHub broadcasts order and ticker events through the given hub.
func WithHub(h *liveserver.Hub) Option {
	return func(e *Engine) { e.hub = h }
}

// WithMetrics records engine metrics on the given instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRNG replaces the random source; tests seed it for reproducibility.
func WithRNG(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithNowFunc replaces the clock; tests use it to age orders.
func WithNowFunc(fn func() time.Time) Option {
	return func(e *Engine) { e.nowFn = fn }
}

// WithSleepFunc replaces the latency sleep; tests make it a no-op.
func WithSleepFunc(fn func(ctx context.Context, d time.Duration)) Option {
	return func(e *Engine) { e.sleepFn = fn }
}

// WithFillRatio pins the market fill-ratio sampler to a fixed function;
// tests use it to drive exact partial fills.
func WithFillRatio(fn func() float64) Option {
	return func(e *Engine) { e.fillRatio = fn }
}

// New creates an engine over the given components.
func New(mkt *market.Market, book *orderbook.Book, ledger *portfolio.Portfolio, cfg config.ExchangeConfig, logger core.ILogger, opts ...Option) *Engine {
	e := &Engine{
		market:  mkt,
		book:    book,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger.WithField("component", "engine"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		nowFn:   time.Now,
		sleepFn: sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlaceRequest is the order intake payload, shared by place and can_execute.
type PlaceRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
	LimitPrice float64 `json:"limit_price,omitempty"`
}

// reservation is the pre-trade funds requirement of a validated request.
type reservation struct {
	side           core.Side
	typ            core.OrderType
	base, quote    string
	asset          string  // asset the reservation is held on
	amount         float64 // quantity moved free -> used
	effectivePrice float64 // limit price, or last price for market orders
}

// prepare validates the request and computes its reservation. No state is
// touched; place and can_execute share this path so their verdicts agree.
func (e *Engine) prepare(ctx context.Context, req PlaceRequest) (reservation, error) {
	var res reservation

	side, err := core.ParseSide(req.Side)
	if err != nil {
		return res, err
	}
	typ, err := core.ParseOrderType(req.Type)
	if err != nil {
		return res, err
	}
	if req.Amount <= 0 {
		return res, apperrors.InvalidArgumentf("amount must be > 0, got %v", req.Amount)
	}
	if typ == core.TypeLimit && req.LimitPrice <= 0 {
		return res, apperrors.InvalidArgumentf("limit orders need limit_price > 0, got %v", req.LimitPrice)
	}
	base, quote, err := core.SplitSymbol(req.Symbol)
	if err != nil {
		return res, err
	}

	last, err := e.market.LastPrice(ctx, req.Symbol)
	if err != nil {
		return res, err
	}

	res = reservation{
		side:           side,
		typ:            typ,
		base:           base,
		quote:          quote,
		effectivePrice: last,
	}
	if typ == core.TypeLimit {
		res.effectivePrice = req.LimitPrice
	}
	if side == core.SideBuy {
		res.asset = quote
		res.amount = req.Amount * res.effectivePrice * (1 + e.cfg.CommissionRate)
	} else {
		res.asset = base
		res.amount = req.Amount
	}
	return res, nil
}

// Place runs the order intake: validate, reserve, persist. Insufficient
// funds do not error; the order is persisted as rejected for audit and
// returned. Market orders are dispatched to asynchronous execution and
// returned while still OPEN; the client polls for the terminal status.
func (e *Engine) Place(ctx context.Context, req PlaceRequest) (*core.Order, error) {
	res, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	o := &core.Order{
		Symbol:         req.Symbol,
		Side:           res.side,
		Type:           res.typ,
		Amount:         req.Amount,
		Status:         core.StatusNew,
		Reserved:       res.amount,
		CommissionRate: e.cfg.CommissionRate,
		CashAsset:      e.cfg.CashAsset,
	}
	if res.typ == core.TypeLimit {
		o.LimitPrice = req.LimitPrice
	}

	if err := e.ledger.Reserve(ctx, res.asset, res.amount); err != nil {
		if apperrors.KindOf(err) != apperrors.KindInsufficientFunds {
			return nil, err
		}
		o.Status = core.StatusRejected
		o.CancelReason = err.Error()
		if cerr := e.book.Create(ctx, o); cerr != nil {
			return nil, cerr
		}
		e.logger.Info("order rejected", "oid", o.OID, "symbol", o.Symbol, "reason", o.CancelReason)
		e.metrics.RecordOrderPlaced(ctx, string(o.Side), string(o.Type))
		e.metrics.RecordOrderSettled(ctx, string(o.Status))
		e.publishOrder(o)
		return o, nil
	}

	if err := e.book.Create(ctx, o); err != nil {
		// The reservation is held but the record failed to persist; hand
		// the funds back before surfacing the error.
		if _, rerr := e.ledger.Release(ctx, res.asset, res.amount); rerr != nil {
			e.logger.Error("release after failed create", "asset", res.asset, "error", rerr)
		}
		return nil, err
	}

	e.logger.Info("order placed",
		"oid", o.OID, "symbol", o.Symbol, "side", o.Side, "type", o.Type,
		"amount", o.Amount, "reserved", o.Reserved)
	e.metrics.RecordOrderPlaced(ctx, string(o.Side), string(o.Type))
	e.publishOrder(o)

	if res.typ == core.TypeMarket {
		e.dispatchMarket(ctx, o.OID)
	}
	return o, nil
}

// Decision is the can_execute verdict.
type Decision struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CanExecute is the dry-run counterpart of Place: same validation, same
// reservation arithmetic, no state change. ok is true iff an immediate
// Place with the same arguments would not come back rejected.
func (e *Engine) CanExecute(ctx context.Context, req PlaceRequest) (Decision, error) {
	res, err := e.prepare(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	bal, err := e.ledger.Get(ctx, res.asset)
	if err != nil {
		return Decision{}, err
	}
	if bal.Free < res.amount {
		return Decision{
			OK:     false,
			Reason: apperrors.InsufficientFundsf("need %v %s, have %v", res.amount, res.asset, bal.Free).Error(),
		}, nil
	}
	return Decision{OK: true}, nil
}

// GetOrder loads one order.
func (e *Engine) GetOrder(ctx context.Context, oid string) (*core.Order, error) {
	return e.book.Get(ctx, oid)
}

// ListOrders loads the orders matching a filter.
func (e *Engine) ListOrders(ctx context.Context, f orderbook.Filter) ([]*core.Order, error) {
	return e.book.List(ctx, f)
}

// ListOrderIDs resolves a filter to order ids.
func (e *Engine) ListOrderIDs(ctx context.Context, f orderbook.Filter) ([]string, error) {
	return e.book.ListIDs(ctx, f)
}

func (e *Engine) publishOrder(o *core.Order) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(liveserver.NewOrderMessage(o))
}

func (e *Engine) publishTicker(t core.Ticker) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(liveserver.NewTickerMessage(t))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

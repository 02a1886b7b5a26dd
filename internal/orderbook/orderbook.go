// Package orderbook persists order records as ord_<OID> hashes with
// idx_status/idx_sym/idx_side index sets, and guards every status change
// against the lifecycle state machine.
package orderbook

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/store"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

const (
	orderPrefix  = "ord_"
	statusPrefix = "idx_status_"
	symbolPrefix = "idx_sym_"
	sidePrefix   = "idx_side_"
	allOrdersKey = "idx_orders"
)

// ErrSkip aborts an Update without persisting anything. Used by callers
// whose mutator discovers under the lock that there is nothing to do.
var ErrSkip = errors.New("orderbook: skip update")

// Filter narrows List and ListIDs.
type Filter struct {
	Statuses []core.Status
	Symbol   string
	Side     core.Side
	Tail     int // keep only the N most recently updated; 0 = all
}

// Book owns the order records. Only the engine mutates them.
type Book struct {
	store   store.Store
	lockTTL time.Duration
	logger  core.ILogger
	nowFn   func() time.Time
}

// New creates a book over the given store.
func New(st store.Store, lockTTL time.Duration, logger core.ILogger) *Book {
	return &Book{
		store:   st,
		lockTTL: lockTTL,
		logger:  logger.WithField("component", "orderbook"),
		nowFn:   time.Now,
	}
}

func orderKey(oid string) string { return orderPrefix + oid }

// NewOID mints an order id: zero-padded unix seconds, then six urlsafe
// characters of entropy. Lexicographic order of ids tracks creation time,
// which doubles as the FIFO tie-break.
func NewOID(now time.Time) string {
	u := uuid.New()
	suffix := base64.RawURLEncoding.EncodeToString(u[:])[:6]
	return fmt.Sprintf("%010d=%s", now.Unix(), suffix)
}

// Create assigns an oid if the order has none, stamps ts_create/ts_update
// and stores the record with its index entries.
func (b *Book) Create(ctx context.Context, o *core.Order) error {
	now := b.nowFn()
	if o.OID == "" {
		o.OID = NewOID(now)
	}
	if o.TsCreate == 0 {
		o.TsCreate = now.UnixMilli()
	}
	o.TsUpdate = o.TsCreate
	if o.Status.IsTerminal() && o.TsFinal == 0 {
		o.TsFinal = o.TsCreate
	}
	o.AppendHistory(o.TsCreate, o.Status, 0, 0, o.CancelReason)

	if err := b.store.HSet(ctx, orderKey(o.OID), encodeOrder(o)); err != nil {
		return err
	}
	return b.index(ctx, o)
}

// Get loads one order.
func (b *Book) Get(ctx context.Context, oid string) (*core.Order, error) {
	h, err := b.store.HGetAll(ctx, orderKey(oid))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, apperrors.NotFoundf("order %s", oid)
	}
	return decodeOrder(oid, h)
}

// ListIDs resolves a filter to order ids via set intersections; the cost is
// proportional to the result and the filter, never to the whole book.
func (b *Book) ListIDs(ctx context.Context, f Filter) ([]string, error) {
	var fixed []string
	if f.Symbol != "" {
		fixed = append(fixed, symbolPrefix+f.Symbol)
	}
	if f.Side != "" {
		fixed = append(fixed, sidePrefix+string(f.Side))
	}

	seen := make(map[string]struct{})
	var oids []string
	add := func(ids []string) {
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				oids = append(oids, id)
			}
		}
	}

	if len(f.Statuses) == 0 {
		keys := fixed
		if len(keys) == 0 {
			keys = []string{allOrdersKey}
		}
		ids, err := b.store.SInter(ctx, keys...)
		if err != nil {
			return nil, err
		}
		add(ids)
	} else {
		for _, st := range f.Statuses {
			ids, err := b.store.SInter(ctx, append([]string{statusPrefix + string(st)}, fixed...)...)
			if err != nil {
				return nil, err
			}
			add(ids)
		}
	}
	sort.Strings(oids)
	return oids, nil
}

// List loads the orders matching a filter, most recently updated first.
// Tail keeps only the first N of that ordering.
func (b *Book) List(ctx context.Context, f Filter) ([]*core.Order, error) {
	oids, err := b.ListIDs(ctx, f)
	if err != nil {
		return nil, err
	}
	orders := make([]*core.Order, 0, len(oids))
	for _, oid := range oids {
		o, err := b.Get(ctx, oid)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindNotFound {
				continue // deleted between index read and load
			}
			return nil, err
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].TsUpdate != orders[j].TsUpdate {
			return orders[i].TsUpdate > orders[j].TsUpdate
		}
		return orders[i].OID > orders[j].OID
	})
	if f.Tail > 0 && len(orders) > f.Tail {
		orders = orders[:f.Tail]
	}
	return orders, nil
}

// ListOpenFIFO returns the OPEN orders for a symbol in settlement order:
// ascending ts_create, ties broken by oid.
func (b *Book) ListOpenFIFO(ctx context.Context, symbol string) ([]*core.Order, error) {
	orders, err := b.List(ctx, Filter{Statuses: core.OpenStatuses, Symbol: symbol})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].TsCreate != orders[j].TsCreate {
			return orders[i].TsCreate < orders[j].TsCreate
		}
		return orders[i].OID < orders[j].OID
	})
	return orders, nil
}

// Update applies mutate to the order under its advisory lock and persists
// the result. A status change must follow the lifecycle graph; violations
// fail with IllegalTransition and leave the record untouched. Returning
// ErrSkip from mutate abandons the update without error.
func (b *Book) Update(ctx context.Context, oid string, mutate func(*core.Order) error) (*core.Order, error) {
	var out *core.Order
	err := b.store.WithLock(ctx, orderKey(oid), b.lockTTL, func() error {
		o, err := b.Get(ctx, oid)
		if err != nil {
			return err
		}
		before := o.Status

		if err := mutate(o); err != nil {
			if errors.Is(err, ErrSkip) {
				out = o
				return nil
			}
			return err
		}

		now := b.nowFn().UnixMilli()
		o.TsUpdate = now
		if o.Status != before {
			if !core.CanTransition(before, o.Status) {
				return apperrors.IllegalTransitionf(oid, string(before), string(o.Status))
			}
			if o.Status.IsTerminal() {
				o.TsFinal = now
			}
			o.AppendHistory(now, o.Status, o.AvgPrice, o.Filled, o.CancelReason)
			if err := b.reindexStatus(ctx, oid, before, o.Status); err != nil {
				return err
			}
		}

		if err := b.store.HSet(ctx, orderKey(oid), encodeOrder(o)); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// Delete removes the record and all its index entries.
func (b *Book) Delete(ctx context.Context, oid string) error {
	o, err := b.Get(ctx, oid)
	if err != nil {
		return err
	}
	if err := b.store.SRem(ctx, statusPrefix+string(o.Status), oid); err != nil {
		return err
	}
	if err := b.store.SRem(ctx, symbolPrefix+o.Symbol, oid); err != nil {
		return err
	}
	if err := b.store.SRem(ctx, sidePrefix+string(o.Side), oid); err != nil {
		return err
	}
	if err := b.store.SRem(ctx, allOrdersKey, oid); err != nil {
		return err
	}
	return b.store.Delete(ctx, orderKey(oid))
}

// ScanOpen returns every OPEN order across all symbols.
func (b *Book) ScanOpen(ctx context.Context) ([]*core.Order, error) {
	return b.List(ctx, Filter{Statuses: core.OpenStatuses})
}

// ScanTerminalOlderThan returns terminal orders finalized before the cutoff.
func (b *Book) ScanTerminalOlderThan(ctx context.Context, cutoff time.Time) ([]*core.Order, error) {
	orders, err := b.List(ctx, Filter{Statuses: core.TerminalStatuses})
	if err != nil {
		return nil, err
	}
	ms := cutoff.UnixMilli()
	var out []*core.Order
	for _, o := range orders {
		if o.TsFinal != 0 && o.TsFinal < ms {
			out = append(out, o)
		}
	}
	return out, nil
}

// Clear wipes every order and index. Admin surface only.
func (b *Book) Clear(ctx context.Context) error {
	for _, prefix := range []string{orderPrefix, statusPrefix, symbolPrefix, sidePrefix} {
		keys, err := b.store.KeysWithPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		if err := b.store.Delete(ctx, keys...); err != nil {
			return err
		}
	}
	return b.store.Delete(ctx, allOrdersKey)
}

func (b *Book) index(ctx context.Context, o *core.Order) error {
	if err := b.store.SAdd(ctx, statusPrefix+string(o.Status), o.OID); err != nil {
		return err
	}
	if err := b.store.SAdd(ctx, symbolPrefix+o.Symbol, o.OID); err != nil {
		return err
	}
	if err := b.store.SAdd(ctx, sidePrefix+string(o.Side), o.OID); err != nil {
		return err
	}
	return b.store.SAdd(ctx, allOrdersKey, o.OID)
}

func (b *Book) reindexStatus(ctx context.Context, oid string, from, to core.Status) error {
	if err := b.store.SRem(ctx, statusPrefix+string(from), oid); err != nil {
		return err
	}
	return b.store.SAdd(ctx, statusPrefix+string(to), oid)
}

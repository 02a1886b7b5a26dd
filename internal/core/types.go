// Package core defines the domain types shared across the exchange engine
package core

import (
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// Side is the order direction
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide validates a side string
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(s)) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", apperrors.InvalidArgumentf("invalid side %q", s)
	}
}

// OrderType is the execution style of an order
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// ParseOrderType validates an order type string
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToLower(s)) {
	case TypeMarket:
		return TypeMarket, nil
	case TypeLimit:
		return TypeLimit, nil
	default:
		return "", apperrors.InvalidArgumentf("invalid order type %q", s)
	}
}

// Status is the order lifecycle state
type Status string

const (
	StatusNew               Status = "new"
	StatusPartiallyFilled   Status = "partially_filled"
	StatusFilled            Status = "filled"
	StatusPartiallyCanceled Status = "partially_canceled"
	StatusCanceled          Status = "canceled"
	StatusExpired           Status = "expired"
	StatusRejected          Status = "rejected"
)

// OpenStatuses are the statuses under which an order still holds a reservation
var OpenStatuses = []Status{StatusNew, StatusPartiallyFilled}

// TerminalStatuses are the end states of the lifecycle
var TerminalStatuses = []Status{
	StatusFilled,
	StatusPartiallyCanceled,
	StatusCanceled,
	StatusExpired,
	StatusRejected,
}

// AllStatuses enumerates every valid status value
var AllStatuses = append(append([]Status{}, OpenStatuses...), TerminalStatuses...)

// ParseStatus validates a status string
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(s))
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", apperrors.InvalidArgumentf("invalid status %q", s)
}

// IsOpen reports whether the status still holds a reservation
func (s Status) IsOpen() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// IsTerminal reports whether the status is an end state
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusPartiallyCanceled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// HistoryEntry records one lifecycle transition of an order
type HistoryEntry struct {
	Ts      int64   `json:"ts"`
	Status  Status  `json:"status"`
	Price   float64 `json:"price,omitempty"`
	Filled  float64 `json:"filled,omitempty"`
	Comment string  `json:"comment,omitempty"`
}

// Order is the persistent order record. Timestamps are epoch milliseconds.
type Order struct {
	OID            string         `json:"oid"`
	Symbol         string         `json:"symbol"`
	Side           Side           `json:"side"`
	Type           OrderType      `json:"type"`
	Amount         float64        `json:"amount"`
	LimitPrice     float64        `json:"limit_price,omitempty"`
	Status         Status         `json:"status"`
	Filled         float64        `json:"filled"`
	Notional       float64        `json:"notional"`
	Fee            float64        `json:"fee"`
	AvgPrice       float64        `json:"avg_price"`
	Reserved       float64        `json:"reserved"`
	CommissionRate float64        `json:"commission_rate"`
	CashAsset      string         `json:"cash_asset"`
	TsCreate       int64          `json:"ts_create"`
	TsUpdate       int64          `json:"ts_update"`
	TsFinal        int64          `json:"ts_final,omitempty"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	History        []HistoryEntry `json:"history,omitempty"`
}

// BaseAsset returns the base leg of the order's symbol
func (o *Order) BaseAsset() string {
	base, _, _ := SplitSymbol(o.Symbol)
	return base
}

// QuoteAsset returns the quote leg of the order's symbol
func (o *Order) QuoteAsset() string {
	_, quote, _ := SplitSymbol(o.Symbol)
	return quote
}

// ReservationAsset is the asset the order's reservation is held on:
// quote for buys, base for sells.
func (o *Order) ReservationAsset() string {
	if o.Side == SideBuy {
		return o.QuoteAsset()
	}
	return o.BaseAsset()
}

// Remaining returns the unfilled base quantity
func (o *Order) Remaining() float64 {
	return o.Amount - o.Filled
}

// RemainingReservation returns the portion of the initial reservation an
// OPEN order still holds: for buys the reserved quote not yet consumed by
// notional+fee, for sells the undelivered base quantity. Terminal orders
// hold nothing.
func (o *Order) RemainingReservation() float64 {
	if o.Status.IsTerminal() {
		return 0
	}
	if o.Side == SideBuy {
		rem := o.Reserved - (o.Notional + o.Fee)
		if rem < 0 {
			return 0
		}
		return rem
	}
	return o.Amount - o.Filled
}

// IsOpen reports whether the order still holds a reservation
func (o *Order) IsOpen() bool { return o.Status.IsOpen() }

// IsTerminal reports whether the order reached an end state
func (o *Order) IsTerminal() bool { return o.Status.IsTerminal() }

// AppendHistory records a transition on the order's audit trail
func (o *Order) AppendHistory(ts int64, status Status, price, filled float64, comment string) {
	o.History = append(o.History, HistoryEntry{
		Ts:      ts,
		Status:  status,
		Price:   price,
		Filled:  filled,
		Comment: comment,
	})
}

// AssetBalance is one row of the balance ledger
type AssetBalance struct {
	Asset string  `json:"asset"`
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
}

// Total returns free + used
func (b AssetBalance) Total() float64 {
	return b.Free + b.Used
}

// MarshalJSON renders the row with the derived total field
func (b AssetBalance) MarshalJSON() ([]byte, error) {
	type alias AssetBalance
	return json.Marshal(struct {
		alias
		Total float64 `json:"total"`
	}{alias(b), b.Total()})
}

// Ticker is the last-trade snapshot for a symbol, written by an external
// feeder. Timestamp is epoch seconds, fractional allowed.
type Ticker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Timestamp float64 `json:"timestamp"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	BidVolume float64 `json:"bidVolume"`
	AskVolume float64 `json:"askVolume"`
}

// Age returns how old the ticker is relative to now
func (t Ticker) Age(now time.Time) time.Duration {
	sec := float64(now.UnixNano())/float64(time.Second) - t.Timestamp
	return time.Duration(sec * float64(time.Second))
}

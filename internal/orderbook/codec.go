package orderbook

import (
	"encoding/json"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/store"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

// encodeOrder flattens an order into hash fields. History rides along as a
// JSON array so one HGetAll round-trip loads the whole record.
func encodeOrder(o *core.Order) map[string]string {
	h := map[string]string{
		"oid":             o.OID,
		"symbol":          o.Symbol,
		"side":            string(o.Side),
		"type":            string(o.Type),
		"amount":          store.FormatFloat(o.Amount),
		"status":          string(o.Status),
		"filled":          store.FormatFloat(o.Filled),
		"notional":        store.FormatFloat(o.Notional),
		"fee":             store.FormatFloat(o.Fee),
		"avg_price":       store.FormatFloat(o.AvgPrice),
		"reserved":        store.FormatFloat(o.Reserved),
		"commission_rate": store.FormatFloat(o.CommissionRate),
		"cash_asset":      o.CashAsset,
		"ts_create":       store.FormatInt(o.TsCreate),
		"ts_update":       store.FormatInt(o.TsUpdate),
		"ts_final":        store.FormatInt(o.TsFinal),
		"cancel_reason":   o.CancelReason,
	}
	if o.Type == core.TypeLimit {
		h["limit_price"] = store.FormatFloat(o.LimitPrice)
	}
	if len(o.History) > 0 {
		if raw, err := json.Marshal(o.History); err == nil {
			h["history"] = string(raw)
		}
	}
	return h
}

func decodeOrder(oid string, h map[string]string) (*core.Order, error) {
	fail := func(err error) (*core.Order, error) {
		return nil, apperrors.Fatalf("corrupt order %s: %v", oid, err)
	}

	side, err := core.ParseSide(h["side"])
	if err != nil {
		return fail(err)
	}
	typ, err := core.ParseOrderType(h["type"])
	if err != nil {
		return fail(err)
	}
	status, err := core.ParseStatus(h["status"])
	if err != nil {
		return fail(err)
	}

	o := &core.Order{
		OID:          oid,
		Symbol:       h["symbol"],
		Side:         side,
		Type:         typ,
		Status:       status,
		CashAsset:    h["cash_asset"],
		CancelReason: h["cancel_reason"],
	}

	floats := []struct {
		field string
		dst   *float64
	}{
		{"amount", &o.Amount},
		{"limit_price", &o.LimitPrice},
		{"filled", &o.Filled},
		{"notional", &o.Notional},
		{"fee", &o.Fee},
		{"avg_price", &o.AvgPrice},
		{"reserved", &o.Reserved},
		{"commission_rate", &o.CommissionRate},
	}
	for _, f := range floats {
		if *f.dst, err = store.ParseFloat(h[f.field]); err != nil {
			return fail(err)
		}
	}

	ints := []struct {
		field string
		dst   *int64
	}{
		{"ts_create", &o.TsCreate},
		{"ts_update", &o.TsUpdate},
		{"ts_final", &o.TsFinal},
	}
	for _, f := range ints {
		if *f.dst, err = store.ParseInt(h[f.field]); err != nil {
			return fail(err)
		}
	}

	if raw := h["history"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &o.History); err != nil {
			return fail(err)
		}
	}
	return o, nil
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/engine"
	"github.com/didac-crst/mockexchange-api/internal/orderbook"
	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": serviceName,
		"version": s.version,
	})
}

// --- market data ---

func (s *Server) handleListTickers(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.market.Symbols(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, symbols)
}

// handleGetTickers serves one symbol or a comma-separated batch. In batch
// mode unknown symbols become per-symbol error entries so one bad symbol
// cannot fail the whole response.
func (s *Server) handleGetTickers(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["syms"]
	if !strings.Contains(raw, ",") {
		t, err := s.market.Ticker(r.Context(), raw)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, t)
		return
	}

	out := make(map[string]interface{})
	for _, sym := range strings.Split(raw, ",") {
		sym = strings.TrimSpace(sym)
		if sym == "" {
			continue
		}
		t, err := s.market.Ticker(r.Context(), sym)
		if err != nil {
			out[sym] = errorBody{Error: err.Error()}
			continue
		}
		out[sym] = t
	}
	respondJSON(w, http.StatusOK, out)
}

// --- balances ---

func (s *Server) handleBalanceSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ledger.Snapshot(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleBalanceList(w http.ResponseWriter, r *http.Request) {
	assets, err := s.ledger.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"length": len(assets),
		"assets": assets,
	})
}

func (s *Server) handleBalanceGet(w http.ResponseWriter, r *http.Request) {
	bal, err := s.ledger.Get(r.Context(), mux.Vars(r)["asset"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bal)
}

type amountBody struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	bal, err := s.ledger.Deposit(r.Context(), mux.Vars(r)["asset"], body.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bal)
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	bal, err := s.ledger.Withdraw(r.Context(), mux.Vars(r)["asset"], body.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bal)
}

// --- orders ---

// parseOrderFilter maps the status/symbol/side/tail query parameters.
func parseOrderFilter(r *http.Request) (orderbook.Filter, error) {
	var f orderbook.Filter
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := core.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return f, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	f.Symbol = q.Get("symbol")
	if raw := q.Get("side"); raw != "" {
		side, err := core.ParseSide(raw)
		if err != nil {
			return f, err
		}
		f.Side = side
	}
	if raw := q.Get("tail"); raw != "" {
		tail, err := strconv.Atoi(raw)
		if err != nil || tail < 0 {
			return f, apperrors.InvalidArgumentf("invalid tail %q", raw)
		}
		f.Tail = tail
	}
	return f, nil
}

func includeHistory(r *http.Request) bool {
	v := strings.ToLower(r.URL.Query().Get("include_history"))
	return v == "true" || v == "1" || v == "yes"
}

// orderView strips the history trail unless the caller asked for it.
func orderView(o *core.Order, withHistory bool) *core.Order {
	if withHistory {
		return o
	}
	view := *o
	view.History = nil
	return &view
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseOrderFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}
	orders, err := s.engine.ListOrders(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	withHistory := includeHistory(r)
	views := make([]*core.Order, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView(o, withHistory))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleListOrderIDs(w http.ResponseWriter, r *http.Request) {
	f, err := parseOrderFilter(r)
	if err != nil {
		respondError(w, err)
		return
	}
	oids, err := s.engine.ListOrderIDs(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"length": len(oids),
		"orders": oids,
	})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req engine.PlaceRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	// A rejected order is still a successful placement: the record exists
	// and carries the reason.
	o, err := s.engine.Place(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, orderView(o, false))
}

func (s *Server) handleCanExecute(w http.ResponseWriter, r *http.Request) {
	var req engine.PlaceRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	dec, err := s.engine.CanExecute(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dec)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.GetOrder(r.Context(), mux.Vars(r)["oid"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderView(o, includeHistory(r)))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.Cancel(r.Context(), mux.Vars(r)["oid"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderView(o, false))
}

// --- overviews ---

func (s *Server) handleOverviewAssets(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.OverviewAssets(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleOverviewCapital(w http.ResponseWriter, r *http.Request) {
	agg := strings.ToLower(r.URL.Query().Get("aggregation"))
	report, err := s.engine.OverviewCapital(r.Context(), agg == "true" || agg == "1" || agg == "yes")
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleOverviewTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var assets []string
	if raw := q.Get("assets"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, a)
			}
		}
	}
	var side core.Side
	if raw := q.Get("side"); raw != "" {
		parsed, err := core.ParseSide(raw)
		if err != nil {
			respondError(w, err)
			return
		}
		side = parsed
	}
	stats, err := s.engine.OverviewTrades(r.Context(), assets, side)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return apperrors.InvalidArgumentf("missing request body")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.InvalidArgumentf("malformed request body: %v", err)
	}
	return nil
}

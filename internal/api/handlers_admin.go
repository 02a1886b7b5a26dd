package api

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/didac-crst/mockexchange-api/pkg/errors"
)

type priceBody struct {
	Price float64 `json:"price"`
}

// handleSetPrice force-writes a ticker's last price and runs an immediate
// settlement pass for that symbol.
func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var body priceBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	t, err := s.engine.SetTickerPrice(r.Context(), mux.Vars(r)["sym"], body.Price)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

type balanceBody struct {
	Free float64 `json:"free"`
	Used float64 `json:"used"`
}

func (s *Server) handleSetBalance(w http.ResponseWriter, r *http.Request) {
	var body balanceBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	bal, err := s.ledger.Set(r.Context(), mux.Vars(r)["asset"], body.Free, body.Used)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bal)
}

type fundBody struct {
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
}

// handleFund credits free funds; the amount counts as deposited capital.
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var body fundBody
	if err := decodeBody(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if body.Asset == "" {
		respondError(w, apperrors.InvalidArgumentf("asset is required"))
		return
	}
	bal, err := s.ledger.Deposit(r.Context(), body.Asset, body.Amount)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bal)
}

// handleWipe clears balances, orders and capital counters. Tickers stay;
// the external feeder owns them.
func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "wiped"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.health.Status(r.Context())
	code := http.StatusOK
	if report.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, report)
}

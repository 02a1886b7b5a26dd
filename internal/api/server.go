// Package api is the HTTP adapter: a gorilla/mux router translating the
// exchange's JSON contract into engine calls. It holds no business logic.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/didac-crst/mockexchange-api/internal/config"
	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/engine"
	"github.com/didac-crst/mockexchange-api/internal/health"
	"github.com/didac-crst/mockexchange-api/internal/market"
	"github.com/didac-crst/mockexchange-api/internal/portfolio"
	"github.com/didac-crst/mockexchange-api/internal/telemetry"
	"github.com/didac-crst/mockexchange-api/pkg/liveserver"
)

const serviceName = "mockexchange"

// Deps are the components the adapter exposes.
type Deps struct {
	Engine  *engine.Engine
	Market  *market.Market
	Ledger  *portfolio.Portfolio
	Health  *health.Registry
	Hub     *liveserver.Hub    // nil disables /ws
	Metrics *telemetry.Metrics // nil disables HTTP metrics
	Logger  core.ILogger
	Version string
}

// Server is the HTTP adapter.
type Server struct {
	cfg     config.ServerConfig
	engine  *engine.Engine
	market  *market.Market
	ledger  *portfolio.Portfolio
	health  *health.Registry
	hub     *liveserver.Hub
	metrics *telemetry.Metrics
	logger  core.ILogger
	version string

	router   *mux.Router
	httpSrv  *http.Server
	limiters sync.Map // client ip -> *rate.Limiter
	upgrader websocket.Upgrader
}

// NewServer builds the router and handlers.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		market:  deps.Market,
		ledger:  deps.Ledger,
		health:  deps.Health,
		hub:     deps.Hub,
		metrics: deps.Metrics,
		logger:  deps.Logger.WithField("component", "api"),
		version: deps.Version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()

	handler := cors.AllowAll().Handler(s.rateLimit(s.logRequests(s.router)))
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	// Market data.
	r.HandleFunc("/tickers", s.handleListTickers).Methods(http.MethodGet)
	r.HandleFunc("/tickers/{syms:.+}", s.handleGetTickers).Methods(http.MethodGet)

	// Balances.
	r.HandleFunc("/balance", s.handleBalanceSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/balance/list", s.handleBalanceList).Methods(http.MethodGet)
	r.HandleFunc("/balance/{asset}", s.handleBalanceGet).Methods(http.MethodGet)
	r.HandleFunc("/balance/{asset}/deposit", s.requireAuth(s.handleDeposit)).Methods(http.MethodPost)
	r.HandleFunc("/balance/{asset}/withdrawal", s.requireAuth(s.handleWithdrawal)).Methods(http.MethodPost)

	// Orders.
	r.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders", s.requireAuth(s.handlePlaceOrder)).Methods(http.MethodPost)
	r.HandleFunc("/orders/list", s.handleListOrderIDs).Methods(http.MethodGet)
	r.HandleFunc("/orders/can_execute", s.handleCanExecute).Methods(http.MethodPost)
	r.HandleFunc("/orders/{oid}", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/{oid}/cancel", s.requireAuth(s.handleCancelOrder)).Methods(http.MethodPost)

	// Overviews.
	r.HandleFunc("/overview/assets", s.handleOverviewAssets).Methods(http.MethodGet)
	r.HandleFunc("/overview/capital", s.handleOverviewCapital).Methods(http.MethodGet)
	r.HandleFunc("/overview/trades", s.handleOverviewTrades).Methods(http.MethodGet)

	// Admin.
	r.HandleFunc("/admin/tickers/{sym:.+}/price", s.requireAuth(s.handleSetPrice)).Methods(http.MethodPatch)
	r.HandleFunc("/admin/balance/{asset}", s.requireAuth(s.handleSetBalance)).Methods(http.MethodPatch)
	r.HandleFunc("/admin/fund", s.requireAuth(s.handleFund)).Methods(http.MethodPost)
	r.HandleFunc("/admin/data", s.requireAuth(s.handleWipe)).Methods(http.MethodDelete)
	r.HandleFunc("/admin/healthz", s.handleHealthz).Methods(http.MethodGet)

	// Telemetry and streaming.
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.cfg.EnableWS && s.hub != nil {
		r.HandleFunc("/ws", s.requireAuth(s.handleWS)).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	return r
}

// Handler exposes the full middleware chain; tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

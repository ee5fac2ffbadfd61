package rpc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rigchain/native/mining"
	"rigchain/native/params"
	"rigchain/native/rig"
	"rigchain/native/sale"
	"rigchain/native/supply"
	"rigchain/native/token"
)

// Server exposes the engines over HTTP. Timestamps on mutating operations
// come from the server clock; clients never supply their own.
type Server struct {
	logger   *slog.Logger
	mining   *mining.Engine
	sale     *sale.Engine
	rigs     *rig.Engine
	tokens   *token.Ledger
	supply   *supply.Ledger
	timelock *params.Timelock

	now func() int64
}

// Config wires the server to the node's engines.
type Config struct {
	Logger   *slog.Logger
	Mining   *mining.Engine
	Sale     *sale.Engine
	Rigs     *rig.Engine
	Tokens   *token.Ledger
	Supply   *supply.Ledger
	Timelock *params.Timelock
}

// NewServer constructs the HTTP surface.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		mining:   cfg.Mining,
		sale:     cfg.Sale,
		rigs:     cfg.Rigs,
		tokens:   cfg.Tokens,
		supply:   cfg.Supply,
		timelock: cfg.Timelock,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Handler builds the chi router. The limiter may be nil to disable
// throttling.
func (s *Server) Handler(limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		if limiter != nil {
			v1.Use(limiter.Middleware())
		}
		v1.Get("/supply", s.handleSupply)
		v1.Get("/miners/{address}", s.handleMinerInfo)
		v1.Post("/miners/{address}/settle", s.handleSettle)
		v1.Post("/miners/{address}/claim", s.handleClaim)
		v1.Get("/balances/{address}", s.handleBalance)

		v1.Post("/rigs/open", s.handleOpenBox)
		v1.Get("/rigs/{id}", s.handleRigInfo)
		v1.Post("/rigs/{id}/register", s.handleRegister)
		v1.Post("/rigs/{id}/deregister", s.handleDeregister)
		v1.Post("/rigs/{id}/transfer", s.handleTransfer)
		v1.Post("/rigs/{id}/retire", s.handleRetire)

		v1.Post("/sale/referrer", s.handleSetReferrer)
		v1.Post("/sale/purchase", s.handlePurchase)

		v1.Post("/params/changes", s.handleRequestChange)
		v1.Post("/params/changes/{id}/execute", s.handleExecuteChange)
		v1.Post("/params/changes/{id}/cancel", s.handleCancelChange)
		v1.Get("/params/changes/{id}", s.handlePendingChange)
	})

	return r
}

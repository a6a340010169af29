// Package api serves the exchange over HTTP. It is glue only: requests
// are decoded, the caller identity resolved and everything else is
// delegated to the gateway.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/log"

	"github.com/openalpha/spot-dex/api/handlers"
	"github.com/openalpha/spot-dex/api/middleware"
	apitypes "github.com/openalpha/spot-dex/api/types"
	"github.com/openalpha/spot-dex/config"
	"github.com/openalpha/spot-dex/metrics"
)

// Server is the HTTP front of the exchange.
type Server struct {
	httpServer *http.Server
	cfg        config.ServerConfig
	logger     log.Logger
	metrics    *metrics.Metrics

	rateLimiter *middleware.RateLimiter

	orderHandler   *handlers.OrderHandler
	accountHandler *handlers.AccountHandler
	marketHandler  *handlers.MarketHandler
}

// NewServer creates the server over the given exchange service.
func NewServer(cfg config.ServerConfig, svc apitypes.Exchange, m *metrics.Metrics, metricsEnabled bool, logger log.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		logger:         logger.With("module", "api"),
		metrics:        m,
		rateLimiter:    middleware.NewRateLimiter(100, 200),
		orderHandler:   handlers.NewOrderHandler(svc),
		accountHandler: handlers.NewAccountHandler(svc),
		marketHandler:  handlers.NewMarketHandler(svc),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux, metricsEnabled)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.rateLimiter.Middleware(s.corsMiddleware(s.metricsMiddleware(mux))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes(mux *http.ServeMux, metricsEnabled bool) {
	mux.HandleFunc("/health", s.marketHandler.HandleHealth)
	if metricsEnabled {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/v1/public/register", s.accountHandler.HandleRegister)
	mux.HandleFunc("/v1/instruments", s.marketHandler.HandleInstruments)
	mux.HandleFunc("/v1/orderbook/", s.marketHandler.HandleOrderBook)
	mux.HandleFunc("/v1/trades/", s.marketHandler.HandleTrades)

	mux.HandleFunc("/v1/orders", s.orderHandler.HandleOrders)
	mux.HandleFunc("/v1/orders/", s.orderHandler.HandleOrder)
	mux.HandleFunc("/v1/balance", s.accountHandler.HandleBalance)

	mux.HandleFunc("/v1/admin/balance/deposit", s.accountHandler.HandleAdminDeposit)
	mux.HandleFunc("/v1/admin/balance/withdraw", s.accountHandler.HandleAdminWithdraw)
	mux.HandleFunc("/v1/admin/instruments", s.accountHandler.HandleAdminInstruments)
	mux.HandleFunc("/v1/admin/users/", s.accountHandler.HandleAdminUser)
}

// Handler exposes the full middleware chain for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.cfg.Addr())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path),
			fmt.Sprintf("%d", rec.status), time.Since(start))
	})
}

// routeLabel collapses path parameters so metric cardinality stays
// bounded by the route table.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/orderbook/"):
		return "/v1/orderbook/{ticker}"
	case strings.HasPrefix(path, "/v1/trades/"):
		return "/v1/trades/{ticker}"
	case strings.HasPrefix(path, "/v1/orders/"):
		return "/v1/orders/{id}"
	case strings.HasPrefix(path, "/v1/admin/users/"):
		return "/v1/admin/users/{id}"
	default:
		return path
	}
}

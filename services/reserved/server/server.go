package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fiatreserve/native/lending"
	"fiatreserve/native/reserve"
	"fiatreserve/native/token"
	"fiatreserve/observability"
	"fiatreserve/services/reserved/app"
	"fiatreserve/services/reserved/storage"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// Config captures the HTTP surface configuration.
type Config struct {
	ListenAddress  string
	OriginPatterns []string
	Auth           AuthConfig
	RateLimit      RateLimit
}

// Server exposes the reserve over HTTP.
type Server struct {
	cfg     Config
	app     *app.App
	store   *storage.Storage
	idem    *IdempotencyStore
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	router  chi.Router
}

// New wires the router. store, idem and hub are optional.
func New(cfg Config, a *app.App, store *storage.Storage, idem *IdempotencyStore, hub *Hub, logger *slog.Logger) (*Server, error) {
	if a == nil || a.Reserve == nil || a.Runtime == nil {
		return nil, fmt.Errorf("server: app not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{
		cfg:     cfg,
		app:     a,
		store:   store,
		idem:    idem,
		hub:     hub,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Use(s.auth.Middleware)

		v.Get("/reserve", s.instrument("reserve", "status", s.handleReserveStatus))
		v.Get("/reserve/snapshots", s.instrument("reserve", "snapshots", s.handleSnapshots))
		v.Get("/markets", s.instrument("markets", "stats", s.handleMarketStats))
		v.Get("/tokens/{symbol}", s.instrument("tokens", "info", s.handleTokenInfo))
		v.Get("/tokens/{symbol}/balances/{address}", s.instrument("tokens", "balance", s.handleBalance))
		v.Get("/tokens/{symbol}/allowances/{owner}/{spender}", s.instrument("tokens", "allowance", s.handleAllowance))
		v.Get("/events", s.instrument("events", "list", s.handleEvents))
		v.Get("/events/export", s.instrument("events", "export", s.handleExport))
		v.Get("/events/stream", s.handleEventStream)

		v.Group(func(m chi.Router) {
			m.Use(s.limiter.Middleware("reserve"))
			m.Use(s.idem.Middleware)

			m.Post("/reserve/initialize", s.instrument("reserve", "initialize", s.handleInitialize))
			m.Post("/reserve/mint", s.instrument("reserve", "mint", s.handleMint))
			m.Post("/reserve/redeem", s.instrument("reserve", "redeem", s.handleRedeem))
			m.Post("/reserve/issue", s.instrument("reserve", "issue", s.handleIssue))
			m.Post("/reserve/allocation", s.instrument("reserve", "allocation", s.handleAllocation))
			m.Post("/reserve/coordinator", s.instrument("reserve", "coordinator", s.handleCoordinator))
			m.Post("/reserve/owner/pending", s.instrument("reserve", "pending_owner", s.handlePendingOwner))
			m.Post("/reserve/owner/accept", s.instrument("reserve", "accept_owner", s.handleAcceptOwner))
			m.Post("/tokens/{symbol}/approve", s.instrument("tokens", "approve", s.handleApprove))
			m.Post("/tokens/{symbol}/transfer", s.instrument("tokens", "transfer", s.handleTransfer))
			m.Post("/markets/borrow", s.instrument("markets", "borrow", s.handleBorrow))
			m.Post("/markets/repay", s.instrument("markets", "repay", s.handleRepay))
			m.Post("/admin/pause", s.instrument("admin", "pause", s.handlePause))
		})
	})
	return r
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "reserved")
}

// Hub returns the live event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("reserved: http server listening", slog.String("listen", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	initialized := false
	err := s.app.Runtime.View(func() error {
		var err error
		initialized, err = s.app.Reserve.Initialized()
		return err
	})
	if err != nil || !initialized {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "initialized": initialized})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "initialized": true})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(module, method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		observability.ModuleMetrics().Observe(module, method, sw.status, time.Since(start))
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// classify maps a domain error onto a status and error code. The reserve
// taxonomy wins; lending and token failures outside it get their own codes.
func classify(err error) (int, string) {
	kind := reserve.KindOf(err)
	if kind != reserve.KindInternal {
		return kind.HTTPStatus(), string(kind)
	}
	switch {
	case errors.Is(err, lending.ErrInsufficientLiquidity), errors.Is(err, lending.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_liquidity"
	case errors.Is(err, lending.ErrInvalidAmount), errors.Is(err, lending.ErrDustDeposit):
		return http.StatusBadRequest, string(reserve.KindValidation)
	case errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound, "not_found"
	}
	return kind.HTTPStatus(), string(kind)
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("reserved: request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", w.Header().Get(RequestIDHeader)),
			slog.Any("error", err))
	}
	writeJSONError(w, status, code, err.Error())
}

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tokensale/native/sale"
	"tokensale/observability/metrics"
	"tokensale/rpc/middleware"
	"tokensale/storage/receipts"
)

const defaultMaxBodyBytes = 1 << 20

// BalanceReader exposes ledger balances. *bank.Ledger satisfies it.
type BalanceReader interface {
	Balance(asset string, addr [20]byte) (uint64, error)
}

// ReceiptReader serves the receipt journal. *receipts.Store satisfies it.
type ReceiptReader interface {
	List(ctx context.Context, f receipts.Filter) ([]receipts.Receipt, error)
	Head() (uint64, string)
}

// Config captures the dependencies of the HTTP API.
type Config struct {
	ServiceName    string
	Engine         *sale.Engine
	Balances       BalanceReader
	Receipts       ReceiptReader
	Hub            *Hub
	Logger         *slog.Logger
	Auth           middleware.AuthConfig
	RateLimit      middleware.RateLimit
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// Server is the sale HTTP API.
type Server struct {
	engine         *sale.Engine
	balances       BalanceReader
	receipts       ReceiptReader
	hub            *Hub
	logger         *slog.Logger
	maxBody        int64
	originPatterns []string

	router  http.Handler
	handler http.Handler
}

// New builds the router and its middleware chain.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("rpc: engine required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "saled"
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return nil, errors.New("rpc: auth enabled without a secret")
	}
	s := &Server{
		engine:         cfg.Engine,
		balances:       cfg.Balances,
		receipts:       cfg.Receipts,
		hub:            cfg.Hub,
		logger:         cfg.Logger,
		maxBody:        cfg.MaxBodyBytes,
		originPatterns: cfg.AllowedOrigins,
	}
	s.router = s.buildRouter(cfg)
	s.handler = otelhttp.NewHandler(s.router, cfg.ServiceName)
	return s, nil
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	auth := middleware.NewAuthenticator(cfg.Auth, cfg.Logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.Logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins}))
	r.Use(middleware.Observe(cfg.Logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(auth.Attach)
		api.Use(limiter.Middleware)

		api.Get("/sales", s.handleListSales)
		api.Get("/sales/{id}", s.handleGetSale)
		api.Get("/sales/{id}/buyers/{buyer}", s.handleGetBuyer)
		api.Post("/sales/{id}/quote", s.handleQuote)
		api.Get("/sales/{id}/audit", s.handleAudit)
		api.Get("/sales/{id}/receipts", s.handleReceipts)
		api.Get("/balances/{address}/{asset}", s.handleBalance)
		api.Get("/events", s.handleEvents)

		api.Group(func(caller chi.Router) {
			caller.Use(middleware.RequireIdentity)
			caller.Post("/sales", s.handleCreateSale)
			caller.Patch("/sales/{id}", s.handleUpdateSale)
			caller.Post("/sales/{id}/buyers", s.handleRegisterBuyer)
			caller.Post("/sales/{id}/purchase", s.handlePurchase)
			caller.Post("/sales/{id}/cancel", s.handleCancelSale)
			caller.Post("/sales/{id}/pause", s.handleTogglePause)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.receipts != nil {
		seq, head := s.receipts.Head()
		body["receiptSequence"] = seq
		body["receiptHead"] = head
	}
	writeJSON(w, http.StatusOK, body)
}

// decodeBody reads a JSON body, rejecting unknown fields and oversized input.
// An empty body decodes to the zero value.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func callerFrom(r *http.Request) [20]byte {
	identity, _ := middleware.IdentityFromContext(r.Context())
	return identity
}

func saleIDParam(r *http.Request) ([32]byte, error) {
	return parseSaleID(chi.URLParam(r, "id"))
}

// observe records metrics for an engine call and logs its outcome.
func (s *Server) observe(operation string, start time.Time, saleID [32]byte, err error) {
	metrics.Sale().Observe(operation, time.Since(start), err)
	attrs := []any{"operation", operation}
	if saleID != ([32]byte{}) {
		attrs = append(attrs, "saleid", sale.FormatSaleID(saleID))
	}
	switch {
	case err == nil:
		s.logger.Info("sale operation committed", append(attrs, "outcome", "success")...)
	case statusFor(err) == http.StatusInternalServerError:
		s.logger.Error("sale operation failed", append(attrs, "outcome", "error", "error", err)...)
	default:
		s.logger.Warn("sale operation rejected", append(attrs, "outcome", "rejected", "error", err)...)
	}
}

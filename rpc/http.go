package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"deedchain/native/deed"
	"deedchain/native/escrow"
	"deedchain/observability"
)

const (
	maxRequestBytes = 1 << 20 // 1 MiB
	mutationsPerMin = 60
	mutationBurst   = 10
)

// Server exposes the escrow engine and deed registry over JSON-RPC 2.0.
// Mutating methods require the configured bearer token and are rate limited
// per source address.
type Server struct {
	escrow *escrow.Engine
	deeds  *deed.Registry
	logger *slog.Logger

	authToken string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the server against the two engines. An empty token disables
// authentication, which is only acceptable for local development.
func NewServer(esc *escrow.Engine, reg *deed.Registry, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		escrow:    esc,
		deeds:     reg,
		logger:    logger,
		authToken: strings.TrimSpace(authToken),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Start blocks serving the RPC endpoint together with /metrics and /healthz.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "invalid_request", "request body too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "jsonrpc must be 2.0")
		return
	}

	method := strings.TrimSpace(req.Method)
	handler, ok := s.routes()[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", fmt.Sprintf("unknown method %q", method))
		return
	}
	if handler.mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", authErr.Error())
			return
		}
		if !s.allow(r) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate_limited", "too many mutating requests")
			return
		}
	}

	start := time.Now()
	handler.fn(w, &req)
	observability.ModuleMetrics().ObserveRequest(handler.module, method, "handled", start)
}

type route struct {
	module   string
	mutating bool
	fn       func(http.ResponseWriter, *RPCRequest)
}

func (s *Server) routes() map[string]route {
	return map[string]route{
		"escrow_list":          {module: "escrow", mutating: true, fn: s.handleEscrowList},
		"escrow_downPayment":   {module: "escrow", mutating: true, fn: s.handleEscrowDownPayment},
		"escrow_fundLoan":      {module: "escrow", mutating: true, fn: s.handleEscrowFundLoan},
		"escrow_setInspection": {module: "escrow", mutating: true, fn: s.handleEscrowSetInspection},
		"escrow_approve":       {module: "escrow", mutating: true, fn: s.handleEscrowApprove},
		"escrow_finalize":      {module: "escrow", mutating: true, fn: s.handleEscrowFinalize},
		"escrow_cancel":        {module: "escrow", mutating: true, fn: s.handleEscrowCancel},
		"escrow_getListing":    {module: "escrow", fn: s.handleEscrowGetListing},
		"escrow_getBalance":    {module: "escrow", fn: s.handleEscrowGetBalance},
		"escrow_getParties":    {module: "escrow", fn: s.handleEscrowGetParties},
		"deed_mint":            {module: "deed", mutating: true, fn: s.handleDeedMint},
		"deed_approve":         {module: "deed", mutating: true, fn: s.handleDeedApprove},
		"deed_transfer":        {module: "deed", mutating: true, fn: s.handleDeedTransfer},
		"deed_get":             {module: "deed", fn: s.handleDeedGet},
		"deed_ownerOf":         {module: "deed", fn: s.handleDeedOwnerOf},
	}
}

func (s *Server) requireAuth(r *http.Request) error {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return fmt.Errorf("invalid bearer token")
	}
	return nil
}

func (s *Server) allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(mutationsPerMin)/60, mutationBurst)
		s.limiters[host] = limiter
	}
	return limiter.Allow()
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// Server exposes the REST surface of the title gateway.
type Server struct {
	auth    *Authenticator
	storage *Storage
	node    NodeClient
	logger  *slog.Logger
	router  chi.Router
}

// NewServer wires the gateway's HTTP routes.
func NewServer(auth *Authenticator, storage *Storage, node NodeClient, logger *slog.Logger) *Server {
	s := &Server{
		auth:    auth,
		storage: storage,
		node:    node,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/listings/{tokenID}", s.handleGetListing)
	r.Get("/v1/deeds/{tokenID}", s.handleGetDeed)

	r.Post("/v1/deeds", s.mutating(s.handleMintDeed))
	r.Post("/v1/listings", s.mutating(s.handleCreateListing))
	r.Post("/v1/listings/{tokenID}/deposit", s.mutating(s.handleDeposit))
	r.Post("/v1/listings/{tokenID}/loan", s.mutating(s.handleFundLoan))
	r.Post("/v1/listings/{tokenID}/inspection", s.mutating(s.handleInspection))
	r.Post("/v1/listings/{tokenID}/approvals", s.mutating(s.handleApprove))
	r.Post("/v1/listings/{tokenID}/finalize", s.mutating(s.handleFinalize))
	r.Post("/v1/listings/{tokenID}/cancel", s.mutating(s.handleCancel))
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type mutatingHandler func(ctx context.Context, r *http.Request, body []byte) (int, interface{}, error)

// mutating wraps a handler with HMAC authentication, idempotency handling and
// audit logging.
func (s *Server) mutating(next mutatingHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unable to read request body")
			return
		}

		principal, err := s.auth.Authenticate(r, body)
		if err != nil {
			s.logger.Warn("request rejected", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}

		idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if idemKey == "" {
			writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
			return
		}

		requestHash := HashRequest(r.Method, r.URL.Path, body)
		stored, err := s.storage.BeginIdempotent(r.Context(), idemKey, requestHash)
		if err != nil {
			if errors.Is(err, ErrIdempotencyMismatch) {
				writeError(w, http.StatusConflict, "idempotency key reused with a different request")
				return
			}
			s.logger.Error("idempotency lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if stored != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(stored.StatusCode)
			w.Write(stored.Body)
			return
		}

		status, result, err := next(r.Context(), r, body)
		if err != nil {
			status = nodeErrorStatus(err)
			result = errorBody(err)
		}
		encoded, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			s.logger.Error("encode response failed", "error", marshalErr)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if err := s.storage.CompleteIdempotent(r.Context(), idemKey, status, encoded); err != nil {
			s.logger.Error("record idempotent response failed", "error", err)
		}
		if err := s.storage.RecordAudit(r.Context(), principal.APIKey, r.Method, r.URL.Path, status, chi.URLParam(r, "tokenID")); err != nil {
			s.logger.Error("record audit entry failed", "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(encoded)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listingView struct {
	TokenID          uint64          `json:"tokenId"`
	Seller           string          `json:"seller"`
	Buyer            string          `json:"buyer"`
	PurchasePrice    string          `json:"purchasePrice"`
	EscrowAmount     string          `json:"escrowAmount"`
	HeldAmount       string          `json:"heldAmount"`
	InspectionPassed bool            `json:"inspectionPassed"`
	Approvals        map[string]bool `json:"approvals"`
	Status           string          `json:"status"`
	CreatedAt        int64           `json:"createdAt"`
}

type deedView struct {
	TokenID  uint64 `json:"tokenId"`
	Owner    string `json:"owner"`
	Approved string `json:"approved,omitempty"`
	URI      string `json:"uri"`
	MintedAt int64  `json:"mintedAt"`
}

// nodeBalance mirrors the node's result for the funding methods, which
// report the listing's held amount rather than a listing snapshot.
type nodeBalance struct {
	Balance string `json:"balance"`
}

type fundView struct {
	TokenID    uint64 `json:"tokenId"`
	HeldAmount string `json:"heldAmount"`
}

type inspectionView struct {
	TokenID          uint64 `json:"tokenId"`
	InspectionPassed bool   `json:"inspectionPassed"`
}

type createListingRequest struct {
	TokenID       uint64 `json:"tokenId"`
	Seller        string `json:"seller"`
	Buyer         string `json:"buyer"`
	PurchasePrice string `json:"purchasePrice"`
	EscrowAmount  string `json:"escrowAmount"`
}

type fundRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type inspectionRequest struct {
	Inspector string `json:"inspector"`
	Passed    bool   `json:"passed"`
}

type actorRequest struct {
	Caller string `json:"caller"`
}

type mintDeedRequest struct {
	Registrar string `json:"registrar"`
	Owner     string `json:"owner"`
	URI       string `json:"uri"`
}

func (s *Server) handleCreateListing(ctx context.Context, _ *http.Request, body []byte) (int, interface{}, error) {
	var req createListingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, badRequest("invalid JSON body")
	}
	if req.TokenID == 0 || req.Seller == "" || req.Buyer == "" {
		return 0, nil, badRequest("tokenId, seller and buyer are required")
	}
	params := map[string]interface{}{
		"tokenId":       req.TokenID,
		"caller":        req.Seller,
		"buyer":         req.Buyer,
		"purchasePrice": req.PurchasePrice,
		"escrowAmount":  req.EscrowAmount,
	}
	var listing listingView
	if err := s.node.Call(ctx, "escrow_list", []interface{}{params}, &listing); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, listing, nil
}

func (s *Server) handleDeposit(ctx context.Context, r *http.Request, body []byte) (int, interface{}, error) {
	return s.fundCall(ctx, r, body, "escrow_downPayment")
}

func (s *Server) handleFundLoan(ctx context.Context, r *http.Request, body []byte) (int, interface{}, error) {
	return s.fundCall(ctx, r, body, "escrow_fundLoan")
}

func (s *Server) fundCall(ctx context.Context, r *http.Request, body []byte, method string) (int, interface{}, error) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		return 0, nil, err
	}
	var req fundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, badRequest("invalid JSON body")
	}
	if req.From == "" || req.Amount == "" {
		return 0, nil, badRequest("from and amount are required")
	}
	params := map[string]interface{}{
		"tokenId": tokenID,
		"from":    req.From,
		"amount":  req.Amount,
	}
	var balance nodeBalance
	if err := s.node.Call(ctx, method, []interface{}{params}, &balance); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, fundView{TokenID: tokenID, HeldAmount: balance.Balance}, nil
}

func (s *Server) handleInspection(ctx context.Context, r *http.Request, body []byte) (int, interface{}, error) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		return 0, nil, err
	}
	var req inspectionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, badRequest("invalid JSON body")
	}
	if req.Inspector == "" {
		return 0, nil, badRequest("inspector is required")
	}
	params := map[string]interface{}{
		"tokenId": tokenID,
		"caller":  req.Inspector,
		"passed":  req.Passed,
	}
	var result inspectionView
	if err := s.node.Call(ctx, "escrow_setInspection", []interface{}{params}, &result); err != nil {
		return 0, nil, err
	}
	result.TokenID = tokenID
	return http.StatusOK, result, nil
}

func (s *Server) handleApprove(ctx context.Context, r *http.Request, body []byte) (int, interface{}, error) {
	return s.actorCall(ctx, r, body, "escrow_approve", http.StatusOK)
}

func (s *Server) handleFinalize(ctx context.Context, r *http.Request, body []byte) (int, interface{}, error) {
	return s.actorCall(ctx, r, body, "escrow_finalize", http.StatusOK)
}

func (s *Server) handleCancel(ctx context.Context, r *http.Request, body []byte) (int, interface{}, error) {
	return s.actorCall(ctx, r, body, "escrow_cancel", http.StatusOK)
}

func (s *Server) actorCall(ctx context.Context, r *http.Request, body []byte, method string, okStatus int) (int, interface{}, error) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		return 0, nil, err
	}
	var req actorRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, badRequest("invalid JSON body")
	}
	if req.Caller == "" {
		return 0, nil, badRequest("caller is required")
	}
	params := map[string]interface{}{
		"tokenId": tokenID,
		"caller":  req.Caller,
	}
	var listing listingView
	if err := s.node.Call(ctx, method, []interface{}{params}, &listing); err != nil {
		return 0, nil, err
	}
	return okStatus, listing, nil
}

func (s *Server) handleMintDeed(ctx context.Context, _ *http.Request, body []byte) (int, interface{}, error) {
	var req mintDeedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, badRequest("invalid JSON body")
	}
	if req.Registrar == "" || req.Owner == "" {
		return 0, nil, badRequest("registrar and owner are required")
	}
	params := map[string]interface{}{
		"caller": req.Registrar,
		"owner":  req.Owner,
		"uri":    req.URI,
	}
	var deed deedView
	if err := s.node.Call(ctx, "deed_mint", []interface{}{params}, &deed); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, deed, nil
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := map[string]interface{}{"tokenId": tokenID}
	var listing listingView
	if err := s.node.Call(r.Context(), "escrow_getListing", []interface{}{params}, &listing); err != nil {
		writeJSON(w, nodeErrorStatus(err), errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleGetDeed(w http.ResponseWriter, r *http.Request) {
	tokenID, err := tokenIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := map[string]interface{}{"tokenId": tokenID}
	var deed deedView
	if err := s.node.Call(r.Context(), "deed_get", []interface{}{params}, &deed); err != nil {
		writeJSON(w, nodeErrorStatus(err), errorBody(err))
		return
	}
	writeJSON(w, http.StatusOK, deed)
}

func tokenIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "tokenID")
	tokenID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || tokenID == 0 {
		return 0, badRequest("tokenID path parameter must be a positive integer")
	}
	return tokenID, nil
}

type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func badRequest(message string) error {
	return &httpError{status: http.StatusBadRequest, message: message}
}

// nodeErrorStatus maps node RPC failures onto gateway HTTP statuses.
func nodeErrorStatus(err error) int {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr.status
	}
	var nodeErr *rpcError
	if errors.As(err, &nodeErr) {
		switch nodeErr.Code {
		case -32021, -32602:
			return http.StatusBadRequest
		case -32022:
			return http.StatusNotFound
		case -32023, -32001:
			return http.StatusForbidden
		case -32024, -32026:
			return http.StatusConflict
		case -32020:
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	}
	return http.StatusBadGateway
}

type errorResponse struct {
	Error string      `json:"error"`
	Data  interface{} `json:"data,omitempty"`
}

func errorBody(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	var nodeErr *rpcError
	if errors.As(err, &nodeErr) {
		resp.Error = nodeErr.Message
		if len(nodeErr.Data) > 0 {
			var data interface{}
			if json.Unmarshal(nodeErr.Data, &data) == nil {
				resp.Data = data
			}
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

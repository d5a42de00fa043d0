package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"deedchain/core/state"
	"deedchain/crypto"
	nativecommon "deedchain/native/common"
	"deedchain/native/escrow"
	"deedchain/observability"
)

type escrowListParams struct {
	Caller        string `json:"caller"`
	TokenID       uint64 `json:"tokenId"`
	Buyer         string `json:"buyer"`
	PurchasePrice string `json:"purchasePrice"`
	EscrowAmount  string `json:"escrowAmount"`
}

type escrowFundParams struct {
	TokenID uint64 `json:"tokenId"`
	From    string `json:"from"`
	Amount  string `json:"amount"`
}

type escrowInspectionParams struct {
	TokenID uint64 `json:"tokenId"`
	Caller  string `json:"caller"`
	Passed  bool   `json:"passed"`
}

type escrowActorParams struct {
	TokenID uint64 `json:"tokenId"`
	Caller  string `json:"caller"`
}

type escrowTokenParams struct {
	TokenID uint64 `json:"tokenId"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value, field string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr.Bytes(), nil
}

func parseAmount(value, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s must be set", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%s must be non-negative", field)
	}
	return amount, nil
}

// writeEscrowError maps engine errors onto the RPC error taxonomy so callers
// can distinguish the failure cause.
func (s *Server) writeEscrowError(w http.ResponseWriter, req *RPCRequest, method string, err error) {
	var (
		status = http.StatusInternalServerError
		code   = codeEscrowInternal
		reason = "internal_error"
		data   interface{}
	)
	var precondition *escrow.PreconditionError
	switch {
	case errors.As(err, &precondition):
		status, code, reason = http.StatusConflict, codeEscrowPrecondition, "precondition_failed"
		data = map[string]string{"condition": string(precondition.Condition)}
	case errors.Is(err, escrow.ErrUnauthorized):
		status, code, reason = http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case errors.Is(err, escrow.ErrListingNotFound):
		status, code, reason = http.StatusNotFound, codeEscrowNotFound, "not_found"
	case errors.Is(err, escrow.ErrDuplicateListing):
		status, code, reason = http.StatusConflict, codeEscrowConflict, "duplicate_listing"
	case errors.Is(err, escrow.ErrAlreadyFinalized):
		status, code, reason = http.StatusConflict, codeEscrowConflict, "already_finalized"
	case errors.Is(err, escrow.ErrListingCancelled):
		status, code, reason = http.StatusConflict, codeEscrowConflict, "listing_cancelled"
	case errors.Is(err, escrow.ErrInsufficientDeposit):
		status, code, reason = http.StatusConflict, codeEscrowConflict, "insufficient_deposit"
	case errors.Is(err, escrow.ErrNotInCustody):
		status, code, reason = http.StatusConflict, codeEscrowConflict, "deed_not_in_custody"
	case errors.Is(err, nativecommon.ErrModulePaused):
		status, code, reason = http.StatusServiceUnavailable, codeEscrowConflict, "module_paused"
	}
	if data == nil {
		data = err.Error()
	}
	observability.ModuleMetrics().ObserveError("escrow", method, reason)
	writeError(w, status, req.ID, code, reason, data)
}

func (s *Server) handleEscrowList(w http.ResponseWriter, req *RPCRequest) {
	var params escrowListParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer, "buyer")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parseAmount(params.PurchasePrice, "purchasePrice")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	escrowAmt, err := parseAmount(params.EscrowAmount, "escrowAmount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.escrow.List(caller, params.TokenID, buyer, price, escrowAmt)
	if err != nil {
		s.writeEscrowError(w, req, "escrow_list", err)
		return
	}
	writeResult(w, req.ID, s.listingToJSON(listing))
}

func (s *Server) handleEscrowDownPayment(w http.ResponseWriter, req *RPCRequest) {
	s.handleEscrowFundCommon(w, req, "escrow_downPayment", s.escrow.DownPayment)
}

func (s *Server) handleEscrowFundLoan(w http.ResponseWriter, req *RPCRequest) {
	s.handleEscrowFundCommon(w, req, "escrow_fundLoan", s.escrow.FundLoan)
}

func (s *Server) handleEscrowFundCommon(w http.ResponseWriter, req *RPCRequest, method string, apply func(uint64, [20]byte, *big.Int) error) {
	var params escrowFundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	from, err := parseAddress(params.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := apply(params.TokenID, from, amount); err != nil {
		s.writeEscrowError(w, req, method, err)
		return
	}
	held, err := s.escrow.HeldAmount(params.TokenID)
	if err != nil {
		s.writeEscrowError(w, req, method, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Balance: held.String()})
}

func (s *Server) handleEscrowSetInspection(w http.ResponseWriter, req *RPCRequest) {
	var params escrowInspectionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.escrow.UpdateInspectionStatus(params.TokenID, caller, params.Passed); err != nil {
		s.writeEscrowError(w, req, "escrow_setInspection", err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"inspectionPassed": params.Passed})
}

func (s *Server) handleEscrowApprove(w http.ResponseWriter, req *RPCRequest) {
	s.handleEscrowActorCommon(w, req, "escrow_approve", s.escrow.ApproveSale)
}

func (s *Server) handleEscrowFinalize(w http.ResponseWriter, req *RPCRequest) {
	s.handleEscrowActorCommon(w, req, "escrow_finalize", s.escrow.FinalizeSale)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, req *RPCRequest) {
	s.handleEscrowActorCommon(w, req, "escrow_cancel", s.escrow.Cancel)
}

func (s *Server) handleEscrowActorCommon(w http.ResponseWriter, req *RPCRequest, method string, apply func(uint64, [20]byte) error) {
	var params escrowActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := apply(params.TokenID, caller); err != nil {
		s.writeEscrowError(w, req, method, err)
		return
	}
	listing, err := s.escrow.ListingOf(params.TokenID)
	if err != nil {
		s.writeEscrowError(w, req, method, err)
		return
	}
	writeResult(w, req.ID, s.listingToJSON(listing))
}

func (s *Server) handleEscrowGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params escrowTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	listing, err := s.escrow.ListingOf(params.TokenID)
	if err != nil {
		s.writeEscrowError(w, req, "escrow_getListing", err)
		return
	}
	writeResult(w, req.ID, s.listingToJSON(listing))
}

func (s *Server) handleEscrowGetBalance(w http.ResponseWriter, req *RPCRequest) {
	balance, err := s.escrow.GetBalance()
	if err != nil {
		s.writeEscrowError(w, req, "escrow_getBalance", err)
		return
	}
	writeResult(w, req.ID, balanceResult{Balance: balance.String()})
}

func (s *Server) handleEscrowGetParties(w http.ResponseWriter, req *RPCRequest) {
	parties := s.escrow.Parties()
	vault := crypto.ModuleAddress(state.VaultModule)
	writeResult(w, req.ID, partiesResult{
		Seller:    crypto.NewAddress(parties.Seller).String(),
		Inspector: crypto.NewAddress(parties.Inspector).String(),
		Lender:    crypto.NewAddress(parties.Lender).String(),
		Vault:     vault.String(),
	})
}

func (s *Server) listingToJSON(l *escrow.Listing) listingJSON {
	result := listingJSON{
		TokenID:          l.TokenID,
		Seller:           crypto.NewAddress(l.Seller).String(),
		Buyer:            crypto.NewAddress(l.Buyer).String(),
		PurchasePrice:    l.PurchasePrice.String(),
		EscrowAmount:     l.EscrowAmount.String(),
		InspectionPassed: l.InspectionPassed,
		Approvals:        make(map[string]bool, len(l.Approvals)),
		CreatedAt:        l.CreatedAt,
	}
	switch l.Status {
	case escrow.ListingFinalized:
		result.Status = "finalized"
	case escrow.ListingCancelled:
		result.Status = "cancelled"
	default:
		result.Status = "active"
	}
	for party, approved := range l.Approvals {
		result.Approvals[crypto.NewAddress(party).String()] = approved
	}
	if held, err := s.escrow.HeldAmount(l.TokenID); err == nil {
		result.HeldAmount = held.String()
	}
	return result
}

package rpc

import (
	"errors"
	"net/http"

	"deedchain/crypto"
	nativecommon "deedchain/native/common"
	"deedchain/native/deed"
	"deedchain/observability"
)

type deedMintParams struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
	URI    string `json:"uri"`
}

type deedOperatorParams struct {
	TokenID  uint64 `json:"tokenId"`
	Caller   string `json:"caller"`
	Operator string `json:"operator"`
}

type deedTransferParams struct {
	TokenID uint64 `json:"tokenId"`
	Caller  string `json:"caller"`
	To      string `json:"to"`
}

type deedTokenParams struct {
	TokenID uint64 `json:"tokenId"`
}

func (s *Server) writeDeedError(w http.ResponseWriter, req *RPCRequest, method string, err error) {
	var (
		status = http.StatusInternalServerError
		code   = codeEscrowInternal
		reason = "internal_error"
	)
	switch {
	case errors.Is(err, deed.ErrDeedNotFound):
		status, code, reason = http.StatusNotFound, codeEscrowNotFound, "not_found"
	case errors.Is(err, deed.ErrNotAuthorized), errors.Is(err, deed.ErrRegistrarOnly):
		status, code, reason = http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case errors.Is(err, deed.ErrZeroRecipient):
		status, code, reason = http.StatusBadRequest, codeEscrowInvalidParams, "invalid_params"
	case errors.Is(err, nativecommon.ErrModulePaused):
		status, code, reason = http.StatusServiceUnavailable, codeEscrowConflict, "module_paused"
	}
	observability.ModuleMetrics().ObserveError("deed", method, reason)
	writeError(w, status, req.ID, code, reason, err.Error())
}

func (s *Server) handleDeedMint(w http.ResponseWriter, req *RPCRequest) {
	var params deedMintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseAddress(params.Owner, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	minted, err := s.deeds.Mint(caller, owner, params.URI)
	if err != nil {
		s.writeDeedError(w, req, "deed_mint", err)
		return
	}
	writeResult(w, req.ID, deedToJSON(minted))
}

func (s *Server) handleDeedApprove(w http.ResponseWriter, req *RPCRequest) {
	var params deedOperatorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	operator, err := parseAddress(params.Operator, "operator")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.deeds.Approve(caller, operator, params.TokenID); err != nil {
		s.writeDeedError(w, req, "deed_approve", err)
		return
	}
	record, err := s.deeds.Get(params.TokenID)
	if err != nil {
		s.writeDeedError(w, req, "deed_approve", err)
		return
	}
	writeResult(w, req.ID, deedToJSON(record))
}

func (s *Server) handleDeedTransfer(w http.ResponseWriter, req *RPCRequest) {
	var params deedTransferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseAddress(params.To, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.deeds.Transfer(caller, to, params.TokenID); err != nil {
		s.writeDeedError(w, req, "deed_transfer", err)
		return
	}
	record, err := s.deeds.Get(params.TokenID)
	if err != nil {
		s.writeDeedError(w, req, "deed_transfer", err)
		return
	}
	writeResult(w, req.ID, deedToJSON(record))
}

func (s *Server) handleDeedGet(w http.ResponseWriter, req *RPCRequest) {
	var params deedTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.deeds.Get(params.TokenID)
	if err != nil {
		s.writeDeedError(w, req, "deed_get", err)
		return
	}
	writeResult(w, req.ID, deedToJSON(record))
}

func (s *Server) handleDeedOwnerOf(w http.ResponseWriter, req *RPCRequest) {
	var params deedTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := s.deeds.OwnerOf(params.TokenID)
	if err != nil {
		s.writeDeedError(w, req, "deed_ownerOf", err)
		return
	}
	writeResult(w, req.ID, map[string]string{"owner": crypto.NewAddress(owner).String()})
}

func deedToJSON(d *deed.Deed) deedJSON {
	result := deedJSON{
		TokenID:  d.TokenID,
		Owner:    crypto.NewAddress(d.Owner).String(),
		URI:      d.URI,
		MintedAt: d.MintedAt,
	}
	if d.Approved != ([20]byte{}) {
		result.Approved = crypto.NewAddress(d.Approved).String()
	}
	return result
}

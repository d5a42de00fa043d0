package rpc

import "encoding/json"

const jsonRPCVersion = "2.0"

// RPCRequest is the inbound JSON-RPC 2.0 envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is the outbound JSON-RPC 2.0 envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a machine-readable failure code plus a human message.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
	codeEscrowPrecondition  = -32026
)

// listingJSON is the wire representation of a listing.
type listingJSON struct {
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

// deedJSON is the wire representation of a title deed.
type deedJSON struct {
	TokenID  uint64 `json:"tokenId"`
	Owner    string `json:"owner"`
	Approved string `json:"approved,omitempty"`
	URI      string `json:"uri"`
	MintedAt int64  `json:"mintedAt"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

type partiesResult struct {
	Seller    string `json:"seller"`
	Inspector string `json:"inspector"`
	Lender    string `json:"lender"`
	Vault     string `json:"vault"`
}

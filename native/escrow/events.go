package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"deedchain/core/types"
)

const (
	EventTypeListed     = "escrow.listed"
	EventTypeDeposited  = "escrow.deposited"
	EventTypeLoanFunded = "escrow.loan_funded"
	EventTypeInspection = "escrow.inspection"
	EventTypeApproved   = "escrow.approved"
	EventTypeFinalized  = "escrow.finalized"
	EventTypeCancelled  = "escrow.cancelled"
)

// NewListedEvent returns the canonical event payload for a new listing.
func NewListedEvent(l *Listing) *types.Event {
	attrs := listingAttrs(l)
	if l != nil {
		attrs["purchasePrice"] = l.PurchasePrice.String()
		attrs["escrowAmount"] = l.EscrowAmount.String()
	}
	return &types.Event{Type: EventTypeListed, Attributes: attrs}
}

// NewDepositedEvent returns the payload emitted when the buyer's down payment
// lands in custody.
func NewDepositedEvent(l *Listing, from [20]byte, amount *big.Int) *types.Event {
	attrs := listingAttrs(l)
	attrs["from"] = hex.EncodeToString(from[:])
	attrs["amount"] = cloneBigInt(amount).String()
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewLoanFundedEvent returns the payload emitted for a lender contribution.
func NewLoanFundedEvent(l *Listing, from [20]byte, amount *big.Int) *types.Event {
	attrs := listingAttrs(l)
	attrs["from"] = hex.EncodeToString(from[:])
	attrs["amount"] = cloneBigInt(amount).String()
	return &types.Event{Type: EventTypeLoanFunded, Attributes: attrs}
}

// NewInspectionEvent returns the payload emitted when the inspection
// attestation is written.
func NewInspectionEvent(l *Listing) *types.Event {
	attrs := listingAttrs(l)
	if l != nil {
		attrs["passed"] = strconv.FormatBool(l.InspectionPassed)
	}
	return &types.Event{Type: EventTypeInspection, Attributes: attrs}
}

// NewApprovedEvent returns the payload emitted when a party approves the sale.
func NewApprovedEvent(l *Listing, party [20]byte) *types.Event {
	attrs := listingAttrs(l)
	attrs["party"] = hex.EncodeToString(party[:])
	return &types.Event{Type: EventTypeApproved, Attributes: attrs}
}

// NewFinalizedEvent returns the payload emitted on successful settlement.
func NewFinalizedEvent(l *Listing, payout *big.Int) *types.Event {
	attrs := listingAttrs(l)
	attrs["payout"] = cloneBigInt(payout).String()
	return &types.Event{Type: EventTypeFinalized, Attributes: attrs}
}

// NewCancelledEvent returns the payload emitted when a pending sale unwinds.
func NewCancelledEvent(l *Listing, refunded *big.Int) *types.Event {
	attrs := listingAttrs(l)
	attrs["refunded"] = cloneBigInt(refunded).String()
	return &types.Event{Type: EventTypeCancelled, Attributes: attrs}
}

func listingAttrs(l *Listing) map[string]string {
	attrs := make(map[string]string)
	if l == nil {
		return attrs
	}
	attrs["tokenId"] = strconv.FormatUint(l.TokenID, 10)
	attrs["seller"] = hex.EncodeToString(l.Seller[:])
	attrs["buyer"] = hex.EncodeToString(l.Buyer[:])
	attrs["status"] = strconv.FormatUint(uint64(l.Status), 10)
	return attrs
}

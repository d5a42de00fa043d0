package escrow

import (
	"fmt"
	"math/big"
)

// ListingStatus tracks where a sale sits in its lifecycle. Active listings
// accept deposits, attestations and approvals; Finalized and Cancelled are
// terminal.
type ListingStatus uint8

const (
	ListingActive ListingStatus = iota
	ListingFinalized
	ListingCancelled
)

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingFinalized, ListingCancelled:
		return true
	default:
		return false
	}
}

// Listing captures the terms of a single conditional property sale. The
// identity-bound fields (Seller, Buyer, PurchasePrice, EscrowAmount) are set
// at creation and never change; the flags accumulate during the pending
// period until the sale is finalized or cancelled.
type Listing struct {
	TokenID          uint64
	Seller           [20]byte
	Buyer            [20]byte
	PurchasePrice    *big.Int
	EscrowAmount     *big.Int
	InspectionPassed bool
	Approvals        map[[20]byte]bool
	Status           ListingStatus
	CreatedAt        int64
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.PurchasePrice != nil {
		clone.PurchasePrice = new(big.Int).Set(l.PurchasePrice)
	} else {
		clone.PurchasePrice = big.NewInt(0)
	}
	if l.EscrowAmount != nil {
		clone.EscrowAmount = new(big.Int).Set(l.EscrowAmount)
	} else {
		clone.EscrowAmount = big.NewInt(0)
	}
	clone.Approvals = make(map[[20]byte]bool, len(l.Approvals))
	for addr, ok := range l.Approvals {
		clone.Approvals[addr] = ok
	}
	return &clone
}

// Approved reports whether the given party has recorded a yes-vote.
func (l *Listing) Approved(party [20]byte) bool {
	if l == nil || l.Approvals == nil {
		return false
	}
	return l.Approvals[party]
}

// SanitizeListing validates and normalises a listing definition, returning a
// cloned instance with non-nil amount fields. The original is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.TokenID == 0 {
		return nil, fmt.Errorf("listing token id must be non-zero")
	}
	if clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("listing seller must be set")
	}
	if clone.Buyer == ([20]byte{}) {
		return nil, fmt.Errorf("listing buyer must be set")
	}
	if clone.PurchasePrice.Sign() <= 0 {
		return nil, fmt.Errorf("listing purchase price must be positive")
	}
	if clone.EscrowAmount.Sign() < 0 {
		return nil, fmt.Errorf("listing escrow amount must be non-negative")
	}
	if clone.EscrowAmount.Cmp(clone.PurchasePrice) > 0 {
		return nil, fmt.Errorf("listing escrow amount exceeds purchase price")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid listing status: %d", clone.Status)
	}
	return clone, nil
}

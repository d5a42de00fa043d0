package escrow

import (
	"math/big"
	"testing"
)

func validListing() *Listing {
	return &Listing{
		TokenID:       1,
		Seller:        newTestAddress(0x01),
		Buyer:         newTestAddress(0x02),
		PurchasePrice: big.NewInt(10),
		EscrowAmount:  big.NewInt(5),
		Status:        ListingActive,
		CreatedAt:     42,
	}
}

func TestSanitizeListing(t *testing.T) {
	if _, err := SanitizeListing(validListing()); err != nil {
		t.Fatalf("valid listing rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Listing)
	}{
		{"zero token id", func(l *Listing) { l.TokenID = 0 }},
		{"missing seller", func(l *Listing) { l.Seller = [20]byte{} }},
		{"missing buyer", func(l *Listing) { l.Buyer = [20]byte{} }},
		{"zero purchase price", func(l *Listing) { l.PurchasePrice = big.NewInt(0) }},
		{"negative escrow amount", func(l *Listing) { l.EscrowAmount = big.NewInt(-1) }},
		{"escrow above price", func(l *Listing) { l.EscrowAmount = big.NewInt(11) }},
		{"invalid status", func(l *Listing) { l.Status = ListingStatus(9) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			listing := validListing()
			tc.mutate(listing)
			if _, err := SanitizeListing(listing); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestSanitizeListingDoesNotMutateInput(t *testing.T) {
	listing := validListing()
	listing.PurchasePrice = nil
	if _, err := SanitizeListing(listing); err == nil {
		t.Fatalf("expected rejection for nil purchase price")
	}
	if listing.PurchasePrice != nil {
		t.Fatalf("sanitize mutated the input listing")
	}
}

func TestListingCloneIsDeep(t *testing.T) {
	listing := validListing()
	listing.Approvals = map[[20]byte]bool{newTestAddress(0x02): true}

	clone := listing.Clone()
	clone.PurchasePrice.SetInt64(99)
	clone.Approvals[newTestAddress(0x03)] = true

	if listing.PurchasePrice.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("clone shares purchase price with original")
	}
	if len(listing.Approvals) != 1 {
		t.Fatalf("clone shares approvals map with original")
	}
}

func TestListingApproved(t *testing.T) {
	listing := validListing()
	if listing.Approved(newTestAddress(0x02)) {
		t.Fatalf("nil approvals must report false")
	}
	listing.Approvals = map[[20]byte]bool{newTestAddress(0x02): true}
	if !listing.Approved(newTestAddress(0x02)) {
		t.Fatalf("recorded approval must report true")
	}
	if listing.Approved(newTestAddress(0x04)) {
		t.Fatalf("unrecorded party must report false")
	}
}

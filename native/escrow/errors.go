package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the caller identity does not match
	// the identity the operation is restricted to.
	ErrUnauthorized = errors.New("escrow: caller not authorized")
	// ErrListingNotFound is returned for operations against an unknown
	// token id.
	ErrListingNotFound = errors.New("escrow: listing not found")
	// ErrDuplicateListing is returned when a listing already exists for the
	// token id.
	ErrDuplicateListing = errors.New("escrow: listing already exists")
	// ErrInsufficientDeposit is returned when a down payment is below the
	// listing's required escrow amount.
	ErrInsufficientDeposit = errors.New("escrow: deposit below escrow amount")
	// ErrAlreadyFinalized is returned for mutations against a finalized
	// listing, including a second finalize.
	ErrAlreadyFinalized = errors.New("escrow: sale already finalized")
	// ErrListingCancelled is returned for mutations against a cancelled
	// listing.
	ErrListingCancelled = errors.New("escrow: listing cancelled")
	// ErrNotInCustody is returned when the title deed has not been
	// transferred into the escrow vault before listing.
	ErrNotInCustody = errors.New("escrow: deed not held by escrow vault")
)

// Precondition names the individual conditions finalize requires.
type Precondition string

const (
	PreconditionInspection     Precondition = "inspection_passed"
	PreconditionBuyerApproval  Precondition = "buyer_approval"
	PreconditionSellerApproval Precondition = "seller_approval"
	PreconditionLenderApproval Precondition = "lender_approval"
	PreconditionFunds          Precondition = "sale_funds"
)

// PreconditionError reports which finalize condition was unmet. Callers can
// assert on Condition to distinguish the specific cause.
type PreconditionError struct {
	Condition Precondition
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("escrow: finalize precondition unmet: %s", e.Condition)
}

// NewPreconditionError wraps an unmet finalize condition.
func NewPreconditionError(cond Precondition) *PreconditionError {
	return &PreconditionError{Condition: cond}
}

// AsPrecondition unwraps err into a PreconditionError when possible.
func AsPrecondition(err error) (*PreconditionError, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

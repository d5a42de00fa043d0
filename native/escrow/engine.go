package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"deedchain/core/events"
	"deedchain/core/types"
	nativecommon "deedchain/native/common"
)

const moduleName = "escrow"

var (
	errNilState    = errors.New("escrow engine: state not configured")
	errNilRegistry = errors.New("escrow engine: deed registry not configured")
)

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(tokenID uint64) (*Listing, bool)
	EscrowCredit(tokenID uint64, amt *big.Int) error
	EscrowDebit(tokenID uint64, amt *big.Int) error
	EscrowBalance(tokenID uint64) (*big.Int, error)
	EscrowVaultAddress() ([20]byte, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// TitleRegistry is the narrow view of the deed registry the engine needs:
// querying custody and requesting transfers of a title it currently holds.
type TitleRegistry interface {
	OwnerOf(tokenID uint64) ([20]byte, error)
	Transfer(caller, to [20]byte, tokenID uint64) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Parties holds the process-wide identities fixed at deployment: the default
// seller allowed to create listings, the inspection agent, and the lender.
type Parties struct {
	Seller    [20]byte
	Inspector [20]byte
	Lender    [20]byte
}

// Engine mediates conditional property sales: it takes custody of the title
// deed and of buyer funds, accumulates the inspection attestation and party
// approvals, and settles title and funds atomically on finalize.
type Engine struct {
	state   engineState
	titles  TitleRegistry
	emitter events.Emitter
	parties Parties
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTitleRegistry configures the deed registry the engine settles against.
func (e *Engine) SetTitleRegistry(reg TitleRegistry) { e.titles = reg }

// SetParties configures the process-wide identities. They are immutable for
// the lifetime of the deployment and validated once at construction.
func (e *Engine) SetParties(p Parties) { e.parties = p }

// Parties returns the configured process-wide identities.
func (e *Engine) Parties() Parties { return e.parties }

// SetPauses wires the module pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadListing(tokenID uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok := e.state.ListingGet(tokenID)
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

func (e *Engine) storeListing(l *Listing) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.ListingPut(l)
}

// loadActive loads a listing and rejects terminal statuses so every mutating
// path reports the same error for finalized and cancelled records.
func (e *Engine) loadActive(tokenID uint64) (*Listing, error) {
	listing, err := e.loadListing(tokenID)
	if err != nil {
		return nil, err
	}
	switch listing.Status {
	case ListingFinalized:
		return nil, ErrAlreadyFinalized
	case ListingCancelled:
		return nil, ErrListingCancelled
	}
	return listing, nil
}

func (e *Engine) transferNative(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Normalize()
	toAcc = toAcc.Normalize()
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: insufficient account balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// List creates the sale record for a title deed already held in custody by
// the escrow vault. Only the process-wide seller identity may list.
func (e *Engine) List(caller [20]byte, tokenID uint64, buyer [20]byte, purchasePrice, escrowAmount *big.Int) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.titles == nil {
		return nil, errNilRegistry
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if caller != e.parties.Seller {
		return nil, ErrUnauthorized
	}
	if _, ok := e.state.ListingGet(tokenID); ok {
		return nil, ErrDuplicateListing
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}
	owner, err := e.titles.OwnerOf(tokenID)
	if err != nil {
		return nil, err
	}
	if owner != vault {
		return nil, ErrNotInCustody
	}
	listing := &Listing{
		TokenID:       tokenID,
		Seller:        caller,
		Buyer:         buyer,
		PurchasePrice: cloneBigInt(purchasePrice),
		EscrowAmount:  cloneBigInt(escrowAmount),
		Approvals:     make(map[[20]byte]bool),
		Status:        ListingActive,
		CreatedAt:     e.now(),
	}
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return nil, err
	}
	if err := e.storeListing(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewListedEvent(sanitized))
	return sanitized.Clone(), nil
}

// DownPayment accepts the buyer's earnest deposit for the listing. The
// attached amount must meet the listing's escrow amount and is earmarked for
// this listing alone.
func (e *Engine) DownPayment(tokenID uint64, from [20]byte, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadActive(tokenID)
	if err != nil {
		return err
	}
	if from != listing.Buyer {
		return ErrUnauthorized
	}
	amt := cloneBigInt(amount)
	if amt.Cmp(listing.EscrowAmount) < 0 {
		return ErrInsufficientDeposit
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.transferNative(from, vault, amt); err != nil {
		return err
	}
	if err := e.state.EscrowCredit(tokenID, amt); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(listing, from, amt))
	return nil
}

// FundLoan accepts the lender's contribution toward the purchase price. Like
// the down payment it is credited to this listing's held amount so funds for
// one sale can never satisfy another sale's finalize condition.
func (e *Engine) FundLoan(tokenID uint64, from [20]byte, amount *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadActive(tokenID)
	if err != nil {
		return err
	}
	if from != e.parties.Lender {
		return ErrUnauthorized
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("escrow: loan amount must be positive")
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.transferNative(from, vault, amt); err != nil {
		return err
	}
	if err := e.state.EscrowCredit(tokenID, amt); err != nil {
		return err
	}
	e.emit(NewLoanFundedEvent(listing, from, amt))
	return nil
}

// UpdateInspectionStatus records the inspection agent's attestation. Unlike
// approvals it is not a latch; the inspector may correct a prior attestation
// while the listing is still pending.
func (e *Engine) UpdateInspectionStatus(tokenID uint64, caller [20]byte, passed bool) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadActive(tokenID)
	if err != nil {
		return err
	}
	if caller != e.parties.Inspector {
		return ErrUnauthorized
	}
	listing.InspectionPassed = passed
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewInspectionEvent(listing))
	return nil
}

// ApproveSale records the caller's yes-vote for the listing. Only the
// recorded buyer, the recorded seller and the process-wide lender may vote.
// Re-approving is a no-op, and a vote can never be withdrawn.
func (e *Engine) ApproveSale(tokenID uint64, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	listing, err := e.loadActive(tokenID)
	if err != nil {
		return err
	}
	if caller != listing.Buyer && caller != listing.Seller && caller != e.parties.Lender {
		return ErrUnauthorized
	}
	if listing.Approved(caller) {
		return nil
	}
	if listing.Approvals == nil {
		listing.Approvals = make(map[[20]byte]bool)
	}
	listing.Approvals[caller] = true
	if err := e.storeListing(listing); err != nil {
		return err
	}
	e.emit(NewApprovedEvent(listing, caller))
	return nil
}

// FinalizeSale performs the terminal settlement: it validates every
// precondition, commits the finalized status, then transfers the title deed
// to the buyer and the listing's full held amount to the seller. The status
// write lands before either transfer so a reentrant invocation observes a
// finalized listing.
func (e *Engine) FinalizeSale(tokenID uint64, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.titles == nil {
		return errNilRegistry
	}
	listing, err := e.loadActive(tokenID)
	if err != nil {
		return err
	}
	if caller != listing.Seller {
		return ErrUnauthorized
	}
	if !listing.InspectionPassed {
		return NewPreconditionError(PreconditionInspection)
	}
	if !listing.Approved(listing.Buyer) {
		return NewPreconditionError(PreconditionBuyerApproval)
	}
	if !listing.Approved(listing.Seller) {
		return NewPreconditionError(PreconditionSellerApproval)
	}
	if !listing.Approved(e.parties.Lender) {
		return NewPreconditionError(PreconditionLenderApproval)
	}
	held, err := e.state.EscrowBalance(tokenID)
	if err != nil {
		return err
	}
	if held.Cmp(listing.PurchasePrice) < 0 {
		return NewPreconditionError(PreconditionFunds)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	listing.Status = ListingFinalized
	if err := e.storeListing(listing); err != nil {
		return err
	}
	if err := e.titles.Transfer(vault, listing.Buyer, tokenID); err != nil {
		return err
	}
	payout := cloneBigInt(held)
	if err := e.transferNative(vault, listing.Seller, payout); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(tokenID, payout); err != nil {
		return err
	}
	e.emit(NewFinalizedEvent(listing, payout))
	return nil
}

// Cancel unwinds a pending sale: the held amount is refunded to the buyer and
// the title deed returns to the seller. Either the recorded buyer or seller
// may cancel while the listing is still active.
func (e *Engine) Cancel(tokenID uint64, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.titles == nil {
		return errNilRegistry
	}
	listing, err := e.loadActive(tokenID)
	if err != nil {
		return err
	}
	if caller != listing.Buyer && caller != listing.Seller {
		return ErrUnauthorized
	}
	held, err := e.state.EscrowBalance(tokenID)
	if err != nil {
		return err
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	listing.Status = ListingCancelled
	if err := e.storeListing(listing); err != nil {
		return err
	}
	if err := e.titles.Transfer(vault, listing.Seller, tokenID); err != nil {
		return err
	}
	if held.Sign() > 0 {
		if err := e.transferNative(vault, listing.Buyer, held); err != nil {
			return err
		}
		if err := e.state.EscrowDebit(tokenID, held); err != nil {
			return err
		}
	}
	e.emit(NewCancelledEvent(listing, held))
	return nil
}

// --- Read-only views ---

// GetBalance returns the aggregate custody balance held by the escrow vault.
func (e *Engine) GetBalance() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}
	acc, err := e.state.GetAccount(vault)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(acc.Normalize().Balance), nil
}

// HeldAmount returns the amount earmarked for a single listing.
func (e *Engine) HeldAmount(tokenID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadListing(tokenID); err != nil {
		return nil, err
	}
	return e.state.EscrowBalance(tokenID)
}

// IsListed reports whether an active listing exists for the token id.
func (e *Engine) IsListed(tokenID uint64) bool {
	if e == nil || e.state == nil {
		return false
	}
	listing, ok := e.state.ListingGet(tokenID)
	return ok && listing.Status == ListingActive
}

// BuyerOf returns the recorded buyer for the listing.
func (e *Engine) BuyerOf(tokenID uint64) ([20]byte, error) {
	listing, err := e.loadListing(tokenID)
	if err != nil {
		return [20]byte{}, err
	}
	return listing.Buyer, nil
}

// PurchasePrice returns the listing's total settlement amount.
func (e *Engine) PurchasePrice(tokenID uint64) (*big.Int, error) {
	listing, err := e.loadListing(tokenID)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(listing.PurchasePrice), nil
}

// EscrowAmount returns the listing's minimum down payment.
func (e *Engine) EscrowAmount(tokenID uint64) (*big.Int, error) {
	listing, err := e.loadListing(tokenID)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(listing.EscrowAmount), nil
}

// Approval reports the recorded yes-vote for a party on the listing.
func (e *Engine) Approval(tokenID uint64, party [20]byte) (bool, error) {
	listing, err := e.loadListing(tokenID)
	if err != nil {
		return false, err
	}
	return listing.Approved(party), nil
}

// InspectionPassed reports the stored inspection attestation.
func (e *Engine) InspectionPassed(tokenID uint64) (bool, error) {
	listing, err := e.loadListing(tokenID)
	if err != nil {
		return false, err
	}
	return listing.InspectionPassed, nil
}

// ListingOf returns a copy of the full listing record.
func (e *Engine) ListingOf(tokenID uint64) (*Listing, error) {
	listing, err := e.loadListing(tokenID)
	if err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

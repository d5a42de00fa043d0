package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"deedchain/core/events"
	"deedchain/core/types"
)

type mockState struct {
	listings map[uint64]*Listing
	accounts map[[20]byte]*types.Account
	held     map[uint64]*big.Int
	vault    [20]byte
}

func newMockState() *mockState {
	return &mockState{
		listings: make(map[uint64]*Listing),
		accounts: make(map[[20]byte]*types.Account),
		held:     make(map[uint64]*big.Int),
		vault:    newTestAddress(0xAA),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) ListingPut(l *Listing) error {
	if l == nil {
		return fmt.Errorf("nil listing")
	}
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	m.listings[sanitized.TokenID] = sanitized.Clone()
	return nil
}

func (m *mockState) ListingGet(tokenID uint64) (*Listing, bool) {
	listing, ok := m.listings[tokenID]
	if !ok {
		return nil, false
	}
	return listing.Clone(), true
}

func (m *mockState) EscrowCredit(tokenID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("invalid credit amount")
	}
	current, ok := m.held[tokenID]
	if !ok {
		current = big.NewInt(0)
	}
	m.held[tokenID] = new(big.Int).Add(current, amt)
	return nil
}

func (m *mockState) EscrowDebit(tokenID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("invalid debit amount")
	}
	current, ok := m.held[tokenID]
	if !ok || current.Cmp(amt) < 0 {
		return fmt.Errorf("held balance underflow")
	}
	m.held[tokenID] = new(big.Int).Sub(current, amt)
	return nil
}

func (m *mockState) EscrowBalance(tokenID uint64) (*big.Int, error) {
	current, ok := m.held[tokenID]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(current), nil
}

func (m *mockState) EscrowVaultAddress() ([20]byte, error) {
	return m.vault, nil
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return types.NewAccount(), nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("nil account")
	}
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) fund(addr [20]byte, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Normalize().Balance)
}

type mockTitles struct {
	owners map[uint64][20]byte
}

func newMockTitles() *mockTitles {
	return &mockTitles{owners: make(map[uint64][20]byte)}
}

func (m *mockTitles) OwnerOf(tokenID uint64) ([20]byte, error) {
	owner, ok := m.owners[tokenID]
	if !ok {
		return [20]byte{}, fmt.Errorf("deed %d not found", tokenID)
	}
	return owner, nil
}

func (m *mockTitles) Transfer(caller, to [20]byte, tokenID uint64) error {
	owner, ok := m.owners[tokenID]
	if !ok {
		return fmt.Errorf("deed %d not found", tokenID)
	}
	if owner != caller {
		return fmt.Errorf("caller does not hold deed %d", tokenID)
	}
	m.owners[tokenID] = to
	return nil
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

type testFixture struct {
	engine    *Engine
	state     *mockState
	titles    *mockTitles
	emitter   *events.CollectingEmitter
	seller    [20]byte
	buyer     [20]byte
	inspector [20]byte
	lender    [20]byte
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		state:     newMockState(),
		titles:    newMockTitles(),
		emitter:   &events.CollectingEmitter{},
		seller:    newTestAddress(0x01),
		buyer:     newTestAddress(0x02),
		inspector: newTestAddress(0x03),
		lender:    newTestAddress(0x04),
	}
	f.engine = NewEngine()
	f.engine.SetState(f.state)
	f.engine.SetTitleRegistry(f.titles)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetParties(Parties{Seller: f.seller, Inspector: f.inspector, Lender: f.lender})
	f.engine.SetNowFunc(func() int64 { return 42 })
	return f
}

// list puts token 1 into vault custody and creates the standard listing:
// purchase price 10, required down payment 5.
func (f *testFixture) list(t *testing.T) *Listing {
	t.Helper()
	f.titles.owners[1] = f.state.vault
	listing, err := f.engine.List(f.seller, 1, f.buyer, big.NewInt(10), big.NewInt(5))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return listing
}

func (f *testFixture) lastEventType(t *testing.T) string {
	t.Helper()
	if len(f.emitter.Events) == 0 {
		t.Fatalf("expected at least one emitted event")
	}
	return f.emitter.Events[len(f.emitter.Events)-1].EventType()
}

func TestListCreatesActiveListing(t *testing.T) {
	f := newTestFixture(t)
	listing := f.list(t)

	if listing.TokenID != 1 {
		t.Fatalf("unexpected token id %d", listing.TokenID)
	}
	if listing.Seller != f.seller || listing.Buyer != f.buyer {
		t.Fatalf("unexpected parties on listing")
	}
	if listing.PurchasePrice.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected purchase price %s", listing.PurchasePrice)
	}
	if listing.EscrowAmount.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected escrow amount %s", listing.EscrowAmount)
	}
	if listing.Status != ListingActive {
		t.Fatalf("unexpected status %d", listing.Status)
	}
	if listing.CreatedAt != 42 {
		t.Fatalf("unexpected created at %d", listing.CreatedAt)
	}
	if !f.engine.IsListed(1) {
		t.Fatalf("expected token 1 to be listed")
	}
	if got := f.lastEventType(t); got != EventTypeListed {
		t.Fatalf("unexpected event type %q", got)
	}
}

func TestListRejectsNonSeller(t *testing.T) {
	f := newTestFixture(t)
	f.titles.owners[1] = f.state.vault
	if _, err := f.engine.List(f.buyer, 1, f.buyer, big.NewInt(10), big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestListRejectsDuplicate(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	if _, err := f.engine.List(f.seller, 1, f.buyer, big.NewInt(10), big.NewInt(5)); !errors.Is(err, ErrDuplicateListing) {
		t.Fatalf("expected ErrDuplicateListing, got %v", err)
	}
}

func TestListRequiresVaultCustody(t *testing.T) {
	f := newTestFixture(t)
	f.titles.owners[1] = f.seller
	if _, err := f.engine.List(f.seller, 1, f.buyer, big.NewInt(10), big.NewInt(5)); !errors.Is(err, ErrNotInCustody) {
		t.Fatalf("expected ErrNotInCustody, got %v", err)
	}
}

func TestListRejectsInvalidTerms(t *testing.T) {
	f := newTestFixture(t)
	f.titles.owners[1] = f.state.vault
	if _, err := f.engine.List(f.seller, 1, f.buyer, big.NewInt(0), big.NewInt(0)); err == nil {
		t.Fatalf("expected error for zero purchase price")
	}
	if _, err := f.engine.List(f.seller, 1, f.buyer, big.NewInt(10), big.NewInt(11)); err == nil {
		t.Fatalf("expected error for escrow amount above purchase price")
	}
}

func TestListPaused(t *testing.T) {
	f := newTestFixture(t)
	f.titles.owners[1] = f.state.vault
	f.engine.SetPauses(pauseSet{moduleName: true})
	if _, err := f.engine.List(f.seller, 1, f.buyer, big.NewInt(10), big.NewInt(5)); err == nil {
		t.Fatalf("expected pause guard to reject listing")
	}
}

func TestDownPaymentMovesFundsIntoCustody(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.state.fund(f.buyer, 20)

	if err := f.engine.DownPayment(1, f.buyer, big.NewInt(5)); err != nil {
		t.Fatalf("down payment: %v", err)
	}
	if got := f.state.balance(f.buyer); got.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("unexpected buyer balance %s", got)
	}
	if got := f.state.balance(f.state.vault); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected vault balance %s", got)
	}
	held, err := f.engine.HeldAmount(1)
	if err != nil {
		t.Fatalf("held amount: %v", err)
	}
	if held.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected held amount %s", held)
	}
	if got := f.lastEventType(t); got != EventTypeDeposited {
		t.Fatalf("unexpected event type %q", got)
	}
}

func TestDownPaymentRejectsShortDeposit(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.state.fund(f.buyer, 20)
	if err := f.engine.DownPayment(1, f.buyer, big.NewInt(4)); !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if got := f.state.balance(f.buyer); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("buyer balance should be untouched, got %s", got)
	}
}

func TestDownPaymentRejectsNonBuyer(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.state.fund(f.lender, 20)
	if err := f.engine.DownPayment(1, f.lender, big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDownPaymentUnknownListing(t *testing.T) {
	f := newTestFixture(t)
	if err := f.engine.DownPayment(9, f.buyer, big.NewInt(5)); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestDownPaymentInsufficientAccountBalance(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.state.fund(f.buyer, 3)
	if err := f.engine.DownPayment(1, f.buyer, big.NewInt(5)); err == nil {
		t.Fatalf("expected transfer failure for underfunded buyer")
	}
}

func TestFundLoanLenderOnly(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.state.fund(f.buyer, 20)
	if err := f.engine.FundLoan(1, f.buyer, big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFundLoanCreditsListing(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.state.fund(f.lender, 20)

	if err := f.engine.FundLoan(1, f.lender, big.NewInt(5)); err != nil {
		t.Fatalf("fund loan: %v", err)
	}
	held, err := f.engine.HeldAmount(1)
	if err != nil {
		t.Fatalf("held amount: %v", err)
	}
	if held.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("unexpected held amount %s", held)
	}
	if got := f.state.balance(f.lender); got.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("unexpected lender balance %s", got)
	}
	if got := f.lastEventType(t); got != EventTypeLoanFunded {
		t.Fatalf("unexpected event type %q", got)
	}
}

func TestFundLoanRejectsNonPositiveAmount(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	if err := f.engine.FundLoan(1, f.lender, big.NewInt(0)); err == nil {
		t.Fatalf("expected error for zero loan amount")
	}
}

func TestInspectionInspectorOnly(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	if err := f.engine.UpdateInspectionStatus(1, f.seller, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestInspectionCanBeCorrected(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)

	if err := f.engine.UpdateInspectionStatus(1, f.inspector, true); err != nil {
		t.Fatalf("set inspection: %v", err)
	}
	passed, err := f.engine.InspectionPassed(1)
	if err != nil || !passed {
		t.Fatalf("expected inspection passed, got %t err %v", passed, err)
	}
	if err := f.engine.UpdateInspectionStatus(1, f.inspector, false); err != nil {
		t.Fatalf("revoke inspection: %v", err)
	}
	passed, err = f.engine.InspectionPassed(1)
	if err != nil || passed {
		t.Fatalf("expected inspection revoked, got %t err %v", passed, err)
	}
	if got := f.lastEventType(t); got != EventTypeInspection {
		t.Fatalf("unexpected event type %q", got)
	}
}

func TestApproveSaleRecordsParties(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)

	for _, party := range [][20]byte{f.buyer, f.seller, f.lender} {
		if err := f.engine.ApproveSale(1, party); err != nil {
			t.Fatalf("approve: %v", err)
		}
		approved, err := f.engine.Approval(1, party)
		if err != nil || !approved {
			t.Fatalf("expected approval recorded, got %t err %v", approved, err)
		}
	}
}

func TestApproveSaleIdempotent(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)

	if err := f.engine.ApproveSale(1, f.buyer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	eventCount := len(f.emitter.Events)
	if err := f.engine.ApproveSale(1, f.buyer); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if len(f.emitter.Events) != eventCount {
		t.Fatalf("re-approval must not emit a second event")
	}
}

func TestApproveSaleRejectsOutsider(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	if err := f.engine.ApproveSale(1, f.inspector); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// settle walks the listing through the full happy path up to (but not
// including) finalize: buyer deposits 5, inspection passes, all three parties
// approve, lender funds the remaining 5.
func (f *testFixture) settle(t *testing.T) {
	t.Helper()
	f.state.fund(f.buyer, 20)
	f.state.fund(f.lender, 20)
	if err := f.engine.DownPayment(1, f.buyer, big.NewInt(5)); err != nil {
		t.Fatalf("down payment: %v", err)
	}
	if err := f.engine.UpdateInspectionStatus(1, f.inspector, true); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	for _, party := range [][20]byte{f.buyer, f.seller, f.lender} {
		if err := f.engine.ApproveSale(1, party); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	if err := f.engine.FundLoan(1, f.lender, big.NewInt(5)); err != nil {
		t.Fatalf("fund loan: %v", err)
	}
}

func TestFinalizeSettlesTitleAndFunds(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.settle(t)

	if err := f.engine.FinalizeSale(1, f.seller); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	owner, err := f.titles.OwnerOf(1)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != f.buyer {
		t.Fatalf("expected deed owned by buyer after finalize")
	}
	if got := f.state.balance(f.seller); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected seller payout %s", got)
	}
	if got := f.state.balance(f.state.vault); got.Sign() != 0 {
		t.Fatalf("expected empty vault after finalize, got %s", got)
	}
	held, err := f.engine.HeldAmount(1)
	if err != nil {
		t.Fatalf("held amount: %v", err)
	}
	if held.Sign() != 0 {
		t.Fatalf("expected zero held amount after finalize, got %s", held)
	}
	listing, err := f.engine.ListingOf(1)
	if err != nil {
		t.Fatalf("listing of: %v", err)
	}
	if listing.Status != ListingFinalized {
		t.Fatalf("unexpected status %d", listing.Status)
	}
	if f.engine.IsListed(1) {
		t.Fatalf("finalized listing must not report as listed")
	}
	if got := f.lastEventType(t); got != EventTypeFinalized {
		t.Fatalf("unexpected event type %q", got)
	}
}

// Overfunding a listing pays the surplus to the seller as well: custody always
// drains to zero on settlement.
func TestFinalizePaysOutFullHeldAmount(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.settle(t)
	if err := f.engine.FundLoan(1, f.lender, big.NewInt(3)); err != nil {
		t.Fatalf("extra loan: %v", err)
	}

	if err := f.engine.FinalizeSale(1, f.seller); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := f.state.balance(f.seller); got.Cmp(big.NewInt(13)) != 0 {
		t.Fatalf("unexpected seller payout %s", got)
	}
	if got := f.state.balance(f.state.vault); got.Sign() != 0 {
		t.Fatalf("expected empty vault, got %s", got)
	}
}

func TestFinalizeSellerOnly(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.settle(t)
	if err := f.engine.FinalizeSale(1, f.buyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFinalizePreconditions(t *testing.T) {
	type step func(*testFixture, *testing.T)
	deposit := func(f *testFixture, t *testing.T) {
		f.state.fund(f.buyer, 20)
		if err := f.engine.DownPayment(1, f.buyer, big.NewInt(5)); err != nil {
			t.Fatalf("down payment: %v", err)
		}
	}
	inspect := func(f *testFixture, t *testing.T) {
		if err := f.engine.UpdateInspectionStatus(1, f.inspector, true); err != nil {
			t.Fatalf("inspection: %v", err)
		}
	}
	approve := func(party func(*testFixture) [20]byte) step {
		return func(f *testFixture, t *testing.T) {
			if err := f.engine.ApproveSale(1, party(f)); err != nil {
				t.Fatalf("approve: %v", err)
			}
		}
	}

	cases := []struct {
		name  string
		steps []step
		want  Precondition
	}{
		{
			name:  "inspection missing",
			steps: []step{deposit},
			want:  PreconditionInspection,
		},
		{
			name:  "buyer approval missing",
			steps: []step{deposit, inspect},
			want:  PreconditionBuyerApproval,
		},
		{
			name: "seller approval missing",
			steps: []step{deposit, inspect,
				approve(func(f *testFixture) [20]byte { return f.buyer })},
			want: PreconditionSellerApproval,
		},
		{
			name: "lender approval missing",
			steps: []step{deposit, inspect,
				approve(func(f *testFixture) [20]byte { return f.buyer }),
				approve(func(f *testFixture) [20]byte { return f.seller })},
			want: PreconditionLenderApproval,
		},
		{
			name: "funds short of purchase price",
			steps: []step{deposit, inspect,
				approve(func(f *testFixture) [20]byte { return f.buyer }),
				approve(func(f *testFixture) [20]byte { return f.seller }),
				approve(func(f *testFixture) [20]byte { return f.lender })},
			want: PreconditionFunds,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestFixture(t)
			f.list(t)
			for _, apply := range tc.steps {
				apply(f, t)
			}
			err := f.engine.FinalizeSale(1, f.seller)
			pe, ok := AsPrecondition(err)
			if !ok {
				t.Fatalf("expected precondition error, got %v", err)
			}
			if pe.Condition != tc.want {
				t.Fatalf("expected condition %q, got %q", tc.want, pe.Condition)
			}
		})
	}
}

func TestFinalizeTwice(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.settle(t)
	if err := f.engine.FinalizeSale(1, f.seller); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.engine.FinalizeSale(1, f.seller); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestFinalizedListingRejectsMutations(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.settle(t)
	if err := f.engine.FinalizeSale(1, f.seller); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := f.engine.DownPayment(1, f.buyer, big.NewInt(5)); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized for deposit, got %v", err)
	}
	if err := f.engine.ApproveSale(1, f.buyer); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized for approve, got %v", err)
	}
	if err := f.engine.UpdateInspectionStatus(1, f.inspector, false); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized for inspection, got %v", err)
	}
	if err := f.engine.Cancel(1, f.buyer); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized for cancel, got %v", err)
	}
}

func TestCancelRefundsBuyerAndReturnsDeed(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.state.fund(f.buyer, 20)
	if err := f.engine.DownPayment(1, f.buyer, big.NewInt(5)); err != nil {
		t.Fatalf("down payment: %v", err)
	}

	if err := f.engine.Cancel(1, f.buyer); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	owner, err := f.titles.OwnerOf(1)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != f.seller {
		t.Fatalf("expected deed returned to seller after cancel")
	}
	if got := f.state.balance(f.buyer); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected full refund to buyer, got %s", got)
	}
	if got := f.state.balance(f.state.vault); got.Sign() != 0 {
		t.Fatalf("expected empty vault after cancel, got %s", got)
	}
	listing, err := f.engine.ListingOf(1)
	if err != nil {
		t.Fatalf("listing of: %v", err)
	}
	if listing.Status != ListingCancelled {
		t.Fatalf("unexpected status %d", listing.Status)
	}
	if got := f.lastEventType(t); got != EventTypeCancelled {
		t.Fatalf("unexpected event type %q", got)
	}
}

func TestCancelWithoutDeposit(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	if err := f.engine.Cancel(1, f.seller); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.engine.DownPayment(1, f.buyer, big.NewInt(5)); !errors.Is(err, ErrListingCancelled) {
		t.Fatalf("expected ErrListingCancelled, got %v", err)
	}
}

func TestCancelRejectsOutsider(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	if err := f.engine.Cancel(1, f.lender); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestHeldAmountsIsolatedPerListing(t *testing.T) {
	f := newTestFixture(t)
	f.list(t)
	f.titles.owners[2] = f.state.vault
	if _, err := f.engine.List(f.seller, 2, f.buyer, big.NewInt(10), big.NewInt(5)); err != nil {
		t.Fatalf("second list: %v", err)
	}
	f.state.fund(f.buyer, 20)
	if err := f.engine.DownPayment(1, f.buyer, big.NewInt(5)); err != nil {
		t.Fatalf("down payment: %v", err)
	}

	heldOne, err := f.engine.HeldAmount(1)
	if err != nil {
		t.Fatalf("held amount 1: %v", err)
	}
	heldTwo, err := f.engine.HeldAmount(2)
	if err != nil {
		t.Fatalf("held amount 2: %v", err)
	}
	if heldOne.Cmp(big.NewInt(5)) != 0 || heldTwo.Sign() != 0 {
		t.Fatalf("funds leaked across listings: %s / %s", heldOne, heldTwo)
	}
}

func TestViewsOnUnknownListing(t *testing.T) {
	f := newTestFixture(t)
	if _, err := f.engine.BuyerOf(9); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if _, err := f.engine.PurchasePrice(9); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if _, err := f.engine.HeldAmount(9); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	if f.engine.IsListed(9) {
		t.Fatalf("unknown token must not report as listed")
	}
}

package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"deedchain/core/types"
	"deedchain/crypto"
	"deedchain/native/deed"
	"deedchain/native/escrow"
	"deedchain/storage"
)

// Manager persists accounts, listings, deed records and per-listing custody
// balances in the underlying key-value store. All engine state interfaces are
// implemented here so the escrow engine and deed registry share one write
// path; the mutex gives mutating transactions the total order the ledger
// guarantees.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func listingKey(tokenID uint64) []byte {
	return tokenKey(listingPrefix, tokenID)
}

func heldKey(tokenID uint64) []byte {
	return tokenKey(heldPrefix, tokenID)
}

func deedKey(tokenID uint64) []byte {
	return tokenKey(deedPrefix, tokenID)
}

func tokenKey(prefix []byte, tokenID uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], tokenID)
	return ethcrypto.Keccak256(buf)
}

// storedAccount is the RLP representation of an account. RLP cannot encode a
// nil big.Int so balances are normalised before write.
type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// storedListing flattens the approvals map into a sorted pair list for RLP.
type storedListing struct {
	TokenID          uint64
	Seller           [20]byte
	Buyer            [20]byte
	PurchasePrice    *big.Int
	EscrowAmount     *big.Int
	InspectionPassed bool
	Approvals        []storedApproval
	Status           uint8
	CreatedAt        uint64
}

type storedApproval struct {
	Party    [20]byte
	Approved bool
}

type storedDeed struct {
	TokenID  uint64
	Owner    [20]byte
	Approved [20]byte
	URI      string
	MintedAt uint64
}

// --- Accounts ---

// GetAccount loads the account for addr, returning a zeroed account when the
// address has never been touched.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAccountLocked(addr)
}

func (m *Manager) getAccountLocked(addr [20]byte) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: stored.Balance}, nil
}

// PutAccount persists the account for addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAccountLocked(addr, account)
}

func (m *Manager) putAccountLocked(addr [20]byte, account *types.Account) error {
	account = account.Normalize()
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative account balance")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{Nonce: account.Nonce, Balance: account.Balance})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// Credit adds amount to the balance of addr. Used by genesis allocation and
// test fixtures.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.getAccountLocked(addr)
	if err != nil {
		return err
	}
	acc = acc.Normalize()
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return m.putAccountLocked(addr, acc)
}

// --- Escrow listings ---

// ListingPut sanitizes and persists a listing record.
func (m *Manager) ListingPut(l *escrow.Listing) error {
	sanitized, err := escrow.SanitizeListing(l)
	if err != nil {
		return err
	}
	approvals := make([]storedApproval, 0, len(sanitized.Approvals))
	for party, ok := range sanitized.Approvals {
		approvals = append(approvals, storedApproval{Party: party, Approved: ok})
	}
	sort.Slice(approvals, func(i, j int) bool {
		return string(approvals[i].Party[:]) < string(approvals[j].Party[:])
	})
	stored := &storedListing{
		TokenID:          sanitized.TokenID,
		Seller:           sanitized.Seller,
		Buyer:            sanitized.Buyer,
		PurchasePrice:    sanitized.PurchasePrice,
		EscrowAmount:     sanitized.EscrowAmount,
		InspectionPassed: sanitized.InspectionPassed,
		Approvals:        approvals,
		Status:           uint8(sanitized.Status),
		CreatedAt:        uint64(sanitized.CreatedAt),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(listingKey(sanitized.TokenID), encoded)
}

// ListingGet loads the listing for tokenID.
func (m *Manager) ListingGet(tokenID uint64) (*escrow.Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.db.Get(listingKey(tokenID))
	if err != nil {
		return nil, false
	}
	var stored storedListing
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false
	}
	listing := &escrow.Listing{
		TokenID:          stored.TokenID,
		Seller:           stored.Seller,
		Buyer:            stored.Buyer,
		PurchasePrice:    stored.PurchasePrice,
		EscrowAmount:     stored.EscrowAmount,
		InspectionPassed: stored.InspectionPassed,
		Approvals:        make(map[[20]byte]bool, len(stored.Approvals)),
		Status:           escrow.ListingStatus(stored.Status),
		CreatedAt:        int64(stored.CreatedAt),
	}
	for _, approval := range stored.Approvals {
		listing.Approvals[approval.Party] = approval.Approved
	}
	return listing, true
}

// EscrowCredit adds amount to the listing's earmarked custody balance.
func (m *Manager) EscrowCredit(tokenID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: escrow credit must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.escrowBalanceLocked(tokenID)
	if err != nil {
		return err
	}
	current.Add(current, amt)
	return m.putEscrowBalanceLocked(tokenID, current)
}

// EscrowDebit subtracts amount from the listing's earmarked custody balance.
func (m *Manager) EscrowDebit(tokenID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: escrow debit must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.escrowBalanceLocked(tokenID)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("state: escrow debit exceeds held amount")
	}
	current.Sub(current, amt)
	return m.putEscrowBalanceLocked(tokenID, current)
}

// EscrowBalance returns the amount currently earmarked for the listing.
func (m *Manager) EscrowBalance(tokenID uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escrowBalanceLocked(tokenID)
}

func (m *Manager) escrowBalanceLocked(tokenID uint64) (*big.Int, error) {
	data, err := m.db.Get(heldKey(tokenID))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("state: decode held amount: %w", err)
	}
	return balance, nil
}

func (m *Manager) putEscrowBalanceLocked(tokenID uint64, balance *big.Int) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.db.Put(heldKey(tokenID), encoded)
}

// EscrowVaultAddress returns the module account that holds all escrowed funds
// and title deeds.
func (m *Manager) EscrowVaultAddress() ([20]byte, error) {
	return crypto.ModuleAddress(VaultModule).Bytes(), nil
}

// --- Deeds ---

// DeedPut sanitizes and persists a deed record.
func (m *Manager) DeedPut(d *deed.Deed) error {
	sanitized, err := deed.SanitizeDeed(d)
	if err != nil {
		return err
	}
	stored := &storedDeed{
		TokenID:  sanitized.TokenID,
		Owner:    sanitized.Owner,
		Approved: sanitized.Approved,
		URI:      sanitized.URI,
		MintedAt: uint64(sanitized.MintedAt),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(deedKey(sanitized.TokenID), encoded)
}

// DeedGet loads the deed record for tokenID.
func (m *Manager) DeedGet(tokenID uint64) (*deed.Deed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.db.Get(deedKey(tokenID))
	if err != nil {
		return nil, false
	}
	var stored storedDeed
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, false
	}
	return &deed.Deed{
		TokenID:  stored.TokenID,
		Owner:    stored.Owner,
		Approved: stored.Approved,
		URI:      stored.URI,
		MintedAt: int64(stored.MintedAt),
	}, true
}

// DeedNextTokenID increments and returns the mint sequence. Token ids start
// at 1 so the zero value never names a deed.
func (m *Manager) DeedNextTokenID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := uint64(1)
	data, err := m.db.Get(ethcrypto.Keccak256(deedSequenceKey))
	if err == nil {
		var stored uint64
		if err := rlp.DecodeBytes(data, &stored); err != nil {
			return 0, fmt.Errorf("state: decode deed sequence: %w", err)
		}
		next = stored + 1
	} else if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	encoded, err := rlp.EncodeToBytes(next)
	if err != nil {
		return 0, err
	}
	if err := m.db.Put(ethcrypto.Keccak256(deedSequenceKey), encoded); err != nil {
		return 0, err
	}
	return next, nil
}

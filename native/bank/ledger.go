package bank

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"tokensale/native/common"
)

var (
	ErrUnauthorized        = errors.New("bank: transfer not authorized")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
	ErrInvalidAsset        = errors.New("bank: invalid asset identifier")
	ErrSameAccount         = errors.New("bank: source and destination are identical")
	ErrVaultBound          = errors.New("bank: vault already bound to a different authority")
	ErrUnknownReceipt      = errors.New("bank: receipt was not issued by this ledger or is already settled")
	errNilStore            = errors.New("bank: store not configured")
)

const maxAssetLength = 32

// Store is the persistence surface the ledger needs. The state manager
// implements it for production; MemoryStore covers tests.
type Store interface {
	BalanceGet(asset string, addr [20]byte) (uint64, error)
	BalancePut(asset string, addr [20]byte, amount uint64) error
	VaultAuthorityGet(vault [20]byte) ([20]byte, bool, error)
	VaultAuthorityPut(vault, authority [20]byte) error
}

// Receipt identifies an applied move so it can be compensated. Only receipts
// returned by Transfer and not yet reverted or released are accepted by
// Revert.
type Receipt struct {
	Asset      string
	From       [20]byte
	To         [20]byte
	Authorizer [20]byte
	Amount     uint64

	seq uint64
}

// IsZero reports whether the receipt describes no movement of funds.
func (r Receipt) IsZero() bool { return r.Amount == 0 }

// Ledger moves fungible balances between accounts. Each call is atomic: it
// either applies completely or leaves every balance untouched.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	seq     uint64
	pending map[uint64]Receipt
}

// NewLedger wraps the supplied store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, pending: make(map[uint64]Receipt)}
}

// NormalizeAsset trims and upper-cases an asset identifier and rejects values
// outside [A-Z0-9._-]{1,32}.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" || len(trimmed) > maxAssetLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, symbol)
	}
	for _, r := range trimmed {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidAsset, symbol)
		}
	}
	return trimmed, nil
}

// RegisterVault binds a vault account to the only authority allowed to move
// funds out of it. Re-registering the same binding is a no-op.
func (l *Ledger) RegisterVault(vault, authority [20]byte) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok, err := l.store.VaultAuthorityGet(vault)
	if err != nil {
		return err
	}
	if ok {
		if existing != authority {
			return ErrVaultBound
		}
		return nil
	}
	return l.store.VaultAuthorityPut(vault, authority)
}

// Balance returns the balance of addr in asset.
func (l *Ledger) Balance(asset string, addr [20]byte) (uint64, error) {
	if l == nil || l.store == nil {
		return 0, errNilStore
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.BalanceGet(normalized, addr)
}

// Mint credits amount to the destination without a source account. It is only
// reachable from genesis seeding and operator tooling.
func (l *Ledger) Mint(asset string, to [20]byte, amount uint64) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.store.BalanceGet(normalized, to)
	if err != nil {
		return err
	}
	next, err := common.CheckedAdd(current, amount)
	if err != nil {
		return ErrBalanceOverflow
	}
	return l.store.BalancePut(normalized, to, next)
}

// Transfer moves amount of asset from one account to another. When from is a
// registered vault the authorizer must be the vault's bound authority;
// otherwise the authorizer must be the owner of the source account.
func (l *Ledger) Transfer(asset string, from, to, authorizer [20]byte, amount uint64) (Receipt, error) {
	if l == nil || l.store == nil {
		return Receipt{}, errNilStore
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return Receipt{}, err
	}
	if amount == 0 {
		return Receipt{}, nil
	}
	if from == to {
		return Receipt{}, ErrSameAccount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	authority, isVault, err := l.store.VaultAuthorityGet(from)
	if err != nil {
		return Receipt{}, err
	}
	if isVault {
		if authorizer != authority {
			return Receipt{}, ErrUnauthorized
		}
	} else if authorizer != from {
		return Receipt{}, ErrUnauthorized
	}
	if err := l.move(normalized, from, to, amount); err != nil {
		return Receipt{}, err
	}
	l.seq++
	receipt := Receipt{Asset: normalized, From: from, To: to, Authorizer: authorizer, Amount: amount, seq: l.seq}
	if l.pending == nil {
		l.pending = make(map[uint64]Receipt)
	}
	l.pending[receipt.seq] = receipt
	return receipt, nil
}

// Revert applies the inverse of a receipt this ledger issued and has not yet
// settled. The receipt is consumed; a second Revert or a receipt that was
// built by hand fails with ErrUnknownReceipt. The destination must still
// hold the funds.
func (l *Ledger) Revert(r Receipt) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	if r.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	issued, ok := l.pending[r.seq]
	if !ok || r.seq == 0 || issued != r {
		return ErrUnknownReceipt
	}
	if err := l.move(r.Asset, r.To, r.From, r.Amount); err != nil {
		return err
	}
	delete(l.pending, r.seq)
	return nil
}

// Release settles receipts so they can no longer be reverted. Unknown or
// already settled receipts are ignored.
func (l *Ledger) Release(receipts ...Receipt) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range receipts {
		if issued, ok := l.pending[r.seq]; ok && issued == r {
			delete(l.pending, r.seq)
		}
	}
}

// Outstanding reports how many issued receipts are neither reverted nor
// released.
func (l *Ledger) Outstanding() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Ledger) move(asset string, from, to [20]byte, amount uint64) error {
	fromBal, err := l.store.BalanceGet(asset, from)
	if err != nil {
		return err
	}
	toBal, err := l.store.BalanceGet(asset, to)
	if err != nil {
		return err
	}
	nextFrom, err := common.CheckedSub(fromBal, amount)
	if err != nil {
		return ErrInsufficientBalance
	}
	nextTo, err := common.CheckedAdd(toBal, amount)
	if err != nil {
		return ErrBalanceOverflow
	}
	if err := l.store.BalancePut(asset, from, nextFrom); err != nil {
		return err
	}
	if err := l.store.BalancePut(asset, to, nextTo); err != nil {
		if restoreErr := l.store.BalancePut(asset, from, fromBal); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("bank: restore source balance: %w", restoreErr))
		}
		return err
	}
	return nil
}

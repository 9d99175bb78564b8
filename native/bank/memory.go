package bank

import "sync"

type balanceKey struct {
	asset string
	addr  [20]byte
}

// MemoryStore is an in-memory Store used by tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[balanceKey]uint64
	vaults   map[[20]byte][20]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[balanceKey]uint64),
		vaults:   make(map[[20]byte][20]byte),
	}
}

func (m *MemoryStore) BalanceGet(asset string, addr [20]byte) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[balanceKey{asset: asset, addr: addr}], nil
}

func (m *MemoryStore) BalancePut(asset string, addr [20]byte, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey{asset: asset, addr: addr}
	if amount == 0 {
		delete(m.balances, key)
		return nil
	}
	m.balances[key] = amount
	return nil
}

func (m *MemoryStore) VaultAuthorityGet(vault [20]byte) ([20]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	authority, ok := m.vaults[vault]
	return authority, ok, nil
}

func (m *MemoryStore) VaultAuthorityPut(vault, authority [20]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vaults[vault] = authority
	return nil
}

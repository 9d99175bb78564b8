package state

// BalanceGet returns the stored balance of addr in asset, or zero.
func (m *Manager) BalanceGet(asset string, addr [20]byte) (uint64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	var amount uint64
	if _, err := m.get(balanceKey(asset, addr), &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// BalancePut stores the balance. Zero balances are removed.
func (m *Manager) BalancePut(asset string, addr [20]byte, amount uint64) error {
	if err := m.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return m.delete(balanceKey(asset, addr))
	}
	return m.put(balanceKey(asset, addr), amount)
}

// VaultAuthorityGet returns the custody authority bound to vault.
func (m *Manager) VaultAuthorityGet(vault [20]byte) ([20]byte, bool, error) {
	if err := m.ready(); err != nil {
		return [20]byte{}, false, err
	}
	var authority [20]byte
	ok, err := m.get(vaultKey(vault), &authority)
	if err != nil || !ok {
		return [20]byte{}, ok, err
	}
	return authority, true, nil
}

// VaultAuthorityPut binds a vault to its custody authority.
func (m *Manager) VaultAuthorityPut(vault, authority [20]byte) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.put(vaultKey(vault), authority)
}

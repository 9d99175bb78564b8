package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tokensale/storage"
)

// Manager persists sale records, buyer records, ledger balances and vault
// bindings in a key-value database. Keys are keccak256 hashes of a readable
// prefix and the record's identity; values are RLP encoded.
type Manager struct {
	db storage.Database
	// indexMu serialises read-modify-write cycles on the list keys.
	indexMu sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	errNilManager = errors.New("state: manager unavailable")

	salePrefix       = []byte("sale:")
	saleListKey      = ethcrypto.Keccak256([]byte("sale-list"))
	buyerPrefix      = []byte("buyer:")
	saleBuyersPrefix = []byte("sale-buyers:")
	balancePrefix    = []byte("balance:")
	vaultPrefix      = []byte("vault-authority:")
	genesisKey       = []byte("genesis/applied")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func saleKey(id [32]byte) []byte {
	return prefixedKey(salePrefix, id[:])
}

func buyerKey(saleID [32]byte, buyer [20]byte) []byte {
	return prefixedKey(buyerPrefix, saleID[:], buyer[:])
}

func saleBuyersKey(saleID [32]byte) []byte {
	return prefixedKey(saleBuyersPrefix, saleID[:])
}

func balanceKey(asset string, addr [20]byte) []byte {
	return prefixedKey(balancePrefix, []byte(asset), []byte{':'}, addr[:])
}

func vaultKey(vault [20]byte) []byte {
	return prefixedKey(vaultPrefix, vault[:])
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) ready() error {
	if m == nil || m.db == nil {
		return errNilManager
	}
	return nil
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode: %w", err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) delete(key []byte) error {
	err := m.db.Delete(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// KVPut stores an arbitrary RLP encodable value under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.put(kvKey(key), value)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}
	return m.get(kvKey(key), out)
}

// GenesisApplied reports whether genesis balances were already seeded.
func (m *Manager) GenesisApplied() (bool, error) {
	var marker bool
	ok, err := m.KVGet(genesisKey, &marker)
	if err != nil {
		return false, err
	}
	return ok && marker, nil
}

// MarkGenesisApplied records that genesis balances were seeded so restarts do
// not mint them twice.
func (m *Manager) MarkGenesisApplied() error {
	return m.KVPut(genesisKey, true)
}

package crypto

import "github.com/ethereum/go-ethereum/crypto"

// Keccak256 hashes the concatenation of the supplied byte slices.
func Keccak256(parts ...[]byte) [32]byte {
	return crypto.Keccak256Hash(parts...)
}

// DeriveAddress returns the trailing 20 bytes of keccak256(domain || parts...).
// Derived identities have no private key: the only way to act as one is to be
// the component that computed it.
func DeriveAddress(domain string, parts ...[]byte) [AddressLength]byte {
	chunks := make([][]byte, 0, len(parts)+1)
	chunks = append(chunks, []byte(domain))
	chunks = append(chunks, parts...)
	hash := crypto.Keccak256(chunks...)
	var out [AddressLength]byte
	copy(out[:], hash[len(hash)-AddressLength:])
	return out
}

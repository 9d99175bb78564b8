package sale

import (
	"tokensale/crypto"
)

const (
	// MaxFeeBps is 100% expressed in basis points.
	MaxFeeBps = 10_000

	// ModuleName is the key checked against the platform pause view.
	ModuleName = "sale"

	saleIDDomain  = "token_sale"
	vaultDomain   = "token_vault"
	custodyDomain = "sale_custody"
)

// Sale captures a seller's listing together with its custody bindings. The
// identifier is keccak256("token_sale" || seller || asset) so each seller can
// list a given asset at most once.
type Sale struct {
	ID               [32]byte
	Seller           [20]byte
	Asset            string
	PaymentAsset     string
	PricePerUnit     uint64
	TotalSupply      uint64
	SupplyRemaining  uint64
	WindowStart      int64
	WindowEnd        int64
	PerBuyerCap      uint64
	PlatformFeeBps   uint32
	FeeRecipient     [20]byte
	Active           bool
	Paused           bool
	Vault            [20]byte
	CustodyAuthority [20]byte
	CreatedAt        int64
}

// Clone returns a copy of the sale so callers can mutate it without affecting
// the stored instance.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// Sold reports how many units have left custody through purchases. Cancelled
// sales report zero remaining, so the value is only meaningful while active.
func (s *Sale) Sold() uint64 {
	if s == nil || s.SupplyRemaining > s.TotalSupply {
		return 0
	}
	return s.TotalSupply - s.SupplyRemaining
}

// BuyerRecord tracks cumulative purchases of one buyer against one sale.
type BuyerRecord struct {
	Buyer           [20]byte
	SaleID          [32]byte
	TokensPurchased uint64
	CreatedAt       int64
}

// Clone returns a copy of the record.
func (r *BuyerRecord) Clone() *BuyerRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// SaleID derives the sale identifier for a (seller, asset) pair. The asset
// must already be normalised.
func SaleID(seller [20]byte, asset string) [32]byte {
	return crypto.Keccak256([]byte(saleIDDomain), seller[:], []byte(asset))
}

// VaultAddress derives the account that holds a sale's escrowed supply.
func VaultAddress(id [32]byte) [20]byte {
	return crypto.DeriveAddress(vaultDomain, id[:])
}

// CustodyAuthority derives the keyless identity that is bound to a sale's
// vault in the ledger. Only the engine ever presents it as an authorizer.
func CustodyAuthority(id [32]byte) [20]byte {
	return crypto.DeriveAddress(custodyDomain, id[:])
}

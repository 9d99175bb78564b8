package state

import (
	"errors"
	"fmt"

	"tokensale/native/sale"
)

// storedSale is the on-disk layout of a sale. RLP has no signed integers so
// timestamps are stored as uint64; the engine never produces negative values.
type storedSale struct {
	ID               [32]byte
	Seller           [20]byte
	Asset            string
	PaymentAsset     string
	PricePerUnit     uint64
	TotalSupply      uint64
	SupplyRemaining  uint64
	WindowStart      uint64
	WindowEnd        uint64
	PerBuyerCap      uint64
	PlatformFeeBps   uint32
	FeeRecipient     [20]byte
	Active           bool
	Paused           bool
	Vault            [20]byte
	CustodyAuthority [20]byte
	CreatedAt        uint64
}

func newStoredSale(s *sale.Sale) (*storedSale, error) {
	if s.WindowStart < 0 || s.WindowEnd < 0 || s.CreatedAt < 0 {
		return nil, fmt.Errorf("state: sale %x has negative timestamp", s.ID[:4])
	}
	return &storedSale{
		ID:               s.ID,
		Seller:           s.Seller,
		Asset:            s.Asset,
		PaymentAsset:     s.PaymentAsset,
		PricePerUnit:     s.PricePerUnit,
		TotalSupply:      s.TotalSupply,
		SupplyRemaining:  s.SupplyRemaining,
		WindowStart:      uint64(s.WindowStart),
		WindowEnd:        uint64(s.WindowEnd),
		PerBuyerCap:      s.PerBuyerCap,
		PlatformFeeBps:   s.PlatformFeeBps,
		FeeRecipient:     s.FeeRecipient,
		Active:           s.Active,
		Paused:           s.Paused,
		Vault:            s.Vault,
		CustodyAuthority: s.CustodyAuthority,
		CreatedAt:        uint64(s.CreatedAt),
	}, nil
}

func (r *storedSale) toSale() *sale.Sale {
	return &sale.Sale{
		ID:               r.ID,
		Seller:           r.Seller,
		Asset:            r.Asset,
		PaymentAsset:     r.PaymentAsset,
		PricePerUnit:     r.PricePerUnit,
		TotalSupply:      r.TotalSupply,
		SupplyRemaining:  r.SupplyRemaining,
		WindowStart:      int64(r.WindowStart),
		WindowEnd:        int64(r.WindowEnd),
		PerBuyerCap:      r.PerBuyerCap,
		PlatformFeeBps:   r.PlatformFeeBps,
		FeeRecipient:     r.FeeRecipient,
		Active:           r.Active,
		Paused:           r.Paused,
		Vault:            r.Vault,
		CustodyAuthority: r.CustodyAuthority,
		CreatedAt:        int64(r.CreatedAt),
	}
}

type storedBuyer struct {
	Buyer           [20]byte
	SaleID          [32]byte
	TokensPurchased uint64
	CreatedAt       uint64
}

// SaleGet loads a sale by identifier.
func (m *Manager) SaleGet(id [32]byte) (*sale.Sale, bool, error) {
	if err := m.ready(); err != nil {
		return nil, false, err
	}
	var stored storedSale
	ok, err := m.get(saleKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return stored.toSale(), true, nil
}

// SalePut records the sale in the sale index on first write and then writes
// the sale itself. A failed record write leaves the index as it was.
func (m *Manager) SalePut(s *sale.Sale) error {
	if err := m.ready(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("state: nil sale")
	}
	stored, err := newStoredSale(s)
	if err != nil {
		return err
	}
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	ids, err := m.loadSaleIDs()
	if err != nil {
		return err
	}
	indexed := false
	for _, id := range ids {
		if id == s.ID {
			indexed = true
			break
		}
	}
	if !indexed {
		if err := m.put(saleListKey, append(ids, s.ID)); err != nil {
			return err
		}
	}
	if err := m.put(saleKey(s.ID), stored); err != nil {
		if !indexed {
			if restoreErr := m.put(saleListKey, ids); restoreErr != nil {
				return errors.Join(err, fmt.Errorf("state: restore sale index: %w", restoreErr))
			}
		}
		return err
	}
	return nil
}

// SaleDelete removes a sale from storage and from the index. Buyer records
// are left in place. The engine uses it to undo a create that failed after
// the sale was written.
func (m *Manager) SaleDelete(id [32]byte) error {
	if err := m.ready(); err != nil {
		return err
	}
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	ids, err := m.loadSaleIDs()
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if err := m.put(saleListKey, kept); err != nil {
		return err
	}
	return m.delete(saleKey(id))
}

// SaleIDs returns every stored sale identifier in creation order.
func (m *Manager) SaleIDs() ([][32]byte, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	return m.loadSaleIDs()
}

func (m *Manager) loadSaleIDs() ([][32]byte, error) {
	var ids [][32]byte
	if _, err := m.get(saleListKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// BuyerRecordGet loads the record of buyer for the given sale.
func (m *Manager) BuyerRecordGet(saleID [32]byte, buyer [20]byte) (*sale.BuyerRecord, bool, error) {
	if err := m.ready(); err != nil {
		return nil, false, err
	}
	var stored storedBuyer
	ok, err := m.get(buyerKey(saleID, buyer), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &sale.BuyerRecord{
		Buyer:           stored.Buyer,
		SaleID:          stored.SaleID,
		TokensPurchased: stored.TokensPurchased,
		CreatedAt:       int64(stored.CreatedAt),
	}, true, nil
}

// BuyerRecordPut adds the buyer to the sale's buyer index on first write and
// then writes the record. A failed record write leaves the index as it was.
func (m *Manager) BuyerRecordPut(rec *sale.BuyerRecord) error {
	if err := m.ready(); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("state: nil buyer record")
	}
	if rec.CreatedAt < 0 {
		return fmt.Errorf("state: buyer record has negative timestamp")
	}
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	buyers, err := m.loadSaleBuyers(rec.SaleID)
	if err != nil {
		return err
	}
	stored := &storedBuyer{
		Buyer:           rec.Buyer,
		SaleID:          rec.SaleID,
		TokensPurchased: rec.TokensPurchased,
		CreatedAt:       uint64(rec.CreatedAt),
	}
	indexed := false
	for _, b := range buyers {
		if b == rec.Buyer {
			indexed = true
			break
		}
	}
	if !indexed {
		if err := m.put(saleBuyersKey(rec.SaleID), append(buyers, rec.Buyer)); err != nil {
			return err
		}
	}
	if err := m.put(buyerKey(rec.SaleID, rec.Buyer), stored); err != nil {
		if !indexed {
			if restoreErr := m.put(saleBuyersKey(rec.SaleID), buyers); restoreErr != nil {
				return errors.Join(err, fmt.Errorf("state: restore buyer index: %w", restoreErr))
			}
		}
		return err
	}
	return nil
}

// BuyerRecordDelete removes a buyer record and its index entry.
func (m *Manager) BuyerRecordDelete(saleID [32]byte, buyer [20]byte) error {
	if err := m.ready(); err != nil {
		return err
	}
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	buyers, err := m.loadSaleBuyers(saleID)
	if err != nil {
		return err
	}
	kept := buyers[:0]
	for _, b := range buyers {
		if b != buyer {
			kept = append(kept, b)
		}
	}
	if err := m.put(saleBuyersKey(saleID), kept); err != nil {
		return err
	}
	return m.delete(buyerKey(saleID, buyer))
}

// SaleBuyers lists every buyer with a record for the sale.
func (m *Manager) SaleBuyers(saleID [32]byte) ([][20]byte, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	return m.loadSaleBuyers(saleID)
}

func (m *Manager) loadSaleBuyers(saleID [32]byte) ([][20]byte, error) {
	var buyers [][20]byte
	if _, err := m.get(saleBuyersKey(saleID), &buyers); err != nil {
		return nil, err
	}
	return buyers, nil
}

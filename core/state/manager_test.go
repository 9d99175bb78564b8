package state

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"tokensale/native/bank"
	"tokensale/native/sale"
	"tokensale/storage"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func sampleSale(seller [20]byte, asset string) *sale.Sale {
	id := sale.SaleID(seller, asset)
	return &sale.Sale{
		ID:               id,
		Seller:           seller,
		Asset:            asset,
		PaymentAsset:     "USDC",
		PricePerUnit:     10,
		TotalSupply:      1_000,
		SupplyRemaining:  900,
		WindowStart:      1_700_000_000,
		WindowEnd:        1_700_086_400,
		PerBuyerCap:      50,
		PlatformFeeBps:   250,
		FeeRecipient:     newTestAddress(0x0F),
		Active:           true,
		Vault:            sale.VaultAddress(id),
		CustodyAuthority: sale.CustodyAuthority(id),
		CreatedAt:        1_699_999_000,
	}
}

func TestSaleRoundTripAndIndex(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	first := sampleSale(newTestAddress(0x01), "TKN")
	second := sampleSale(newTestAddress(0x02), "GOV")

	if _, ok, err := mgr.SaleGet(first.ID); err != nil || ok {
		t.Fatalf("expected missing sale, ok=%v err=%v", ok, err)
	}
	for _, s := range []*sale.Sale{first, second, first} {
		if err := mgr.SalePut(s); err != nil {
			t.Fatalf("put sale: %v", err)
		}
	}
	got, ok, err := mgr.SaleGet(first.ID)
	if err != nil || !ok {
		t.Fatalf("get sale: ok=%v err=%v", ok, err)
	}
	if *got != *first {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, first)
	}
	ids, err := mgr.SaleIDs()
	if err != nil {
		t.Fatalf("sale ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != first.ID || ids[1] != second.ID {
		t.Fatalf("unexpected index %x", ids)
	}

	if err := mgr.SaleDelete(first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids, _ = mgr.SaleIDs()
	if len(ids) != 1 || ids[0] != second.ID {
		t.Fatalf("unexpected index after delete %x", ids)
	}
}

func TestSaleRejectsNegativeTimestamps(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	s := sampleSale(newTestAddress(0x01), "TKN")
	s.CreatedAt = -1
	if err := mgr.SalePut(s); err == nil {
		t.Fatalf("expected negative timestamp to be rejected")
	}
}

func TestBuyerRecords(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	saleID := sale.SaleID(newTestAddress(0x01), "TKN")
	alice := newTestAddress(0x0A)
	bob := newTestAddress(0x0B)

	for _, rec := range []*sale.BuyerRecord{
		{Buyer: alice, SaleID: saleID, TokensPurchased: 5, CreatedAt: 10},
		{Buyer: bob, SaleID: saleID, CreatedAt: 11},
		{Buyer: alice, SaleID: saleID, TokensPurchased: 15, CreatedAt: 10},
	} {
		if err := mgr.BuyerRecordPut(rec); err != nil {
			t.Fatalf("put record: %v", err)
		}
	}
	rec, ok, err := mgr.BuyerRecordGet(saleID, alice)
	if err != nil || !ok || rec.TokensPurchased != 15 || rec.CreatedAt != 10 {
		t.Fatalf("unexpected record %+v ok=%v err=%v", rec, ok, err)
	}
	buyers, err := mgr.SaleBuyers(saleID)
	if err != nil {
		t.Fatalf("sale buyers: %v", err)
	}
	if len(buyers) != 2 || buyers[0] != alice || buyers[1] != bob {
		t.Fatalf("unexpected buyer index %x", buyers)
	}
	if err := mgr.BuyerRecordDelete(saleID, alice); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	if _, ok, _ := mgr.BuyerRecordGet(saleID, alice); ok {
		t.Fatalf("record still present after delete")
	}
	buyers, _ = mgr.SaleBuyers(saleID)
	if len(buyers) != 1 || buyers[0] != bob {
		t.Fatalf("unexpected buyer index after delete %x", buyers)
	}
}

// flakyDB fails every Put to failKey while leaving other keys writable.
type flakyDB struct {
	*storage.MemDB
	failKey []byte
}

var errDiskFull = errors.New("disk full")

func (f *flakyDB) Put(key, value []byte) error {
	if f.failKey != nil && bytes.Equal(key, f.failKey) {
		return errDiskFull
	}
	return f.MemDB.Put(key, value)
}

func TestFailedRecordWritesLeaveIndexesUnchanged(t *testing.T) {
	db := &flakyDB{MemDB: storage.NewMemDB()}
	mgr := NewManager(db)
	s := sampleSale(newTestAddress(0x01), "TKN")
	alice := newTestAddress(0x0A)

	db.failKey = saleKey(s.ID)
	if err := mgr.SalePut(s); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected disk failure, got %v", err)
	}
	if ids, _ := mgr.SaleIDs(); len(ids) != 0 {
		t.Fatalf("sale index updated by failed write: %x", ids)
	}

	db.failKey = buyerKey(s.ID, alice)
	rec := &sale.BuyerRecord{Buyer: alice, SaleID: s.ID, TokensPurchased: 5, CreatedAt: 10}
	if err := mgr.BuyerRecordPut(rec); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected disk failure, got %v", err)
	}
	if buyers, _ := mgr.SaleBuyers(s.ID); len(buyers) != 0 {
		t.Fatalf("buyer index updated by failed write: %x", buyers)
	}
	if _, ok, _ := mgr.BuyerRecordGet(s.ID, alice); ok {
		t.Fatalf("record written despite failure")
	}

	db.failKey = saleBuyersKey(s.ID)
	if err := mgr.BuyerRecordPut(rec); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected index failure, got %v", err)
	}
	if _, ok, _ := mgr.BuyerRecordGet(s.ID, alice); ok {
		t.Fatalf("record written although its index write failed")
	}

	db.failKey = nil
	if err := mgr.BuyerRecordPut(rec); err != nil {
		t.Fatalf("put record: %v", err)
	}
	if buyers, _ := mgr.SaleBuyers(s.ID); len(buyers) != 1 || buyers[0] != alice {
		t.Fatalf("unexpected buyer index %x", buyers)
	}
}

func TestManagerBacksLedger(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	mgr := NewManager(db)
	ledger := bank.NewLedger(mgr)
	alice := newTestAddress(0x01)
	vault := newTestAddress(0x0A)
	authority := newTestAddress(0x0B)

	if err := ledger.Mint("TKN", alice, 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.RegisterVault(vault, authority); err != nil {
		t.Fatalf("register vault: %v", err)
	}
	if _, err := ledger.Transfer("TKN", alice, vault, alice, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := ledger.Transfer("TKN", vault, alice, alice, 1); !errors.Is(err, bank.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	bound, ok, err := mgr.VaultAuthorityGet(vault)
	if err != nil || !ok || bound != authority {
		t.Fatalf("unexpected vault binding %x ok=%v err=%v", bound, ok, err)
	}
	if bal, _ := mgr.BalanceGet("TKN", alice); bal != 0 {
		t.Fatalf("alice balance = %d", bal)
	}
	if bal, _ := mgr.BalanceGet("TKN", vault); bal != 100 {
		t.Fatalf("vault balance = %d", bal)
	}
}

func TestEngineOverManager(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(mgr)
	engine := sale.NewEngine()
	engine.SetState(mgr)
	engine.SetLedger(ledger)
	engine.SetNowFunc(func() int64 { return 1_000 })

	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	if err := ledger.Mint("TKN", seller, 500); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Mint("USDC", buyer, 10_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	s, err := engine.CreateSale(sale.CreateParams{
		Seller:         seller,
		Asset:          "TKN",
		PaymentAsset:   "USDC",
		PricePerUnit:   2,
		TotalSupply:    500,
		WindowStart:    900,
		WindowEnd:      2_000,
		PlatformFeeBps: 100,
		FeeRecipient:   newTestAddress(0x03),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Purchase(buyer, s.ID, 200); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	report, err := engine.Reconcile(s.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.CustodyOK || !report.ConservationOK || report.SupplyRemaining != 300 || report.Buyers != 1 {
		t.Fatalf("unexpected reconciliation %+v", report)
	}
}

func TestGenesisMarkerAndVersion(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	applied, err := mgr.GenesisApplied()
	if err != nil || applied {
		t.Fatalf("fresh state reports genesis applied=%v err=%v", applied, err)
	}
	if err := mgr.MarkGenesisApplied(); err != nil {
		t.Fatalf("mark genesis: %v", err)
	}
	if applied, _ := mgr.GenesisApplied(); !applied {
		t.Fatalf("genesis marker not persisted")
	}

	if err := EnsureStateVersion(db, false); err != nil {
		t.Fatalf("stamp version: %v", err)
	}
	version, ok, err := mgr.StateVersion()
	if err != nil || !ok || version != StateVersion {
		t.Fatalf("unexpected version %d ok=%v err=%v", version, ok, err)
	}
	if err := mgr.SetStateVersion(StateVersion + 1); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if err := EnsureStateVersion(db, false); !errors.Is(err, ErrStateVersionMismatch) {
		t.Fatalf("expected ErrStateVersionMismatch, got %v", err)
	}
	if err := EnsureStateVersion(db, true); err != nil {
		t.Fatalf("allow migrate: %v", err)
	}
}

package sale

import (
	"errors"
	"time"

	"tokensale/core/events"
	"tokensale/native/bank"
	"tokensale/native/common"
)

type engineState interface {
	SaleGet(id [32]byte) (*Sale, bool, error)
	SalePut(*Sale) error
	SaleDelete(id [32]byte) error
	SaleIDs() ([][32]byte, error)
	BuyerRecordGet(saleID [32]byte, buyer [20]byte) (*BuyerRecord, bool, error)
	BuyerRecordPut(*BuyerRecord) error
	BuyerRecordDelete(saleID [32]byte, buyer [20]byte) error
	SaleBuyers(saleID [32]byte) ([][20]byte, error)
}

// Engine runs the sale state machine against a ledger and a state backend.
// Operations on the same sale are serialised; operations on different sales
// run concurrently.
type Engine struct {
	state   engineState
	ledger  Transferer
	emitter events.Emitter
	pauses  common.PauseView
	nowFn   func() int64
	locks   *lockTable
}

// NewEngine creates a sale engine with a no-op emitter and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   newLockTable(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the ledger used for every asset movement.
func (e *Engine) SetLedger(ledger Transferer) { e.ledger = ledger }

// SetPauseView installs the platform pause switch consulted before new sales,
// registrations and purchases.
func (e *Engine) SetPauseView(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt saleEvent) {
	if e == nil || e.emitter == nil || evt.payload == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ensureConfigured() error {
	if e == nil || e.state == nil || e.ledger == nil || e.locks == nil {
		return ErrNotConfigured
	}
	return nil
}

func (e *Engine) guard() error {
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return ErrModulePaused.wrap(err)
	}
	return nil
}

func (e *Engine) loadSale(id [32]byte) (*Sale, error) {
	s, ok, err := e.state.SaleGet(id)
	if err != nil {
		return nil, ErrStorage.wrap(err)
	}
	if !ok || s == nil {
		return nil, ErrSaleNotFound.withf("id %s", FormatSaleID(id))
	}
	return s.Clone(), nil
}

func (e *Engine) loadBuyer(saleID [32]byte, buyer [20]byte) (*BuyerRecord, bool, error) {
	rec, ok, err := e.state.BuyerRecordGet(saleID, buyer)
	if err != nil {
		return nil, false, ErrStorage.wrap(err)
	}
	if !ok || rec == nil {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

// CreateParams describes a new sale.
type CreateParams struct {
	Seller         [20]byte
	Asset          string
	PaymentAsset   string
	PricePerUnit   uint64
	TotalSupply    uint64
	WindowStart    int64
	WindowEnd      int64
	PerBuyerCap    uint64
	PlatformFeeBps uint32
	FeeRecipient   [20]byte
}

func (p CreateParams) validate(now int64) (asset, paymentAsset string, err error) {
	if p.PricePerUnit == 0 {
		return "", "", ErrInvalidPrice
	}
	if p.TotalSupply == 0 {
		return "", "", ErrInvalidAmount
	}
	if p.WindowStart <= 0 {
		return "", "", ErrInvalidStartTime
	}
	if p.WindowEnd <= p.WindowStart {
		return "", "", ErrInvalidEndTime
	}
	if p.PlatformFeeBps > MaxFeeBps {
		return "", "", ErrInvalidPlatformFee
	}
	if p.WindowEnd <= now {
		return "", "", ErrEndTimeInPast
	}
	if p.Seller == ([20]byte{}) {
		return "", "", ErrInvalidIdentity.withf("seller")
	}
	if p.FeeRecipient == ([20]byte{}) {
		return "", "", ErrInvalidIdentity.withf("fee recipient")
	}
	asset, err = bank.NormalizeAsset(p.Asset)
	if err != nil {
		return "", "", ErrInvalidAsset.wrap(err)
	}
	paymentAsset, err = bank.NormalizeAsset(p.PaymentAsset)
	if err != nil {
		return "", "", ErrInvalidAsset.wrap(err)
	}
	return asset, paymentAsset, nil
}

// CreateSale validates the parameters, moves the full supply from the seller
// into a fresh vault, stores the sale and finally binds the vault to the
// sale's custody authority. Until the binding exists nobody can authorize a
// move out of the vault.
func (e *Engine) CreateSale(p CreateParams) (*Sale, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	now := e.now()
	asset, paymentAsset, err := p.validate(now)
	if err != nil {
		return nil, err
	}
	id := SaleID(p.Seller, asset)
	release := e.locks.acquire(id)
	defer release()

	if _, ok, err := e.state.SaleGet(id); err != nil {
		return nil, ErrStorage.wrap(err)
	} else if ok {
		return nil, ErrSaleExists.withf("id %s", FormatSaleID(id))
	}

	s := &Sale{
		ID:               id,
		Seller:           p.Seller,
		Asset:            asset,
		PaymentAsset:     paymentAsset,
		PricePerUnit:     p.PricePerUnit,
		TotalSupply:      p.TotalSupply,
		SupplyRemaining:  p.TotalSupply,
		WindowStart:      p.WindowStart,
		WindowEnd:        p.WindowEnd,
		PerBuyerCap:      p.PerBuyerCap,
		PlatformFeeBps:   p.PlatformFeeBps,
		FeeRecipient:     p.FeeRecipient,
		Active:           true,
		Vault:            VaultAddress(id),
		CustodyAuthority: CustodyAuthority(id),
		CreatedAt:        now,
	}

	held, err := e.ledger.Balance(asset, s.Vault)
	if err != nil {
		return nil, ErrTransferFailed.wrap(err)
	}
	if held != 0 {
		return nil, ErrVaultNotEmpty.withf("vault holds %d %s", held, asset)
	}
	j := newJournal(e.ledger)
	if err := j.transfer(asset, s.Seller, s.Vault, s.Seller, s.TotalSupply); err != nil {
		return nil, ErrTransferFailed.wrap(err)
	}
	if err := e.state.SalePut(s); err != nil {
		return nil, j.fail(ErrStorage.wrap(err))
	}
	j.onRollback(func() error { return e.state.SaleDelete(id) })
	if err := e.ledger.RegisterVault(s.Vault, s.CustodyAuthority); err != nil {
		return nil, j.fail(ErrTransferFailed.wrap(err))
	}
	j.commit()
	e.emit(saleCreatedEvent(s))
	return s.Clone(), nil
}

// RegisterBuyer creates an empty purchase record for buyer. Registration is
// optional; Purchase creates the record on first use.
func (e *Engine) RegisterBuyer(buyer [20]byte, saleID [32]byte) (*BuyerRecord, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if buyer == ([20]byte{}) {
		return nil, ErrInvalidIdentity.withf("buyer")
	}
	release := e.locks.acquire(saleID)
	defer release()

	s, err := e.loadSale(saleID)
	if err != nil {
		return nil, err
	}
	if _, exists, err := e.loadBuyer(saleID, buyer); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrBuyerExists
	}
	rec := &BuyerRecord{Buyer: buyer, SaleID: saleID, CreatedAt: e.now()}
	if err := e.state.BuyerRecordPut(rec); err != nil {
		return nil, ErrStorage.wrap(err)
	}
	e.emit(buyerRegisteredEvent(s, buyer))
	return rec.Clone(), nil
}

// PurchaseResult is the committed outcome of a purchase.
type PurchaseResult struct {
	Sale       *Sale
	Record     *BuyerRecord
	Settlement Settlement
}

// Purchase buys amount units for buyer. Either every leg (payment to the
// seller, fee to the recipient, release from the vault) and both record
// updates commit, or none of them are visible afterwards.
func (e *Engine) Purchase(buyer [20]byte, saleID [32]byte, amount uint64) (*PurchaseResult, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if buyer == ([20]byte{}) {
		return nil, ErrInvalidIdentity.withf("buyer")
	}
	release := e.locks.acquire(saleID)
	defer release()

	s, err := e.loadSale(saleID)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, ErrSaleNotActive
	}
	if s.Paused {
		return nil, ErrSalePaused
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if amount > s.SupplyRemaining {
		return nil, ErrInsufficientSupply.withf("requested %d, available %d", amount, s.SupplyRemaining)
	}
	now := e.now()
	if now < s.WindowStart {
		return nil, ErrSaleNotStarted
	}
	if now > s.WindowEnd {
		return nil, ErrSaleEnded
	}

	rec, existed, err := e.loadBuyer(saleID, buyer)
	if err != nil {
		return nil, err
	}
	if !existed {
		rec = &BuyerRecord{Buyer: buyer, SaleID: saleID, CreatedAt: now}
	}
	purchased, err := common.CheckedAdd(rec.TokensPurchased, amount)
	if err != nil {
		return nil, ErrMathOverflow.wrap(err)
	}
	if s.PerBuyerCap > 0 && purchased > s.PerBuyerCap {
		return nil, ErrExceedsPurchaseLimit.withf("cap %d, would reach %d", s.PerBuyerCap, purchased)
	}
	settlement, err := computeSettlement(amount, s.PricePerUnit, s.PlatformFeeBps)
	if err != nil {
		return nil, err
	}
	remaining, err := common.CheckedSub(s.SupplyRemaining, amount)
	if err != nil {
		return nil, ErrMathOverflow.wrap(err)
	}

	j := newJournal(e.ledger)
	if err := j.transfer(s.PaymentAsset, buyer, s.Seller, buyer, settlement.SellerPayment); err != nil {
		return nil, j.fail(ErrTransferFailed.withf("seller payment: %w", err))
	}
	if err := j.transfer(s.PaymentAsset, buyer, s.FeeRecipient, buyer, settlement.Fee); err != nil {
		return nil, j.fail(ErrTransferFailed.withf("platform fee: %w", err))
	}
	if err := j.transfer(s.Asset, s.Vault, buyer, s.CustodyAuthority, amount); err != nil {
		return nil, j.fail(ErrTransferFailed.withf("token release: %w", err))
	}

	previousRecord := rec.Clone()
	rec.TokensPurchased = purchased
	if err := e.state.BuyerRecordPut(rec); err != nil {
		return nil, j.fail(ErrStorage.wrap(err))
	}
	j.onRollback(func() error {
		if existed {
			return e.state.BuyerRecordPut(previousRecord)
		}
		return e.state.BuyerRecordDelete(saleID, buyer)
	})

	s.SupplyRemaining = remaining
	if err := e.state.SalePut(s); err != nil {
		return nil, j.fail(ErrStorage.wrap(err))
	}

	j.commit()
	e.emit(purchasedEvent(s, rec, settlement))
	return &PurchaseResult{Sale: s.Clone(), Record: rec.Clone(), Settlement: settlement}, nil
}

// CancelSale returns the unsold supply to the seller and deactivates the sale
// permanently.
func (e *Engine) CancelSale(caller [20]byte, saleID [32]byte) (*Sale, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	release := e.locks.acquire(saleID)
	defer release()

	s, err := e.loadSale(saleID)
	if err != nil {
		return nil, err
	}
	if caller != s.Seller {
		return nil, ErrUnauthorized
	}
	if !s.Active {
		return nil, ErrSaleNotActive
	}
	returned := s.SupplyRemaining
	j := newJournal(e.ledger)
	if err := j.transfer(s.Asset, s.Vault, s.Seller, s.CustodyAuthority, returned); err != nil {
		return nil, j.fail(ErrTransferFailed.wrap(err))
	}
	s.Active = false
	s.SupplyRemaining = 0
	if err := e.state.SalePut(s); err != nil {
		return nil, j.fail(ErrStorage.wrap(err))
	}
	j.commit()
	e.emit(cancelledEvent(s, returned))
	return s.Clone(), nil
}

// TogglePause flips the paused flag of an active sale.
func (e *Engine) TogglePause(caller [20]byte, saleID [32]byte) (*Sale, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	release := e.locks.acquire(saleID)
	defer release()

	s, err := e.loadSale(saleID)
	if err != nil {
		return nil, err
	}
	if caller != s.Seller {
		return nil, ErrUnauthorized
	}
	if !s.Active {
		return nil, ErrSaleNotActive
	}
	s.Paused = !s.Paused
	if err := e.state.SalePut(s); err != nil {
		return nil, ErrStorage.wrap(err)
	}
	e.emit(pauseToggledEvent(s))
	return s.Clone(), nil
}

// UpdateParams carries optional overrides. Nil fields are left unchanged.
type UpdateParams struct {
	PricePerUnit *uint64
	WindowStart  *int64
	WindowEnd    *int64
	PerBuyerCap  *uint64
}

// IsEmpty reports whether no override was supplied.
func (u UpdateParams) IsEmpty() bool {
	return u.PricePerUnit == nil && u.WindowStart == nil && u.WindowEnd == nil && u.PerBuyerCap == nil
}

// UpdateParameters patches an active sale before its window opens. A new end
// is validated against the possibly just updated start, and the resulting
// window must still be non-empty.
func (e *Engine) UpdateParameters(caller [20]byte, saleID [32]byte, u UpdateParams) (*Sale, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	release := e.locks.acquire(saleID)
	defer release()

	s, err := e.loadSale(saleID)
	if err != nil {
		return nil, err
	}
	if caller != s.Seller {
		return nil, ErrUnauthorized
	}
	if !s.Active {
		return nil, ErrSaleNotActive
	}
	now := e.now()
	if now >= s.WindowStart {
		return nil, ErrSaleAlreadyStarted
	}
	if u.IsEmpty() {
		return s.Clone(), nil
	}

	var changed []string
	if u.PricePerUnit != nil {
		if *u.PricePerUnit == 0 {
			return nil, ErrInvalidPrice
		}
		s.PricePerUnit = *u.PricePerUnit
		changed = append(changed, "pricePerUnit")
	}
	if u.WindowStart != nil {
		if *u.WindowStart <= now {
			return nil, ErrInvalidStartTime.withf("start %d must be after %d", *u.WindowStart, now)
		}
		s.WindowStart = *u.WindowStart
		changed = append(changed, "windowStart")
	}
	if u.WindowEnd != nil {
		if *u.WindowEnd <= s.WindowStart {
			return nil, ErrInvalidEndTime
		}
		s.WindowEnd = *u.WindowEnd
		changed = append(changed, "windowEnd")
	}
	if u.PerBuyerCap != nil {
		s.PerBuyerCap = *u.PerBuyerCap
		changed = append(changed, "perBuyerCap")
	}
	if s.WindowEnd <= s.WindowStart {
		return nil, ErrInvalidEndTime.withf("end %d must be after start %d", s.WindowEnd, s.WindowStart)
	}
	if err := e.state.SalePut(s); err != nil {
		return nil, ErrStorage.wrap(err)
	}
	e.emit(updatedEvent(s, changed))
	return s.Clone(), nil
}

// GetSale returns a copy of the stored sale.
func (e *Engine) GetSale(saleID [32]byte) (*Sale, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	return e.loadSale(saleID)
}

// GetBuyerRecord returns the buyer's record, or ok=false when none exists.
func (e *Engine) GetBuyerRecord(saleID [32]byte, buyer [20]byte) (*BuyerRecord, bool, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, false, err
	}
	return e.loadBuyer(saleID, buyer)
}

// ListSales returns every stored sale in creation order.
func (e *Engine) ListSales() ([]*Sale, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	ids, err := e.state.SaleIDs()
	if err != nil {
		return nil, ErrStorage.wrap(err)
	}
	out := make([]*Sale, 0, len(ids))
	for _, id := range ids {
		s, err := e.loadSale(id)
		if errors.Is(err, ErrSaleNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Quote computes the settlement a purchase of amount would produce right now
// without moving funds. Window, pause and cap checks are not applied.
func (e *Engine) Quote(saleID [32]byte, amount uint64) (Settlement, error) {
	if err := e.ensureConfigured(); err != nil {
		return Settlement{}, err
	}
	if amount == 0 {
		return Settlement{}, ErrInvalidAmount
	}
	s, err := e.loadSale(saleID)
	if err != nil {
		return Settlement{}, err
	}
	return computeSettlement(amount, s.PricePerUnit, s.PlatformFeeBps)
}

// Reconciliation compares a sale's books against the ledger.
type Reconciliation struct {
	SaleID          [32]byte
	TotalSupply     uint64
	SupplyRemaining uint64
	VaultBalance    uint64
	Purchased       uint64
	Buyers          int
	// CustodyOK holds when the vault balance equals the remaining supply.
	CustodyOK bool
	// ConservationOK holds when remaining + purchased equals the total supply
	// for active sales. Cancelled sales only require an empty vault.
	ConservationOK bool
}

// Reconcile checks the custody and conservation invariants of one sale.
func (e *Engine) Reconcile(saleID [32]byte) (*Reconciliation, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	release := e.locks.acquire(saleID)
	defer release()

	s, err := e.loadSale(saleID)
	if err != nil {
		return nil, err
	}
	vaultBalance, err := e.ledger.Balance(s.Asset, s.Vault)
	if err != nil {
		return nil, ErrTransferFailed.wrap(err)
	}
	buyers, err := e.state.SaleBuyers(saleID)
	if err != nil {
		return nil, ErrStorage.wrap(err)
	}
	var purchased uint64
	for _, buyer := range buyers {
		rec, ok, err := e.loadBuyer(saleID, buyer)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		purchased, err = common.CheckedAdd(purchased, rec.TokensPurchased)
		if err != nil {
			return nil, ErrMathOverflow.wrap(err)
		}
	}
	report := &Reconciliation{
		SaleID:          saleID,
		TotalSupply:     s.TotalSupply,
		SupplyRemaining: s.SupplyRemaining,
		VaultBalance:    vaultBalance,
		Purchased:       purchased,
		Buyers:          len(buyers),
		CustodyOK:       vaultBalance == s.SupplyRemaining,
	}
	if s.Active {
		total, err := common.CheckedAdd(s.SupplyRemaining, purchased)
		report.ConservationOK = err == nil && total == s.TotalSupply
	} else {
		report.ConservationOK = s.SupplyRemaining == 0 && purchased <= s.TotalSupply
	}
	return report, nil
}

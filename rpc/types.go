package rpc

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"tokensale/crypto"
	"tokensale/native/sale"
	"tokensale/storage/receipts"
)

// SaleResult is the JSON view of a sale. Amounts are decimal strings so
// clients never lose precision on 64-bit values.
type SaleResult struct {
	ID               string `json:"id"`
	Seller           string `json:"seller"`
	Asset            string `json:"asset"`
	PaymentAsset     string `json:"paymentAsset"`
	PricePerUnit     string `json:"pricePerUnit"`
	TotalSupply      string `json:"totalSupply"`
	SupplyRemaining  string `json:"supplyRemaining"`
	Sold             string `json:"sold"`
	WindowStart      int64  `json:"windowStart"`
	WindowEnd        int64  `json:"windowEnd"`
	PerBuyerCap      string `json:"perBuyerCap"`
	PlatformFeeBps   uint32 `json:"platformFeeBps"`
	FeeRecipient     string `json:"feeRecipient"`
	Active           bool   `json:"active"`
	Paused           bool   `json:"paused"`
	Vault            string `json:"vault"`
	CustodyAuthority string `json:"custodyAuthority"`
	CreatedAt        int64  `json:"createdAt"`
}

func saleResultFrom(s *sale.Sale) SaleResult {
	return SaleResult{
		ID:               sale.FormatSaleID(s.ID),
		Seller:           formatIdentity(s.Seller),
		Asset:            s.Asset,
		PaymentAsset:     s.PaymentAsset,
		PricePerUnit:     formatAmount(s.PricePerUnit),
		TotalSupply:      formatAmount(s.TotalSupply),
		SupplyRemaining:  formatAmount(s.SupplyRemaining),
		Sold:             formatAmount(s.Sold()),
		WindowStart:      s.WindowStart,
		WindowEnd:        s.WindowEnd,
		PerBuyerCap:      formatAmount(s.PerBuyerCap),
		PlatformFeeBps:   s.PlatformFeeBps,
		FeeRecipient:     formatIdentity(s.FeeRecipient),
		Active:           s.Active,
		Paused:           s.Paused,
		Vault:            formatIdentity(s.Vault),
		CustodyAuthority: formatIdentity(s.CustodyAuthority),
		CreatedAt:        s.CreatedAt,
	}
}

// BuyerResult is the JSON view of a buyer record.
type BuyerResult struct {
	SaleID          string `json:"saleId"`
	Buyer           string `json:"buyer"`
	TokensPurchased string `json:"tokensPurchased"`
	CreatedAt       int64  `json:"createdAt"`
}

func buyerResultFrom(r *sale.BuyerRecord) BuyerResult {
	return BuyerResult{
		SaleID:          sale.FormatSaleID(r.SaleID),
		Buyer:           formatIdentity(r.Buyer),
		TokensPurchased: formatAmount(r.TokensPurchased),
		CreatedAt:       r.CreatedAt,
	}
}

// SettlementResult reports how a purchase amount is split.
type SettlementResult struct {
	Amount        string `json:"amount"`
	Gross         string `json:"gross"`
	Fee           string `json:"fee"`
	SellerPayment string `json:"sellerPayment"`
}

func settlementResultFrom(st sale.Settlement) SettlementResult {
	return SettlementResult{
		Amount:        formatAmount(st.Amount),
		Gross:         formatAmount(st.Gross),
		Fee:           formatAmount(st.Fee),
		SellerPayment: formatAmount(st.SellerPayment),
	}
}

// PurchaseResult is returned by the purchase endpoint.
type PurchaseResult struct {
	Sale       SaleResult       `json:"sale"`
	Buyer      BuyerResult      `json:"buyer"`
	Settlement SettlementResult `json:"settlement"`
}

// AuditResult mirrors sale.Reconciliation.
type AuditResult struct {
	SaleID          string `json:"saleId"`
	TotalSupply     string `json:"totalSupply"`
	SupplyRemaining string `json:"supplyRemaining"`
	VaultBalance    string `json:"vaultBalance"`
	Purchased       string `json:"purchased"`
	Buyers          int    `json:"buyers"`
	CustodyOK       bool   `json:"custodyOk"`
	ConservationOK  bool   `json:"conservationOk"`
}

func auditResultFrom(r *sale.Reconciliation) AuditResult {
	return AuditResult{
		SaleID:          sale.FormatSaleID(r.SaleID),
		TotalSupply:     formatAmount(r.TotalSupply),
		SupplyRemaining: formatAmount(r.SupplyRemaining),
		VaultBalance:    formatAmount(r.VaultBalance),
		Purchased:       formatAmount(r.Purchased),
		Buyers:          r.Buyers,
		CustodyOK:       r.CustodyOK,
		ConservationOK:  r.ConservationOK,
	}
}

// ReceiptResult is one journal entry.
type ReceiptResult struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	SaleID     string            `json:"saleId,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
	PrevDigest string            `json:"prevDigest,omitempty"`
	Digest     string            `json:"digest"`
}

func receiptResultFrom(r *receipts.Receipt) (ReceiptResult, error) {
	attrs, err := r.AttributeMap()
	if err != nil {
		return ReceiptResult{}, err
	}
	return ReceiptResult{
		ID:         r.ID.String(),
		Sequence:   r.Sequence,
		Type:       r.Type,
		SaleID:     r.SaleID,
		Actor:      r.Actor,
		Attributes: attrs,
		Timestamp:  r.Timestamp,
		PrevDigest: r.PrevDigest,
		Digest:     r.Digest,
	}, nil
}

// BalanceResult reports one ledger balance.
type BalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// CreateSaleRequest is the body of POST /v1/sales. The caller is the seller.
type CreateSaleRequest struct {
	Asset          string `json:"asset"`
	PaymentAsset   string `json:"paymentAsset"`
	PricePerUnit   string `json:"pricePerUnit"`
	TotalSupply    string `json:"totalSupply"`
	WindowStart    int64  `json:"windowStart"`
	WindowEnd      int64  `json:"windowEnd"`
	PerBuyerCap    string `json:"perBuyerCap,omitempty"`
	PlatformFeeBps uint32 `json:"platformFeeBps"`
	FeeRecipient   string `json:"feeRecipient"`
}

func (req CreateSaleRequest) params(seller [20]byte) (sale.CreateParams, error) {
	price, err := parseAmount("pricePerUnit", req.PricePerUnit)
	if err != nil {
		return sale.CreateParams{}, err
	}
	supply, err := parseAmount("totalSupply", req.TotalSupply)
	if err != nil {
		return sale.CreateParams{}, err
	}
	var limit uint64
	if strings.TrimSpace(req.PerBuyerCap) != "" {
		if limit, err = parseAmount("perBuyerCap", req.PerBuyerCap); err != nil {
			return sale.CreateParams{}, err
		}
	}
	recipient, err := parseIdentity("feeRecipient", req.FeeRecipient)
	if err != nil {
		return sale.CreateParams{}, err
	}
	return sale.CreateParams{
		Seller:         seller,
		Asset:          req.Asset,
		PaymentAsset:   req.PaymentAsset,
		PricePerUnit:   price,
		TotalSupply:    supply,
		WindowStart:    req.WindowStart,
		WindowEnd:      req.WindowEnd,
		PerBuyerCap:    limit,
		PlatformFeeBps: req.PlatformFeeBps,
		FeeRecipient:   recipient,
	}, nil
}

// UpdateSaleRequest is the body of PATCH /v1/sales/{id}. Omitted fields are
// left unchanged.
type UpdateSaleRequest struct {
	PricePerUnit *string `json:"pricePerUnit,omitempty"`
	WindowStart  *int64  `json:"windowStart,omitempty"`
	WindowEnd    *int64  `json:"windowEnd,omitempty"`
	PerBuyerCap  *string `json:"perBuyerCap,omitempty"`
}

func (req UpdateSaleRequest) params() (sale.UpdateParams, error) {
	out := sale.UpdateParams{WindowStart: req.WindowStart, WindowEnd: req.WindowEnd}
	if req.PricePerUnit != nil {
		v, err := parseAmount("pricePerUnit", *req.PricePerUnit)
		if err != nil {
			return sale.UpdateParams{}, err
		}
		out.PricePerUnit = &v
	}
	if req.PerBuyerCap != nil {
		v, err := parseAmount("perBuyerCap", *req.PerBuyerCap)
		if err != nil {
			return sale.UpdateParams{}, err
		}
		out.PerBuyerCap = &v
	}
	return out, nil
}

// AmountRequest carries the token amount for purchase and quote.
type AmountRequest struct {
	Amount string `json:"amount"`
}

func formatAmount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatIdentity(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

func parseAmount(field, raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	v, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a base-10 unsigned 64-bit integer", field)
	}
	return v, nil
}

func parseIdentity(field, raw string) ([20]byte, error) {
	id, err := crypto.ParseIdentity(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return id, nil
}

func parseSaleID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	if len(trimmed) != 64 {
		return id, fmt.Errorf("sale id must be 32 bytes of hex")
	}
	if _, err := hex.Decode(id[:], []byte(trimmed)); err != nil {
		return id, fmt.Errorf("sale id must be 32 bytes of hex")
	}
	return id, nil
}

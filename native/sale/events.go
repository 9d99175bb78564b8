package sale

import (
	"encoding/hex"
	"strconv"

	"tokensale/core/events"
	"tokensale/crypto"
)

const (
	EventTypeSaleCreated     = "sale.created"
	EventTypeBuyerRegistered = "sale.buyer_registered"
	EventTypeSalePurchased   = "sale.purchased"
	EventTypeSaleCancelled   = "sale.cancelled"
	EventTypePauseToggled    = "sale.pause_toggled"
	EventTypeSaleUpdated     = "sale.updated"
)

type saleEvent struct {
	payload *events.Payload
}

func (e saleEvent) EventType() string {
	if e.payload == nil {
		return ""
	}
	return e.payload.Type
}

func (e saleEvent) Payload() *events.Payload { return e.payload }

func identityString(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}

// FormatSaleID renders a sale identifier the way events and the RPC surface
// expose it.
func FormatSaleID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func baseAttributes(s *Sale) map[string]string {
	return map[string]string{
		"saleId": FormatSaleID(s.ID),
		"seller": identityString(s.Seller),
		"asset":  s.Asset,
	}
}

func newEvent(eventType string, attrs map[string]string) saleEvent {
	return saleEvent{payload: &events.Payload{Type: eventType, Attributes: attrs}}
}

func saleCreatedEvent(s *Sale) saleEvent {
	attrs := baseAttributes(s)
	attrs["paymentAsset"] = s.PaymentAsset
	attrs["pricePerUnit"] = strconv.FormatUint(s.PricePerUnit, 10)
	attrs["totalSupply"] = strconv.FormatUint(s.TotalSupply, 10)
	attrs["windowStart"] = strconv.FormatInt(s.WindowStart, 10)
	attrs["windowEnd"] = strconv.FormatInt(s.WindowEnd, 10)
	attrs["perBuyerCap"] = strconv.FormatUint(s.PerBuyerCap, 10)
	attrs["platformFeeBps"] = strconv.FormatUint(uint64(s.PlatformFeeBps), 10)
	attrs["feeRecipient"] = identityString(s.FeeRecipient)
	attrs["vault"] = identityString(s.Vault)
	return newEvent(EventTypeSaleCreated, attrs)
}

func buyerRegisteredEvent(s *Sale, buyer [20]byte) saleEvent {
	attrs := baseAttributes(s)
	attrs["buyer"] = identityString(buyer)
	return newEvent(EventTypeBuyerRegistered, attrs)
}

func purchasedEvent(s *Sale, rec *BuyerRecord, st Settlement) saleEvent {
	attrs := baseAttributes(s)
	attrs["buyer"] = identityString(rec.Buyer)
	attrs["amount"] = strconv.FormatUint(st.Amount, 10)
	attrs["gross"] = strconv.FormatUint(st.Gross, 10)
	attrs["fee"] = strconv.FormatUint(st.Fee, 10)
	attrs["sellerPayment"] = strconv.FormatUint(st.SellerPayment, 10)
	attrs["paymentAsset"] = s.PaymentAsset
	attrs["supplyRemaining"] = strconv.FormatUint(s.SupplyRemaining, 10)
	attrs["buyerTotal"] = strconv.FormatUint(rec.TokensPurchased, 10)
	return newEvent(EventTypeSalePurchased, attrs)
}

func cancelledEvent(s *Sale, returned uint64) saleEvent {
	attrs := baseAttributes(s)
	attrs["returned"] = strconv.FormatUint(returned, 10)
	return newEvent(EventTypeSaleCancelled, attrs)
}

func pauseToggledEvent(s *Sale) saleEvent {
	attrs := baseAttributes(s)
	attrs["paused"] = strconv.FormatBool(s.Paused)
	return newEvent(EventTypePauseToggled, attrs)
}

func updatedEvent(s *Sale, changed []string) saleEvent {
	attrs := baseAttributes(s)
	for _, field := range changed {
		switch field {
		case "pricePerUnit":
			attrs[field] = strconv.FormatUint(s.PricePerUnit, 10)
		case "windowStart":
			attrs[field] = strconv.FormatInt(s.WindowStart, 10)
		case "windowEnd":
			attrs[field] = strconv.FormatInt(s.WindowEnd, 10)
		case "perBuyerCap":
			attrs[field] = strconv.FormatUint(s.PerBuyerCap, 10)
		}
	}
	return newEvent(EventTypeSaleUpdated, attrs)
}

package rpc

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tokensale/native/bank"
	"tokensale/native/sale"
	"tokensale/storage/receipts"
)

func (s *Server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	params, err := req.params(callerFrom(r))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	start := time.Now()
	created, err := s.engine.CreateSale(params)
	var id [32]byte
	if created != nil {
		id = created.ID
	}
	s.observe("create_sale", start, id, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saleResultFrom(created))
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListSales()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	activeOnly := strings.EqualFold(r.URL.Query().Get("active"), "true")
	seller := strings.TrimSpace(r.URL.Query().Get("seller"))
	out := make([]SaleResult, 0, len(list))
	for _, item := range list {
		if activeOnly && !item.Active {
			continue
		}
		result := saleResultFrom(item)
		if seller != "" && result.Seller != seller {
			continue
		}
		out = append(out, result)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	found, err := s.engine.GetSale(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saleResultFrom(found))
}

func (s *Server) handleUpdateSale(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req UpdateSaleRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	update, err := req.params()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	start := time.Now()
	updated, err := s.engine.UpdateParameters(callerFrom(r), id, update)
	s.observe("update_parameters", start, id, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saleResultFrom(updated))
}

func (s *Server) handleRegisterBuyer(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	start := time.Now()
	rec, err := s.engine.RegisterBuyer(callerFrom(r), id)
	s.observe("register_buyer", start, id, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, buyerResultFrom(rec))
}

func (s *Server) handleGetBuyer(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	buyer, err := parseIdentity("buyer", chi.URLParam(r, "buyer"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rec, ok, err := s.engine.GetBuyerRecord(id, buyer)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "buyer record not found", Kind: sale.KindState.String()})
		return
	}
	writeJSON(w, http.StatusOK, buyerResultFrom(rec))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req AmountRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	st, err := s.engine.Quote(id, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementResultFrom(st))
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req AmountRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	start := time.Now()
	result, err := s.engine.Purchase(callerFrom(r), id, amount)
	s.observe("purchase", start, id, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResult{
		Sale:       saleResultFrom(result.Sale),
		Buyer:      buyerResultFrom(result.Record),
		Settlement: settlementResultFrom(result.Settlement),
	})
}

func (s *Server) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	start := time.Now()
	cancelled, err := s.engine.CancelSale(callerFrom(r), id)
	s.observe("cancel_sale", start, id, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saleResultFrom(cancelled))
}

func (s *Server) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	start := time.Now()
	toggled, err := s.engine.TogglePause(callerFrom(r), id)
	s.observe("toggle_pause", start, id, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saleResultFrom(toggled))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	report, err := s.engine.Reconcile(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResultFrom(report))
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "receipt journal unavailable"})
		return
	}
	id, err := saleIDParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	filter := receipts.Filter{SaleID: sale.FormatSaleID(id), Type: strings.TrimSpace(r.URL.Query().Get("type"))}
	if raw := r.URL.Query().Get("after"); raw != "" {
		if filter.AfterSequence, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeBadRequest(w, errors.New("after must be an unsigned integer"))
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			writeBadRequest(w, errors.New("limit must be a non-negative integer"))
			return
		}
	}
	list, err := s.receipts.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list receipts failed", "saleid", filter.SaleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	out := make([]ReceiptResult, 0, len(list))
	for i := range list {
		item, err := receiptResultFrom(&list[i])
		if err != nil {
			s.logger.Error("decode receipt failed", "sequence", list[i].Sequence, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			return
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.balances == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "ledger unavailable"})
		return
	}
	addr, err := parseIdentity("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := bank.NormalizeAsset(chi.URLParam(r, "asset"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	balance, err := s.balances.Balance(asset, addr)
	if err != nil {
		s.logger.Error("balance lookup failed", "asset", asset, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, BalanceResult{Address: formatIdentity(addr), Asset: asset, Balance: formatAmount(balance)})
}

package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"tokensale/native/sale"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps engine failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sale.ErrRollbackIncomplete):
		return http.StatusInternalServerError
	case errors.Is(err, sale.ErrSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, sale.ErrUnauthorized):
		return http.StatusForbidden
	}
	switch sale.KindOf(err) {
	case sale.KindValidation:
		return http.StatusBadRequest
	case sale.KindState:
		return http.StatusConflict
	case sale.KindCapacity, sale.KindArithmetic:
		return http.StatusUnprocessableEntity
	case sale.KindTransfer:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: sale.KindValidation.String()})
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: sale.KindOf(err).String()}
	if status == http.StatusInternalServerError {
		body = errorBody{Error: "internal error", Kind: sale.KindInternal.String()}
	}
	writeJSON(w, status, body)
}

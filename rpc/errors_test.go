package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"tokensale/native/sale"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", sale.ErrInvalidPrice, http.StatusBadRequest},
		{"not found", fmt.Errorf("load: %w", sale.ErrSaleNotFound), http.StatusNotFound},
		{"unauthorized", sale.ErrUnauthorized, http.StatusForbidden},
		{"state", sale.ErrSalePaused, http.StatusConflict},
		{"capacity", sale.ErrInsufficientSupply, http.StatusUnprocessableEntity},
		{"transfer", sale.ErrTransferFailed, http.StatusPaymentRequired},
		{"storage", sale.ErrStorage, http.StatusInternalServerError},
		{"rollback incomplete", errors.Join(sale.ErrTransferFailed, sale.ErrRollbackIncomplete), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}

func TestWriteEngineErrorHidesIncompleteRollback(t *testing.T) {
	rec := httptest.NewRecorder()
	err := errors.Join(
		fmt.Errorf("%w: token release", sale.ErrTransferFailed),
		fmt.Errorf("%w: revert USDC 100 0202->0101", sale.ErrRollbackIncomplete),
	)
	writeEngineError(rec, err)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "internal error", body.Error)
	require.Equal(t, sale.KindInternal.String(), body.Kind)
}

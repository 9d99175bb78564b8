package sale

import (
	"errors"
	"math"
	"testing"
)

func TestComputeSettlement(t *testing.T) {
	cases := []struct {
		amount, price uint64
		bps           uint32
		want          Settlement
	}{
		{100, 10, 250, Settlement{Amount: 100, Gross: 1_000, Fee: 25, SellerPayment: 975}},
		{1, 1, MaxFeeBps, Settlement{Amount: 1, Gross: 1, Fee: 1, SellerPayment: 0}},
		{3, 1, 3_333, Settlement{Amount: 3, Gross: 3, Fee: 0, SellerPayment: 3}},
		{7, 3, 0, Settlement{Amount: 7, Gross: 21, Fee: 0, SellerPayment: 21}},
		{math.MaxUint64, 1, MaxFeeBps, Settlement{Amount: math.MaxUint64, Gross: math.MaxUint64, Fee: math.MaxUint64, SellerPayment: 0}},
	}
	for _, tc := range cases {
		got, err := computeSettlement(tc.amount, tc.price, tc.bps)
		if err != nil {
			t.Fatalf("settlement(%d, %d, %d): %v", tc.amount, tc.price, tc.bps, err)
		}
		if got != tc.want {
			t.Fatalf("settlement(%d, %d, %d) = %+v, want %+v", tc.amount, tc.price, tc.bps, got, tc.want)
		}
		if got.Fee+got.SellerPayment != got.Gross {
			t.Fatalf("split does not sum to gross: %+v", got)
		}
	}
	if _, err := computeSettlement(math.MaxUint64, 2, 0); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
}

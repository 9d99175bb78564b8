package common

import (
	"errors"
	"math"
	"testing"
)

func TestCheckedArithmetic(t *testing.T) {
	if v, err := CheckedAdd(math.MaxUint64-1, 1); err != nil || v != math.MaxUint64 {
		t.Fatalf("add at boundary: %d %v", v, err)
	}
	if _, err := CheckedAdd(math.MaxUint64, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if v, err := CheckedSub(5, 5); err != nil || v != 0 {
		t.Fatalf("sub to zero: %d %v", v, err)
	}
	if _, err := CheckedSub(4, 5); !errors.Is(err, ErrArithmeticUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if v, err := CheckedMul(1<<32, 1<<31); err != nil || v != 1<<63 {
		t.Fatalf("mul: %d %v", v, err)
	}
	if _, err := CheckedMul(1<<32, 1<<32); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestMulDivFloor(t *testing.T) {
	cases := []struct {
		a, b, d uint64
		want    uint64
	}{
		{1000, 250, 10_000, 25},
		{999, 1, 10_000, 0},
		{19_999, 5, 10_000, 9},
		{math.MaxUint64, 10_000, 10_000, math.MaxUint64},
		{math.MaxUint64, 9_999, 10_000, 18_444_899_399_302_180_659},
	}
	for _, tc := range cases {
		got, err := MulDivFloor(tc.a, tc.b, tc.d)
		if err != nil {
			t.Fatalf("MulDivFloor(%d,%d,%d): %v", tc.a, tc.b, tc.d, err)
		}
		if got != tc.want {
			t.Fatalf("MulDivFloor(%d,%d,%d) = %d, want %d", tc.a, tc.b, tc.d, got, tc.want)
		}
	}
	if _, err := MulDivFloor(1, 1, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if _, err := MulDivFloor(math.MaxUint64, 2, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

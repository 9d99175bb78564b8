package common

import (
	"errors"
	"testing"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, "sale"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	view := NewStaticPauses("Sale")
	if err := Guard(view, "sale"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(view, ""); err != nil {
		t.Fatalf("empty module must not block: %v", err)
	}
	view.Set("sale", false)
	if err := Guard(view, "sale"); err != nil {
		t.Fatalf("unexpected error after resume: %v", err)
	}
}

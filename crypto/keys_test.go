package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "sale1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	raw, err := ParseIdentity(encoded)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if !bytes.Equal(raw[:], addr.Bytes()) {
		t.Fatalf("round trip mismatch")
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if restored.PubKey().Address().String() != encoded {
		t.Fatalf("restored key produced a different address")
	}
}

func TestParseIdentityRejectsForeignPrefix(t *testing.T) {
	var raw [AddressLength]byte
	raw[0] = 0x01
	foreign := NewAddress("other", raw[:]).String()
	if _, err := ParseIdentity(foreign); err == nil {
		t.Fatalf("expected prefix error")
	}
	if _, err := ParseIdentity("not-bech32"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDeriveAddressIsDomainSeparated(t *testing.T) {
	seed := []byte("seed")
	a := DeriveAddress("token_vault", seed)
	b := DeriveAddress("sale_custody", seed)
	if a == b {
		t.Fatalf("derivations in different domains must differ")
	}
	if a != DeriveAddress("token_vault", seed) {
		t.Fatalf("derivation must be deterministic")
	}
}

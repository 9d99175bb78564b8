package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"tokensale/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testIdentity(fill byte) ([20]byte, string) {
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return raw, crypto.FromRaw(raw).String()
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(crypto.FromRaw(identity).String()))
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticatorResolvesTokenSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "saled", Audience: "sale-api"}, nil)
	handler := auth.Attach(echoIdentity())
	_, subject := testIdentity(0x11)

	token, err := IssueToken([]byte(testSecret), TokenRequest{Subject: subject, Issuer: "saled", Audience: "sale-api", TTL: time.Minute})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/sales", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, subject, rec.Body.String())

	anonymous := serve(handler, httptest.NewRequest(http.MethodGet, "/v1/sales", nil))
	require.Equal(t, http.StatusNoContent, anonymous.Code)

	spoofed := httptest.NewRequest(http.MethodGet, "/v1/sales", nil)
	spoofed.Header.Set(IdentityHeader, subject)
	require.Equal(t, http.StatusNoContent, serve(handler, spoofed).Code)
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "saled"}, nil)
	handler := auth.Attach(echoIdentity())
	_, subject := testIdentity(0x12)
	now := time.Now()

	wrongSecret, err := IssueToken([]byte("fedcba9876543210fedcba9876543210"), TokenRequest{Subject: subject, Issuer: "saled"})
	require.NoError(t, err)
	wrongIssuer, err := IssueToken([]byte(testSecret), TokenRequest{Subject: subject, Issuer: "other"})
	require.NoError(t, err)
	expired, err := IssueToken([]byte(testSecret), TokenRequest{Subject: subject, Issuer: "saled", Now: now.Add(-2 * time.Hour), TTL: time.Minute})
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-an-identity",
		Issuer:    "saled",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: subject,
		Issuer:  "saled",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"bad subject":  badSubject,
		"no expiry":    noExpiry,
		"garbage":      "abc.def.ghi",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/sales", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			require.Equal(t, http.StatusUnauthorized, serve(handler, req).Code)
		})
	}
}

func TestAuthenticatorHeaderModeWhenDisabled(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	handler := auth.Attach(RequireIdentity(echoIdentity()))
	_, subject := testIdentity(0x13)

	req := httptest.NewRequest(http.MethodPost, "/v1/sales", nil)
	req.Header.Set(IdentityHeader, subject)
	rec := serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, subject, rec.Body.String())

	bad := httptest.NewRequest(http.MethodPost, "/v1/sales", nil)
	bad.Header.Set(IdentityHeader, "0x1234")
	require.Equal(t, http.StatusUnauthorized, serve(handler, bad).Code)

	missing := serve(handler, httptest.NewRequest(http.MethodPost, "/v1/sales", nil))
	require.Equal(t, http.StatusUnauthorized, missing.Code)
	require.Contains(t, missing.Body.String(), "caller identity required")
}

func TestIssueTokenValidatesInput(t *testing.T) {
	_, err := IssueToken(nil, TokenRequest{Subject: "x"})
	require.Error(t, err)
	_, err = IssueToken([]byte(testSecret), TokenRequest{Subject: "nope"})
	require.Error(t, err)
}

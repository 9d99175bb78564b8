package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"tokensale/crypto"
	"tokensale/observability"
	"tokensale/observability/logging"
)

// IdentityHeader carries the caller identity when token auth is disabled.
const IdentityHeader = "X-Sale-Identity"

type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type contextKey string

const ContextKeyIdentity contextKey = "sale.identity"

// Authenticator resolves the caller identity of each request. With auth
// enabled the identity is the bech32 "sub" claim of an HMAC signed bearer
// token; otherwise the IdentityHeader is trusted as is.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	parser *jwt.Parser
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger,
		parser: jwt.NewParser(opts...),
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Attach resolves the identity when credentials are present. Requests without
// credentials pass through anonymously; invalid credentials are rejected.
func (a *Authenticator) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			identity [20]byte
			err      error
		)
		if a.cfg.Enabled {
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, err = a.identityFromToken(tokenString)
		} else {
			raw := strings.TrimSpace(r.Header.Get(IdentityHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, err = crypto.ParseIdentity(raw)
		}
		if err != nil {
			a.logger.Warn("auth: credential rejected", "error", err, logging.Credential("authorization", r.Header.Get("Authorization")))
			observability.API().RecordThrottle("unauthorized")
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// RequireIdentity rejects requests that reached it without a resolved
// identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			observability.API().RecordThrottle("unauthorized")
			writeError(w, http.StatusUnauthorized, "caller identity required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) identityFromToken(tokenString string) ([20]byte, error) {
	if len(a.secret) == 0 {
		return [20]byte{}, errors.New("auth secret not configured")
	}
	claims := &jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return [20]byte{}, err
	}
	if !token.Valid {
		return [20]byte{}, errors.New("token invalid")
	}
	identity, err := crypto.ParseIdentity(claims.Subject)
	if err != nil {
		return [20]byte{}, fmt.Errorf("subject: %w", err)
	}
	return identity, nil
}

// WithIdentity stores the caller identity on the context.
func WithIdentity(ctx context.Context, identity [20]byte) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// IdentityFromContext returns the identity resolved by the Authenticator.
func IdentityFromContext(ctx context.Context) ([20]byte, bool) {
	identity, ok := ctx.Value(ContextKeyIdentity).([20]byte)
	return identity, ok
}

// TokenRequest describes a bearer token minted by IssueToken.
type TokenRequest struct {
	Subject  string
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      time.Time
}

// IssueToken signs an HS256 token whose subject is the caller identity.
func IssueToken(secret []byte, req TokenRequest) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	if _, err := crypto.ParseIdentity(req.Subject); err != nil {
		return "", fmt.Errorf("subject: %w", err)
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   req.Subject,
		Issuer:    req.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credential material in log lines.
const RedactedValue = "[REDACTED]"

// sensitiveFragments match attribute keys that may carry credentials: JWTs,
// HMAC secrets, keystore passphrases and database DSNs with embedded
// passwords.
var sensitiveFragments = []string{
	"authorization",
	"passphrase",
	"password",
	"secret",
	"token",
	"dsn",
}

// IsSensitive reports whether values logged under key are scrubbed. A key is
// sensitive when it ends in one of the credential fragments, so "authSecret"
// matches and "tokensPurchased" does not.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, fragment := range sensitiveFragments {
		if strings.HasSuffix(normalized, fragment) {
			return true
		}
	}
	return false
}

// Credential returns an attribute for an Authorization style value. The
// scheme survives so operators can tell a malformed bearer header from a
// missing one; the credential itself never reaches the log.
func Credential(key, value string) slog.Attr {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return slog.String(key, "")
	}
	if scheme, _, ok := strings.Cut(trimmed, " "); ok && scheme != "" {
		return slog.String(key, scheme+" "+RedactedValue)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr scrubs string values stored under sensitive keys. Credential
// output is already redacted and passes through.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSensitive(attr.Key) {
		return attr
	}
	value := attr.Value.String()
	if value == "" || strings.HasSuffix(value, RedactedValue) {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}

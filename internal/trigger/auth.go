// Package trigger receives external events (webhooks, manual fires) and
// turns them into prompts dispatched through the bridge.
//
// auth.go - Webhook request authentication

package trigger

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"
)

// Signature headers checked per HMAC algorithm, in order
var hmacHeaders = map[AuthMode][]string{
	AuthHMACSHA256: {"X-Hub-Signature-256", "X-Signature"},
	AuthHMACSHA1:   {"X-Hub-Signature", "X-Signature"},
}

// verifyAuth checks a webhook request against its configured auth mode
func verifyAuth(wh *Webhook, headers http.Header, body []byte) bool {
	if wh.Auth == AuthNone {
		return true
	}
	if wh.Secret == "" {
		return false
	}

	switch wh.Auth {
	case AuthBearer:
		return verifyBearer(wh.Secret, headers)
	case AuthHMACSHA256:
		return verifyHMAC(wh.Secret, body, headers, sha256.New, hmacHeaders[AuthHMACSHA256])
	case AuthHMACSHA1:
		return verifyHMAC(wh.Secret, body, headers, sha1.New, hmacHeaders[AuthHMACSHA1])
	}
	return false
}

// verifyBearer checks the Authorization header. RFC 6750: the scheme
// keyword is case-insensitive.
func verifyBearer(secret string, headers http.Header) bool {
	authHeader := headers.Get("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "bearer ") {
		return false
	}
	token := authHeader[7:]
	return hmac.Equal([]byte(token), []byte(secret))
}

// verifyHMAC compares a hex-encoded body signature against any of the
// accepted signature headers, stripping an algorithm prefix like
// "sha256=" if present.
func verifyHMAC(secret string, body []byte, headers http.Header, algo func() hash.Hash, sigHeaders []string) bool {
	mac := hmac.New(algo, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, header := range sigHeaders {
		sig := headers.Get(header)
		if sig == "" {
			continue
		}
		if idx := strings.Index(sig, "="); idx >= 0 {
			sig = sig[idx+1:]
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// HMACSignatureHeader carries a hex HMAC-SHA256 digest of the raw body,
// prefixed with "sha256=". GitHub and Bitbucket use this mode.
const HMACSignatureHeader = "X-Hub-Signature-256"

// tokenHeaders carry the shared secret verbatim instead of a digest. GitLab
// uses this mode.
var tokenHeaders = []string{"X-Gitlab-Token", "X-Webhook-Token"}

// VerifySignature authenticates an inbound request against the webhook's
// shared secret. The mode is selected by which header is present: an HMAC
// digest header wins over a bare token header. With no signature-bearing
// header at all, verification fails closed.
func VerifySignature(header http.Header, body []byte, secret string) bool {
	if signature := header.Get(HMACSignatureHeader); signature != "" {
		return VerifyHMAC(body, signature, secret)
	}
	for _, name := range tokenHeaders {
		if token := header.Get(name); token != "" {
			return VerifyToken(token, secret)
		}
	}
	return false
}

// HasSignature reports whether any signature-bearing header is present, so
// the handler can distinguish "missing" from "invalid" in its response.
func HasSignature(header http.Header) bool {
	if header.Get(HMACSignatureHeader) != "" {
		return true
	}
	for _, name := range tokenHeaders {
		if header.Get(name) != "" {
			return true
		}
	}
	return false
}

// VerifyHMAC reports whether signature matches the sha256 HMAC of body keyed
// by secret. The comparison is constant time.
func VerifyHMAC(body []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// VerifyToken compares a bare token against the secret in constant time.
func VerifyToken(token, secret string) bool {
	if secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verifier authenticates marketplace push notifications with an HMAC-SHA256
// signature over the raw request body.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier keyed by secret. An empty secret rejects everything.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the hex signature the marketplace would send for body.
func (v *Verifier) Sign(body []byte) string {
	return hex.EncodeToString(v.mac(body))
}

// Verify reports whether signature matches body. Comparison is constant-time.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if len(v.secret) == 0 {
		return false
	}

	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}

	given, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil || len(given) != sha256.Size {
		return false
	}
	return hmac.Equal(given, v.mac(body))
}

func (v *Verifier) mac(body []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	return h.Sum(nil)
}

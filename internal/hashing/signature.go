package hashing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrEmptySecret = errors.New("signature secret is empty")

// SignatureVerifier authenticates provider callbacks. The provider signs
// sha256_hex(body + sha256_hex(secret)).
type SignatureVerifier struct {
	secretDigest string
}

func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &SignatureVerifier{secretDigest: SHA256Hex([]byte(secret))}, nil
}

// Sign returns the lowercase hex signature the provider would send for body.
func (v *SignatureVerifier) Sign(body []byte) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte(v.secretDigest))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify compares case-insensitively in constant time.
func (v *SignatureVerifier) Verify(body []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	expected := v.Sign(body)
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

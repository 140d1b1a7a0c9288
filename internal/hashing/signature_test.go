package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shufti-secret"

func referenceSignature(body, secret string) string {
	secretSum := sha256.Sum256([]byte(secret))
	sum := sha256.Sum256([]byte(body + hex.EncodeToString(secretSum[:])))
	return hex.EncodeToString(sum[:])
}

func TestNewSignatureVerifierRequiresSecret(t *testing.T) {
	_, err := NewSignatureVerifier("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestSignatureVerifier(t *testing.T) {
	v, err := NewSignatureVerifier(testSecret)
	require.NoError(t, err)

	body := []byte(`{"reference":"KYC_u1_20240101120000_ab12cd34","event":"verification.accepted"}`)
	sig := referenceSignature(string(body), testSecret)

	assert.Equal(t, sig, v.Sign(body))
	assert.True(t, v.Verify(body, sig))
	assert.True(t, v.Verify(body, strings.ToUpper(sig)), "comparison is case-insensitive")
	assert.True(t, v.Verify(body, " "+sig+"\n"))

	assert.False(t, v.Verify(body, ""))
	assert.False(t, v.Verify(body, sig[:10]))
	assert.False(t, v.Verify(body, referenceSignature(string(body), "other-secret")))
}

func TestSignatureVerifierRejectsSingleByteMutation(t *testing.T) {
	v, err := NewSignatureVerifier(testSecret)
	require.NoError(t, err)

	body := []byte(`{"reference":"KYC_u1","event":"verification.declined","declined_reason":"photocopy"}`)
	sig := v.Sign(body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, v.Verify(mutated, sig), "mutation at byte %d accepted", i)
	}
}

func TestSHA256Hex(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA256Hex(nil))
}

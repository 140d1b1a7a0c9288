package tls

import (
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevCertGeneratorReusesCertificate(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(filepath.Join(dir, "certs"))

	first, err := gen.GenerateCert([]string{"kyc.local", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "kyc.local")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	second, err := gen.GenerateCert([]string{"kyc.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestManagerFallsBackToSelfSignedInDevelopment(t *testing.T) {
	m := NewTLSManager(&TLSConfig{
		EnableTLS:   true,
		Domain:      "localhost",
		AutoCertDir: t.TempDir(),
		Environment: "development",
	})

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, cert)

	again, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	assert.Same(t, cert, again)
}

func TestManagerRefusesSelfSignedInProduction(t *testing.T) {
	m := NewTLSManager(&TLSConfig{
		EnableTLS:   true,
		Domain:      "kyc.example.com",
		AutoCertDir: t.TempDir(),
		Environment: "production",
	})

	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "kyc.example.com"})
	assert.ErrorIs(t, err, ErrNoCertificate)
}

func TestTLSConfigDefaults(t *testing.T) {
	cfg := NewTLSManager(&TLSConfig{Environment: "development"}).GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotNil(t, cfg.GetCertificate)
	assert.Contains(t, cfg.NextProtos, "h2")
}

package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/acme/autocert"

	"kyc-service/internal/util"
)

// ErrNoCertificate is returned in production when neither ACME nor the
// configured key pair can serve a handshake.
var ErrNoCertificate = errors.New("no certificate available")

type TLSManager struct {
	config   *TLSConfig
	autoCert *autocert.Manager

	fileOnce sync.Once
	fileCert *tls.Certificate
	fileErr  error

	devOnce sync.Once
	devCert *tls.Certificate
	devErr  error
}

type TLSConfig struct {
	EnableTLS   bool
	AutoCert    bool
	Domain      string
	CertFile    string
	KeyFile     string
	AutoCertDir string
	Email       string
	Environment string
}

func NewTLSManager(config *TLSConfig) *TLSManager {
	manager := &TLSManager{
		config: config,
	}

	if config.AutoCert && config.EnableTLS {
		manager.setupAutoCert()
	}

	return manager
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.config.AutoCertDir, 0700); err != nil {
		util.Warn("Could not create autocert directory", util.ErrorField(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.config.Domain),
		Cache:      autocert.DirCache(m.config.AutoCertDir),
		Email:      m.config.Email,
	}

	util.Info("AutoCert configured",
		util.String("domain", m.config.Domain),
		util.String("cache_dir", m.config.AutoCertDir))
}

// GetCertificate tries ACME, then the configured key pair, then (outside
// production) a self-signed certificate generated once per process.
func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert certificate unavailable",
			util.String("server_name", hello.ServerName),
			util.ErrorField(err))
	}

	if m.config.CertFile != "" && m.config.KeyFile != "" {
		m.fileOnce.Do(func() {
			cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
			if err != nil {
				m.fileErr = fmt.Errorf("failed to load key pair: %w", err)
				return
			}
			m.fileCert = &cert
		})
		if m.fileErr == nil {
			return m.fileCert, nil
		}
		util.Warn("Configured certificate unavailable", util.ErrorField(m.fileErr))
	}

	if m.config.Environment == "production" {
		return nil, ErrNoCertificate
	}
	return m.selfSignedCert()
}

func (m *TLSManager) selfSignedCert() (*tls.Certificate, error) {
	m.devOnce.Do(func() {
		hosts := []string{m.config.Domain, "localhost", "127.0.0.1", "::1"}
		cert, err := NewDevCertGenerator(m.config.AutoCertDir).GenerateCert(hosts)
		if err != nil {
			m.devErr = fmt.Errorf("failed to generate self-signed certificate: %w", err)
			return
		}
		m.devCert = &cert
	})
	return m.devCert, m.devErr
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}

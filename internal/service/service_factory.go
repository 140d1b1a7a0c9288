package service

import (
	"sync"
	"time"

	"kyc-service/internal/config"
)

// ServiceFactory builds the service layer once its dependencies are wired.
type ServiceFactory struct {
	deps Dependencies
	opts Options

	once       sync.Once
	kycService *KYCService
	err        error
}

// NewServiceFactory derives workflow options from cfg.
func NewServiceFactory(cfg *config.Config, deps Dependencies) *ServiceFactory {
	return &ServiceFactory{
		deps: deps,
		opts: OptionsFromConfig(cfg),
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxAttempts:     cfg.KYC.MaxAttempts,
		ProviderTimeout: cfg.KYC.WebhookTimeout,
		LockTTL:         cfg.KYC.WebhookTimeout + 5*time.Second,
		LockWait:        cfg.KYC.WebhookTimeout,
		DedupeTTL:       cfg.KYC.VerificationTTL * 3,
		WebhookTimeout:  cfg.KYC.WebhookTimeout,
	}
}

// KYCService returns the singleton workflow service.
func (f *ServiceFactory) KYCService() (*KYCService, error) {
	f.once.Do(func() {
		f.kycService, f.err = NewKYCService(f.deps, f.opts)
	})
	return f.kycService, f.err
}

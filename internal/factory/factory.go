package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"kyc-service/internal/bucketing"
	"kyc-service/internal/client"
	"kyc-service/internal/config"
	"kyc-service/internal/encryption"
	"kyc-service/internal/events"
	"kyc-service/internal/hashing"
	"kyc-service/internal/provider"
	"kyc-service/internal/repository"
	"kyc-service/internal/repository/memory"
	redisrepo "kyc-service/internal/repository/redis"
	"kyc-service/internal/repository/scylla"
	"kyc-service/internal/service"
	"kyc-service/internal/tls"
	"kyc-service/internal/util"
)

const (
	sinkTimeout     = 5 * time.Second
	startRateLimit  = 10
	startRateWindow = time.Minute
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	// Repositories
	store       repository.VerificationStore
	users       repository.UserDirectory
	locker      repository.Locker
	deduper     repository.Deduper
	rateLimiter *redisrepo.RateLimitCache

	// Events
	searchIndexer *events.SearchIndexer
	dispatcher    *events.Dispatcher

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory connects every configured backend. In production any backend
// failure is fatal; in development the workflow falls back to in-memory
// stores and skips unavailable event sinks.
func NewFactory(cfg *config.Config) (*Factory, error) {
	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := factory.initializeRepositories(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	factory.initializeEvents()

	verifier, err := hashing.NewSignatureVerifier(cfg.KYC.SecretKey)
	if err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize signature verifier: %w", err)
	}

	factory.serviceFactory = service.NewServiceFactory(cfg, service.Dependencies{
		Store:     factory.store,
		Users:     factory.users,
		Locker:    factory.locker,
		Deduper:   factory.deduper,
		Provider:  provider.NewShuftiClient(cfg, nil),
		Verifier:  verifier,
		Publisher: factory.dispatcher,
	})

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("scylla", factory.scyllaClient != nil),
		util.Bool("redis", factory.redisClient != nil),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if c, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else if err := c.HealthCheck(ctx); err != nil {
		c.Close()
		initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
	} else {
		f.redisClient = c
		util.Info("Redis client initialized and healthy")
	}

	// ScyllaDB
	if c, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else if err := c.HealthCheck(ctx); err != nil {
		c.Close()
		initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
	} else {
		f.scyllaClient = c
		util.Info("ScyllaDB client initialized and healthy")
	}

	// Kafka is optional; status events are best effort
	if producer, err := client.NewKafkaProducer(f.config); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	if f.config.Kafka.EnableProfileSync {
		if consumer, err := client.NewKafkaConsumer(f.config, f.config.Kafka.ProfileTopic, f.config.Kafka.ConsumerGroup); err != nil {
			util.Warn("Kafka consumer initialization failed - profile sync disabled", util.ErrorField(err))
		} else {
			f.kafkaConsumer = consumer
		}
	}

	// Elasticsearch
	if c, err := client.NewElasticsearchClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else if err := c.HealthCheck(ctx); err != nil {
		c.Close()
		initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
	} else {
		f.esClient = c
		util.Info("Elasticsearch client initialized and healthy")
	}

	// ClickHouse
	if c, err := client.NewClickHouseClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else if err := c.HealthCheck(ctx); err != nil {
		c.Close()
		initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
	} else {
		f.clickhouseClient = c
		util.Info("ClickHouse client initialized and healthy")
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes encryption and bucketing managers
func (f *Factory) initializeManagers() error {
	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	} else if f.config.IsProduction() {
		util.Warn("KMS disabled in production - provider payloads are sealed with local data keys")
	}

	f.encryptionManager = encryption.NewEncryptionManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	util.Info("Managers initialized successfully",
		util.Bool("kms_client", kmsClient != nil),
		util.Int("user_buckets", f.bucketingManager.GetUserBuckets()),
	)
	return nil
}

func (f *Factory) initializeRepositories() error {
	if f.scyllaClient != nil {
		if f.config.IsDevelopment() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := f.scyllaClient.EnsureSchema(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("scylla schema: %w", err)
			}
		}
		f.store = scylla.NewVerificationRepository(f.scyllaClient, f.bucketingManager, f.encryptionManager)
		f.users = scylla.NewUserProfileRepository(f.scyllaClient, f.bucketingManager)
	} else {
		util.Warn("Using in-memory verification store - records are lost on restart")
		f.store = memory.NewVerificationStore()
		f.users = memory.NewUserDirectory()
	}

	if f.redisClient != nil {
		f.locker = redisrepo.NewLockCache(f.redisClient)
		f.deduper = redisrepo.NewWebhookCache(f.redisClient)
		f.rateLimiter = redisrepo.NewRateLimitCache(f.redisClient, startRateLimit, startRateWindow)
	} else {
		util.Warn("Using in-process locks - only safe with a single instance")
		f.locker = memory.NewLocker()
		f.deduper = memory.NewDeduper()
	}

	return nil
}

func (f *Factory) initializeEvents() {
	var sinks []events.Sink

	if f.kafkaProducer != nil {
		sinks = append(sinks, events.NewKafkaPublisher(f.kafkaProducer, f.config.Kafka.StatusTopic))
	}

	if f.clickhouseClient != nil {
		audit := events.NewAuditSink(f.clickhouseClient)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := audit.EnsureTables(ctx); err != nil {
			util.Warn("ClickHouse audit tables unavailable - audit sink disabled", util.ErrorField(err))
		} else {
			sinks = append(sinks, audit)
		}
		cancel()
	}

	if f.esClient != nil {
		f.searchIndexer = events.NewSearchIndexer(f.esClient, f.config.Elasticsearch.Index)
		sinks = append(sinks, f.searchIndexer)
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	util.Info("Event sinks configured", util.Strings("sinks", names))

	f.dispatcher = events.NewDispatcher(sinkTimeout, sinks...)
}

// ==============================
// Services
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) KYCService() (*service.KYCService, error) {
	return f.serviceFactory.KYCService()
}

// ProfileConsumer returns nil when profile sync is disabled.
func (f *Factory) ProfileConsumer() (*events.ProfileConsumer, error) {
	if f.kafkaConsumer == nil {
		return nil, nil
	}
	svc, err := f.KYCService()
	if err != nil {
		return nil, err
	}
	return events.NewProfileConsumer(f.kafkaConsumer, svc, service.ErrInvalidInput), nil
}

// ==============================
// Health Checks
// ==============================

// HealthCheck reports only failing dependencies.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else if f.config.IsProduction() {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.store != nil {
		if err := f.store.HealthCheck(ctx); err != nil {
			healthErrors["verification_store"] = err
		}
	} else {
		healthErrors["verification_store"] = fmt.Errorf("verification store not initialized")
	}

	if f.users != nil {
		if err := f.users.HealthCheck(ctx); err != nil {
			healthErrors["user_directory"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}

	return healthErrors
}

// ==============================
// Other Utility Methods
// ==============================

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

// SearchIndexer is nil when Elasticsearch is unavailable.
func (f *Factory) SearchIndexer() *events.SearchIndexer {
	return f.searchIndexer
}

// RateLimiter is nil when Redis is unavailable.
func (f *Factory) RateLimiter() *redisrepo.RateLimitCache {
	return f.rateLimiter
}

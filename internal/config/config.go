package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfiguration is returned when required settings are missing or out of range.
var ErrConfiguration = errors.New("configuration error")

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	MinVerificationTTL = time.Hour
	MaxVerificationTTL = 12 * time.Hour
)

type Config struct {
	Environment string
	DebugMode   bool

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	KYC           KYCConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	RequireTLS   bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	UseTLS   bool
}

type KafkaConfig struct {
	Brokers           []string
	StatusTopic       string
	ProfileTopic      string
	ConsumerGroup     string
	EnableProfileSync bool
	UseTLS            bool
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	UserBuckets int
}

// KYCConfig holds the verification provider contract and workflow limits.
type KYCConfig struct {
	ClientID           string
	SecretKey          string
	BaseURL            string
	CallbackURL        string
	VerificationTTL    time.Duration
	WebhookTimeout     time.Duration
	MaxAttempts        int
	Language           string
	SupportedCountries []string
	DocumentTypes      []string
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: strings.ToLower(getEnv("ENVIRONMENT", EnvDevelopment)),
		DebugMode:   getEnvBool("DEBUG_MODE", false),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			RequireTLS:   getEnvBool("SERVER_REQUIRE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 45*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"https://*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "kyc"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
			UseTLS:   getEnvBool("SCYLLA_TLS", false),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			StatusTopic:       getEnv("KAFKA_KYC_STATUS_TOPIC", "kyc.status.changed"),
			ProfileTopic:      getEnv("KAFKA_PROFILE_TOPIC", "user.profile.updated"),
			ConsumerGroup:     getEnv("KAFKA_CONSUMER_GROUP", "kyc-service"),
			EnableProfileSync: getEnvBool("KAFKA_PROFILE_SYNC", true),
			UseTLS:            getEnvBool("KAFKA_TLS", false),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_KYC_INDEX", "kyc-verifications"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "kyc_audit"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "us-east-1"),
		},
		Bucketing: BucketingConfig{
			UserBuckets: getEnvInt("USER_BUCKETS", 64),
		},
		KYC: KYCConfig{
			ClientID:           getEnv("SHUFTI_CLIENT_ID", ""),
			SecretKey:          getEnv("SHUFTI_SECRET_KEY", ""),
			BaseURL:            strings.TrimRight(getEnv("SHUFTI_BASE_URL", "https://api.shuftipro.com"), "/"),
			CallbackURL:        getEnv("CALLBACK_URL", ""),
			VerificationTTL:    time.Duration(getEnvInt("VERIFICATION_TTL", 3600)) * time.Second,
			WebhookTimeout:     time.Duration(getEnvInt("WEBHOOK_TIMEOUT", 30)) * time.Second,
			MaxAttempts:        getEnvInt("MAX_VERIFICATION_ATTEMPTS", 3),
			Language:           getEnv("SHUFTI_LANGUAGE", "EN"),
			SupportedCountries: getEnvList("KYC_SUPPORTED_COUNTRIES", defaultCountries),
			DocumentTypes:      getEnvList("KYC_DOCUMENT_TYPES", []string{"passport", "id_card", "driving_license"}),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

// Validate collects every problem instead of stopping at the first one.
func (c *Config) Validate() error {
	var errs []string

	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		errs = append(errs, fmt.Sprintf("ENVIRONMENT must be %q or %q", EnvDevelopment, EnvProduction))
	}
	if c.KYC.ClientID == "" {
		errs = append(errs, "SHUFTI_CLIENT_ID is required")
	}
	if c.KYC.SecretKey == "" {
		errs = append(errs, "SHUFTI_SECRET_KEY is required")
	}
	if c.KYC.CallbackURL == "" {
		errs = append(errs, "CALLBACK_URL is required")
	}
	if c.KYC.BaseURL == "" {
		errs = append(errs, "SHUFTI_BASE_URL is required")
	}
	if c.KYC.VerificationTTL < MinVerificationTTL || c.KYC.VerificationTTL > MaxVerificationTTL {
		errs = append(errs, "VERIFICATION_TTL must be between 3600 and 43200 seconds")
	}
	if c.KYC.WebhookTimeout <= 0 {
		errs = append(errs, "WEBHOOK_TIMEOUT must be positive")
	}
	if c.KYC.MaxAttempts < 1 || c.KYC.MaxAttempts > 10 {
		errs = append(errs, "MAX_VERIFICATION_ATTEMPTS must be between 1 and 10")
	}
	if c.Bucketing.UserBuckets < 1 {
		errs = append(errs, "USER_BUCKETS must be positive")
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, "KMS_KEY_ID is required when KMS_ENABLED=true")
	}
	if c.Server.EnableTLS && c.Server.AutoCert && c.Server.Domain == "" {
		errs = append(errs, "SERVER_DOMAIN is required for autocert")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "; "))
	}
	return nil
}

// Get returns the last successfully loaded configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return &Config{Environment: EnvDevelopment}
	}
	return current
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// LogLevel is the configured level, forced to debug when DEBUG_MODE is set.
func (c *Config) LogLevel() string {
	if c.DebugMode {
		return "debug"
	}
	return c.Logging.Level
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

var defaultCountries = []string{
	"US", "GB", "CA", "AU", "DE", "FR", "IT", "ES", "NL", "BE",
	"CH", "AT", "SE", "NO", "DK", "FI", "IE", "PT", "PL", "CZ",
	"IN", "SG", "AE", "JP", "KR", "NZ", "ZA", "BR", "MX",
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/util"
)

const verificationColumns = `reference, verification_id, user_id, parent_reference, superseded_by,
        status, verification_url, decline_reasons, decline_codes, last_event, attempt_count,
        provider_raw_response, submitted_at, reviewed_at, created_at, updated_at`

const profileColumns = `user_bucket, user_id, first_name, last_name, email, country,
        is_verified, is_blocked, verified_at, updated_at`

// schema is applied with EnsureSchema. Verifications are keyed by reference;
// the by-user table orders a user's lineage newest first and the active
// table is the single-slot claim guarded with lightweight transactions.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS kyc_verifications (
        reference text PRIMARY KEY,
        verification_id text,
        user_id text,
        parent_reference text,
        superseded_by text,
        status text,
        verification_url text,
        decline_reasons list<text>,
        decline_codes list<text>,
        last_event text,
        attempt_count int,
        provider_raw_response text,
        submitted_at timestamp,
        reviewed_at timestamp,
        created_at timestamp,
        updated_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS kyc_verifications_by_user (
        user_bucket int,
        user_id text,
        created_at timestamp,
        reference text,
        PRIMARY KEY ((user_bucket, user_id), created_at, reference)
    ) WITH CLUSTERING ORDER BY (created_at DESC, reference DESC)`,
	`CREATE TABLE IF NOT EXISTS kyc_active_by_user (
        user_id text PRIMARY KEY,
        reference text,
        updated_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS kyc_user_profiles (
        user_bucket int,
        user_id text,
        first_name text,
        last_name text,
        email text,
        country text,
        is_verified boolean,
        is_blocked boolean,
        verified_at timestamp,
        updated_at timestamp,
        PRIMARY KEY ((user_bucket, user_id))
    )`,
}

// PreparedStatements holds the statement text used by the repositories.
// gocql prepares and caches each statement on first execution.
type PreparedStatements struct {
	InsertVerification    string
	UpdateVerificationCAS string
	GetVerification       string
	InsertByUser          string
	ListByUser            string
	LatestByUser          string
	ClaimActive           string
	SwapActive            string
	ReleaseActive         string
	UpsertProfile         string
	GetProfile            string
	SetVerified           string
	SetBlocked            string
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.UseTLS {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_FILE", "/etc/kyc/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_FILE", "/etc/kyc/certs/client.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_FILE", "/etc/kyc/certs/client.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}
	client.prepareStatements()

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

// EnsureSchema creates the KYC tables when missing.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB KYC schema ensured", zap.Int("tables", len(schema)))
	return nil
}

func (s *ScyllaClient) prepareStatements() {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return
	}

	s.Prepared = &PreparedStatements{
		InsertVerification: `INSERT INTO kyc_verifications (` + verificationColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,

		UpdateVerificationCAS: `UPDATE kyc_verifications SET
        superseded_by = ?, status = ?, verification_url = ?, decline_reasons = ?,
        decline_codes = ?, last_event = ?, provider_raw_response = ?,
        submitted_at = ?, reviewed_at = ?, updated_at = ?
        WHERE reference = ? IF status = ?`,

		GetVerification: `SELECT ` + verificationColumns + `
        FROM kyc_verifications WHERE reference = ?`,

		InsertByUser: `INSERT INTO kyc_verifications_by_user (user_bucket, user_id, created_at, reference)
        VALUES (?, ?, ?, ?)`,

		ListByUser: `SELECT reference FROM kyc_verifications_by_user
        WHERE user_bucket = ? AND user_id = ?`,

		LatestByUser: `SELECT reference FROM kyc_verifications_by_user
        WHERE user_bucket = ? AND user_id = ? LIMIT 1`,

		ClaimActive: `INSERT INTO kyc_active_by_user (user_id, reference, updated_at)
        VALUES (?, ?, ?) IF NOT EXISTS`,

		SwapActive: `UPDATE kyc_active_by_user SET reference = ?, updated_at = ?
        WHERE user_id = ? IF reference = ?`,

		ReleaseActive: `DELETE FROM kyc_active_by_user WHERE user_id = ? IF reference = ?`,

		UpsertProfile: `UPDATE kyc_user_profiles SET first_name = ?, last_name = ?, email = ?,
        country = ?, updated_at = ? WHERE user_bucket = ? AND user_id = ?`,

		GetProfile: `SELECT ` + profileColumns + `
        FROM kyc_user_profiles WHERE user_bucket = ? AND user_id = ?`,

		SetVerified: `UPDATE kyc_user_profiles SET is_verified = ?, verified_at = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

		SetBlocked: `UPDATE kyc_user_profiles SET is_blocked = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,
	}
	s.isPrepared = true
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry retries plain (non-LWT) writes with linear backoff.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

// ScanWithRetry retries reads; gocql.ErrNotFound is returned immediately.
func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		err := query.Scan(dest...)
		if err == nil || err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < 2 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}

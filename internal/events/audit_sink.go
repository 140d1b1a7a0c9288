package events

import (
	"context"
	"fmt"

	"kyc-service/internal/models"
)

// BatchWriter is satisfied by client.ClickHouseClient.
type BatchWriter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

var auditTables = []string{
	`CREATE TABLE IF NOT EXISTS kyc_status_changes (
        event_id String,
        verification_id String,
        user_id String,
        reference String,
        from_status LowCardinality(String),
        to_status LowCardinality(String),
        trigger LowCardinality(String),
        attempt_count Int32,
        decline_codes Array(String),
        occurred_at DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    PARTITION BY toYYYYMM(occurred_at)
    ORDER BY (user_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS kyc_webhook_receipts (
        received_at DateTime64(3, 'UTC'),
        reference String,
        event LowCardinality(String),
        outcome LowCardinality(String),
        signature_valid Bool,
        payload_sha256 FixedString(64),
        detail String
    ) ENGINE = MergeTree
    PARTITION BY toYYYYMM(received_at)
    ORDER BY (received_at, reference)`,
}

const (
	insertStatusChange   = `INSERT INTO kyc_status_changes`
	insertWebhookReceipt = `INSERT INTO kyc_webhook_receipts`
)

// AuditSink appends every transition and webhook delivery to ClickHouse.
type AuditSink struct {
	writer BatchWriter
}

func NewAuditSink(writer BatchWriter) *AuditSink {
	return &AuditSink{writer: writer}
}

func (a *AuditSink) Name() string { return "clickhouse" }

// EnsureTables creates the audit tables when missing.
func (a *AuditSink) EnsureTables(ctx context.Context) error {
	for _, ddl := range auditTables {
		if err := a.writer.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create audit table: %w", err)
		}
	}
	return nil
}

func (a *AuditSink) StatusChanged(ctx context.Context, change *models.StatusChange, _ *models.VerificationRecord) error {
	codes := change.DeclineCodes
	if codes == nil {
		codes = []string{}
	}
	row := []interface{}{
		change.EventID,
		change.VerificationID,
		change.UserID,
		change.Reference,
		change.From.String(),
		change.To.String(),
		change.Trigger,
		int32(change.AttemptCount),
		codes,
		change.OccurredAt.UTC(),
	}
	return a.writer.BatchInsert(ctx, insertStatusChange, [][]interface{}{row})
}

func (a *AuditSink) WebhookReceived(ctx context.Context, receipt *models.WebhookReceipt) error {
	row := []interface{}{
		receipt.ReceivedAt.UTC(),
		receipt.Reference,
		receipt.Event,
		receipt.Outcome,
		receipt.SignatureValid,
		receipt.PayloadSHA256,
		receipt.Detail,
	}
	return a.writer.BatchInsert(ctx, insertWebhookReceipt, [][]interface{}{row})
}

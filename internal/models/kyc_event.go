package models

import "time"

// StatusChange is emitted after every committed transition.
type StatusChange struct {
	EventID        string    `json:"event_id" ch:"event_id"`
	VerificationID string    `json:"verification_id" ch:"verification_id"`
	UserID         string    `json:"user_id" ch:"user_id"`
	Reference      string    `json:"reference" ch:"reference"`
	From           KYCStatus `json:"from" ch:"from_status"`
	To             KYCStatus `json:"to" ch:"to_status"`
	Trigger        string    `json:"trigger" ch:"trigger"`
	AttemptCount   int       `json:"attempt_count" ch:"attempt_count"`
	DeclineCodes   []string  `json:"decline_codes,omitempty" ch:"decline_codes"`
	OccurredAt     time.Time `json:"occurred_at" ch:"occurred_at"`
}

// Outcomes recorded for each webhook delivery.
const (
	WebhookProcessed        = "processed"
	WebhookNoop             = "noop"
	WebhookDuplicate        = "duplicate"
	WebhookInvalidSignature = "invalid_signature"
	WebhookUnknownReference = "unknown_reference"
	WebhookRejected         = "rejected"
	WebhookFailed           = "failed"
)

// WebhookReceipt is the audit row for one provider callback delivery.
type WebhookReceipt struct {
	ReceivedAt     time.Time `ch:"received_at"`
	Reference      string    `ch:"reference"`
	Event          string    `ch:"event"`
	Outcome        string    `ch:"outcome"`
	SignatureValid bool      `ch:"signature_valid"`
	PayloadSHA256  string    `ch:"payload_sha256"`
	Detail         string    `ch:"detail"`
}

package events

import (
	"context"

	"kyc-service/internal/models"
)

// Sink is one downstream consumer of workflow events. Sinks that have no
// use for an event kind return nil.
type Sink interface {
	Name() string
	StatusChanged(ctx context.Context, change *models.StatusChange, rec *models.VerificationRecord) error
	WebhookReceived(ctx context.Context, receipt *models.WebhookReceipt) error
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kyc-service/internal/models"
)

// MessageProducer is satisfied by client.KafkaProducer.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// StatusChangedData is the payload of a status_changed event.
type StatusChangedData struct {
	*models.StatusChange
	ParentReference string `json:"parent_reference,omitempty"`
	SupersededBy    string `json:"superseded_by,omitempty"`
}

// KafkaPublisher publishes status changes keyed by user id, so one user's
// transitions stay ordered within a partition.
type KafkaPublisher struct {
	producer MessageProducer
	topic    string
}

func NewKafkaPublisher(producer MessageProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) StatusChanged(ctx context.Context, change *models.StatusChange, rec *models.VerificationRecord) error {
	data := StatusChangedData{StatusChange: change}
	if rec != nil {
		data.ParentReference = rec.ParentReference
		data.SupersededBy = rec.SupersededBy
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal status change: %w", err)
	}

	id := change.EventID
	if id == "" {
		id = uuid.NewString()
	}
	occurred := change.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	event := CloudEvent{
		SpecVersion:     CloudEventSpecVersion,
		Type:            EventTypeStatusChanged,
		Source:          CloudEventSource,
		Subject:         change.UserID,
		ID:              id,
		Time:            occurred,
		DataContentType: CloudEventDataContentType,
		Data:            payload,
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal cloud event: %w", err)
	}

	headers := map[string]string{
		"ce_type": event.Type,
		"ce_id":   event.ID,
	}
	return p.producer.ProduceMessage(ctx, p.topic, []byte(change.UserID), value, headers)
}

func (p *KafkaPublisher) WebhookReceived(ctx context.Context, receipt *models.WebhookReceipt) error {
	return nil
}

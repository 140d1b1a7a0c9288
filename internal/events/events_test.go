package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kyc-service/internal/models"
)

func sampleChange() *models.StatusChange {
	return &models.StatusChange{
		EventID:        "evt-1",
		VerificationID: "ver-1",
		UserID:         "user_1",
		Reference:      "KYC_user_1_20240101000000_abcd1234",
		From:           models.StatusPending,
		To:             models.StatusRetryPending,
		Trigger:        "verification.declined",
		AttemptCount:   1,
		DeclineCodes:   []string{"SPDR07"},
		OccurredAt:     time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC),
	}
}

func sampleRecord() *models.VerificationRecord {
	c := sampleChange()
	return &models.VerificationRecord{
		ID:              c.VerificationID,
		UserID:          c.UserID,
		Reference:       c.Reference,
		Status:          c.To,
		AttemptCount:    1,
		DeclineCodes:    c.DeclineCodes,
		VerificationURL: "https://example.com/secret",
		CreatedAt:       c.OccurredAt.Add(-5 * time.Minute),
		UpdatedAt:       c.OccurredAt,
	}
}

func TestKafkaPublisherEnvelope(t *testing.T) {
	producer := &mockProducer{}
	var captured []byte
	producer.On("ProduceMessage", mock.Anything, "kyc.status.changed", []byte("user_1"), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(3).([]byte) }).
		Return(nil).Once()

	p := NewKafkaPublisher(producer, "kyc.status.changed")
	require.NoError(t, p.StatusChanged(context.Background(), sampleChange(), sampleRecord()))
	producer.AssertExpectations(t)

	var event CloudEvent
	require.NoError(t, json.Unmarshal(captured, &event))
	assert.Equal(t, CloudEventSpecVersion, event.SpecVersion)
	assert.Equal(t, EventTypeStatusChanged, event.Type)
	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, "user_1", event.Subject)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "retry_pending", data["to"])
	assert.Equal(t, "pending", data["from"])
	assert.NotContains(t, string(event.Data), "secret")
}

func TestKafkaPublisherIgnoresWebhookReceipts(t *testing.T) {
	producer := &mockProducer{}
	p := NewKafkaPublisher(producer, "topic")
	assert.NoError(t, p.WebhookReceived(context.Background(), &models.WebhookReceipt{}))
	producer.AssertNotCalled(t, "ProduceMessage")
}

func TestAuditSinkRows(t *testing.T) {
	writer := &mockWriter{}
	writer.On("BatchInsert", mock.Anything, insertStatusChange, mock.MatchedBy(func(rows [][]interface{}) bool {
		return len(rows) == 1 && rows[0][3] == "KYC_user_1_20240101000000_abcd1234" &&
			rows[0][5] == "retry_pending" && rows[0][7] == int32(1)
	})).Return(nil).Once()
	writer.On("BatchInsert", mock.Anything, insertWebhookReceipt, mock.MatchedBy(func(rows [][]interface{}) bool {
		return len(rows) == 1 && rows[0][3] == models.WebhookInvalidSignature && rows[0][4] == false
	})).Return(nil).Once()

	sink := NewAuditSink(writer)
	require.NoError(t, sink.StatusChanged(context.Background(), sampleChange(), nil))
	require.NoError(t, sink.WebhookReceived(context.Background(), &models.WebhookReceipt{
		ReceivedAt: time.Now(),
		Reference:  "ref",
		Event:      "verification.accepted",
		Outcome:    models.WebhookInvalidSignature,
	}))
	writer.AssertExpectations(t)
}

func TestAuditSinkEnsureTables(t *testing.T) {
	writer := &mockWriter{}
	writer.On("Exec", mock.Anything, mock.Anything).Return(nil).Times(len(auditTables))

	require.NoError(t, NewAuditSink(writer).EnsureTables(context.Background()))
	writer.AssertExpectations(t)
}

func TestSearchIndexerIndexesProjection(t *testing.T) {
	store := &mockDocumentStore{}
	store.On("IndexDocument", mock.Anything, "kyc-verifications", "KYC_user_1_20240101000000_abcd1234",
		mock.MatchedBy(func(doc interface{}) bool {
			d, ok := doc.(VerificationDocument)
			return ok && d.Status == "retry_pending" && d.UserID == "user_1"
		})).Return(nil).Once()

	idx := NewSearchIndexer(store, "kyc-verifications")
	require.NoError(t, idx.StatusChanged(context.Background(), sampleChange(), sampleRecord()))
	store.AssertExpectations(t)
}

func TestSearchIndexerSearch(t *testing.T) {
	store := &mockDocumentStore{}
	store.On("Search", mock.Anything, "kyc-verifications", mock.MatchedBy(func(q map[string]interface{}) bool {
		b, err := json.Marshal(q)
		return err == nil && q["size"] == maxSearchSize && strings.Contains(string(b), `"status":"declined"`)
	}), mock.Anything).
		Run(func(args mock.Arguments) {
			raw := `{"hits":{"total":{"value":1},"hits":[{"_source":{"reference":"r1","user_id":"u1","status":"declined"}}]}}`
			_ = json.Unmarshal([]byte(raw), args.Get(3))
		}).
		Return(nil).Once()

	idx := NewSearchIndexer(store, "kyc-verifications")
	docs, total, err := idx.Search(context.Background(), SearchFilter{Status: "declined", Size: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "r1", docs[0].Reference)
	store.AssertExpectations(t)
}

func TestDispatcherIsolatesSinkFailures(t *testing.T) {
	failing := &mockSink{name: "failing"}
	healthy := &mockSink{name: "healthy"}
	change, rec := sampleChange(), sampleRecord()

	failing.On("StatusChanged", mock.Anything, change, rec).Return(errors.New("broker down")).Once()
	healthy.On("StatusChanged", mock.Anything, change, rec).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(time.Second, failing, healthy)
	d.StatusChanged(ctx, change, rec)

	failing.AssertExpectations(t)
	healthy.AssertExpectations(t)
}

func TestDispatcherDetachesFromCallerCancellation(t *testing.T) {
	sink := &mockSink{name: "s"}
	receipt := &models.WebhookReceipt{Reference: "r", Outcome: models.WebhookProcessed}
	sink.On("WebhookReceived", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), receipt).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	NewDispatcher(0, sink).WebhookReceived(ctx, receipt)
	sink.AssertExpectations(t)
}

func profileMessage(t *testing.T, offset int64, eventType string, data interface{}) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	value, err := json.Marshal(CloudEvent{
		SpecVersion: CloudEventSpecVersion,
		Type:        eventType,
		Source:      "/user-service",
		ID:          "id",
		Time:        time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Data:        payload,
	})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func TestDecodeProfileEvent(t *testing.T) {
	msg := profileMessage(t, 1, EventTypeProfileUpdated, ProfileUpdatedData{
		UserID: " user_1 ", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Country: "gb",
	})

	p, err := DecodeProfileEvent(msg.Value)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "user_1", p.UserID)
	assert.Equal(t, "GB", p.Country)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), p.UpdatedAt)

	other := profileMessage(t, 2, "com.user.deleted", map[string]string{"user_id": "x"})
	p, err = DecodeProfileEvent(other.Value)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = DecodeProfileEvent([]byte("{"))
	assert.Error(t, err)

	missing := profileMessage(t, 3, EventTypeProfileUpdated, ProfileUpdatedData{FirstName: "x"})
	_, err = DecodeProfileEvent(missing.Value)
	assert.Error(t, err)
}

func TestProfileConsumerRun(t *testing.T) {
	fetcher := &fakeFetcher{messages: []kafka.Message{
		profileMessage(t, 10, EventTypeProfileUpdated, ProfileUpdatedData{UserID: "user_1", Country: "US"}),
		{Offset: 11, Value: []byte("garbage")},
		profileMessage(t, 12, EventTypeProfileUpdated, ProfileUpdatedData{UserID: "user_2", Country: "DE"}),
	}}
	syncer := &recordingSyncer{}
	consumer := NewProfileConsumer(fetcher, syncer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(fetcher.Committed()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10, 11, 12}, fetcher.Committed())
	profiles := syncer.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "user_1", profiles[0].UserID)
	assert.Equal(t, "user_2", profiles[1].UserID)
}

func TestProfileConsumerDoesNotCommitFailedSync(t *testing.T) {
	fetcher := &fakeFetcher{messages: []kafka.Message{
		profileMessage(t, 20, EventTypeProfileUpdated, ProfileUpdatedData{UserID: "user_1"}),
		profileMessage(t, 21, EventTypeProfileUpdated, ProfileUpdatedData{UserID: "user_2"}),
	}}
	syncer := &recordingSyncer{err: errors.New("scylla unavailable")}
	consumer := NewProfileConsumer(fetcher, syncer)
	consumer.backoff = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, consumer.Run(ctx))

	assert.Empty(t, fetcher.Committed())
	assert.Empty(t, syncer.Profiles())
	fetcher.mu.Lock()
	assert.Len(t, fetcher.messages, 1, "nothing after the failing message is fetched")
	fetcher.mu.Unlock()
}

func TestProfileConsumerRetriesTransientFailure(t *testing.T) {
	fetcher := &fakeFetcher{messages: []kafka.Message{
		profileMessage(t, 20, EventTypeProfileUpdated, ProfileUpdatedData{UserID: "user_1"}),
		profileMessage(t, 21, EventTypeProfileUpdated, ProfileUpdatedData{UserID: "user_2"}),
	}}
	syncer := &recordingSyncer{err: errors.New("scylla timeout"), failFirst: 1}
	consumer := NewProfileConsumer(fetcher, syncer)
	consumer.backoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(fetcher.Committed()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{20, 21}, fetcher.Committed())
	profiles := syncer.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "user_1", profiles[0].UserID)
	assert.Equal(t, "user_2", profiles[1].UserID)
}

func TestProfileConsumerCommitsSkippedFailure(t *testing.T) {
	rejected := errors.New("invalid input")
	fetcher := &fakeFetcher{messages: []kafka.Message{
		profileMessage(t, 30, EventTypeProfileUpdated, ProfileUpdatedData{UserID: "bad id!"}),
	}}
	syncer := &recordingSyncer{err: fmt.Errorf("%w: user_id", rejected)}
	consumer := NewProfileConsumer(fetcher, syncer, rejected)
	consumer.backoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(fetcher.Committed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []int64{30}, fetcher.Committed())
}

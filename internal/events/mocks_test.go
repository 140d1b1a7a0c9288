package events

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"

	"kyc-service/internal/models"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	return m.Called(ctx, topic, key, value, headers).Error(0)
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Exec(ctx context.Context, query string, args ...interface{}) error {
	return m.Called(ctx, query).Error(0)
}

func (m *mockWriter) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	return m.Called(ctx, query, data).Error(0)
}

type mockDocumentStore struct {
	mock.Mock
}

func (m *mockDocumentStore) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	return m.Called(ctx, index, id, document).Error(0)
}

func (m *mockDocumentStore) Search(ctx context.Context, index string, query map[string]interface{}, target interface{}) error {
	return m.Called(ctx, index, query, target).Error(0)
}

type mockSink struct {
	mock.Mock
	name string
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) StatusChanged(ctx context.Context, change *models.StatusChange, rec *models.VerificationRecord) error {
	return m.Called(ctx, change, rec).Error(0)
}

func (m *mockSink) WebhookReceived(ctx context.Context, receipt *models.WebhookReceipt) error {
	return m.Called(ctx, receipt).Error(0)
}

// fakeFetcher serves queued messages, then blocks until ctx is done.
type fakeFetcher struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeFetcher) CommitMessage(ctx context.Context, msg kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msg.Offset)
	return nil
}

func (f *fakeFetcher) Committed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

// recordingSyncer fails its first failFirst calls with err, or every call
// when failFirst is zero and err is set.
type recordingSyncer struct {
	mu        sync.Mutex
	profiles  []*models.UserProfile
	err       error
	failFirst int
	calls     int
}

func (r *recordingSyncer) SyncProfile(ctx context.Context, p *models.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil && (r.failFirst == 0 || r.calls <= r.failFirst) {
		return r.err
	}
	r.profiles = append(r.profiles, p)
	return nil
}

func (r *recordingSyncer) Profiles() []*models.UserProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.UserProfile(nil), r.profiles...)
}

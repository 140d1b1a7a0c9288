package encryption

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kyc-service/internal/config"
)

type mockKMS struct {
	mock.Mock
}

func (m *mockKMS) GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	args := m.Called(ctx, in)
	if out, ok := args.Get(0).(*kms.GenerateDataKeyOutput); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockKMS) Decrypt(ctx context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	args := m.Called(ctx, in)
	if out, ok := args.Get(0).(*kms.DecryptOutput); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestSealOpenLocalMode(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)
	ctx := context.Background()

	sealed, err := em.Seal(ctx, `{"event":"verification.accepted"}`, "provider_response")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "verification.accepted")

	em.ClearCache()
	assert.Equal(t, 0, em.GetCacheSize())

	plain, err := em.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"event":"verification.accepted"}`, plain)
	assert.Equal(t, 1, em.GetCacheSize())
}

func TestSealEmpty(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)

	sealed, err := em.Seal(context.Background(), "", "provider_response")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, err := em.Open(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestOpenRejectsWrongPurpose(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)
	ctx := context.Background()

	data, err := em.EncryptField(ctx, "secret", "provider_response")
	require.NoError(t, err)
	data.Purpose = "other"

	_, err = em.DecryptField(ctx, data)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpenMalformed(t *testing.T) {
	em := NewEncryptionManager(&config.Config{}, nil)
	_, err := em.Open(context.Background(), "not-json")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSealOpenWithKMS(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	blob := []byte("wrapped-key")

	m := &mockKMS{}
	m.On("GenerateDataKey", mock.Anything, mock.MatchedBy(func(in *kms.GenerateDataKeyInput) bool {
		return aws.ToString(in.KeyId) == "alias/kyc" && in.EncryptionContext["purpose"] == "provider_response"
	})).Return(&kms.GenerateDataKeyOutput{
		Plaintext:      key,
		CiphertextBlob: blob,
		KeyId:          aws.String("arn:aws:kms:key/1"),
	}, nil).Once()
	m.On("Decrypt", mock.Anything, mock.Anything).Return(&kms.DecryptOutput{Plaintext: key}, nil).Once()

	cfg := &config.Config{KMS: config.KMSConfig{Enabled: true, KeyID: "alias/kyc"}}
	em := NewEncryptionManager(cfg, m)
	ctx := context.Background()

	sealed, err := em.Seal(ctx, "payload", "provider_response")
	require.NoError(t, err)

	em.ClearCache()
	plain, err := em.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", plain)
	m.AssertExpectations(t)
}

func TestGenerateDataKeyKMSFailure(t *testing.T) {
	m := &mockKMS{}
	m.On("GenerateDataKey", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	cfg := &config.Config{KMS: config.KMSConfig{Enabled: true, KeyID: "alias/kyc"}}
	em := NewEncryptionManager(cfg, m)

	_, err := em.Seal(context.Background(), "payload", "provider_response")
	assert.Error(t, err)
}

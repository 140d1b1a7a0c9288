package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/util"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const envelopeVersion = "v1"

// KMSAPI is the part of the KMS client the manager calls.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Purpose        string    `json:"purpose"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

// EncryptionManager seals provider payloads at rest with envelope encryption.
// Without KMS the data key travels base64-encoded next to the ciphertext,
// which is only acceptable outside production.
type EncryptionManager struct {
	kmsClient KMSAPI
	kmsCfg    config.KMSConfig
	keyCache  sync.Map
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

func NewEncryptionManager(cfg *config.Config, kmsClient KMSAPI) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: kmsClient,
		kmsCfg:    cfg.KMS,
	}
}

func (em *EncryptionManager) kmsEnabled() bool {
	return em.kmsCfg.Enabled && em.kmsClient != nil
}

// GenerateDataKey returns a fresh AES-256 data key.
func (em *EncryptionManager) GenerateDataKey(ctx context.Context, purpose string) (*DataKey, error) {
	if !em.kmsEnabled() {
		return generateLocalKey()
	}

	result, err := em.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(em.kmsCfg.KeyID),
		KeySpec:           types.DataKeySpecAes256,
		EncryptionContext: map[string]string{"purpose": purpose},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &DataKey{
		Plaintext:  result.Plaintext,
		Ciphertext: result.CiphertextBlob,
		KeyID:      aws.ToString(result.KeyId),
	}, nil
}

func generateLocalKey() (*DataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return &DataKey{
		Plaintext:  key,
		Ciphertext: key,
		KeyID:      "local-" + uuid.New().String(),
	}, nil
}

// EncryptField encrypts plaintext under a new data key bound to purpose.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext, purpose string) (*EncryptedData, error) {
	dataKey, err := em.GenerateDataKey(ctx, purpose)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(dataKey.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(purpose))
	encryptedDEK := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	em.keyCache.Store(encryptedDEK, dataKey.Plaintext)

	util.Debug("Field encrypted", zap.String("purpose", purpose), zap.String("key_id", dataKey.KeyID))

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   encryptedDEK,
		KeyID:          dataKey.KeyID,
		Purpose:        purpose,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptField reverses EncryptField, consulting the DEK cache before KMS.
func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData) (string, error) {
	if data == nil {
		return "", fmt.Errorf("%w: empty envelope", ErrDecryptionFailed)
	}

	if cached, ok := em.keyCache.Load(data.EncryptedDEK); ok {
		return decryptWithKey(data.EncryptedValue, cached.([]byte), data.Purpose)
	}

	blob, err := base64.StdEncoding.DecodeString(data.EncryptedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	plaintextDEK := blob
	if em.kmsEnabled() {
		result, err := em.kmsClient.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob:    blob,
			EncryptionContext: map[string]string{"purpose": data.Purpose},
		})
		if err != nil {
			return "", fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
		}
		plaintextDEK = result.Plaintext
	}

	em.keyCache.Store(data.EncryptedDEK, plaintextDEK)
	return decryptWithKey(data.EncryptedValue, plaintextDEK, data.Purpose)
}

// Seal encrypts plaintext and returns the envelope as a JSON string for a
// single text column. Empty input stays empty.
func (em *EncryptionManager) Seal(ctx context.Context, plaintext, purpose string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	data, err := em.EncryptField(ctx, plaintext, purpose)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(out), nil
}

// Open decodes a Seal envelope.
func (em *EncryptionManager) Open(ctx context.Context, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	var data EncryptedData
	if err := json.Unmarshal([]byte(sealed), &data); err != nil {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecryptionFailed)
	}
	if data.Version != envelopeVersion {
		return "", fmt.Errorf("%w: unsupported envelope version %q", ErrDecryptionFailed, data.Version)
	}
	return em.DecryptField(ctx, &data)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func decryptWithKey(encryptedValue string, key []byte, purpose string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(purpose))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// ClearCache drops every cached data key.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func (em *EncryptionManager) GetCacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

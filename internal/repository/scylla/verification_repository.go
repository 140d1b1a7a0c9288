package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"kyc-service/internal/bucketing"
	"kyc-service/internal/encryption"
	"kyc-service/internal/models"
	"kyc-service/internal/repository"
	"kyc-service/internal/util"
)

const rawResponsePurpose = "kyc_provider_response"

// VerificationRepository stores verification records in ScyllaDB. The
// active-slot claim and the status compare-and-set are lightweight
// transactions; the by-user index is a plain write.
type VerificationRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
	crypto    *encryption.EncryptionManager
}

func NewVerificationRepository(client *ScyllaClient, bm *bucketing.BucketingManager, crypto *encryption.EncryptionManager) *VerificationRepository {
	return &VerificationRepository{
		client:    client,
		bucketing: bm,
		crypto:    crypto,
	}
}

func (r *VerificationRepository) Create(ctx context.Context, rec *models.VerificationRecord) error {
	if rec.Status.IsActive() {
		applied, err := r.claimActive(ctx, rec.UserID, rec.Reference, rec.CreatedAt)
		if err != nil {
			return err
		}
		if !applied {
			return repository.ErrActiveExists
		}
	}

	if err := r.insert(ctx, rec); err != nil {
		if rec.Status.IsActive() {
			r.releaseActive(ctx, rec.UserID, rec.Reference)
		}
		return err
	}

	util.Debug("Verification record created",
		zap.String("reference", rec.Reference),
		zap.String("user_id", rec.UserID),
		zap.String("status", rec.Status.String()))
	return nil
}

func (r *VerificationRepository) Update(ctx context.Context, rec *models.VerificationRecord, expected models.KYCStatus) error {
	if err := r.updateCAS(ctx, rec, expected); err != nil {
		return err
	}
	if expected.IsActive() && !rec.Status.IsActive() {
		r.releaseActive(ctx, rec.UserID, rec.Reference)
	}
	return nil
}

// ReplaceActive moves the user's active slot from previous to next, then
// retires previous and inserts next. Each step is conditional; a failed
// step puts the slot back on previous.
func (r *VerificationRepository) ReplaceActive(ctx context.Context, previous *models.VerificationRecord, expected models.KYCStatus, next *models.VerificationRecord) error {
	now := next.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	holder := map[string]interface{}{}
	applied, err := r.client.Query(ctx, r.client.Prepared.SwapActive,
		next.Reference, now, previous.UserID, previous.Reference).MapScanCAS(holder)
	if err != nil {
		return fmt.Errorf("failed to swap active verification: %w", err)
	}
	if !applied {
		if ref, _ := holder["reference"].(string); ref != "" && ref != previous.Reference {
			return repository.ErrActiveExists
		}
		return repository.ErrStatusConflict
	}

	revert := func() {
		if _, err := r.client.Query(ctx, r.client.Prepared.SwapActive,
			previous.Reference, time.Now().UTC(), previous.UserID, next.Reference).MapScanCAS(map[string]interface{}{}); err != nil {
			util.Error("Failed to restore active verification slot",
				zap.String("user_id", previous.UserID),
				zap.String("reference", previous.Reference),
				zap.Error(err))
		}
	}

	if err := r.updateCAS(ctx, previous, expected); err != nil {
		revert()
		return err
	}
	if err := r.insert(ctx, next); err != nil {
		revert()
		return err
	}
	return nil
}

func (r *VerificationRepository) FindByReference(ctx context.Context, reference string) (*models.VerificationRecord, error) {
	rec := &models.VerificationRecord{}
	var status, sealed string

	err := r.client.ScanWithRetry(r.client.Query(ctx, r.client.Prepared.GetVerification, reference),
		&rec.Reference, &rec.ID, &rec.UserID, &rec.ParentReference, &rec.SupersededBy,
		&status, &rec.VerificationURL, &rec.DeclineReasons, &rec.DeclineCodes, &rec.LastEvent,
		&rec.AttemptCount, &sealed, &rec.SubmittedAt, &rec.ReviewedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification %s: %w", reference, err)
	}
	rec.Status = models.KYCStatus(status)

	if sealed != "" && r.crypto != nil {
		raw, err := r.crypto.Open(ctx, sealed)
		if err != nil {
			util.Warn("Failed to decrypt stored provider response",
				zap.String("reference", reference), zap.Error(err))
		} else {
			rec.ProviderRawResponse = raw
		}
	}
	return rec, nil
}

func (r *VerificationRepository) FindLatestByUser(ctx context.Context, userID string) (*models.VerificationRecord, error) {
	var reference string
	err := r.client.ScanWithRetry(
		r.client.Query(ctx, r.client.Prepared.LatestByUser, r.bucketing.GetUserBucket(userID), userID),
		&reference)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest verification: %w", err)
	}
	return r.FindByReference(ctx, reference)
}

// ListByUser returns the user's records newest first.
func (r *VerificationRepository) ListByUser(ctx context.Context, userID string) ([]*models.VerificationRecord, error) {
	iter := r.client.Query(ctx, r.client.Prepared.ListByUser, r.bucketing.GetUserBucket(userID), userID).Iter()

	var refs []string
	var reference string
	for iter.Scan(&reference) {
		refs = append(refs, reference)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}

	out := make([]*models.VerificationRecord, 0, len(refs))
	for _, ref := range refs {
		rec, err := r.FindByReference(ctx, ref)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *VerificationRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func (r *VerificationRepository) insert(ctx context.Context, rec *models.VerificationRecord) error {
	sealed, err := r.seal(ctx, rec.ProviderRawResponse)
	if err != nil {
		return err
	}

	applied, err := r.client.Query(ctx, r.client.Prepared.InsertVerification,
		rec.Reference, rec.ID, rec.UserID, rec.ParentReference, rec.SupersededBy,
		rec.Status.String(), rec.VerificationURL, rec.DeclineReasons, rec.DeclineCodes, rec.LastEvent,
		rec.AttemptCount, sealed, rec.SubmittedAt, rec.ReviewedAt, rec.CreatedAt, rec.UpdatedAt,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to insert verification: %w", err)
	}
	if !applied {
		return repository.ErrDuplicate
	}

	index := r.client.Query(ctx, r.client.Prepared.InsertByUser,
		r.bucketing.GetUserBucket(rec.UserID), rec.UserID, rec.CreatedAt, rec.Reference)
	if err := r.client.ExecuteWithRetry(index, 2); err != nil {
		return fmt.Errorf("failed to index verification by user: %w", err)
	}
	return nil
}

func (r *VerificationRepository) updateCAS(ctx context.Context, rec *models.VerificationRecord, expected models.KYCStatus) error {
	sealed, err := r.seal(ctx, rec.ProviderRawResponse)
	if err != nil {
		return err
	}

	previous := map[string]interface{}{}
	applied, err := r.client.Query(ctx, r.client.Prepared.UpdateVerificationCAS,
		rec.SupersededBy, rec.Status.String(), rec.VerificationURL, rec.DeclineReasons,
		rec.DeclineCodes, rec.LastEvent, sealed, rec.SubmittedAt, rec.ReviewedAt, rec.UpdatedAt,
		rec.Reference, expected.String(),
	).MapScanCAS(previous)
	if err != nil {
		return fmt.Errorf("failed to update verification %s: %w", rec.Reference, err)
	}
	if !applied {
		if _, exists := previous["status"]; !exists {
			return repository.ErrNotFound
		}
		return repository.ErrStatusConflict
	}
	return nil
}

func (r *VerificationRepository) claimActive(ctx context.Context, userID, reference string, at time.Time) (bool, error) {
	applied, err := r.client.Query(ctx, r.client.Prepared.ClaimActive, userID, reference, at).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to claim active verification: %w", err)
	}
	return applied, nil
}

func (r *VerificationRepository) releaseActive(ctx context.Context, userID, reference string) {
	if _, err := r.client.Query(ctx, r.client.Prepared.ReleaseActive, userID, reference).
		MapScanCAS(map[string]interface{}{}); err != nil {
		util.Error("Failed to release active verification slot",
			zap.String("user_id", userID),
			zap.String("reference", reference),
			zap.Error(err))
	}
}

func (r *VerificationRepository) seal(ctx context.Context, raw string) (string, error) {
	if raw == "" || r.crypto == nil {
		return raw, nil
	}
	sealed, err := r.crypto.Seal(ctx, raw, rawResponsePurpose)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt provider response: %w", err)
	}
	return sealed, nil
}

package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"kyc-service/internal/bucketing"
	"kyc-service/internal/models"
	"kyc-service/internal/repository"
	"kyc-service/internal/util"
)

type UserProfileRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewUserProfileRepository(client *ScyllaClient, bm *bucketing.BucketingManager) *UserProfileRepository {
	return &UserProfileRepository{
		client:    client,
		bucketing: bm,
	}
}

func (r *UserProfileRepository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	var isVerified, isBlocked *bool

	err := r.client.ScanWithRetry(
		r.client.Query(ctx, r.client.Prepared.GetProfile, r.bucketing.GetUserBucket(userID), userID),
		&p.UserBucket, &p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.Country,
		&isVerified, &isBlocked, &p.VerifiedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	p.IsVerified = isVerified != nil && *isVerified
	p.IsBlocked = isBlocked != nil && *isBlocked
	return p, nil
}

// UpsertProfile writes the identity claims only; verification flags are
// owned by SetVerified and SetBlocked.
func (r *UserProfileRepository) UpsertProfile(ctx context.Context, profile *models.UserProfile) error {
	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	q := r.client.Query(ctx, r.client.Prepared.UpsertProfile,
		profile.FirstName, profile.LastName, profile.Email, profile.Country, updatedAt,
		r.bucketing.GetUserBucket(profile.UserID), profile.UserID)
	if err := r.client.ExecuteWithRetry(q, 2); err != nil {
		util.Error("Failed to upsert profile", zap.String("user_id", profile.UserID), zap.Error(err))
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

func (r *UserProfileRepository) SetVerified(ctx context.Context, userID string, verified bool, at time.Time) error {
	var verifiedAt *time.Time
	if verified {
		verifiedAt = &at
	}
	return r.conditionalUpdate(ctx, userID, r.client.Prepared.SetVerified,
		verified, verifiedAt, at, r.bucketing.GetUserBucket(userID), userID)
}

func (r *UserProfileRepository) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	return r.conditionalUpdate(ctx, userID, r.client.Prepared.SetBlocked,
		blocked, time.Now().UTC(), r.bucketing.GetUserBucket(userID), userID)
}

func (r *UserProfileRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func (r *UserProfileRepository) conditionalUpdate(ctx context.Context, userID, stmt string, values ...interface{}) error {
	applied, err := r.client.Query(ctx, stmt, values...).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

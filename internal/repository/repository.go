package repository

import (
	"context"
	"errors"
	"time"

	"kyc-service/internal/models"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrActiveExists   = errors.New("user already has an active verification")
	ErrStatusConflict = errors.New("record status changed concurrently")
	ErrDuplicate      = errors.New("reference already exists")
	ErrLockHeld       = errors.New("lock is held by another owner")
)

// VerificationStore persists verification records. Implementations keep at
// most one active (initiated, pending, retry_pending) record per user.
type VerificationStore interface {
	// Create inserts rec. An active rec must claim the user's active slot,
	// failing with ErrActiveExists when it is taken.
	Create(ctx context.Context, rec *models.VerificationRecord) error
	// Update replaces the record stored under rec.Reference when its status
	// still equals expected, otherwise ErrStatusConflict (ErrNotFound when
	// missing). Leaving the active set frees the user's slot.
	Update(ctx context.Context, rec *models.VerificationRecord, expected models.KYCStatus) error
	// ReplaceActive retires previous and inserts next as the user's active
	// record in one step.
	ReplaceActive(ctx context.Context, previous *models.VerificationRecord, expected models.KYCStatus, next *models.VerificationRecord) error
	FindByReference(ctx context.Context, reference string) (*models.VerificationRecord, error)
	FindLatestByUser(ctx context.Context, userID string) (*models.VerificationRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*models.VerificationRecord, error)
	HealthCheck(ctx context.Context) error
}

// UserDirectory holds the profile data the provider request needs.
type UserDirectory interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	UpsertProfile(ctx context.Context, profile *models.UserProfile) error
	SetVerified(ctx context.Context, userID string, verified bool, at time.Time) error
	SetBlocked(ctx context.Context, userID string, blocked bool) error
	HealthCheck(ctx context.Context) error
}

type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive, expiring locks. Acquire never blocks; it
// returns ErrLockHeld when another owner holds key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Deduper remembers webhook deliveries that were fully processed.
type Deduper interface {
	Seen(ctx context.Context, digest string) (bool, error)
	Mark(ctx context.Context, digest string, ttl time.Duration) error
}

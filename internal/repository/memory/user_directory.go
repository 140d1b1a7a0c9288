package memory

import (
	"context"
	"sync"
	"time"

	"kyc-service/internal/models"
	"kyc-service/internal/repository"
)

type UserDirectory struct {
	mu       sync.RWMutex
	profiles map[string]models.UserProfile
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{profiles: make(map[string]models.UserProfile)}
}

func (d *UserDirectory) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

// UpsertProfile replaces identity claims and keeps the verification flags.
func (d *UserDirectory) UpsertProfile(ctx context.Context, profile *models.UserProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := *profile
	if existing, ok := d.profiles[profile.UserID]; ok {
		next.IsVerified = existing.IsVerified
		next.IsBlocked = existing.IsBlocked
		next.VerifiedAt = existing.VerifiedAt
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}
	d.profiles[profile.UserID] = next
	return nil
}

func (d *UserDirectory) SetVerified(ctx context.Context, userID string, verified bool, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[userID]
	if !ok {
		return repository.ErrNotFound
	}
	p.IsVerified = verified
	if verified {
		p.VerifiedAt = &at
	} else {
		p.VerifiedAt = nil
	}
	p.UpdatedAt = at
	d.profiles[userID] = p
	return nil
}

func (d *UserDirectory) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[userID]
	if !ok {
		return repository.ErrNotFound
	}
	p.IsBlocked = blocked
	p.UpdatedAt = time.Now().UTC()
	d.profiles[userID] = p
	return nil
}

func (d *UserDirectory) HealthCheck(ctx context.Context) error {
	return nil
}

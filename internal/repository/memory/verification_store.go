package memory

import (
	"context"
	"sync"

	"kyc-service/internal/models"
	"kyc-service/internal/repository"
)

// VerificationStore is an in-process store used in development when ScyllaDB
// is unavailable, and by tests.
type VerificationStore struct {
	mu          sync.RWMutex
	byReference map[string]*models.VerificationRecord
	byUser      map[string][]string
	active      map[string]string
}

func NewVerificationStore() *VerificationStore {
	return &VerificationStore{
		byReference: make(map[string]*models.VerificationRecord),
		byUser:      make(map[string][]string),
		active:      make(map[string]string),
	}
}

func (s *VerificationStore) Create(ctx context.Context, rec *models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byReference[rec.Reference]; exists {
		return repository.ErrDuplicate
	}
	if rec.Status.IsActive() {
		if _, taken := s.active[rec.UserID]; taken {
			return repository.ErrActiveExists
		}
		s.active[rec.UserID] = rec.Reference
	}
	s.insertLocked(rec)
	return nil
}

func (s *VerificationStore) Update(ctx context.Context, rec *models.VerificationRecord, expected models.KYCStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byReference[rec.Reference]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != expected {
		return repository.ErrStatusConflict
	}

	s.byReference[rec.Reference] = rec.Clone()
	if !rec.Status.IsActive() && s.active[rec.UserID] == rec.Reference {
		delete(s.active, rec.UserID)
	}
	return nil
}

func (s *VerificationStore) ReplaceActive(ctx context.Context, previous *models.VerificationRecord, expected models.KYCStatus, next *models.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byReference[previous.Reference]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Status != expected {
		return repository.ErrStatusConflict
	}
	if holder, taken := s.active[previous.UserID]; taken && holder != previous.Reference {
		return repository.ErrActiveExists
	}
	if _, exists := s.byReference[next.Reference]; exists {
		return repository.ErrDuplicate
	}

	s.byReference[previous.Reference] = previous.Clone()
	s.insertLocked(next)
	if next.Status.IsActive() {
		s.active[next.UserID] = next.Reference
	} else {
		delete(s.active, next.UserID)
	}
	return nil
}

func (s *VerificationStore) FindByReference(ctx context.Context, reference string) (*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byReference[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *VerificationStore) FindLatestByUser(ctx context.Context, userID string) (*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := s.byUser[userID]
	if len(refs) == 0 {
		return nil, repository.ErrNotFound
	}
	return s.byReference[refs[len(refs)-1]].Clone(), nil
}

// ListByUser returns records newest first.
func (s *VerificationStore) ListByUser(ctx context.Context, userID string) ([]*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := s.byUser[userID]
	out := make([]*models.VerificationRecord, 0, len(refs))
	for i := len(refs) - 1; i >= 0; i-- {
		out = append(out, s.byReference[refs[i]].Clone())
	}
	return out, nil
}

// ActiveCount reports how many users hold an active slot.
func (s *VerificationStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

func (s *VerificationStore) HealthCheck(ctx context.Context) error {
	return nil
}

func (s *VerificationStore) insertLocked(rec *models.VerificationRecord) {
	s.byReference[rec.Reference] = rec.Clone()
	s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec.Reference)
}

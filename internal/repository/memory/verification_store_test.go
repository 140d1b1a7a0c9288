package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-service/internal/models"
	"kyc-service/internal/repository"
)

func newRecord(userID, reference string, status models.KYCStatus) *models.VerificationRecord {
	now := time.Now().UTC()
	return &models.VerificationRecord{
		ID:           "id-" + reference,
		UserID:       userID,
		Reference:    reference,
		Status:       status,
		AttemptCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestVerificationStoreActiveSlot(t *testing.T) {
	ctx := context.Background()
	store := NewVerificationStore()

	require.NoError(t, store.Create(ctx, newRecord("u1", "REF1", models.StatusInitiated)))
	assert.ErrorIs(t, store.Create(ctx, newRecord("u1", "REF2", models.StatusInitiated)), repository.ErrActiveExists)
	assert.ErrorIs(t, store.Create(ctx, newRecord("u2", "REF1", models.StatusInitiated)), repository.ErrDuplicate)

	// terminal records never need the slot
	require.NoError(t, store.Create(ctx, newRecord("u1", "REF-ERR", models.StatusError)))

	rec, err := store.FindByReference(ctx, "REF1")
	require.NoError(t, err)
	rec.Status = models.StatusCancelled
	require.NoError(t, store.Update(ctx, rec, models.StatusInitiated))
	assert.Equal(t, 0, store.ActiveCount())

	require.NoError(t, store.Create(ctx, newRecord("u1", "REF3", models.StatusInitiated)))
	latest, err := store.FindLatestByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "REF3", latest.Reference)

	list, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "REF3", list[0].Reference)
}

func TestVerificationStoreUpdateCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewVerificationStore()
	require.NoError(t, store.Create(ctx, newRecord("u1", "REF1", models.StatusInitiated)))

	rec, _ := store.FindByReference(ctx, "REF1")
	rec.Status = models.StatusPending
	require.NoError(t, store.Update(ctx, rec, models.StatusInitiated))

	stale := rec.Clone()
	stale.Status = models.StatusCancelled
	assert.ErrorIs(t, store.Update(ctx, stale, models.StatusInitiated), repository.ErrStatusConflict)

	missing := newRecord("u1", "NOPE", models.StatusPending)
	assert.ErrorIs(t, store.Update(ctx, missing, models.StatusInitiated), repository.ErrNotFound)
}

func TestVerificationStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewVerificationStore()
	rec := newRecord("u1", "REF1", models.StatusRetryPending)
	rec.DeclineReasons = []string{"photocopy"}
	require.NoError(t, store.Create(ctx, rec))

	rec.DeclineReasons[0] = "mutated"
	got, _ := store.FindByReference(ctx, "REF1")
	got.DeclineReasons[0] = "also mutated"

	again, _ := store.FindByReference(ctx, "REF1")
	assert.Equal(t, []string{"photocopy"}, again.DeclineReasons)
}

func TestVerificationStoreReplaceActive(t *testing.T) {
	ctx := context.Background()
	store := NewVerificationStore()
	require.NoError(t, store.Create(ctx, newRecord("u1", "REF1", models.StatusRetryPending)))

	prev, _ := store.FindByReference(ctx, "REF1")
	prev.Status = models.StatusDeclined
	next := newRecord("u1", "REF2_RETRY", models.StatusInitiated)
	next.AttemptCount = 2
	prev.SupersededBy = next.ID

	require.NoError(t, store.ReplaceActive(ctx, prev, models.StatusRetryPending, next))
	assert.Equal(t, 1, store.ActiveCount())

	latest, _ := store.FindLatestByUser(ctx, "u1")
	assert.Equal(t, "REF2_RETRY", latest.Reference)
	old, _ := store.FindByReference(ctx, "REF1")
	assert.Equal(t, models.StatusDeclined, old.Status)

	// a second replace with the stale expectation loses
	another := newRecord("u1", "REF3_RETRY", models.StatusInitiated)
	assert.ErrorIs(t, store.ReplaceActive(ctx, prev, models.StatusRetryPending, another), repository.ErrStatusConflict)
}

func TestVerificationStoreConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store := NewVerificationStore()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Create(ctx, newRecord("u1", fmt.Sprintf("REF%d", i), models.StatusInitiated)); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, repository.ErrActiveExists)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, store.ActiveCount())
}

func TestLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewLocker()

	lock, err := locker.Acquire(ctx, "kyc:user:u1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "kyc:user:u1", time.Minute)
	assert.ErrorIs(t, err, repository.ErrLockHeld)

	require.NoError(t, lock.Release(ctx))
	_, err = locker.Acquire(ctx, "kyc:user:u1", time.Minute)
	assert.NoError(t, err)

	expiring, err := locker.Acquire(ctx, "short", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = locker.Acquire(ctx, "short", time.Minute)
	assert.NoError(t, err)
	// releasing an expired lock must not free the new owner's lock
	require.NoError(t, expiring.Release(ctx))
	_, err = locker.Acquire(ctx, "short", time.Minute)
	assert.ErrorIs(t, err, repository.ErrLockHeld)
}

func TestDeduper(t *testing.T) {
	ctx := context.Background()
	d := NewDeduper()

	seen, err := d.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "abc", time.Hour))
	seen, _ = d.Seen(ctx, "abc")
	assert.True(t, seen)

	require.NoError(t, d.Mark(ctx, "old", -time.Second))
	seen, _ = d.Seen(ctx, "old")
	assert.False(t, seen)
}

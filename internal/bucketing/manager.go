package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"kyc-service/internal/config"
)

// BucketingManager spreads per-user partitions across a fixed number of
// buckets so no single Scylla partition grows with the user base.
type BucketingManager struct {
	userBuckets int
	hasherPool  sync.Pool
}

type BucketAssignment struct {
	UserBucket int    `json:"user_bucket"`
	DateBucket string `json:"date_bucket"`
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	buckets := cfg.Bucketing.UserBuckets
	if buckets < 1 {
		buckets = 1
	}

	bm := &BucketingManager{userBuckets: buckets}
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// GetUserBucket returns a stable bucket in [0, userBuckets).
func (bm *BucketingManager) GetUserBucket(userID string) int {
	return int(bm.getHash(userID) % uint64(bm.userBuckets))
}

// GetDateBucket is the UTC day of t, used for time-partitioned audit rows.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetBucketAssignment(userID string, at time.Time) *BucketAssignment {
	return &BucketAssignment{
		UserBucket: bm.GetUserBucket(userID),
		DateBucket: bm.GetDateBucket(at),
	}
}

func (bm *BucketingManager) GetUserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}

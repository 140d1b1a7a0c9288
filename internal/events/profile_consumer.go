package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

// MessageFetcher is satisfied by client.KafkaConsumer.
type MessageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessage(ctx context.Context, msg kafka.Message) error
}

// ProfileSyncer applies an upstream profile change.
type ProfileSyncer interface {
	SyncProfile(ctx context.Context, profile *models.UserProfile) error
}

// ProfileUpdatedData is the payload of user.profile.updated events.
type ProfileUpdatedData struct {
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Country   string    `json:"country"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileConsumer mirrors user profile updates from the user service topic.
// Undecodable messages and syncs failing with one of the skip errors are
// logged and committed so they cannot wedge the partition. Any other sync
// failure is retried on the same message with backoff; nothing after it is
// fetched or committed until it succeeds.
type ProfileConsumer struct {
	fetcher    MessageFetcher
	syncer     ProfileSyncer
	skip       []error
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewProfileConsumer(fetcher MessageFetcher, syncer ProfileSyncer, skip ...error) *ProfileConsumer {
	return &ProfileConsumer{
		fetcher:    fetcher,
		syncer:     syncer,
		skip:       skip,
		backoff:    time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (c *ProfileConsumer) Run(ctx context.Context) error {
	util.Info("Profile consumer started")
	for {
		msg, err := c.fetcher.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				util.Info("Profile consumer stopped")
				return nil
			}
			util.Error("Failed to fetch profile message", zap.Error(err))
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if !c.process(ctx, msg) {
			util.Info("Profile consumer stopped", zap.Int64("uncommitted_offset", msg.Offset))
			return nil
		}

		if err := c.fetcher.CommitMessage(ctx, msg); err != nil {
			util.Warn("Failed to commit profile message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// process retries msg until it is handled; false means ctx ended first.
func (c *ProfileConsumer) process(ctx context.Context, msg kafka.Message) bool {
	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		if c.skippable(err) {
			util.Warn("Skipping rejected profile message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			return true
		}

		util.Error("Failed to sync profile",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !sleep(ctx, delay) {
			return false
		}
		if delay *= 2; delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}

func (c *ProfileConsumer) skippable(err error) bool {
	for _, target := range c.skip {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (c *ProfileConsumer) handle(ctx context.Context, msg kafka.Message) error {
	profile, err := DecodeProfileEvent(msg.Value)
	if err != nil {
		util.Warn("Skipping undecodable profile message",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	if profile == nil {
		return nil
	}
	return c.syncer.SyncProfile(ctx, profile)
}

// DecodeProfileEvent returns nil, nil for events of another type.
func DecodeProfileEvent(value []byte) (*models.UserProfile, error) {
	var event CloudEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, fmt.Errorf("invalid cloud event: %w", err)
	}
	if event.Type != EventTypeProfileUpdated {
		return nil, nil
	}

	var data ProfileUpdatedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("invalid profile payload: %w", err)
	}
	if strings.TrimSpace(data.UserID) == "" {
		return nil, errors.New("profile payload has no user_id")
	}

	updatedAt := data.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = event.Time
	}
	return &models.UserProfile{
		UserID:    strings.TrimSpace(data.UserID),
		FirstName: data.FirstName,
		LastName:  data.LastName,
		Email:     data.Email,
		Country:   strings.ToUpper(strings.TrimSpace(data.Country)),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

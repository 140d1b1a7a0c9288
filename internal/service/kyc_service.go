package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kyc-service/internal/hashing"
	"kyc-service/internal/metrics"
	"kyc-service/internal/models"
	"kyc-service/internal/provider"
	"kyc-service/internal/repository"
	"kyc-service/internal/util"
)

// ProviderClient opens verification sessions with the KYC provider.
type ProviderClient interface {
	CreateVerification(ctx context.Context, reference string, profile *models.UserProfile) (*provider.Session, error)
}

// EventPublisher receives committed transitions and webhook receipts.
// Delivery is best effort and never fails the workflow.
type EventPublisher interface {
	StatusChanged(ctx context.Context, change *models.StatusChange, rec *models.VerificationRecord)
	WebhookReceived(ctx context.Context, receipt *models.WebhookReceipt)
}

type NopPublisher struct{}

func (NopPublisher) StatusChanged(context.Context, *models.StatusChange, *models.VerificationRecord) {}
func (NopPublisher) WebhookReceived(context.Context, *models.WebhookReceipt)                        {}

// Options bounds the workflow. Zero values take the defaults below.
type Options struct {
	MaxAttempts     int
	ProviderTimeout time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
	DedupeTTL       time.Duration
	WebhookRetries  int
	WebhookTimeout  time.Duration
}

const (
	defaultMaxAttempts     = 3
	defaultProviderTimeout = 30 * time.Second
	defaultLockWait        = 10 * time.Second
	defaultDedupeTTL       = 72 * time.Hour
	defaultWebhookRetries  = 3
	defaultWebhookTimeout  = 30 * time.Second
	lockPollInterval       = 25 * time.Millisecond

	retrySuffix = "_RETRY"
)

type Dependencies struct {
	Store      repository.VerificationStore
	Users      repository.UserDirectory
	Locker     repository.Locker
	Deduper    repository.Deduper
	Provider   ProviderClient
	Verifier   *hashing.SignatureVerifier
	Classifier *DeclineClassifier
	Publisher  EventPublisher
}

// StartResult is returned by StartVerification and RetryVerification.
type StartResult struct {
	VerificationID  string `json:"verification_id"`
	Reference       string `json:"reference"`
	VerificationURL string `json:"verification_url"`
	AttemptCount    int    `json:"attempt_count"`
}

// WebhookResult describes what a delivery did.
type WebhookResult struct {
	Reference string
	Event     string
	Outcome   string
	Status    models.KYCStatus
}

// KYCService runs the verification workflow: it opens provider sessions,
// applies signed provider callbacks to the status machine and supersedes
// retry-eligible declines with new attempts.
type KYCService struct {
	store      repository.VerificationStore
	users      repository.UserDirectory
	locker     repository.Locker
	deduper    repository.Deduper
	provider   ProviderClient
	verifier   *hashing.SignatureVerifier
	classifier *DeclineClassifier
	publisher  EventPublisher
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

func NewKYCService(deps Dependencies, opts Options) (*KYCService, error) {
	var missing []string
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Users == nil {
		missing = append(missing, "user directory")
	}
	if deps.Locker == nil {
		missing = append(missing, "locker")
	}
	if deps.Deduper == nil {
		missing = append(missing, "deduper")
	}
	if deps.Provider == nil {
		missing = append(missing, "provider")
	}
	if deps.Verifier == nil {
		missing = append(missing, "signature verifier")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: kyc service missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.ProviderTimeout + 5*time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = defaultLockWait
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}
	if opts.WebhookRetries <= 0 {
		opts.WebhookRetries = defaultWebhookRetries
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = defaultWebhookTimeout
	}
	if deps.Classifier == nil {
		deps.Classifier = NewDeclineClassifier()
	}
	if deps.Publisher == nil {
		deps.Publisher = NopPublisher{}
	}

	return &KYCService{
		store:      deps.Store,
		users:      deps.Users,
		locker:     deps.Locker,
		deduper:    deps.Deduper,
		provider:   deps.Provider,
		verifier:   deps.Verifier,
		classifier: deps.Classifier,
		publisher:  deps.Publisher,
		opts:       opts,
		logger:     util.Get(),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// MaxAttempts is the configured per-lineage attempt cap.
func (s *KYCService) MaxAttempts() int {
	return s.opts.MaxAttempts
}

// StartVerification opens a new provider session for a user that has no
// active verification.
func (s *KYCService) StartVerification(ctx context.Context, userID string) (*StartResult, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	lock, err := s.acquire(ctx, userLockKey(userID))
	if err != nil {
		metrics.VerificationsStarted.WithLabelValues("start", "conflict").Inc()
		return nil, err
	}
	defer s.release(lock, userID)

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.FindLatestByUser(ctx, userID)
	switch {
	case err == nil && latest.Status.IsActive():
		metrics.VerificationsStarted.WithLabelValues("start", "conflict").Inc()
		return nil, fmt.Errorf("%w: %s is %s", ErrConflict, latest.Reference, latest.Status)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to load latest verification: %w", err)
	}

	now := s.now()
	reference := newReference(userID, now)

	session, err := s.createSession(ctx, reference, profile)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			metrics.VerificationsStarted.WithLabelValues("start", "invalid_profile").Inc()
			s.logger.Warn("Profile rejected before provider call",
				util.String("user_id", userID),
				util.ErrorField(err))
			return nil, err
		}
		metrics.VerificationsStarted.WithLabelValues("start", "provider_error").Inc()
		s.recordRejection(ctx, userID, reference, err)
		return nil, err
	}

	rec := &models.VerificationRecord{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Reference:           reference,
		Status:              models.StatusInitiated,
		VerificationURL:     session.VerificationURL,
		LastEvent:           session.Event,
		AttemptCount:        1,
		ProviderRawResponse: session.Raw,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrActiveExists) {
			metrics.VerificationsStarted.WithLabelValues("start", "conflict").Inc()
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("failed to store verification: %w", err)
	}

	s.emit(ctx, rec, models.StatusNotStarted, TriggerStart)
	metrics.VerificationsStarted.WithLabelValues("start", "success").Inc()

	s.logger.Info("Verification started",
		util.String("user_id", userID),
		util.String("reference", reference))

	return resultFor(rec), nil
}

// GetStatus returns the user's latest record, or nil when none exists.
func (s *KYCService) GetStatus(ctx context.Context, userID string) (*models.VerificationRecord, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.FindLatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load verification status: %w", err)
	}
	return rec, nil
}

// History returns every record of the user, newest first.
func (s *KYCService) History(ctx context.Context, userID string) ([]*models.VerificationRecord, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	return records, nil
}

// RetryVerification supersedes a retry_pending record with a new attempt.
func (s *KYCService) RetryVerification(ctx context.Context, userID string) (*StartResult, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	lock, err := s.acquire(ctx, userLockKey(userID))
	if err != nil {
		metrics.VerificationsStarted.WithLabelValues("retry", "conflict").Inc()
		return nil, err
	}
	defer s.release(lock, userID)

	latest, err := s.store.FindLatestByUser(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load latest verification: %w", err)
	}
	if latest == nil || latest.Status != models.StatusRetryPending {
		metrics.VerificationsStarted.WithLabelValues("retry", "not_eligible").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, msgNoRetryPending)
	}
	if latest.AttemptCount >= s.opts.MaxAttempts {
		metrics.VerificationsStarted.WithLabelValues("retry", "not_eligible").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, msgMaxAttemptsReached)
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reference := newReference(userID, now) + retrySuffix

	session, err := s.createSession(ctx, reference, profile)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			metrics.VerificationsStarted.WithLabelValues("retry", "invalid_profile").Inc()
			return nil, err
		}
		metrics.VerificationsStarted.WithLabelValues("retry", "provider_error").Inc()
		s.logger.Warn("Retry provider call failed; previous attempt stays retry_pending",
			util.String("user_id", userID),
			util.String("reference", latest.Reference),
			util.ErrorField(err))
		return nil, err
	}

	next := &models.VerificationRecord{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Reference:           reference,
		ParentReference:     latest.Reference,
		Status:              models.StatusInitiated,
		VerificationURL:     session.VerificationURL,
		LastEvent:           session.Event,
		AttemptCount:        latest.AttemptCount + 1,
		ProviderRawResponse: session.Raw,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	previous := latest.Clone()
	previous.Status = models.StatusDeclined
	previous.SupersededBy = reference
	previous.VerificationURL = ""
	previous.UpdatedAt = now

	if err := s.store.ReplaceActive(ctx, previous, models.StatusRetryPending, next); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrActiveExists) {
			metrics.VerificationsStarted.WithLabelValues("retry", "conflict").Inc()
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("failed to store retry: %w", err)
	}

	s.emit(ctx, previous, models.StatusRetryPending, TriggerSuperseded)
	s.emit(ctx, next, models.StatusNotStarted, TriggerRetry)
	metrics.VerificationsStarted.WithLabelValues("retry", "success").Inc()

	s.logger.Info("Verification retry started",
		util.String("user_id", userID),
		util.String("reference", reference),
		util.String("parent_reference", latest.Reference),
		util.Int("attempt", next.AttemptCount))

	return resultFor(next), nil
}

// HandleWebhook authenticates a provider callback and applies it. The
// returned result is always non-nil; err is one of ErrInvalidSignature,
// ErrInvalidPayload, ErrUnknownReference, ErrInvalidTransition or an
// infrastructure failure the provider should redeliver after. Processing is
// bounded by Options.WebhookTimeout.
func (s *KYCService) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.WebhookTimeout)
	defer cancel()

	receipt := &models.WebhookReceipt{
		ReceivedAt:    s.now(),
		PayloadSHA256: hashing.SHA256Hex(body),
	}
	result := &WebhookResult{}

	defer func() {
		receipt.Reference = result.Reference
		receipt.Event = result.Event
		receipt.Outcome = result.Outcome
		metrics.WebhooksReceived.WithLabelValues(result.Outcome).Inc()
		s.publisher.WebhookReceived(ctx, receipt)
	}()

	if !s.verifier.Verify(body, signature) {
		result.Outcome = models.WebhookInvalidSignature
		if p, err := provider.ParseCallback(body); err == nil {
			result.Reference, result.Event = p.Reference, p.Event
		}
		s.logger.Error("Webhook signature verification failed",
			util.String("reference", result.Reference),
			util.String("payload_sha256", receipt.PayloadSHA256))
		return result, ErrInvalidSignature
	}
	receipt.SignatureValid = true

	payload, err := provider.ParseCallback(body)
	if err != nil || payload.Reference == "" || payload.Event == "" {
		result.Outcome = models.WebhookRejected
		receipt.Detail = "missing reference or event"
		s.logger.Warn("Malformed webhook payload", util.String("payload_sha256", receipt.PayloadSHA256))
		return result, ErrInvalidPayload
	}
	result.Reference, result.Event = payload.Reference, payload.Event

	seen, err := s.deduper.Seen(ctx, receipt.PayloadSHA256)
	if err != nil {
		s.logger.Warn("Webhook dedupe lookup failed", util.String("reference", payload.Reference), util.ErrorField(err))
	}
	if seen {
		result.Outcome = models.WebhookDuplicate
		return result, nil
	}

	trigger, known := TriggerForEvent(payload.Event)
	if !known {
		result.Outcome = models.WebhookNoop
		receipt.Detail = "unrecognized event"
		s.logger.Warn("Ignoring unrecognized webhook event",
			util.String("reference", payload.Reference),
			util.String("event", payload.Event))
		s.markProcessed(ctx, receipt.PayloadSHA256)
		return result, nil
	}

	lock, err := s.acquireWait(ctx, referenceLockKey(payload.Reference))
	if err != nil {
		result.Outcome = models.WebhookFailed
		receipt.Detail = err.Error()
		return result, err
	}
	defer s.release(lock, payload.Reference)

	for attempt := 0; attempt < s.opts.WebhookRetries; attempt++ {
		rec, err := s.store.FindByReference(ctx, payload.Reference)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				result.Outcome = models.WebhookUnknownReference
				s.logger.Error("Webhook for unknown reference",
					util.String("reference", payload.Reference),
					util.String("event", payload.Event))
				return result, fmt.Errorf("%w: %s", ErrUnknownReference, payload.Reference)
			}
			result.Outcome = models.WebhookFailed
			receipt.Detail = err.Error()
			return result, fmt.Errorf("failed to load verification: %w", err)
		}

		err = s.applyEvent(ctx, rec, trigger, payload, body, result)
		if errors.Is(err, repository.ErrStatusConflict) {
			s.logger.Debug("Concurrent status change, re-reading",
				util.String("reference", payload.Reference),
				util.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			receipt.Detail = err.Error()
			return result, err
		}

		s.markProcessed(ctx, receipt.PayloadSHA256)
		return result, nil
	}

	result.Outcome = models.WebhookFailed
	return result, fmt.Errorf("%w: gave up after %d attempts", repository.ErrStatusConflict, s.opts.WebhookRetries)
}

// applyEvent writes one transition with compare-and-set on rec.Status and
// fills result. repository.ErrStatusConflict means rec was stale.
func (s *KYCService) applyEvent(ctx context.Context, rec *models.VerificationRecord, trigger Trigger, payload *provider.CallbackPayload, body []byte, result *WebhookResult) error {
	now := s.now()
	result.Status = rec.Status

	if trigger == TriggerInformational {
		updated := rec.Clone()
		updated.LastEvent = payload.Event
		updated.ProviderRawResponse = string(body)
		updated.UpdatedAt = now
		if err := s.store.Update(ctx, updated, rec.Status); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return err
			}
			result.Outcome = models.WebhookFailed
			return fmt.Errorf("failed to store informational event: %w", err)
		}
		result.Outcome = models.WebhookNoop
		return nil
	}

	var retryEligible, capped bool
	codes := payload.ReasonCodes()
	if trigger == TriggerDeclined {
		eligible := s.classifier.Classify(codes)
		retryEligible = eligible && rec.AttemptCount < s.opts.MaxAttempts
		capped = eligible && !retryEligible
	}

	next, changed, err := NextStatus(rec.Status, trigger, retryEligible)
	if err != nil {
		result.Outcome = models.WebhookRejected
		s.logger.Warn("Rejected out-of-order webhook event",
			util.String("reference", rec.Reference),
			util.String("status", rec.Status.String()),
			util.String("event", payload.Event))
		return err
	}
	if !changed {
		result.Outcome = models.WebhookNoop
		return nil
	}

	updated := rec.Clone()
	updated.Status = next
	updated.LastEvent = payload.Event
	updated.ProviderRawResponse = string(body)
	updated.UpdatedAt = now
	if next == models.StatusPending && updated.SubmittedAt == nil {
		updated.SubmittedAt = &now
	}
	if next != models.StatusPending {
		updated.ReviewedAt = &now
		updated.VerificationURL = ""
	}
	if trigger == TriggerDeclined {
		updated.DeclineReasons = payload.Reasons()
		updated.DeclineCodes = codes
	}

	if err := s.store.Update(ctx, updated, rec.Status); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return err
		}
		result.Outcome = models.WebhookFailed
		return fmt.Errorf("failed to store transition: %w", err)
	}

	result.Outcome = models.WebhookProcessed
	result.Status = next

	s.logger.Info("Verification status changed",
		util.String("reference", rec.Reference),
		util.String("from", rec.Status.String()),
		util.String("to", next.String()),
		util.String("event", payload.Event))

	s.emit(ctx, updated, rec.Status, trigger)
	s.applyUserFlags(ctx, updated, capped)
	return nil
}

func (s *KYCService) applyUserFlags(ctx context.Context, rec *models.VerificationRecord, capped bool) {
	switch rec.Status {
	case models.StatusVerified:
		if err := s.users.SetVerified(ctx, rec.UserID, true, s.now()); err != nil {
			s.logger.Error("Failed to mark user verified", util.String("user_id", rec.UserID), util.ErrorField(err))
		}
	case models.StatusDeclined, models.StatusRetryPending:
		if err := s.users.SetVerified(ctx, rec.UserID, false, s.now()); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("Failed to clear user verification", util.String("user_id", rec.UserID), util.ErrorField(err))
		}
	}

	if capped {
		s.logger.Warn("Retry-eligible decline after final attempt, blocking user",
			util.String("user_id", rec.UserID),
			util.Int("attempts", rec.AttemptCount))
		if err := s.users.SetBlocked(ctx, rec.UserID, true); err != nil {
			s.logger.Error("Failed to block user", util.String("user_id", rec.UserID), util.ErrorField(err))
		}
	}
}

// SyncProfile stores identity claims pushed by the user service.
func (s *KYCService) SyncProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is required", ErrInvalidInput)
	}
	userID, err := normalizeUserID(profile.UserID)
	if err != nil {
		return err
	}

	p := *profile
	p.UserID = userID
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)
	p.Country = strings.ToUpper(strings.TrimSpace(p.Country))
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}

	if err := s.users.UpsertProfile(ctx, &p); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	s.logger.Debug("Profile synced", util.String("user_id", userID))
	return nil
}

// Health checks the store and user directory.
func (s *KYCService) Health(ctx context.Context) error {
	if err := s.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("verification store: %w", err)
	}
	if err := s.users.HealthCheck(ctx); err != nil {
		return fmt.Errorf("user directory: %w", err)
	}
	return nil
}

func (s *KYCService) loadProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile.IsBlocked {
		metrics.VerificationsStarted.WithLabelValues("start", "blocked").Inc()
		return nil, ErrUserBlocked
	}
	return profile, nil
}

func (s *KYCService) createSession(ctx context.Context, reference string, profile *models.UserProfile) (*provider.Session, error) {
	pctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()

	session, err := s.provider.CreateVerification(pctx, reference, profile)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidProfile) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}
	return session, nil
}

// recordRejection persists a terminal error record when the provider saw and
// refused the request. Transport failures and timeouts leave no trace.
func (s *KYCService) recordRejection(ctx context.Context, userID, reference string, cause error) {
	var perr *provider.Error
	if !errors.As(cause, &perr) || !perr.Rejected() {
		s.logger.Warn("Provider unreachable, nothing persisted",
			util.String("user_id", userID),
			util.ErrorField(cause))
		return
	}

	now := s.now()
	rec := &models.VerificationRecord{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Reference:           reference,
		Status:              models.StatusError,
		LastEvent:           "request." + string(perr.Kind),
		AttemptCount:        1,
		ProviderRawResponse: perr.Body,
		ReviewedAt:          &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.logger.Error("Failed to record provider rejection",
			util.String("user_id", userID),
			util.String("reference", reference),
			util.ErrorField(err))
		return
	}
	s.emit(ctx, rec, models.StatusNotStarted, TriggerError)
	s.logger.Error("Provider rejected verification request",
		util.String("user_id", userID),
		util.String("reference", reference),
		util.Int("status_code", perr.StatusCode))
}

func (s *KYCService) emit(ctx context.Context, rec *models.VerificationRecord, from models.KYCStatus, trigger Trigger) {
	metrics.StatusTransitions.WithLabelValues(from.String(), rec.Status.String()).Inc()
	s.publisher.StatusChanged(ctx, &models.StatusChange{
		EventID:        uuid.NewString(),
		VerificationID: rec.ID,
		UserID:         rec.UserID,
		Reference:      rec.Reference,
		From:           from,
		To:             rec.Status,
		Trigger:        string(trigger),
		AttemptCount:   rec.AttemptCount,
		DeclineCodes:   rec.DeclineCodes,
		OccurredAt:     rec.UpdatedAt,
	}, rec.Clone())
}

func (s *KYCService) acquire(ctx context.Context, key string) (repository.Lock, error) {
	lock, err := s.locker.Acquire(ctx, key, s.opts.LockTTL)
	if err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			return nil, fmt.Errorf("%w: operation already in progress", ErrConflict)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return lock, nil
}

// acquireWait polls until the lock is free, LockWait elapses or ctx ends.
func (s *KYCService) acquireWait(ctx context.Context, key string) (repository.Lock, error) {
	deadline := time.NewTimer(s.opts.LockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		lock, err := s.locker.Acquire(ctx, key, s.opts.LockTTL)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, repository.ErrLockHeld) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: timed out waiting for %s", repository.ErrLockHeld, key)
		case <-ticker.C:
		}
	}
}

func (s *KYCService) release(lock repository.Lock, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		s.logger.Warn("Failed to release lock", util.String("owner", owner), util.ErrorField(err))
	}
}

func (s *KYCService) markProcessed(ctx context.Context, digest string) {
	if err := s.deduper.Mark(ctx, digest, s.opts.DedupeTTL); err != nil {
		s.logger.Warn("Failed to record webhook delivery", util.ErrorField(err))
	}
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if !util.IsValidIdentifier(userID) {
		return "", fmt.Errorf("%w: user_id must be 1-64 letters, digits, '_' or '-'", ErrInvalidInput)
	}
	return userID, nil
}

// newReference builds KYC_{user}_{YYYYmmddHHMMSS}_{8 hex}.
func newReference(userID string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("KYC_%s_%s_%s", userID, at.UTC().Format("20060102150405"), suffix)
}

func userLockKey(userID string) string {
	return "user:" + userID
}

func referenceLockKey(reference string) string {
	return "reference:" + reference
}

func resultFor(rec *models.VerificationRecord) *StartResult {
	return &StartResult{
		VerificationID:  rec.ID,
		Reference:       rec.Reference,
		VerificationURL: rec.VerificationURL,
		AttemptCount:    rec.AttemptCount,
	}
}

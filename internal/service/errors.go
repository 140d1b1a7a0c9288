package service

import (
	"errors"

	"kyc-service/internal/config"
	"kyc-service/internal/provider"
)

var (
	ErrConflict          = errors.New("an active verification already exists for this user")
	ErrProvider          = provider.ErrProvider
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrUnknownReference  = errors.New("unknown verification reference")
	ErrNotEligible       = errors.New("not eligible for retry")
	ErrConfiguration     = config.ErrConfiguration
	ErrUserBlocked       = errors.New("user is blocked from verification")
	ErrProfileNotFound   = errors.New("user profile not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidPayload    = errors.New("invalid webhook payload")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	msgNoRetryPending     = "No retry_pending verification found for this user"
	msgMaxAttemptsReached = "Maximum verification attempts reached"
)

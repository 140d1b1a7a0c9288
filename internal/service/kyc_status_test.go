package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-service/internal/models"
)

func TestNextStatusLegalTransitions(t *testing.T) {
	tests := []struct {
		name          string
		from          models.KYCStatus
		trigger       Trigger
		retryEligible bool
		want          models.KYCStatus
	}{
		{"pending event", models.StatusInitiated, TriggerPending, false, models.StatusPending},
		{"accepted", models.StatusPending, TriggerAccepted, false, models.StatusVerified},
		{"declined final", models.StatusPending, TriggerDeclined, false, models.StatusDeclined},
		{"declined retryable", models.StatusPending, TriggerDeclined, true, models.StatusRetryPending},
		{"cancel from initiated", models.StatusInitiated, TriggerCancelled, false, models.StatusCancelled},
		{"cancel from pending", models.StatusPending, TriggerCancelled, false, models.StatusCancelled},
		{"error from initiated", models.StatusInitiated, TriggerError, false, models.StatusError},
		{"error from pending", models.StatusPending, TriggerError, false, models.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed, err := NextStatus(tt.from, tt.trigger, tt.retryEligible)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestNextStatusIsIdempotent(t *testing.T) {
	tests := []struct {
		current models.KYCStatus
		trigger Trigger
	}{
		{models.StatusPending, TriggerPending},
		{models.StatusVerified, TriggerAccepted},
		{models.StatusDeclined, TriggerDeclined},
		{models.StatusRetryPending, TriggerDeclined},
		{models.StatusCancelled, TriggerCancelled},
		{models.StatusError, TriggerError},
	}

	for _, tt := range tests {
		next, changed, err := NextStatus(tt.current, tt.trigger, true)
		require.NoError(t, err)
		assert.False(t, changed, "%s + %s", tt.current, tt.trigger)
		assert.Equal(t, tt.current, next)
	}
}

func TestNextStatusTerminalNeverRegresses(t *testing.T) {
	terminal := []models.KYCStatus{
		models.StatusVerified, models.StatusDeclined, models.StatusCancelled, models.StatusError,
	}
	triggers := []Trigger{TriggerPending, TriggerAccepted, TriggerDeclined, TriggerCancelled, TriggerError}

	for _, status := range terminal {
		for _, trigger := range triggers {
			next, _, err := NextStatus(status, trigger, true)
			require.NoError(t, err, "%s + %s", status, trigger)
			assert.Equal(t, status, next, "%s + %s", status, trigger)
		}
	}
}

func TestNextStatusRejectsSkippedStates(t *testing.T) {
	_, _, err := NextStatus(models.StatusInitiated, TriggerAccepted, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = NextStatus(models.StatusInitiated, TriggerDeclined, true)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = NextStatus(models.StatusPending, TriggerInformational, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTriggerForEvent(t *testing.T) {
	trigger, ok := TriggerForEvent("verification.cancelled")
	assert.True(t, ok)
	assert.Equal(t, TriggerCancelled, trigger)

	trigger, ok = TriggerForEvent("request.received")
	assert.True(t, ok)
	assert.Equal(t, TriggerInformational, trigger)

	_, ok = TriggerForEvent("made.up")
	assert.False(t, ok)
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Verification completed successfully.",
		StatusMessage(&models.VerificationRecord{Status: models.StatusVerified}))
	assert.Equal(t, "Verification was declined. Please try again with valid documents.",
		StatusMessage(&models.VerificationRecord{Status: models.StatusDeclined, DeclineReasons: []string{"expired"}}))
	assert.Contains(t, StatusMessage(nil), "Start a verification")
}

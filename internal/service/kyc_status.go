package service

import (
	"fmt"

	"kyc-service/internal/models"
)

// Trigger is a normalized input to the status machine.
type Trigger string

const (
	TriggerStart         Trigger = "start"
	TriggerRetry         Trigger = "retry"
	TriggerSuperseded    Trigger = "retry.superseded"
	TriggerPending       Trigger = "request.pending"
	TriggerAccepted      Trigger = "verification.accepted"
	TriggerDeclined      Trigger = "verification.declined"
	TriggerCancelled     Trigger = "request.cancelled"
	TriggerError         Trigger = "error"
	TriggerInformational Trigger = "informational"
)

var providerEvents = map[string]Trigger{
	"request.pending":             TriggerPending,
	"verification.accepted":       TriggerAccepted,
	"verification.declined":       TriggerDeclined,
	"request.cancelled":           TriggerCancelled,
	"verification.cancelled":      TriggerCancelled,
	"request.timeout":             TriggerCancelled,
	"request.invalid":             TriggerError,
	"request.unauthorized":        TriggerError,
	"request.received":            TriggerInformational,
	"request.data.changed":        TriggerInformational,
	"verification.status.changed": TriggerInformational,
}

// TriggerForEvent maps a provider event name. Unknown events report false.
func TriggerForEvent(event string) (Trigger, bool) {
	t, ok := providerEvents[event]
	return t, ok
}

type rule struct {
	from     []models.KYCStatus
	outcomes []models.KYCStatus
}

var rules = map[Trigger]rule{
	TriggerPending: {
		from:     []models.KYCStatus{models.StatusInitiated},
		outcomes: []models.KYCStatus{models.StatusPending},
	},
	TriggerAccepted: {
		from:     []models.KYCStatus{models.StatusPending},
		outcomes: []models.KYCStatus{models.StatusVerified},
	},
	TriggerDeclined: {
		from:     []models.KYCStatus{models.StatusPending},
		outcomes: []models.KYCStatus{models.StatusDeclined, models.StatusRetryPending},
	},
	TriggerCancelled: {
		from:     []models.KYCStatus{models.StatusInitiated, models.StatusPending},
		outcomes: []models.KYCStatus{models.StatusCancelled},
	},
	TriggerError: {
		from:     []models.KYCStatus{models.StatusInitiated, models.StatusPending},
		outcomes: []models.KYCStatus{models.StatusError},
	},
}

func rank(s models.KYCStatus) int {
	switch s {
	case models.StatusNotStarted:
		return 0
	case models.StatusInitiated:
		return 1
	case models.StatusPending:
		return 2
	default:
		return 3
	}
}

// NextStatus computes the status a provider trigger moves current to.
// changed is false when the event was already applied or is stale
// (the record has moved past every state the event could apply from).
// retryEligible only matters for TriggerDeclined.
func NextStatus(current models.KYCStatus, trigger Trigger, retryEligible bool) (next models.KYCStatus, changed bool, err error) {
	r, ok := rules[trigger]
	if !ok {
		return current, false, fmt.Errorf("%w: trigger %q is not a provider verdict", ErrInvalidTransition, trigger)
	}

	if contains(r.outcomes, current) {
		return current, false, nil
	}

	if contains(r.from, current) {
		if trigger == TriggerDeclined && retryEligible {
			return models.StatusRetryPending, true, nil
		}
		return r.outcomes[0], true, nil
	}

	maxFrom := 0
	for _, s := range r.from {
		if rank(s) > maxFrom {
			maxFrom = rank(s)
		}
	}
	if rank(current) > maxFrom {
		return current, false, nil
	}

	return current, false, fmt.Errorf("%w: %s cannot apply to %s", ErrInvalidTransition, trigger, current)
}

func contains(list []models.KYCStatus, s models.KYCStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// StatusMessage is the human-readable text shown next to a status.
func StatusMessage(rec *models.VerificationRecord) string {
	if rec == nil {
		return "No verification found. Start a verification to continue."
	}
	switch rec.Status {
	case models.StatusVerified:
		return "Verification completed successfully."
	case models.StatusInitiated:
		return "Verification initiated. Please complete the verification process."
	case models.StatusPending:
		return "Verification is being processed. Please wait."
	case models.StatusCancelled:
		return "Verification was cancelled."
	case models.StatusError:
		return "An error occurred during verification."
	case models.StatusRetryPending:
		return "Verification was declined due to document or image quality. You can retry the verification."
	case models.StatusDeclined:
		if len(rec.DeclineReasons) > 0 || len(rec.DeclineCodes) > 0 {
			return "Verification was declined. Please try again with valid documents."
		}
		return "Verification was declined. Please contact support."
	default:
		return "Unknown verification status."
	}
}

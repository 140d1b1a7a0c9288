package models

import "time"

// KYCStatus is the wire value of a verification lifecycle state.
type KYCStatus string

const (
	StatusNotStarted   KYCStatus = "not_started"
	StatusInitiated    KYCStatus = "initiated"
	StatusPending      KYCStatus = "pending"
	StatusVerified     KYCStatus = "verified"
	StatusDeclined     KYCStatus = "declined"
	StatusRetryPending KYCStatus = "retry_pending"
	StatusCancelled    KYCStatus = "cancelled"
	StatusError        KYCStatus = "error"
)

// IsTerminal reports whether no further provider event can move the record.
func (s KYCStatus) IsTerminal() bool {
	switch s {
	case StatusVerified, StatusDeclined, StatusCancelled, StatusError:
		return true
	}
	return false
}

// IsActive reports the statuses that occupy a user's single active slot.
func (s KYCStatus) IsActive() bool {
	switch s {
	case StatusInitiated, StatusPending, StatusRetryPending:
		return true
	}
	return false
}

func (s KYCStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInitiated, StatusPending, StatusVerified,
		StatusDeclined, StatusRetryPending, StatusCancelled, StatusError:
		return true
	}
	return false
}

func (s KYCStatus) String() string {
	return string(s)
}

// VerificationRecord is one attempt at verifying a user with the provider.
// Records are never deleted; a retry supersedes its predecessor.
type VerificationRecord struct {
	ID                  string     `json:"id" db:"verification_id"`
	UserID              string     `json:"user_id" db:"user_id"`
	Reference           string     `json:"reference" db:"reference"`
	ParentReference     string     `json:"parent_reference,omitempty" db:"parent_reference"`
	SupersededBy        string     `json:"superseded_by,omitempty" db:"superseded_by"`
	Status              KYCStatus  `json:"status" db:"status"`
	VerificationURL     string     `json:"verification_url,omitempty" db:"verification_url"`
	DeclineReasons      []string   `json:"decline_reasons,omitempty" db:"decline_reasons"`
	DeclineCodes        []string   `json:"decline_codes,omitempty" db:"decline_codes"`
	LastEvent           string     `json:"last_event,omitempty" db:"last_event"`
	AttemptCount        int        `json:"attempt_count" db:"attempt_count"`
	ProviderRawResponse string     `json:"-" db:"provider_raw_response"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty" db:"submitted_at"`
	ReviewedAt          *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// IsCompleted is true once the provider has issued a verdict.
func (r *VerificationRecord) IsCompleted() bool {
	return r.ReviewedAt != nil
}

// Clone returns a deep copy so stores never share slices with callers.
func (r *VerificationRecord) Clone() *VerificationRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.DeclineReasons != nil {
		c.DeclineReasons = append([]string(nil), r.DeclineReasons...)
	}
	if r.DeclineCodes != nil {
		c.DeclineCodes = append([]string(nil), r.DeclineCodes...)
	}
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		c.SubmittedAt = &t
	}
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}

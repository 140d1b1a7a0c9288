package models

import "time"

// UserProfile carries the identity claims sent to the provider and the
// verification flags derived from verdicts.
type UserProfile struct {
	UserBucket int        `json:"-" db:"user_bucket"`
	UserID     string     `json:"user_id" db:"user_id"`
	FirstName  string     `json:"first_name" db:"first_name"`
	LastName   string     `json:"last_name" db:"last_name"`
	Email      string     `json:"email" db:"email"`
	Country    string     `json:"country" db:"country"`
	IsVerified bool       `json:"is_verified" db:"is_verified"`
	IsBlocked  bool       `json:"is_blocked" db:"is_blocked"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

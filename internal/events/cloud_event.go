package events

import (
	"encoding/json"
	"time"
)

// CloudEvent is the CloudEvents v1.0 envelope used on every topic.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	ID              string          `json:"id"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

const (
	CloudEventSpecVersion     = "1.0"
	CloudEventDataContentType = "application/json"
	CloudEventSource          = "/kyc-service"

	EventTypeStatusChanged  = "com.kyc.verification.status_changed"
	EventTypeProfileUpdated = "com.user.profile.updated"
)

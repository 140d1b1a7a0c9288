package provider

import (
	"encoding/json"
	"strings"
)

// verificationRequest is the body of the provider's create-verification call.
type verificationRequest struct {
	Reference        string          `json:"reference"`
	CallbackURL      string          `json:"callback_url"`
	Email            string          `json:"email"`
	Country          string          `json:"country"`
	Language         string          `json:"language"`
	VerificationMode string          `json:"verification_mode"`
	TTL              int             `json:"ttl"`
	ShowResults      string          `json:"show_results"`
	AllowOnline      string          `json:"allow_online"`
	AllowOffline     string          `json:"allow_offline"`
	AllowRetry       string          `json:"allow_retry"`
	Document         documentRequest `json:"document"`
	Face             faceRequest     `json:"face"`
}

type documentRequest struct {
	SupportedTypes []string    `json:"supported_types"`
	Name           nameRequest `json:"name"`
}

type nameRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type faceRequest struct{}

type verificationResponse struct {
	Reference       string          `json:"reference"`
	Event           string          `json:"event"`
	VerificationURL string          `json:"verification_url"`
	Error           json.RawMessage `json:"error,omitempty"`
}

// Session is a provider session created for one reference.
type Session struct {
	Reference       string
	Event           string
	VerificationURL string
	Raw             string
}

// CallbackPayload is the subset of a webhook body the workflow reads.
type CallbackPayload struct {
	Reference          string          `json:"reference"`
	Event              string          `json:"event"`
	DeclinedReason     string          `json:"declined_reason,omitempty"`
	DeclinedCodes      []string        `json:"declined_codes,omitempty"`
	VerificationStatus json.RawMessage `json:"verification_status,omitempty"`
	VerificationResult json.RawMessage `json:"verification_result,omitempty"`
	VerificationData   json.RawMessage `json:"verification_data,omitempty"`
}

// ParseCallback decodes a webhook body.
func ParseCallback(body []byte) (*CallbackPayload, error) {
	var p CallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	p.Reference = strings.TrimSpace(p.Reference)
	p.Event = strings.TrimSpace(p.Event)
	return &p, nil
}

// ReasonCodes returns the codes to classify: the code list when present,
// otherwise the free-text reason as a single code.
func (p *CallbackPayload) ReasonCodes() []string {
	var codes []string
	for _, c := range p.DeclinedCodes {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if len(codes) == 0 && strings.TrimSpace(p.DeclinedReason) != "" {
		codes = append(codes, strings.TrimSpace(p.DeclinedReason))
	}
	return codes
}

// Reasons returns the decline text for the record, falling back to the codes.
func (p *CallbackPayload) Reasons() []string {
	if r := strings.TrimSpace(p.DeclinedReason); r != "" {
		return []string{r}
	}
	if len(p.DeclinedCodes) > 0 {
		return p.ReasonCodes()
	}
	return nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/metrics"
	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

const maxResponseBytes = 1 << 20

// ShuftiClient creates verification sessions with Shufti Pro.
type ShuftiClient struct {
	cfg        config.KYCConfig
	httpClient *http.Client
	testMode   bool
	countries  map[string]struct{}
	logger     *zap.Logger
}

// NewShuftiClient builds a client. In development a client id containing
// "test" switches to a local mock that never leaves the process.
func NewShuftiClient(cfg *config.Config, httpClient *http.Client) *ShuftiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.KYC.WebhookTimeout}
	}

	countries := make(map[string]struct{}, len(cfg.KYC.SupportedCountries))
	for _, c := range cfg.KYC.SupportedCountries {
		countries[strings.ToUpper(c)] = struct{}{}
	}

	c := &ShuftiClient{
		cfg:        cfg.KYC,
		httpClient: httpClient,
		testMode:   cfg.IsDevelopment() && strings.Contains(strings.ToLower(cfg.KYC.ClientID), "test"),
		countries:  countries,
		logger:     util.Get(),
	}
	if c.testMode {
		c.logger.Warn("Shufti client running in test mode - no requests reach the provider")
	}
	return c
}

// CreateVerification opens a provider session for reference.
func (c *ShuftiClient) CreateVerification(ctx context.Context, reference string, profile *models.UserProfile) (*Session, error) {
	if err := c.validateProfile(profile); err != nil {
		return nil, err
	}

	if c.testMode {
		return c.mockSession(reference), nil
	}

	payload := verificationRequest{
		Reference:        reference,
		CallbackURL:      c.cfg.CallbackURL,
		Email:            profile.Email,
		Country:          strings.ToUpper(profile.Country),
		Language:         c.cfg.Language,
		VerificationMode: "any",
		TTL:              int(c.cfg.VerificationTTL / time.Second),
		ShowResults:      "1",
		AllowOnline:      "1",
		AllowOffline:     "1",
		AllowRetry:       "1",
		Document: documentRequest{
			SupportedTypes: c.cfg.DocumentTypes,
			Name: nameRequest{
				FirstName: profile.FirstName,
				LastName:  profile.LastName,
			},
		},
		Face: faceRequest{},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "failed to build request", Err: err}
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := KindTransport
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = KindTimeout
		}
		metrics.ObserveProviderRequest(string(kind), time.Since(start))
		c.logger.Error("Provider request failed",
			zap.String("reference", reference),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, &Error{Kind: kind, Message: "request did not complete", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveProviderRequest(string(KindTransport), time.Since(start))
		return nil, &Error{Kind: KindTransport, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveProviderRequest(string(KindHTTP), time.Since(start))
		c.logger.Error("Provider rejected verification request",
			zap.String("reference", reference),
			zap.Int("status_code", resp.StatusCode))
		return nil, &Error{
			Kind:       KindHTTP,
			StatusCode: resp.StatusCode,
			Message:    messageForStatus(resp.StatusCode),
			Body:       string(raw),
		}
	}

	var parsed verificationResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		metrics.ObserveProviderRequest(string(KindInvalidResponse), time.Since(start))
		return nil, &Error{Kind: KindInvalidResponse, Message: "response is not valid JSON", Body: string(raw), Err: err}
	}
	if hasError(parsed.Error) || parsed.VerificationURL == "" {
		metrics.ObserveProviderRequest(string(KindInvalidResponse), time.Since(start))
		c.logger.Error("Provider response has no verification url",
			zap.String("reference", reference),
			zap.String("event", parsed.Event))
		return nil, &Error{Kind: KindInvalidResponse, Message: "response missing verification_url", Body: string(raw)}
	}

	metrics.ObserveProviderRequest("ok", time.Since(start))
	c.logger.Info("Provider session created",
		zap.String("reference", reference),
		zap.String("event", parsed.Event),
		zap.Duration("duration", time.Since(start)))

	return &Session{
		Reference:       reference,
		Event:           parsed.Event,
		VerificationURL: parsed.VerificationURL,
		Raw:             string(raw),
	}, nil
}

func (c *ShuftiClient) validateProfile(p *models.UserProfile) error {
	if p == nil {
		return fmt.Errorf("%w: profile is missing", ErrInvalidProfile)
	}
	var missing []string
	if strings.TrimSpace(p.FirstName) == "" {
		missing = append(missing, "first_name")
	}
	if strings.TrimSpace(p.LastName) == "" {
		missing = append(missing, "last_name")
	}
	if strings.TrimSpace(p.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(p.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProfile, strings.Join(missing, ", "))
	}
	if len(c.countries) > 0 {
		if _, ok := c.countries[strings.ToUpper(p.Country)]; !ok {
			return fmt.Errorf("%w: country %s is not supported", ErrInvalidProfile, p.Country)
		}
	}
	return nil
}

func (c *ShuftiClient) mockSession(reference string) *Session {
	url := "https://shuftipro.com/process/" + reference
	raw, _ := json.Marshal(verificationResponse{
		Reference:       reference,
		Event:           "request.pending",
		VerificationURL: url,
	})
	return &Session{
		Reference:       reference,
		Event:           "request.pending",
		VerificationURL: url,
		Raw:             string(raw),
	}
}

func hasError(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != `""` && s != "{}" && s != "[]"
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-service/internal/config"
	"kyc-service/internal/models"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Environment: config.EnvProduction,
		KYC: config.KYCConfig{
			ClientID:           "client-id",
			SecretKey:          "secret",
			BaseURL:            baseURL,
			CallbackURL:        "https://kyc.example.com/kyc/webhook",
			VerificationTTL:    time.Hour,
			WebhookTimeout:     2 * time.Second,
			MaxAttempts:        3,
			Language:           "EN",
			SupportedCountries: []string{"US", "GB"},
			DocumentTypes:      []string{"passport", "id_card", "driving_license"},
		},
	}
}

func testProfile() *models.UserProfile {
	return &models.UserProfile{
		UserID:    "u1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Country:   "gb",
	}
}

func TestCreateVerificationSuccess(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reference":"REF1","event":"request.pending","verification_url":"https://app.shuftipro.com/verification/process/abc"}`))
	}))
	defer srv.Close()

	c := NewShuftiClient(testConfig(srv.URL), srv.Client())
	session, err := c.CreateVerification(context.Background(), "REF1", testProfile())
	require.NoError(t, err)

	assert.Equal(t, "https://app.shuftipro.com/verification/process/abc", session.VerificationURL)
	assert.Equal(t, "request.pending", session.Event)
	assert.Contains(t, session.Raw, "verification_url")

	assert.Equal(t, "REF1", got["reference"])
	assert.Equal(t, "GB", got["country"])
	assert.Equal(t, "https://kyc.example.com/kyc/webhook", got["callback_url"])
	assert.Equal(t, float64(3600), got["ttl"])
	assert.Equal(t, "1", got["allow_retry"])
	doc := got["document"].(map[string]interface{})
	assert.Equal(t, []interface{}{"passport", "id_card", "driving_license"}, doc["supported_types"])
	assert.Equal(t, "Ada", doc["name"].(map[string]interface{})["first_name"])
}

func TestCreateVerificationHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Authorization keys are missing/invalid"}}`))
	}))
	defer srv.Close()

	_, err := NewShuftiClient(testConfig(srv.URL), srv.Client()).CreateVerification(context.Background(), "REF1", testProfile())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindHTTP, perr.Kind)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.True(t, perr.Rejected())
	assert.Contains(t, perr.Error(), "Unauthorized")
}

func TestCreateVerificationTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewShuftiClient(testConfig(srv.URL), srv.Client()).CreateVerification(ctx, "REF1", testProfile())
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindTimeout, perr.Kind)
	assert.False(t, perr.Rejected())
}

func TestCreateVerificationTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewShuftiClient(testConfig(url), nil).CreateVerification(context.Background(), "REF1", testProfile())
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindTransport, perr.Kind)
	assert.False(t, perr.Rejected())
}

func TestCreateVerificationMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reference":"REF1","event":"request.invalid","error":{"service":"document","message":"bad"}}`))
	}))
	defer srv.Close()

	_, err := NewShuftiClient(testConfig(srv.URL), srv.Client()).CreateVerification(context.Background(), "REF1", testProfile())
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindInvalidResponse, perr.Kind)
	assert.True(t, perr.Rejected())
}

func TestCreateVerificationValidatesProfile(t *testing.T) {
	c := NewShuftiClient(testConfig("http://unused.invalid"), nil)

	p := testProfile()
	p.Email = ""
	p.LastName = " "
	_, err := c.CreateVerification(context.Background(), "REF1", p)
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.NotErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "last_name, email")

	p = testProfile()
	p.Country = "KP"
	_, err = c.CreateVerification(context.Background(), "REF1", p)
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestCreateVerificationTestMode(t *testing.T) {
	cfg := testConfig("http://unused.invalid")
	cfg.Environment = config.EnvDevelopment
	cfg.KYC.ClientID = "my-TEST-client"

	session, err := NewShuftiClient(cfg, nil).CreateVerification(context.Background(), "REF9", testProfile())
	require.NoError(t, err)
	assert.Equal(t, "https://shuftipro.com/process/REF9", session.VerificationURL)

	cfg.Environment = config.EnvProduction
	_, err = NewShuftiClient(cfg, nil).CreateVerification(context.Background(), "REF9", testProfile())
	assert.ErrorIs(t, err, ErrProvider, "test mode is development only")
}

func TestCallbackPayload(t *testing.T) {
	p, err := ParseCallback([]byte(`{"reference":" REF1 ","event":"verification.declined","declined_reason":"Photocopy detected","declined_codes":["SPDR04"," "]}`))
	require.NoError(t, err)
	assert.Equal(t, "REF1", p.Reference)
	assert.Equal(t, []string{"SPDR04"}, p.ReasonCodes())
	assert.Equal(t, []string{"Photocopy detected"}, p.Reasons())

	p, err = ParseCallback([]byte(`{"reference":"REF1","event":"verification.declined","declined_reason":"photocopy"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"photocopy"}, p.ReasonCodes())

	p, _ = ParseCallback([]byte(`{"reference":"REF1","event":"verification.declined","declined_codes":["SPDR08"]}`))
	assert.Equal(t, []string{"SPDR08"}, p.Reasons())

	_, err = ParseCallback([]byte(`not json`))
	assert.Error(t, err)
}

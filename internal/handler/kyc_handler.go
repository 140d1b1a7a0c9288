package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kyc-service/internal/events"
	"kyc-service/internal/models"
	"kyc-service/internal/service"
	"kyc-service/internal/util"
)

const maxWebhookBytes = 1 << 20

// signatureHeaders are checked in order; the provider has used all three.
var signatureHeaders = []string{"Signature", "Sp_signature", "X-Signature"}

// KYCWorkflow is the service surface the handler drives.
type KYCWorkflow interface {
	StartVerification(ctx context.Context, userID string) (*service.StartResult, error)
	GetStatus(ctx context.Context, userID string) (*models.VerificationRecord, error)
	History(ctx context.Context, userID string) ([]*models.VerificationRecord, error)
	RetryVerification(ctx context.Context, userID string) (*service.StartResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (*service.WebhookResult, error)
	SyncProfile(ctx context.Context, profile *models.UserProfile) error
	MaxAttempts() int
}

// VerificationSearcher backs the operator search endpoint.
type VerificationSearcher interface {
	Search(ctx context.Context, filter events.SearchFilter) ([]events.VerificationDocument, int, error)
}

// RateLimiter throttles start and retry per user.
type RateLimiter interface {
	Allow(ctx context.Context, action, userID string) (bool, error)
}

// KYCHandler serves the /kyc routes.
type KYCHandler struct {
	kyc         KYCWorkflow
	searcher    VerificationSearcher
	limiter     RateLimiter
	validate    *validator.Validate
	environment string
	logger      *zap.Logger
}

// NewKYCHandler wires the handler. searcher and limiter may be nil.
func NewKYCHandler(kyc KYCWorkflow, searcher VerificationSearcher, limiter RateLimiter, environment string, logger *zap.Logger) *KYCHandler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &KYCHandler{
		kyc:         kyc,
		searcher:    searcher,
		limiter:     limiter,
		validate:    v,
		environment: environment,
		logger:      logger,
	}
}

// Response is the envelope for errors and supplementary endpoints.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

type Meta struct {
	Total    int `json:"total,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type StartRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

type StartResponse struct {
	VerificationID  string `json:"verification_id"`
	Reference       string `json:"reference"`
	VerificationURL string `json:"verification_url"`
	AttemptCount    int    `json:"attempt_count"`
	Message         string `json:"message"`
}

type StatusResponse struct {
	VerificationID  string     `json:"verification_id,omitempty"`
	Reference       string     `json:"reference,omitempty"`
	Status          string     `json:"status"`
	SubmittedAt     *time.Time `json:"submitted_at"`
	ReviewedAt      *time.Time `json:"reviewed_at"`
	IsCompleted     bool       `json:"is_completed"`
	VerificationURL string     `json:"verification_url,omitempty"`
	DeclineReasons  []string   `json:"decline_reasons,omitempty"`
	AttemptCount    int        `json:"attempt_count"`
	CanRetry        bool       `json:"can_retry"`
	Message         string     `json:"message"`
}

type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ProfileRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Country   string `json:"country" validate:"required,len=2,alpha"`
}

// RegisterRoutes mounts the KYC routes on router.
func (h *KYCHandler) RegisterRoutes(router chi.Router) {
	router.Route("/kyc", func(r chi.Router) {
		r.Post("/start", h.StartVerification)
		r.Get("/status/{user_id}", h.GetStatus)
		r.Post("/retry/{user_id}", h.RetryVerification)
		r.Post("/webhook", h.Webhook)
		r.Get("/health", h.Health)

		r.Put("/profiles/{user_id}", h.UpsertProfile)
		r.Get("/history/{user_id}", h.History)
		r.Get("/verifications", h.SearchVerifications)
	})
}

// StartVerification handles POST /kyc/start.
func (h *KYCHandler) StartVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req StartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, validationError(err), "Invalid request body")
		return
	}
	if !h.allow(w, r, "start", req.UserID) {
		return
	}

	result, err := h.kyc.StartVerification(ctx, req.UserID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to start verification")
		return
	}

	h.respondWithJSON(w, http.StatusOK, StartResponse{
		VerificationID:  result.VerificationID,
		Reference:       result.Reference,
		VerificationURL: result.VerificationURL,
		AttemptCount:    result.AttemptCount,
		Message:         "Verification started. Complete the process at the verification URL.",
	})
}

// GetStatus handles GET /kyc/status/{user_id}.
func (h *KYCHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := h.kyc.GetStatus(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get verification status")
		return
	}

	if rec == nil {
		h.respondWithJSON(w, http.StatusOK, StatusResponse{
			Status:  models.StatusNotStarted.String(),
			Message: service.StatusMessage(nil),
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, StatusResponse{
		VerificationID:  rec.ID,
		Reference:       rec.Reference,
		Status:          rec.Status.String(),
		SubmittedAt:     rec.SubmittedAt,
		ReviewedAt:      rec.ReviewedAt,
		IsCompleted:     rec.IsCompleted(),
		VerificationURL: rec.VerificationURL,
		DeclineReasons:  rec.DeclineReasons,
		AttemptCount:    rec.AttemptCount,
		CanRetry:        rec.Status == models.StatusRetryPending && rec.AttemptCount < h.kyc.MaxAttempts(),
		Message:         service.StatusMessage(rec),
	})
}

// RetryVerification handles POST /kyc/retry/{user_id}.
func (h *KYCHandler) RetryVerification(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if !h.allow(w, r, "retry", userID) {
		return
	}

	result, err := h.kyc.RetryVerification(r.Context(), userID)
	if err != nil {
		message := "Failed to retry verification"
		if errors.Is(err, service.ErrNotEligible) {
			message = strings.TrimPrefix(err.Error(), service.ErrNotEligible.Error()+": ")
		}
		h.respondWithError(w, h.getStatusCode(err), err, message)
		return
	}

	h.respondWithJSON(w, http.StatusOK, StartResponse{
		VerificationID:  result.VerificationID,
		Reference:       result.Reference,
		VerificationURL: result.VerificationURL,
		AttemptCount:    result.AttemptCount,
		Message:         "Verification retry started. Complete the process at the verification URL.",
	})
}

// Webhook handles POST /kyc/webhook. Everything the provider cannot fix by
// redelivering is acknowledged with 200.
func (h *KYCHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Failed to read webhook body")
		return
	}

	result, err := h.kyc.HandleWebhook(r.Context(), body, signatureFrom(r))
	switch {
	case err == nil:
		message := "Webhook processed"
		if result.Outcome == models.WebhookDuplicate {
			message = "Webhook already processed"
		} else if result.Outcome == models.WebhookNoop {
			message = "No status change"
		}
		h.respondWithJSON(w, http.StatusOK, WebhookResponse{Status: "success", Message: message})

	case errors.Is(err, service.ErrInvalidSignature):
		h.logger.Warn("Rejected webhook with invalid signature",
			util.String("reference", result.Reference),
			util.String("remote_addr", r.RemoteAddr))
		h.respondWithJSON(w, http.StatusOK, WebhookResponse{Status: "error", Message: "Invalid signature"})

	case errors.Is(err, service.ErrUnknownReference):
		h.respondWithJSON(w, http.StatusOK, WebhookResponse{Status: "error", Message: "Verification not found"})

	case errors.Is(err, service.ErrInvalidPayload):
		h.respondWithJSON(w, http.StatusOK, WebhookResponse{Status: "error", Message: "Invalid payload"})

	case errors.Is(err, service.ErrInvalidTransition):
		h.respondWithJSON(w, http.StatusOK, WebhookResponse{Status: "ignored", Message: "Event not applicable to current status"})

	default:
		h.logger.Error("Webhook processing failed",
			util.String("reference", result.Reference),
			util.ErrorField(err))
		h.respondWithJSON(w, http.StatusInternalServerError, WebhookResponse{Status: "error", Message: "Internal error"})
	}
}

// Health handles GET /kyc/health.
func (h *KYCHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"environment": h.environment,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// UpsertProfile handles PUT /kyc/profiles/{user_id}.
func (h *KYCHandler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16384)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, validationError(err), "Invalid request body")
		return
	}

	profile := &models.UserProfile{
		UserID:    chi.URLParam(r, "user_id"),
		FirstName: util.SanitizeInput(req.FirstName),
		LastName:  util.SanitizeInput(req.LastName),
		Email:     req.Email,
		Country:   req.Country,
	}
	if err := h.kyc.SyncProfile(r.Context(), profile); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to store profile")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Profile stored"))
}

// History handles GET /kyc/history/{user_id}.
func (h *KYCHandler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.kyc.History(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list verifications")
		return
	}

	resp := successResponse(records, "")
	resp.Meta = &Meta{Total: len(records)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// SearchVerifications handles GET /kyc/verifications.
func (h *KYCHandler) SearchVerifications(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errors.New("search backend not configured"), "Search unavailable")
		return
	}

	q := r.URL.Query()
	filter := events.SearchFilter{
		Status: strings.TrimSpace(q.Get("status")),
		UserID: strings.TrimSpace(q.Get("user_id")),
	}
	if filter.Status != "" && !models.KYCStatus(filter.Status).Valid() {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: unknown status %q", service.ErrInvalidInput, filter.Status), "Invalid status filter")
		return
	}
	if size := q.Get("size"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil || n <= 0 {
			h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: size must be a positive integer", service.ErrInvalidInput), "Invalid size")
			return
		}
		filter.Size = n
	}

	docs, total, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err, "Search failed")
		return
	}

	resp := successResponse(docs, "")
	resp.Meta = &Meta{Total: total, PageSize: len(docs)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *KYCHandler) allow(w http.ResponseWriter, r *http.Request, action, userID string) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(r.Context(), action, userID)
	if err != nil {
		h.logger.Warn("Rate limiter unavailable, allowing request", util.String("action", action), util.ErrorField(err))
		return true
	}
	if !ok {
		h.respondWithError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"), "Too many requests, try again later")
		return false
	}
	return true
}

func signatureFrom(r *http.Request) string {
	for _, name := range signatureHeaders {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", service.ErrInvalidInput, strings.Join(fields, ", "))
}

func (h *KYCHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError hides internal error text behind a generic message for 5xx.
func (h *KYCHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	if statusCode >= http.StatusInternalServerError {
		err = errors.New(http.StatusText(statusCode))
	}
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *KYCHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotEligible), errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUserBlocked):
		return http.StatusForbidden
	case errors.Is(err, service.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

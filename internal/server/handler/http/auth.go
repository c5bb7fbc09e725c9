// Package http provides the sandbox HTTP handlers for authentication, push
// and administration.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carthagofood/carthago/internal/apperr"
	"github.com/carthagofood/carthago/internal/middleware"
	"github.com/carthagofood/carthago/internal/models"
	"github.com/carthagofood/carthago/internal/service"
)

// AuthService defines the account operations required by the HTTP
// handlers.
type AuthService interface {
	Register(ctx context.Context, p models.RegisterProfile, role models.Role) (*models.AuthResponse, error)
	Login(ctx context.Context, creds models.LoginCredentials, role models.Role) (*models.AuthResponse, error)
	RequestOTP(ctx context.Context, phone string) error
	VerifyOTP(ctx context.Context, phone, code string, role models.Role) (*models.AuthResponse, error)
	UpdateProfile(ctx context.Context, userID string, update models.ProfileUpdate) (*models.Identity, error)
	Approve(ctx context.Context, userID string) (*models.Identity, error)
}

// AuthHandler handles the /auth endpoints.
type AuthHandler struct {
	// AuthService performs the underlying account operations.
	AuthService AuthService
}

// LoginRequest is the JSON payload of POST /auth/login.
type LoginRequest struct {
	models.LoginCredentials
	Role models.Role `json:"role"`
}

// RegisterRequest is the JSON payload of POST /auth/register.
type RegisterRequest struct {
	models.RegisterProfile
	Role models.Role `json:"role"`
}

// OTPRequest is the JSON payload of POST /auth/sms/request-otp.
type OTPRequest struct {
	Phone string `json:"phone"`
}

// VerifyOTPRequest is the JSON payload of POST /auth/sms/verify-otp.
type VerifyOTPRequest struct {
	Phone string      `json:"phone"`
	OTP   string      `json:"otp"`
	Role  models.Role `json:"role"`
}

// Register creates an account. Restaurant and rider accounts are answered
// without a token until approved.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	resp, err := h.AuthService.Register(r.Context(), req.RegisterProfile, req.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Login exchanges email or phone plus password for a credential.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	resp, err := h.AuthService.Login(r.Context(), req.LoginCredentials, req.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RequestOTP issues a one-time code for a phone.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.AuthService.RequestOTP(r.Context(), req.Phone); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

// VerifyOTP signs in with a one-time code.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	resp, err := h.AuthService.VerifyOTP(r.Context(), req.Phone, req.OTP, req.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateProfile merges the payload into the caller's account. It must run
// behind BearerAuth.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.AuthService.UpdateProfile(r.Context(), middleware.GetUserIDFromContext(r.Context()), update)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{User: user})
}

// errorBody is the JSON error payload.
type errorBody struct {
	Error  string              `json:"error"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeServiceError maps service failures onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	if ae := apperr.As(err); ae != nil && ae.Kind == apperr.KindValidation {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ae.Message, Fields: ae.Fields})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, service.ErrInvalidOTP):
		writeError(w, http.StatusUnauthorized, "Invalid or expired code")
	case errors.Is(err, service.ErrNotApproved):
		writeError(w, http.StatusForbidden, "Account awaiting approval")
	case errors.Is(err, service.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Account already exists")
	case errors.Is(err, service.ErrTooManyRequests):
		writeError(w, http.StatusTooManyRequests, "Too many code requests, try again later")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "Account not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

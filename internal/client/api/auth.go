package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/carthagofood/carthago/internal/apperr"
	"github.com/carthagofood/carthago/internal/models"
)

const (
	pathLogin      = "/auth/login"
	pathRegister   = "/auth/register"
	pathRequestOTP = "/auth/sms/request-otp"
	pathVerifyOTP  = "/auth/sms/verify-otp"
	pathProfile    = "/auth/profile"
)

var errMissingUser = errors.New("response has no user")

type loginRequest struct {
	models.LoginCredentials
	Role models.Role `json:"role"`
}

type registerRequest struct {
	models.RegisterProfile
	Role models.Role `json:"role"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type verifyOTPRequest struct {
	Phone string      `json:"phone"`
	OTP   string      `json:"otp"`
	Role  models.Role `json:"role"`
}

// Login exchanges email or phone plus password for an identity and credential.
func (c *Client) Login(ctx context.Context, creds models.LoginCredentials, role models.Role) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, http.MethodPost, pathLogin, loginRequest{creds, role}, &resp, true); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, apperr.Transport("invalid response", errMissingUser)
	}
	return &resp, nil
}

// Register creates an account. The returned token is empty for accounts that
// wait for approval.
func (c *Client) Register(ctx context.Context, profile models.RegisterProfile, role models.Role) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, http.MethodPost, pathRegister, registerRequest{profile, role}, &resp, true); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, apperr.Transport("invalid response", errMissingUser)
	}
	return &resp, nil
}

// RequestOTP asks the collaborator to text a one-time code to phone.
func (c *Client) RequestOTP(ctx context.Context, phone string) error {
	return c.do(ctx, http.MethodPost, pathRequestOTP, phoneRequest{Phone: phone}, nil, true)
}

// VerifyOTP exchanges a one-time code for an identity and credential.
func (c *Client) VerifyOTP(ctx context.Context, phone, otp string, role models.Role) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	req := verifyOTPRequest{Phone: phone, OTP: otp, Role: role}
	if err := c.do(ctx, http.MethodPost, pathVerifyOTP, req, &resp, true); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, apperr.Transport("invalid response", errMissingUser)
	}
	return &resp, nil
}

// UpdateProfile merges fields into the current identity and returns the
// authoritative result.
func (c *Client) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (*models.Identity, error) {
	var resp models.AuthResponse
	if err := c.Do(ctx, http.MethodPut, pathProfile, update, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, apperr.Transport("invalid response", errMissingUser)
	}
	return resp.User, nil
}

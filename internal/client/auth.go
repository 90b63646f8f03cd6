package client

import (
	"context"
	"net/http"

	"github.com/noah-isme/patra-api/internal/models"
)

// Login exchanges email and password for a desk credential.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	body, err := jsonBody(models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	var resp models.LoginResponse
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/auth/login", body: body, contentType: "application/json"}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the current credential on the gateway.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, request{method: http.MethodPost, path: "/auth/logout", auth: true}, nil)
	return err
}

// VerifyIdentity asks the gateway whether credential is still honoured.
func (c *Client) VerifyIdentity(ctx context.Context, credential string) (*models.VerifyIdentityResponse, error) {
	body, err := jsonBody(models.VerifyIdentityRequest{Credential: credential})
	if err != nil {
		return nil, err
	}
	var resp models.VerifyIdentityResponse
	req := request{method: http.MethodPost, path: "/auth/verify-identity", body: body, contentType: "application/json", credential: credential}
	if _, err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ForgotPassword requests a reset code for email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	body, err := jsonBody(models.ForgotPasswordRequest{Email: email})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, request{method: http.MethodPost, path: "/auth/forgot-password", body: body, contentType: "application/json"}, nil)
	return err
}

// VerifyOTP checks a reset code without consuming it.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) error {
	body, err := jsonBody(models.VerifyOTPRequest{Email: email, Code: code})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, request{method: http.MethodPost, path: "/auth/verify-otp", body: body, contentType: "application/json"}, nil)
	return err
}

// ResetPassword sets a new password using a reset code.
func (c *Client) ResetPassword(ctx context.Context, email, code, password string) error {
	body, err := jsonBody(models.ResetPasswordRequest{Email: email, Code: code, NewPassword: password})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, request{method: http.MethodPost, path: "/auth/reset-password", body: body, contentType: "application/json"}, nil)
	return err
}

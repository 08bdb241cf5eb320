package blogapi

import (
	"context"
	"fmt"
)

// Login authenticates with email and password. The caller is responsible
// for persisting the returned tokens.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.Post(ctx, LoginEndpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	return &resp, nil
}

// RefreshToken exchanges a refresh token for a new token pair. A 401 here
// is returned as is; it never starts another refresh.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.Post(ctx, RefreshEndpoint, RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	return &resp, nil
}

// Register creates an account. The server emails a one-time code that
// VerifyOTP confirms.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	var user User
	if err := c.Post(ctx, "/users", req, &user); err != nil {
		return nil, fmt.Errorf("registering: %w", err)
	}

	return &user, nil
}

// VerifyOTP confirms an account's email address with the emailed code.
func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*MessageResponse, error) {
	var resp MessageResponse
	if err := c.Post(ctx, "/users/verify", req, &resp); err != nil {
		return nil, fmt.Errorf("verifying otp: %w", err)
	}

	return &resp, nil
}

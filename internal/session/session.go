// Package session keeps track of who is logged in. It stores the tokens and
// user record the API hands back on login and restores them on startup.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alexjbarnes/blog-client/blogapi"
	apperrors "github.com/alexjbarnes/blog-client/internal/errors"
)

// Manager owns the session keys in the client's credential store.
type Manager struct {
	client *blogapi.Client
	store  blogapi.CredentialStore
	now    func() time.Time
}

// NewManager creates a Manager over client and its credential store.
func NewManager(client *blogapi.Client) *Manager {
	return &Manager{
		client: client,
		store:  client.Store(),
		now:    time.Now,
	}
}

// Login authenticates and persists the returned tokens and user record.
func (m *Manager) Login(ctx context.Context, req blogapi.LoginRequest) (*blogapi.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}

	resp, err := m.client.Login(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := m.store.Set(blogapi.KeyAccessToken, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("storing access token: %w", err)
	}

	if err := m.store.Set(blogapi.KeyRefreshToken, resp.RefreshToken); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}

	if err := m.UpdateUser(&resp.User); err != nil {
		return nil, err
	}

	return &resp.User, nil
}

// Logout forgets the session. It makes no API call.
func (m *Manager) Logout() error {
	if err := m.store.Delete(blogapi.SessionKeys...); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}

	return nil
}

// CurrentUser restores the logged-in user. Both a user record and an access
// token must be stored. A user record that no longer parses is removed along
// with the token.
func (m *Manager) CurrentUser() (*blogapi.User, error) {
	raw, err := m.store.Get(blogapi.KeyUser)
	if err != nil {
		return nil, fmt.Errorf("reading user: %w", err)
	}

	token, err := m.store.Get(blogapi.KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("reading access token: %w", err)
	}

	if raw == "" || token == "" {
		return nil, apperrors.ErrNotLoggedIn
	}

	var user blogapi.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		if delErr := m.store.Delete(blogapi.KeyUser, blogapi.KeyAccessToken); delErr != nil {
			return nil, fmt.Errorf("clearing corrupt session: %w", delErr)
		}

		return nil, apperrors.ErrCorruptSession
	}

	return &user, nil
}

// UpdateUser replaces the stored user record, for example after a profile
// edit or avatar upload.
func (m *Manager) UpdateUser(user *blogapi.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}

	if err := m.store.Set(blogapi.KeyUser, string(data)); err != nil {
		return fmt.Errorf("storing user: %w", err)
	}

	return nil
}

// Status summarises the stored session.
type Status struct {
	LoggedIn        bool          `json:"logged_in" yaml:"logged_in"`
	User            *blogapi.User `json:"user,omitempty" yaml:"user,omitempty"`
	HasRefreshToken bool          `json:"has_refresh_token" yaml:"has_refresh_token"`

	// AccessTokenExpiry is read from the token's exp claim without
	// verifying the signature. Nil when the token is not a JWT or has no
	// exp.
	AccessTokenExpiry  *time.Time `json:"access_token_expiry,omitempty" yaml:"access_token_expiry,omitempty"`
	AccessTokenExpired bool       `json:"access_token_expired" yaml:"access_token_expired"`
}

// Status reports what is stored without contacting the API.
func (m *Manager) Status() (*Status, error) {
	st := &Status{}

	user, err := m.CurrentUser()
	switch {
	case err == nil:
		st.LoggedIn = true
		st.User = user
	case errors.Is(err, apperrors.ErrNotLoggedIn):
	default:
		return nil, err
	}

	refresh, err := m.store.Get(blogapi.KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("reading refresh token: %w", err)
	}

	st.HasRefreshToken = refresh != ""

	token, err := m.store.Get(blogapi.KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("reading access token: %w", err)
	}

	if exp := tokenExpiry(token); exp != nil {
		st.AccessTokenExpiry = exp
		st.AccessTokenExpired = !m.now().Before(*exp)
	}

	return st, nil
}

// tokenExpiry returns the exp claim of a JWT access token. The signature is
// not checked; the server remains the authority on validity.
func tokenExpiry(token string) *time.Time {
	if token == "" {
		return nil
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	if claims.ExpiresAt == nil {
		return nil
	}

	exp := claims.ExpiresAt.Time

	return &exp
}

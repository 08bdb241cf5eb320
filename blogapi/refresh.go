package blogapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"
)

// errNoAccessToken means the refresh endpoint answered 2xx without a token.
var errNoAccessToken = errors.New("refresh response carried no access token")

// refreshAccessToken exchanges refreshToken for a new access token, stores
// it and returns it. staleToken is the access token the rejected request
// carried.
func (c *Client) refreshAccessToken(ctx context.Context, refreshToken, staleToken string) (string, error) {
	if !c.dedupeRefresh {
		tokens, err := c.callRefresh(ctx, refreshToken)
		if err != nil {
			return "", err
		}

		if err := c.store.Set(KeyAccessToken, tokens.AccessToken); err != nil {
			return "", fmt.Errorf("storing access token: %w", err)
		}

		if tokens.RefreshToken != "" {
			if err := c.store.Set(KeyRefreshToken, tokens.RefreshToken); err != nil {
				return "", fmt.Errorf("storing refresh token: %w", err)
			}
		}

		return tokens.AccessToken, nil
	}

	// The shared call must outlive any single waiter's cancellation.
	shared := context.WithoutCancel(ctx)

	v, err, _ := c.refreshGroup.Do(refreshToken, func() (any, error) {
		return c.refreshShared(shared, refreshToken, staleToken)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// refreshShared is the de-duplicated refresh. If another request already
// rotated the access token, that token is reused without a network call.
// Writes use compare-and-swap so a newer token is never overwritten.
func (c *Client) refreshShared(ctx context.Context, refreshToken, staleToken string) (string, error) {
	current, err := c.store.Get(KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}

	if current != "" && current != staleToken {
		c.logger.Debug("access token already rotated by another request")
		return current, nil
	}

	tokens, err := c.callRefresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	swapped, err := c.store.CompareAndSwap(KeyAccessToken, current, tokens.AccessToken)
	if err != nil {
		return "", fmt.Errorf("storing access token: %w", err)
	}

	if !swapped {
		c.logger.Debug("access token changed during refresh, keeping stored value")
	}

	if tokens.RefreshToken != "" {
		if _, err := c.store.CompareAndSwap(KeyRefreshToken, refreshToken, tokens.RefreshToken); err != nil {
			return "", fmt.Errorf("storing refresh token: %w", err)
		}
	}

	return tokens.AccessToken, nil
}

// callRefresh posts the refresh token straight to the refresh endpoint,
// outside the request flow, so a failing refresh can never recurse.
func (c *Client) callRefresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	payload, err := EncodeJSON(RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	header.Set("Content-Type", contentTypeJSON)

	resp, err := c.send(ctx, http.MethodPost, RefreshEndpoint, header, payload)
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		return nil, fmt.Errorf("refresh returned status %d", resp.status)
	}

	if !gjson.ValidBytes(resp.body) {
		return nil, fmt.Errorf("decoding refresh response: %w", ErrMalformedResponse)
	}

	data := gjson.GetBytes(resp.body, "data")

	access := data.Get("access_token")
	if access.Type != gjson.String || access.Str == "" {
		return nil, errNoAccessToken
	}

	c.logger.Info("access token refreshed", slog.Bool("rotated_refresh_token", data.Get("refresh_token").Str != ""))

	return &TokenResponse{
		AccessToken:  access.Str,
		RefreshToken: data.Get("refresh_token").Str,
	}, nil
}

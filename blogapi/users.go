package blogapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

func userPath(id string) string {
	return "/users/" + url.PathEscape(id)
}

// GetUser fetches a user record.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.Get(ctx, userPath(id), &user); err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}

	return &user, nil
}

// UpdateUser changes the profile fields set in req.
func (c *Client) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*User, error) {
	var user User
	if err := c.Put(ctx, userPath(id), req, &user); err != nil {
		return nil, fmt.Errorf("updating user %s: %w", id, err)
	}

	return &user, nil
}

// UploadAvatar replaces the user's avatar with the image read from r.
func (c *Client) UploadAvatar(ctx context.Context, id, filename string, r io.Reader) (*User, error) {
	form := NewForm()
	if err := form.File("avatar", filename, r); err != nil {
		return nil, err
	}

	result, err := c.Request(ctx, userPath(id)+"/avatar", Options{
		Method: http.MethodPost,
		Body:   form,
	})
	if err != nil {
		return nil, fmt.Errorf("uploading avatar: %w", err)
	}

	var user User
	if err := result.Decode(&user); err != nil {
		return nil, err
	}

	return &user, nil
}

package blogapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
)

// ListUserPosts returns one page of a user's posts and the pagination block
// when the server sends one. Non-positive page or pageSize fall back to 1
// and 10.
func (c *Client) ListUserPosts(ctx context.Context, userID string, page, pageSize int) ([]Post, *Meta, error) {
	if page <= 0 {
		page = defaultPage
	}

	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	result, err := c.Request(ctx, userPath(userID)+"/posts?"+q.Encode(), Options{Method: http.MethodGet})
	if err != nil {
		return nil, nil, fmt.Errorf("listing posts: %w", err)
	}

	var posts []Post
	if err := result.Decode(&posts); err != nil {
		return nil, nil, err
	}

	return posts, result.Meta, nil
}

// postForm lays req out as the multipart form POST /posts expects.
func postForm(req CreatePostRequest) (*Form, error) {
	form := NewForm()

	fields := [][2]string{
		{"title", req.Title},
		{"slug", req.Slug},
		{"body", req.Body},
		{"published", strconv.FormatBool(req.Published)},
	}

	for _, f := range fields {
		if err := form.Field(f[0], f[1]); err != nil {
			return nil, err
		}
	}

	if req.Image != nil {
		if err := form.File("image", req.Image.Filename, bytes.NewReader(req.Image.Data)); err != nil {
			return nil, err
		}
	}

	optional := [][2]string{
		{"abstract", req.Abstract},
		{"location", req.Location},
	}

	if req.Lat != 0 {
		optional = append(optional, [2]string{"lat", strconv.FormatFloat(req.Lat, 'f', -1, 64)})
	}

	if req.Lon != 0 {
		optional = append(optional, [2]string{"lon", strconv.FormatFloat(req.Lon, 'f', -1, 64)})
	}

	optional = append(optional, [2]string{"locale", req.Locale})

	for _, f := range optional {
		if f[1] == "" {
			continue
		}

		if err := form.Field(f[0], f[1]); err != nil {
			return nil, err
		}
	}

	for _, tag := range req.Tags {
		if err := form.Field("tags", tag); err != nil {
			return nil, err
		}
	}

	return form, nil
}

// CreatePost publishes (or drafts) a post.
func (c *Client) CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error) {
	form, err := postForm(req)
	if err != nil {
		return nil, err
	}

	result, err := c.Request(ctx, "/posts", Options{Method: http.MethodPost, Body: form})
	if err != nil {
		return nil, fmt.Errorf("creating post: %w", err)
	}

	var post Post
	if err := result.Decode(&post); err != nil {
		return nil, err
	}

	return &post, nil
}

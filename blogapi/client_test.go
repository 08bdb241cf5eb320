package blogapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// newTestClient creates a Client pointed at the given httptest server.
func newTestClient(srv *httptest.Server, store CredentialStore) *Client {
	return NewClient(Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Store:      store,
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func envelope(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

func storeWith(t *testing.T, kv map[string]string) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for k, v := range kv {
		require.NoError(t, s.Set(k, v))
	}
	return s
}

func storedValue(t *testing.T, s CredentialStore, key string) string {
	t.Helper()
	v, err := s.Get(key)
	require.NoError(t, err)
	return v
}

// --- NewClient ---

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.NotNil(t, c.Store())
	assert.NotNil(t, c.logger)

	hc, ok := c.httpClient.(*http.Client)
	require.True(t, ok)
	assert.Zero(t, hc.Timeout, "client should leave timeouts to the transport")
	assert.NotNil(t, hc.CheckRedirect)
}

func TestNewHTTPClient(t *testing.T) {
	hc := NewHTTPClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, hc.Timeout)
	require.NotNil(t, hc.CheckRedirect)
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://blog.example.com/api/v1/"})
	assert.Equal(t, "https://blog.example.com/api/v1", c.BaseURL())
}

// --- headers ---

func TestRequest_AttachesBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer AT1", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, envelope(map[string]string{}))
	}))
	defer srv.Close()

	c := newTestClient(srv, storeWith(t, map[string]string{KeyAccessToken: "AT1"}))
	_, err := c.Request(context.Background(), "/users/1", Options{})
	require.NoError(t, err)
}

func TestRequest_NoTokenNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, envelope(nil))
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	_, err := c.Request(context.Background(), "/users/1", Options{})
	require.NoError(t, err)
}

func TestRequest_DefaultsToJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(t, w, http.StatusOK, envelope(nil))
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	_, err := c.Request(context.Background(), "/users/1", Options{})
	require.NoError(t, err)
}

func TestRequest_FormBodyNeverJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		assert.True(t, strings.HasPrefix(ct, "multipart/form-data; boundary="), "got %q", ct)
		assert.NotContains(t, ct, "application/json")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, []string{"hello"}, r.MultipartForm.Value["title"])
		writeJSON(t, w, http.StatusOK, envelope(nil))
	}))
	defer srv.Close()

	form := NewForm()
	require.NoError(t, form.Field("title", "hello"))

	c := newTestClient(srv, nil)
	_, err := c.Request(context.Background(), "/posts", Options{Method: http.MethodPost, Body: form})
	require.NoError(t, err)
}

func TestRequest_CallerHeadersOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer caller", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		writeJSON(t, w, http.StatusOK, envelope(nil))
	}))
	defer srv.Close()

	c := newTestClient(srv, storeWith(t, map[string]string{KeyAccessToken: "AT1"}))
	_, err := c.Request(context.Background(), "/users/1", Options{Header: map[string]string{
		"Content-Type":  "text/plain",
		"Authorization": "Bearer caller",
		"X-Extra":       "yes",
	}})
	require.NoError(t, err)
}

func TestRequest_EmptyHeaderValueRemovesHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, envelope(nil))
	}))
	defer srv.Close()

	c := newTestClient(srv, storeWith(t, map[string]string{KeyAccessToken: "AT1"}))
	_, err := c.Request(context.Background(), "/users/1", Options{Header: map[string]string{"Authorization": ""}})
	require.NoError(t, err)
}

func TestRequest_EndpointAppendsToBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/42", r.URL.Path)
		writeJSON(t, w, http.StatusOK, envelope(nil))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/api/v1", HTTPClient: srv.Client()})
	_, err := c.Request(context.Background(), "/users/42", Options{})
	require.NoError(t, err)
}

// --- response handling ---

func TestRequest_EnvelopeSuccessReturnsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, envelope(map[string]string{"id": "42"}))
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	res, err := c.Request(context.Background(), "/users/42", Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42"}`, string(res.Data))
	assert.Nil(t, res.Meta)
}

func TestRequest_EnvelopeFailureReturnsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": false,
			"data":    nil,
			"error":   map[string]string{"code": "E1", "message": "m"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	_, err := c.Request(context.Background(), "/users/42", Options{})
	require.Error(t, err)
	assert.Equal(t, "m", err.Error())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "E1", apiErr.Code)
}

func TestRequest_EnvelopeFailureWithoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"data":null}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	_, err := c.Request(context.Background(), "/x", Options{})
	require.Error(t, err)
	assert.Equal(t, "API request failed", err.Error())
}

func TestRequest_NonEnvelopePassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[1,2,3]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	res, err := c.Request(context.Background(), "/raw", Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[1,2,3]}`, string(res.Data))
}

func TestRequest_NoContentYieldsEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	res, err := c.Request(context.Background(), "/posts/1", Options{Method: http.MethodDelete})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(res.Data))

	var out map[string]any
	require.NoError(t, res.Decode(&out))
	assert.Empty(t, out)
}

func TestRequest_NoContentIgnoresBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	doer := NewMockHTTPDoer(ctrl)
	doer.EXPECT().Do(gomock.Any()).Return(&http.Response{
		StatusCode: http.StatusNoContent,
		Body:       io.NopCloser(strings.NewReader(`{not json`)),
	}, nil)

	c := NewClient(Config{HTTPClient: doer})
	res, err := c.Request(context.Background(), "/posts/1", Options{Method: http.MethodDelete})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(res.Data))
}

func TestRequest_MetaParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[],"meta":{"page":2,"page_size":5,"total_items":11,"total_pages":3}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	res, err := c.Request(context.Background(), "/users/1/posts", Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Meta)
	assert.Equal(t, Meta{Page: 2, PageSize: 5, TotalItems: 11, TotalPages: 3}, *res.Meta)
}

func TestRequest_ErrorBodies(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantCode string
	}{
		{"error.message", http.StatusBadRequest, `{"success":false,"error":{"code":"BAD","message":"bad input"}}`, "bad input", "BAD"},
		{"top-level message", http.StatusConflict, `{"message":"already exists"}`, "already exists", ""},
		{"error without message", http.StatusBadRequest, `{"error":{"code":"X"}}`, "API Error: Bad Request", "X"},
		{"error is a string", http.StatusForbidden, `{"error":"nope","message":"ignored"}`, "API Error: Forbidden", ""},
		{"not json", http.StatusInternalServerError, `Internal Server Error`, "API Error: Internal Server Error", ""},
		{"empty body", http.StatusBadGateway, ``, "API Error: Bad Gateway", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(srv, nil)
			_, err := c.Request(context.Background(), "/x", Options{})
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.status, StatusCode(err))
		})
	}
}

func TestRequest_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	_, err := c.Request(context.Background(), "/x", Options{})
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "decoding response from /x")
}

func TestRequest_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv, nil)
	srv.Close()

	_, err := c.Request(context.Background(), "/x", Options{})
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.Equal(t, networkErrorMessage, err.Error())
	assert.Zero(t, StatusCode(err))
}

func TestRequest_ContextCancelledIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(srv, nil)
	_, err := c.Request(ctx, "/x", Options{})
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.ErrorIs(t, err, context.Canceled)
}

// --- refresh and retry ---

// refreshBackend serves GET /users/42, accepting only validToken, and
// POST /auth/refresh with the given handler.
type refreshBackend struct {
	validToken   string
	userCalls    atomic.Int32
	refreshCalls atomic.Int32
	authHeaders  []string
	mu           sync.Mutex
	refresh      func(w http.ResponseWriter, r *http.Request)
}

func (b *refreshBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case RefreshEndpoint:
		b.refreshCalls.Add(1)
		b.refresh(w, r)
	default:
		b.userCalls.Add(1)
		b.mu.Lock()
		b.authHeaders = append(b.authHeaders, r.Header.Get("Authorization"))
		b.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+b.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"error":{"message":"unauthorized"}}`))
			return
		}

		w.Write([]byte(`{"success":true,"data":{"id":"42","username":"ana"}}`))
	}
}

func TestRequest_RefreshAndRetry(t *testing.T) {
	backend := &refreshBackend{validToken: "AT2"}
	backend.refresh = func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"refresh_token":"RT1"}`, string(body))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"success":true,"data":{"access_token":"AT2"}}`))
	}

	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"})
	c := newTestClient(srv, store)

	var user User
	err := c.Get(context.Background(), "/users/42", &user)
	require.NoError(t, err)
	assert.Equal(t, "ana", user.Username)

	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(2), backend.userCalls.Load())
	assert.Equal(t, []string{"Bearer AT1", "Bearer AT2"}, backend.authHeaders)
	assert.Equal(t, "AT2", storedValue(t, store, KeyAccessToken))
	assert.Equal(t, "RT1", storedValue(t, store, KeyRefreshToken))
}

func TestRequest_RefreshRotatesRefreshToken(t *testing.T) {
	backend := &refreshBackend{validToken: "AT2"}
	backend.refresh = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"access_token":"AT2","refresh_token":"RT2"}}`))
	}

	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"})
	c := newTestClient(srv, store)

	require.NoError(t, c.Get(context.Background(), "/users/42", nil))
	assert.Equal(t, "RT2", storedValue(t, store, KeyRefreshToken))
}

func TestRequest_RetryOverridesCallerAuthorization(t *testing.T) {
	backend := &refreshBackend{validToken: "AT2"}
	backend.refresh = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"access_token":"AT2"}}`))
	}

	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := storeWith(t, map[string]string{KeyRefreshToken: "RT1"})
	c := newTestClient(srv, store)

	err := c.Get(context.Background(), "/users/42", nil, WithHeader("Authorization", "Bearer stale"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer stale", "Bearer AT2"}, backend.authHeaders)
}

func TestRequest_RetryReplaysJSONBody(t *testing.T) {
	var bodies []string
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RefreshEndpoint {
			w.Write([]byte(`{"success":true,"data":{"access_token":"AT2"}}`))
			return
		}

		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Write([]byte(`{"success":true,"data":{"ok":true}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"}))
	err := c.Put(context.Background(), "/users/42", map[string]string{"bio": "hi"}, nil)
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	assert.JSONEq(t, `{"bio":"hi"}`, bodies[0])
	assert.Equal(t, bodies[0], bodies[1])
}

func TestRequest_RetryReplaysForm(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == RefreshEndpoint {
			w.Write([]byte(`{"success":true,"data":{"access_token":"AT2"}}`))
			return
		}

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, []string{"hello"}, r.MultipartForm.Value["title"])

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer srv.Close()

	form := NewForm()
	require.NoError(t, form.Field("title", "hello"))

	c := newTestClient(srv, storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"}))
	_, err := c.Request(context.Background(), "/posts", Options{Method: http.MethodPost, Body: form})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequest_SecondUnauthorizedDoesNotRefreshAgain(t *testing.T) {
	backend := &refreshBackend{validToken: "never"}
	backend.refresh = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"access_token":"AT2"}}`))
	}

	srv := httptest.NewServer(backend)
	defer srv.Close()

	expired := 0
	store := storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"})
	c := NewClient(Config{
		BaseURL:          srv.URL,
		HTTPClient:       srv.Client(),
		Store:            store,
		OnSessionExpired: func(context.Context) { expired++ },
	})

	_, err := c.Request(context.Background(), "/users/42", Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Equal(t, "unauthorized", err.Error())

	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(2), backend.userCalls.Load())
	assert.Zero(t, expired)
	assert.Equal(t, "AT2", storedValue(t, store, KeyAccessToken))
}

func TestRequest_AuthEndpointsNeverRefresh(t *testing.T) {
	for _, endpoint := range []string{LoginEndpoint, RefreshEndpoint} {
		t.Run(endpoint, func(t *testing.T) {
			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"error":{"message":"invalid credentials"}}`))
			}))
			defer srv.Close()

			store := storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"})
			c := newTestClient(srv, store)

			err := c.Post(context.Background(), endpoint, map[string]string{}, nil)
			require.Error(t, err)
			assert.Equal(t, "invalid credentials", err.Error())
			assert.NotErrorIs(t, err, ErrSessionExpired)
			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, "AT1", storedValue(t, store, KeyAccessToken))
			assert.Equal(t, "RT1", storedValue(t, store, KeyRefreshToken))
		})
	}
}

func TestRequest_RefreshFailures(t *testing.T) {
	tests := []struct {
		name    string
		refresh func(w http.ResponseWriter, r *http.Request)
	}{
		{"forbidden", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"success":false}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{nope`))
		}},
		{"no access token", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"data":{"refresh_token":"RT2"}}`))
		}},
		{"empty access token", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"data":{"access_token":""}}`))
		}},
		{"not enveloped", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"access_token":"AT2"}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &refreshBackend{validToken: "AT2", refresh: tt.refresh}
			srv := httptest.NewServer(backend)
			defer srv.Close()

			expired := 0
			store := storeWith(t, map[string]string{
				KeyAccessToken:  "AT1",
				KeyRefreshToken: "RT1",
				KeyUser:         `{"id":"42"}`,
			})
			c := NewClient(Config{
				BaseURL:          srv.URL,
				HTTPClient:       srv.Client(),
				Store:            store,
				OnSessionExpired: func(context.Context) { expired++ },
			})

			_, err := c.Request(context.Background(), "/users/42", Options{})
			require.ErrorIs(t, err, ErrSessionExpired)
			assert.Equal(t, 1, expired)
			assert.Equal(t, int32(1), backend.userCalls.Load(), "original request must not be retried")

			for _, key := range SessionKeys {
				assert.Empty(t, storedValue(t, store, key), "key %s should be cleared", key)
			}
		})
	}
}

func TestRequest_NoRefreshTokenExpiresSession(t *testing.T) {
	backend := &refreshBackend{validToken: "AT2", refresh: func(w http.ResponseWriter, r *http.Request) {
		t.Error("refresh must not be called without a refresh token")
	}}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyUser: `{}`})
	c := newTestClient(srv, store)

	_, err := c.Request(context.Background(), "/users/42", Options{})
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.Empty(t, storedValue(t, store, KeyAccessToken))
	assert.Empty(t, storedValue(t, store, KeyUser))
}

func TestRequest_RefreshNetworkErrorExpiresSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	doer := NewMockHTTPDoer(ctrl)

	gomock.InOrder(
		doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "/users/42", req.URL.Path)
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader(``)),
			}, nil
		}),
		doer.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, RefreshEndpoint, req.URL.Path)
			return nil, errors.New("connection refused")
		}),
	)

	store := storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"})
	c := NewClient(Config{BaseURL: "http://api.test", HTTPClient: doer, Store: store})

	_, err := c.Request(context.Background(), "/users/42", Options{})
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, IsNetwork(err))
	assert.Empty(t, storedValue(t, store, KeyRefreshToken))
}

func TestRequest_SessionExpiryClearsEveryKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCredentialStore(ctrl)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	gomock.InOrder(
		store.EXPECT().Get(KeyAccessToken).Return("AT1", nil),
		store.EXPECT().Get(KeyRefreshToken).Return("", nil),
		store.EXPECT().Delete(KeyAccessToken, KeyRefreshToken, KeyUser).Return(nil),
	)

	c := newTestClient(srv, store)
	_, err := c.Request(context.Background(), "/users/42", Options{})
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRequest_StoreWriteFailureTreatedAsRefreshFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCredentialStore(ctrl)

	backend := &refreshBackend{validToken: "AT2", refresh: func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"access_token":"AT2"}}`))
	}}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store.EXPECT().Get(KeyAccessToken).Return("AT1", nil)
	store.EXPECT().Get(KeyRefreshToken).Return("RT1", nil)
	store.EXPECT().Set(KeyAccessToken, "AT2").Return(errors.New("disk full"))
	store.EXPECT().Delete(KeyAccessToken, KeyRefreshToken, KeyUser).Return(nil)

	c := newTestClient(srv, store)
	_, err := c.Request(context.Background(), "/users/42", Options{})
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), backend.userCalls.Load())
}

func TestRequest_StoreReadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCredentialStore(ctrl)
	doer := NewMockHTTPDoer(ctrl)

	store.EXPECT().Get(KeyAccessToken).Return("", errors.New("database closed"))

	c := NewClient(Config{HTTPClient: doer, Store: store})
	_, err := c.Request(context.Background(), "/users/42", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading access token")
}

// --- refresh de-duplication ---

func TestRequest_DedupeRefreshSharesOneCall(t *testing.T) {
	backend := &refreshBackend{validToken: "AT2"}
	backend.refresh = func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"success":true,"data":{"access_token":"AT2"}}`))
	}

	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"})
	c := NewClient(Config{
		BaseURL:       srv.URL,
		HTTPClient:    srv.Client(),
		Store:         store,
		DedupeRefresh: true,
	})

	const workers = 8

	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Request(context.Background(), "/users/42", Options{})
		}()
	}

	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, "AT2", storedValue(t, store, KeyAccessToken))
}

func TestRequest_WithoutDedupeEveryRequestRecovers(t *testing.T) {
	backend := &refreshBackend{validToken: "AT2"}
	backend.refresh = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"access_token":"AT2"}}`))
	}

	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := storeWith(t, map[string]string{KeyAccessToken: "AT1", KeyRefreshToken: "RT1"})
	c := newTestClient(srv, store)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Request(context.Background(), "/users/42", Options{})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.GreaterOrEqual(t, backend.refreshCalls.Load(), int32(1))
	assert.Equal(t, "AT2", storedValue(t, store, KeyAccessToken))
}

func TestRefreshShared_ReusesRotatedToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCredentialStore(ctrl)
	doer := NewMockHTTPDoer(ctrl)

	store.EXPECT().Get(KeyAccessToken).Return("AT9", nil)

	c := NewClient(Config{HTTPClient: doer, Store: store, DedupeRefresh: true})
	token, err := c.refreshAccessToken(context.Background(), "RT1", "AT1")
	require.NoError(t, err)
	assert.Equal(t, "AT9", token)
}

func TestRefreshShared_CompareAndSwapWrites(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockCredentialStore(ctrl)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"access_token":"AT2","refresh_token":"RT2"}}`))
	}))
	defer srv.Close()

	store.EXPECT().Get(KeyAccessToken).Return("AT1", nil)
	store.EXPECT().CompareAndSwap(KeyAccessToken, "AT1", "AT2").Return(true, nil)
	store.EXPECT().CompareAndSwap(KeyRefreshToken, "RT1", "RT2").Return(true, nil)

	c := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Store: store, DedupeRefresh: true})
	token, err := c.refreshAccessToken(context.Background(), "RT1", "AT1")
	require.NoError(t, err)
	assert.Equal(t, "AT2", token)
}

// --- helpers ---

func TestFlowState_String(t *testing.T) {
	assert.Equal(t, "unauthorized", stateUnauthorized.String())
	assert.Equal(t, "retried", stateRetried.String())
	assert.Equal(t, "flowState(42)", flowState(42).String())
}

func TestIsAuthEndpoint(t *testing.T) {
	assert.True(t, isAuthEndpoint("/auth/login"))
	assert.True(t, isAuthEndpoint("/auth/refresh"))
	assert.False(t, isAuthEndpoint("/users/42"))
	assert.False(t, isAuthEndpoint("/auth/logout"))
}

func TestSameHostRedirectPolicy(t *testing.T) {
	orig, _ := http.NewRequest(http.MethodGet, "http://api.test/a", nil)
	same, _ := http.NewRequest(http.MethodGet, "http://api.test/b", nil)
	other, _ := http.NewRequest(http.MethodGet, "http://evil.test/b", nil)

	assert.NoError(t, sameHostRedirectPolicy(same, []*http.Request{orig}))
	assert.Error(t, sameHostRedirectPolicy(other, []*http.Request{orig}))

	via := make([]*http.Request, maxRedirects)
	for i := range via {
		via[i] = orig
	}
	assert.Error(t, sameHostRedirectPolicy(same, via))
}

func TestSanitizeResponseBody(t *testing.T) {
	assert.Equal(t, "ok", sanitizeResponseBody([]byte("ok")))
	assert.Equal(t, "a?b", sanitizeResponseBody([]byte("a\x00b")))
	assert.Len(t, sanitizeResponseBody([]byte(strings.Repeat("x", 1000))), 256)
}

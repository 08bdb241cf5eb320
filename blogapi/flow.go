package blogapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// flowState is a step in the lifecycle of one logical request.
//
//	Initial -> Sent -> Done | Failed
//	Sent -> Unauthorized -> Refreshing -> Retried -> Sent
//
// Sent -> Unauthorized is only taken for a 401 on a non-auth endpoint that
// has not been retried yet, which bounds every request to one refresh.
type flowState int

const (
	stateInitial flowState = iota
	stateSent
	stateUnauthorized
	stateRefreshing
	stateRetried
	stateDone
	stateFailed
)

func (s flowState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case stateSent:
		return "sent"
	case stateUnauthorized:
		return "unauthorized"
	case stateRefreshing:
		return "refreshing"
	case stateRetried:
		return "retried"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}

	return fmt.Sprintf("flowState(%d)", int(s))
}

// requestFlow carries one logical request through its states.
type requestFlow struct {
	c        *Client
	endpoint string
	opts     Options
	payload  []byte
	logger   *slog.Logger

	state        flowState
	token        string // access token sent with the latest attempt
	refreshToken string
	retried      bool

	resp   response
	result *Result
	err    error
}

// Request performs one logical request against endpoint. It attaches the
// stored access token, and on a 401 from a non-auth endpoint it refreshes the
// token once and replays the request. If the session cannot be recovered the
// credential store is cleared, Config.OnSessionExpired runs (and may not
// return) and ErrSessionExpired is returned.
func (c *Client) Request(ctx context.Context, endpoint string, opts Options) (*Result, error) {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	f := &requestFlow{
		c:        c,
		endpoint: endpoint,
		opts:     opts,
		logger: c.logger.With(
			slog.String("request_id", uuid.NewString()),
			slog.String("method", opts.Method),
			slog.String("endpoint", endpoint),
		),
	}

	if opts.Body != nil {
		f.payload = opts.Body.bytes()
	}

	return f.run(ctx)
}

func (f *requestFlow) run(ctx context.Context) (*Result, error) {
	for {
		switch f.state {
		case stateInitial:
			f.state = f.send(ctx)
		case stateSent:
			f.state = f.received()
		case stateUnauthorized:
			f.state = f.unauthorized(ctx)
		case stateRefreshing:
			f.state = f.refresh(ctx)
		case stateRetried:
			f.state = f.send(ctx)
		case stateDone:
			return f.result, nil
		case stateFailed:
			return nil, f.err
		default:
			return nil, fmt.Errorf("request flow reached unknown state %s", f.state)
		}
	}
}

func (f *requestFlow) fail(err error) flowState {
	f.err = err
	return stateFailed
}

// send issues the request. The first attempt reads the token from the store;
// the retry uses the token the refresh just minted.
func (f *requestFlow) send(ctx context.Context) flowState {
	retry := f.state == stateRetried

	if !retry {
		token, err := f.c.store.Get(KeyAccessToken)
		if err != nil {
			return f.fail(fmt.Errorf("reading access token: %w", err))
		}

		f.token = token
	}

	header := f.header(retry)

	resp, err := f.c.send(ctx, f.opts.Method, f.endpoint, header, f.payload)
	if err != nil {
		f.logger.Debug("request failed", slog.Bool("retry", retry), slog.String("error", errorCause(err)))
		return f.fail(err)
	}

	f.logger.Debug("response received", slog.Bool("retry", retry), slog.Int("status", resp.status))

	f.resp = resp
	f.retried = retry

	return stateSent
}

// header merges headers with increasing precedence: content type, then
// authorization, then the caller's own headers. On the retry the refreshed
// token wins over everything.
func (f *requestFlow) header(retry bool) http.Header {
	h := make(http.Header)

	contentType := contentTypeJSON
	if f.opts.Body != nil {
		if ct := f.opts.Body.contentType(); ct != "" {
			contentType = ct
		}
	}

	h.Set("Content-Type", contentType)

	if f.token != "" {
		h.Set("Authorization", "Bearer "+f.token)
	}

	for name, value := range f.opts.Header {
		if value == "" {
			h.Del(name)
			continue
		}

		h.Set(name, value)
	}

	if retry {
		h.Set("Authorization", "Bearer "+f.token)
	}

	return h
}

func (f *requestFlow) canRefresh() bool {
	return f.resp.status == http.StatusUnauthorized && !f.retried && !isAuthEndpoint(f.endpoint)
}

// received decides what the latest response means.
func (f *requestFlow) received() flowState {
	if f.canRefresh() {
		return stateUnauthorized
	}

	result, err := f.interpret()
	if err != nil {
		return f.fail(err)
	}

	f.result = result

	return stateDone
}

func (f *requestFlow) interpret() (*Result, error) {
	if !f.resp.ok() {
		apiErr := errorFromBody(f.resp.status, f.resp.body)
		f.logger.Debug("API error",
			slog.Int("status", f.resp.status),
			slog.String("body", sanitizeResponseBody(f.resp.body)),
		)

		return nil, apiErr
	}

	if f.resp.status == http.StatusNoContent {
		return emptyResult(), nil
	}

	result, err := unwrapBody(f.resp.status, f.resp.body)
	if errors.Is(err, ErrMalformedResponse) {
		return nil, fmt.Errorf("decoding response from %s: %w", f.endpoint, err)
	}

	return result, err
}

func (f *requestFlow) unauthorized(ctx context.Context) flowState {
	refreshToken, err := f.c.store.Get(KeyRefreshToken)
	if err != nil {
		f.logger.Warn("reading refresh token failed", slog.String("error", err.Error()))
		return f.expire(ctx)
	}

	if refreshToken == "" {
		f.logger.Debug("no refresh token stored")
		return f.expire(ctx)
	}

	f.refreshToken = refreshToken

	return stateRefreshing
}

func (f *requestFlow) refresh(ctx context.Context) flowState {
	token, err := f.c.refreshAccessToken(ctx, f.refreshToken, f.token)
	if err != nil {
		f.logger.Warn("token refresh failed", slog.String("error", errorCause(err)))
		return f.expire(ctx)
	}

	f.logger.Debug("retrying request with refreshed token")
	f.token = token

	return stateRetried
}

// expire ends the session: every session key is dropped, the host is told,
// and the request fails with ErrSessionExpired.
func (f *requestFlow) expire(ctx context.Context) flowState {
	if err := f.c.store.Delete(SessionKeys...); err != nil {
		f.logger.Warn("clearing session failed", slog.String("error", err.Error()))
	}

	f.logger.Warn("session expired")

	if f.c.onSessionExpired != nil {
		f.c.onSessionExpired(ctx)
	}

	return f.fail(ErrSessionExpired)
}

// errorCause returns the underlying message for logging. NetworkError hides
// its cause from Error(), but the logs should have it.
func errorCause(err error) string {
	var ne *NetworkError
	if errors.As(err, &ne) && ne.Err != nil {
		return ne.Err.Error()
	}

	return err.Error()
}

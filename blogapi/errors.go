package blogapi

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is returned when a request was rejected with 401 and no
// new access token could be obtained. By the time a caller sees it the
// credential store has been cleared and the session-expired handler has run.
var ErrSessionExpired = errors.New("session expired, please login again")

// ErrMalformedResponse is returned when a successful response body is not
// valid JSON.
var ErrMalformedResponse = errors.New("malformed API response")

// networkErrorMessage is the only text callers see for transport failures.
const networkErrorMessage = "network error, please check your connection or try again later"

// NetworkError reports a transport-level failure (DNS, refused connection,
// timeout, cancelled context). The message is deliberately generic; the cause
// is only reachable through errors.Is and errors.As.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string { return networkErrorMessage }
func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-2xx response or an envelope with success=false.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// IsNetwork reports whether err (or any error in its chain) is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// StatusCode returns the HTTP status carried by an APIError in err's chain,
// or 0 when there is none.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}

	return 0
}

func genericStatusMessage(statusText string) string {
	return fmt.Sprintf("API Error: %s", statusText)
}

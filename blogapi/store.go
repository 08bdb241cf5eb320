package blogapi

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=blogapi

// Credential store keys.
const (
	KeyAccessToken  = "token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// SessionKeys lists every key that belongs to a login session. All of them
// are removed on logout and on session expiry.
var SessionKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// CredentialStore is the key-value surface the client reads tokens from and
// writes refreshed tokens to. It is owned by the caller and shared between
// concurrent requests, so implementations must be safe for concurrent use.
type CredentialStore interface {
	// Get returns the value stored under key, or "" when it is absent.
	Get(key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(keys ...string) error

	// CompareAndSwap sets key to newValue only if its current value is
	// oldValue ("" meaning absent). It reports whether the swap happened.
	CompareAndSwap(key, oldValue, newValue string) (bool, error)
}

package errors

import "errors"

// Session errors.
var (
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrCorruptSession = errors.New("stored session is corrupt")
	ErrInvalidInput   = errors.New("invalid input")
)

// Storage errors.
var (
	ErrStoreClosed         = errors.New("credential store is closed")
	ErrWrongCredentialsKey = errors.New("credentials key does not match the stored session")
)

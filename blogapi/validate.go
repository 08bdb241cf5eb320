package blogapi

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLen = 6
	minUsernameLen = 2
	otpLen         = 6
	maxBioLen      = 500
)

// ValidationError reports a request field that fails the API's input rules.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validEmail(field, email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return &ValidationError{Field: field, Message: "must be a valid email address"}
	}

	return nil
}

func minLen(field, value string, n int) error {
	if utf8.RuneCountInString(value) < n {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at least %d characters", n)}
	}

	return nil
}

// Validate checks the login form rules.
func (r LoginRequest) Validate() error {
	return errors.Join(
		validEmail("email", r.Email),
		minLen("password", r.Password, minPasswordLen),
	)
}

// Validate checks the registration form rules.
func (r RegisterRequest) Validate() error {
	return errors.Join(
		minLen("username", r.Username, minUsernameLen),
		validEmail("email", r.Email),
		minLen("password", r.Password, minPasswordLen),
	)
}

// Validate checks the OTP form rules. The code must be exactly six
// characters.
func (r VerifyOTPRequest) Validate() error {
	var otpErr error
	if utf8.RuneCountInString(r.OTP) != otpLen {
		otpErr = &ValidationError{Field: "otp", Message: fmt.Sprintf("must be exactly %d digits", otpLen)}
	}

	return errors.Join(validEmail("email", r.Email), otpErr)
}

// Validate checks the profile form rules for the fields that are set.
func (r UpdateUserRequest) Validate() error {
	var errs []error

	if r.Username != nil {
		errs = append(errs, minLen("username", *r.Username, minUsernameLen))
	}

	if r.Email != nil {
		errs = append(errs, validEmail("email", *r.Email))
	}

	if r.Bio != nil && utf8.RuneCountInString(*r.Bio) > maxBioLen {
		errs = append(errs, &ValidationError{Field: "bio", Message: fmt.Sprintf("must be less than %d characters", maxBioLen)})
	}

	return errors.Join(errs...)
}

// Validate checks the fields the API requires to create a post.
func (r CreatePostRequest) Validate() error {
	var errs []error

	if strings.TrimSpace(r.Title) == "" {
		errs = append(errs, &ValidationError{Field: "title", Message: "is required"})
	}

	if strings.TrimSpace(r.Slug) == "" {
		errs = append(errs, &ValidationError{Field: "slug", Message: "is required"})
	}

	if strings.TrimSpace(r.Body) == "" {
		errs = append(errs, &ValidationError{Field: "body", Message: "is required"})
	}

	return errors.Join(errs...)
}

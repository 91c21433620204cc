package auth

import "errors"

// Sentinel errors for the auth package. Handlers map these onto HTTP statuses and control-channel error payloads.
var (
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrUsernameLength       = errors.New("username must be between 2 and 32 characters")
	ErrUsernameInvalidChars = errors.New("username may only contain letters, digits, underscores, and periods")
	ErrPasswordTooShort     = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong      = errors.New("password must be at most 72 characters")
	ErrEmailAlreadyTaken    = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrInvalidToken         = errors.New("invalid or expired token")
)

// IsValidationError reports whether the error is an input-validation failure whose message is safe to show to the
// client verbatim.
func IsValidationError(err error) bool {
	for _, e := range []error{
		ErrInvalidEmail, ErrUsernameLength, ErrUsernameInvalidChars,
		ErrPasswordTooShort, ErrPasswordTooLong,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

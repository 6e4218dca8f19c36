// Package common defines the error taxonomy and small helpers shared by every
// layer of the connect core. Callers should match errors with errors.Is.
package common

import "errors"

var (
	// Error kinds.
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("validation error")
	ErrorNotFound     = errors.New("not found")
	ErrConfiguration  = errors.New("configuration error")
	ErrDatabase       = errors.New("database error")
	ErrorInternal     = errors.New("internal error")
	ErrUnexpected     = errors.New("unexpected error")

	// ErrInvalidToken is returned for single-use tokens that are absent,
	// already redeemed or expired, and as the reason of a rejected session token.
	ErrInvalidToken = errors.New("invalid token")

	// Repository-level errors.
	ErrorAlreadyExists = errors.New("already exists")

	// Authentication reasons.
	ErrTokenExpired   = errors.New("token expired")
	ErrExchangeFailed = errors.New("code exchange failed")
)

// Error is a typed failure carrying a kind, an optional reason and a message
// that is safe to show to clients. The wrapped Err is for logs only.
type Error struct {
	Kind   error
	Reason error
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes kind, reason and cause so errors.Is matches any of them.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 3)
	for _, err := range []error{e.Kind, e.Reason, e.Err} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// NewError returns an error of the given kind with a client-safe message.
func NewError(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap is NewError that keeps the underlying cause.
func Wrap(kind error, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// AuthError returns an Authentication error with the given reason
// (ErrTokenExpired, ErrInvalidToken, ErrExchangeFailed or nil).
func AuthError(reason error, msg string) error {
	return &Error{Kind: ErrAuthentication, Reason: reason, Msg: msg}
}

var kinds = []error{
	ErrAuthentication,
	ErrInvalidToken,
	ErrValidation,
	ErrorNotFound,
	ErrConfiguration,
	ErrDatabase,
	ErrUnexpected,
	ErrorInternal,
}

// KindOf reports the kind of err. Unknown errors are ErrorInternal.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrorInternal
}

// PublicMessage returns the message of err that may be shown to clients.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return KindOf(err).Error()
}

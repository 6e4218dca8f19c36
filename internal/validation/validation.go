// Package validation checks user-supplied registration and credential input.
package validation

import (
	"regexp"
	"strings"

	"github.com/safatanc/safatanc-connect-core/internal/common"
)

var (
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)
	upperRe    = regexp.MustCompile(`[A-Z]`)
	digitRe    = regexp.MustCompile(`[0-9]`)
	specialRe  = regexp.MustCompile(`[!@#$%^&*(),.?:{}|<>]`)
)

const MinPasswordLength = 8

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func Email(email string) error {
	if !emailRe.MatchString(email) {
		return common.NewError(common.ErrValidation, "invalid email format")
	}
	return nil
}

func Username(username string) error {
	if !usernameRe.MatchString(username) {
		return common.NewError(common.ErrValidation,
			"username must be 3-30 characters of letters, digits, underscores or hyphens")
	}
	return nil
}

// Password enforces the strength policy: at least eight characters with an
// upper-case letter, a digit and a special character.
func Password(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return common.NewError(common.ErrValidation, "password must be at least 8 characters long")
	case !upperRe.MatchString(password):
		return common.NewError(common.ErrValidation, "password must contain at least one uppercase letter")
	case !digitRe.MatchString(password):
		return common.NewError(common.ErrValidation, "password must contain at least one number")
	case !specialRe.MatchString(password):
		return common.NewError(common.ErrValidation, "password must contain at least one special character")
	}
	return nil
}

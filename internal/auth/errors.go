package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("auth: not found")

	// ErrInvalidCredential covers both a wrong password and a nonexistent
	// login. The two must stay indistinguishable to the caller.
	ErrInvalidCredential = errors.New("auth: invalid credentials")

	ErrAccountDisabled    = errors.New("auth: account disabled")
	ErrFeatureNotLicensed = errors.New("auth: feature not licensed for tenant")
	ErrNoTenant           = errors.New("auth: no tenant in request context")
)

// AccessDeniedError is returned by Demand when a permission check fails.
// It carries the actor and the denied actions for audit logging.
type AccessDeniedError struct {
	Actor   string
	Actions []Action
}

func (e *AccessDeniedError) Error() string {
	names := make([]string, len(e.Actions))
	for i, a := range e.Actions {
		names[i] = string(a)
	}
	return fmt.Sprintf("auth: access denied: actor %q lacks [%s]", e.Actor, strings.Join(names, " "))
}

// IsSecurityError reports whether err is an expected authentication or
// authorization rejection, as opposed to an infrastructure failure.
func IsSecurityError(err error) bool {
	var denied *AccessDeniedError
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrAccountDisabled) ||
		errors.Is(err, ErrFeatureNotLicensed) ||
		errors.As(err, &denied)
}

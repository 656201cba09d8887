package auth

import "errors"

// Authorization header errors. ErrMissingCredentials means nothing was sent;
// the others mean something was sent but could not be used.
var (
	ErrMissingCredentials = errors.New("authorization header required")
	ErrUnknownScheme      = errors.New("unknown authorization scheme")
	ErrInvalidCredentials = errors.New("invalid authorization credentials")
)

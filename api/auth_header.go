package api

import (
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerTokenFromString returns the compact JWT of a "Bearer <jwt>" value.
func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	token, ok := strings.CutPrefix(trimmed, bearerPrefix)
	if !ok || token == "" || strings.Count(token, ".") != 2 {
		return nil, errBadAuthorization
	}
	return []byte(token), nil
}

// WithBearerPrefix adds the scheme to a bare token, as sent by clients that
// pass the credential in a query parameter.
func WithBearerPrefix(token string) string {
	token = strings.TrimSpace(token)
	if token == "" || strings.HasPrefix(token, bearerPrefix) {
		return token
	}
	return bearerPrefix + token
}

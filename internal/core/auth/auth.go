// Package auth builds and parses the Authorization headers spoken with the
// deployment server: target and gateway security tokens on the device API,
// basic credentials on the management API.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
)

// Scheme is an Authorization header scheme.
type Scheme string

const (
	SchemeTargetToken  Scheme = "TargetToken"
	SchemeGatewayToken Scheme = "GatewayToken"
	SchemeBasic        Scheme = "Basic"
)

// Credentials is one parsed or configured Authorization value. Token is used
// by the token schemes, User and Password by Basic.
type Credentials struct {
	Scheme   Scheme
	Token    string
	User     string
	Password string
}

// TargetToken returns device credentials for token.
func TargetToken(token string) Credentials {
	return Credentials{Scheme: SchemeTargetToken, Token: token}
}

// Basic returns management API credentials.
func Basic(user, password string) Credentials {
	return Credentials{Scheme: SchemeBasic, User: user, Password: password}
}

// Header renders the Authorization header value.
func (c Credentials) Header() string {
	if c.Scheme == SchemeBasic {
		raw := c.User + ":" + c.Password
		return string(SchemeBasic) + " " + base64.StdEncoding.EncodeToString([]byte(raw))
	}
	return string(c.Scheme) + " " + c.Token
}

// Equal compares credentials in constant time.
func (c Credentials) Equal(o Credentials) bool {
	if c.Scheme != o.Scheme {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Header()), []byte(o.Header())) == 1
}

// ParseAuthorization decodes an Authorization header value.
func ParseAuthorization(header string) (Credentials, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Credentials{}, ErrMissingCredentials
	}
	scheme, value, ok := strings.Cut(header, " ")
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return Credentials{}, ErrInvalidCredentials
	}

	switch Scheme(scheme) {
	case SchemeTargetToken, SchemeGatewayToken:
		return Credentials{Scheme: Scheme(scheme), Token: value}, nil
	case SchemeBasic:
		raw, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return Credentials{}, ErrInvalidCredentials
		}
		user, pass, ok := strings.Cut(string(raw), ":")
		if !ok {
			return Credentials{}, ErrInvalidCredentials
		}
		return Basic(user, pass), nil
	}
	return Credentials{}, ErrUnknownScheme
}

// FromRequest parses the Authorization header of r.
func FromRequest(r *http.Request) (Credentials, error) {
	return ParseAuthorization(r.Header.Get("Authorization"))
}

// Transport adds credentials to every request. Source is consulted per
// request so configuration changes apply to the next call.
type Transport struct {
	Base   http.RoundTripper
	Source func() Credentials
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Source == nil {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", t.Source().Header())
	return base.RoundTrip(r)
}

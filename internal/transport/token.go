// ABOUTME: Bearer token source for authenticated gateway connections
// ABOUTME: Inspects JWT expiry client-side so callers can refresh before dialing

package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken = errors.New("no token configured")
)

// TokenSource holds the bearer token presented on gateway dials. The token
// is issued and verified server-side; the client only decodes the expiry
// claim (unverified) to know when a refresh is due.
type TokenSource struct {
	token string
}

// NewTokenSource creates a token source. An empty token is allowed and
// yields unauthenticated dials.
func NewTokenSource(token string) *TokenSource {
	return &TokenSource{token: token}
}

// Header returns the HTTP header to attach to a dial, or an empty header
// when no token is configured.
func (ts *TokenSource) Header() http.Header {
	h := http.Header{}
	if ts.token != "" {
		h.Set("Authorization", "Bearer "+ts.token)
	}
	return h
}

// ExpiresAt returns the token's expiry time. Returns ErrNoToken when no
// token is configured, or an error when the token is not a parseable JWT.
func (ts *TokenSource) ExpiresAt() (time.Time, error) {
	if ts.token == "" {
		return time.Time{}, ErrNoToken
	}

	// Signature verification happens at the gateway; here we only need the
	// registered claims.
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(ts.token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parsing token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp.Time, nil
}

// ExpiringWithin reports whether the token expires inside the window.
// Unparseable or claim-less tokens report false; the gateway remains the
// authority on rejection.
func (ts *TokenSource) ExpiringWithin(window time.Duration) bool {
	exp, err := ts.ExpiresAt()
	if err != nil {
		return false
	}
	return time.Until(exp) < window
}

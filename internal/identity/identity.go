// Package identity resolves who is making a request. The resolved value is a
// stamp written onto checks, transactions and draft edits; it carries no
// authorization semantics.
package identity

import (
	"errors"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrNoIdentity = errors.New("no identity on request")

// Provider extracts the acting user from an incoming request.
type Provider interface {
	UserFromRequest(r *http.Request) (string, error)
}

type claims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
}

// TokenProvider reads a bearer token signed by the identity frontend and
// returns the email claim, falling back to the subject. Tokens are HS256
// with a shared secret.
type TokenProvider struct {
	secret []byte
}

func NewTokenProvider(secret string) *TokenProvider {
	if secret == "" {
		secret = "dev-change-me"
	}
	return &TokenProvider{secret: []byte(secret)}
}

func (p *TokenProvider) UserFromRequest(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrNoIdentity
	}
	tokenStr, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", ErrNoIdentity
	}

	parsed := &claims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, parsed, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", ErrNoIdentity
	}

	if parsed.Email != "" {
		return parsed.Email, nil
	}
	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoIdentity
	}
	return sub, nil
}

// HeaderProvider trusts an X-User header. Dev and test deployments only,
// where the reverse proxy or the test itself sets the header.
type HeaderProvider struct{}

func (HeaderProvider) UserFromRequest(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.Header.Get("X-User"))
	if user == "" {
		return "", ErrNoIdentity
	}
	return user, nil
}

// Package auth supplies the bearer tokens the pitch API expects and checks
// them on the server side.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenUnavailable means the user is not signed in: no token could be
	// produced for the requested template.
	ErrTokenUnavailable = errors.New("auth: token unavailable")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrMissingKey       = errors.New("auth: signing key is empty")
)

// DefaultTemplate is the token template the pitch API is configured with.
const DefaultTemplate = "test"

// TokenSource returns a bearer token for a named template.
type TokenSource interface {
	Token(ctx context.Context, template string) (string, error)
}

// StaticTokenSource hands out one pre-issued token for every template.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrTokenUnavailable
	}
	return tok, nil
}

// Claims carries the signed-in user and the template the token was minted for.
type Claims struct {
	jwt.RegisteredClaims
	Template string `json:"tpl,omitempty"`
}

// Signer mints HS256 development tokens.
type Signer struct {
	key      []byte
	validity time.Duration
	subject  string
	now      func() time.Time
}

// NewSigner returns a signer for subject. Tokens expire after validity.
func NewSigner(key string, subject string, validity time.Duration) (*Signer, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	if validity <= 0 {
		validity = time.Hour
	}
	return &Signer{key: []byte(key), validity: validity, subject: subject, now: time.Now}, nil
}

// Sign issues a token for subject and template.
func (s *Signer) Sign(subject, template string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", ErrTokenUnavailable
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
		},
		Template: template,
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Token makes the signer usable as a TokenSource for its own subject.
func (s *Signer) Token(ctx context.Context, template string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Sign(s.subject, template)
}

// Verifier checks a bearer token and returns its claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// HMACVerifier validates tokens minted by Signer with the same key.
type HMACVerifier struct {
	key []byte
}

func NewHMACVerifier(key string) (*HMACVerifier, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	return &HMACVerifier{key: []byte(key)}, nil
}

func (v *HMACVerifier) Verify(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// PresenceVerifier accepts any non-empty token. It is what the service uses
// when no signing key is configured, matching the pitch API's dev behavior.
type PresenceVerifier struct{}

func (PresenceVerifier) Verify(token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, ErrTokenUnavailable
	}
	return Claims{}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	h := strings.TrimSpace(header)
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

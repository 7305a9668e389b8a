// Package auth verifies bearer tokens and carries the caller identity through
// request contexts. promptd only needs identity to decide whether an
// evaluation run is persisted; token issuance lives elsewhere.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID   string
	UserName string
}

// ErrInvalidToken is returned for malformed, unsigned or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier. An empty secret disables verification:
// every token is rejected and all runs stay anonymous.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses a bearer token and extracts the caller identity from the
// "uid" and "name" claims.
func (v *Verifier) Verify(token string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, ErrInvalidToken
	}
	token = strings.TrimPrefix(token, "Bearer ")

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	uid, _ := claims["uid"].(string)
	if uid == "" {
		return nil, ErrInvalidToken
	}
	name, _ := claims["name"].(string)
	return &Identity{UserID: uid, UserName: name}, nil
}

type contextKey struct{}

// WithIdentity attaches the identity to a context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext returns the identity attached to ctx, or nil for anonymous
// callers.
func FromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextKey{}).(*Identity)
	return identity
}

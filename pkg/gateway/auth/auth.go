// Package auth verifies session tokens and carries the caller identity
// through request contexts.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	// CreditsRemaining is the balance snapshot embedded in the session
	// token. It is advisory; the billing service owns the real balance.
	CreditsRemaining float64
	// Token is the raw bearer token, forwarded to the billing service.
	Token string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts the bearer token from an Authorization header.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// sessionClaims is the JWT payload issued by the account service.
type sessionClaims struct {
	UID         int64 `json:"uid"`
	SessionData struct {
		CreditsRemaining float64 `json:"credits_remaining"`
	} `json:"session_data"`
	jwt.RegisteredClaims
}

// Verifier validates session tokens signed by the account service.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for HMAC-signed session tokens.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a session token, returning the principal it
// identifies.
func (v *Verifier) Verify(token string) (*Principal, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	if claims.UID <= 0 {
		return nil, fmt.Errorf("session token has no user id")
	}
	return &Principal{
		UserID:           claims.UID,
		CreditsRemaining: claims.SessionData.CreditsRemaining,
		Token:            token,
	}, nil
}

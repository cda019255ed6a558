package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired and ErrInvalid let callers pick the close reason the Attach
// state machine requires (spec: close 1008 "expired" vs a generic 1008)
// without reaching into jwt/v5's own error taxonomy.
var (
	ErrExpired = errors.New("signer: token expired")
	ErrInvalid = errors.New("signer: token invalid")
)

// Verifier validates capability tokens against a remote JWKS document,
// mirroring the pack's keyfunc-based JWT validators.
type Verifier struct {
	keyfunc  keyfunc.Keyfunc
	audience string
}

// NewVerifier fetches and caches the JWKS document at jwksURL using keyfunc's
// default client settings. refreshInterval is not applied: any background
// refresh follows keyfunc's default schedule and runs only while ctx is live.
func NewVerifier(ctx context.Context, jwksURL, audience string, refreshInterval time.Duration) (*Verifier, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("signer: create jwks keyfunc: %w", err)
	}
	return &Verifier{keyfunc: k, audience: audience}, nil
}

// Verify parses and validates a capability token, returning its claims. It
// does not consume the token's jti — the caller (the Gateway's store-backed
// one-shot check) is responsible for replay prevention.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid {
		return nil, ErrInvalid
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalid)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalid)
	}
	return claims, nil
}

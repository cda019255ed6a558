// Package signer mints and verifies the single-use RS256 capability tokens
// that hand a client off from the Controller to the Gateway. The minting
// side publishes the public half of its key as a JWKS document; the
// verifying side fetches and caches that document the same way the pack's
// keyfunc-based validators do.
package signer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the registered claims carried by a capability token, plus the
// session it authorizes the bearer to attach to.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// Signer mints capability tokens and serves their public key as a JWKS doc.
type Signer struct {
	keyID      string
	privateKey *rsa.PrivateKey
	jwks       jwkset.Storage
}

// LoadOrCreate reads an RSA private key from path, generating and persisting
// a new 2048-bit key if none exists yet.
func LoadOrCreate(path, keyID string) (*Signer, error) {
	key, err := loadKey(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("signer: load key: %w", err)
		}
		key, err = generateAndPersist(path)
		if err != nil {
			return nil, fmt.Errorf("signer: generate key: %w", err)
		}
	}

	store := jwkset.NewMemoryStorage()
	jwk, err := jwkset.NewJWKFromKey(key, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			KID: keyID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("signer: build jwk: %w", err)
	}
	if err := store.KeyWrite(context.Background(), jwk); err != nil {
		return nil, fmt.Errorf("signer: write jwk to store: %w", err)
	}

	return &Signer{keyID: keyID, privateKey: key, jwks: store}, nil
}

func loadKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signer: no PEM block in %s", path)
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func generateAndPersist(path string) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("signer: create key dir: %w", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("signer: persist key: %w", err)
	}
	return key, nil
}

// Issue mints a single-use RS256 token authorizing the bearer — identified
// by ownerID, carried as the standard `sub` claim — to attach to sessionID
// for ttl, with a freshly generated jti the caller is expected to register
// as one-shot in the durable store before handing the token back to the
// client.
func (s *Signer) Issue(sessionID, ownerID, audience string, ttl time.Duration) (token string, jti string, err error) {
	now := time.Now()
	jti = generateJTI()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
		SessionID: sessionID,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.keyID

	signed, err := tok.SignedString(s.privateKey)
	if err != nil {
		return "", "", fmt.Errorf("signer: sign token: %w", err)
	}
	return signed, jti, nil
}

// JWKSDocument returns the already-marshaled public JWK set for publishing
// verbatim at /.well-known/jwks.json.
func (s *Signer) JWKSDocument(ctx context.Context) (json.RawMessage, error) {
	return s.jwks.JSONPublic(ctx)
}

func generateJTI() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

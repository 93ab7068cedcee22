// Package auth verifies bearer credentials and extracts the caller's stable
// identity. Audit attribution uses only identities produced here, never
// identity fields supplied in a request body.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"docvault/internal/model"
)

var (
	// ErrMissingCredential indicates no credential was presented at all.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential indicates a malformed, expired or badly signed credential.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Claims is the verified JWT payload. CustomID is the stable caller identity
// bound at issuance; WalletAddress is an optional secondary identifier.
type Claims struct {
	CustomID      string `json:"custom_id"`
	WalletAddress string `json:"wallet_address,omitempty"`
	jwt.RegisteredClaims
}

// Gate validates bearer tokens signed with a shared HMAC secret.
type Gate struct {
	secret []byte
}

// NewGate creates a Gate. The secret must be non-empty.
func NewGate(secret string) (*Gate, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: signing secret is required")
	}
	return &Gate{secret: []byte(secret)}, nil
}

// Verify parses and validates token and returns the identity it attests.
// An empty token yields ErrMissingCredential; any parse, signature or expiry
// failure yields ErrInvalidCredential. A token whose payload carries no
// custom_id is rejected as invalid rather than mapped to an anonymous identity.
func (g *Gate) Verify(token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.CustomID == "" {
		return nil, fmt.Errorf("%w: token payload has no custom_id", ErrInvalidCredential)
	}

	return &model.Identity{
		CustomID:      claims.CustomID,
		WalletAddress: claims.WalletAddress,
	}, nil
}

// Issue mints a token for identity, valid for ttl. It exists for the login
// flow of the surrounding platform and for tests; Verify never trusts
// anything Issue did not sign.
func (g *Gate) Issue(identity model.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		CustomID:      identity.CustomID,
		WalletAddress: identity.WalletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.CustomID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

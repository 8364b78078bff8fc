// Package auth verifies client-presented credential tokens and resolves
// them to identities at connection time.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
)

// Claims is the payload carried by a credential token. The subject claim
// holds the identity address.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier signs and verifies credential tokens with an HMAC secret.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewVerifier creates a Verifier from the auth configuration.
//
// Precondition: cfg.Secret must be non-empty; cfg.Issuer must be non-empty.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
	}
}

// Mint creates a signed credential token for the given identity address.
//
// Precondition: address must be non-empty.
// Postcondition: Returns a signed token string or a non-nil error.
func (v *Verifier) Mint(address string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature, expiry, and issuer, and returns the
// identity address it was minted for.
//
// Postcondition: Returns a non-empty address, or chat.ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", chat.ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", chat.ErrInvalidToken
	}
	return claims.Subject, nil
}

// IdentityLookup is the identity-store read required by the Gate.
type IdentityLookup interface {
	IdentityByAddress(ctx context.Context, address string) (chat.Identity, error)
}

// Gate authenticates a connection attempt. It runs once per connection,
// before any other event is accepted; on failure no session is created.
type Gate struct {
	verifier   *Verifier
	identities IdentityLookup
}

// NewGate creates a Gate over the given verifier and identity store.
//
// Precondition: verifier and identities must be non-nil.
func NewGate(verifier *Verifier, identities IdentityLookup) *Gate {
	return &Gate{verifier: verifier, identities: identities}
}

// Authenticate resolves a credential token to an Identity.
//
// Postcondition: Returns the Identity the token was minted for, or
// chat.ErrMissingToken / chat.ErrInvalidToken. A token naming an address
// with no identity record fails as invalid, not as a lookup miss.
func (g *Gate) Authenticate(ctx context.Context, token string) (chat.Identity, error) {
	if token == "" {
		return chat.Identity{}, chat.ErrMissingToken
	}

	address, err := g.verifier.Verify(token)
	if err != nil {
		return chat.Identity{}, err
	}

	identity, err := g.identities.IdentityByAddress(ctx, address)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: no identity for %q", chat.ErrInvalidToken, address)
	}
	return identity, nil
}

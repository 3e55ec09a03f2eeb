// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aegis-sec/aegis/internal/errs"
)

// TokenMirror is an in-process Provider that mirrors computed claims into
// signed JWTs. It backs deployments where the auth provider consumes a
// claims token rather than exposing a claims API, and doubles as the test
// provider.
type TokenMirror struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration

	mu         sync.RWMutex
	identities map[string]*Identity
	tokens     map[string]string // identity id -> latest minted claims token
}

// NewTokenMirror creates a TokenMirror signing claims tokens with key.
func NewTokenMirror(signingKey []byte, issuer string, tokenTTL time.Duration) *TokenMirror {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &TokenMirror{
		signingKey: signingKey,
		issuer:     issuer,
		tokenTTL:   tokenTTL,
		identities: make(map[string]*Identity),
		tokens:     make(map[string]string),
	}
}

// Register adds or replaces an identity record.
func (m *TokenMirror) Register(identity *Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[identity.ID] = identity
}

// FetchIdentity retrieves an identity by id.
func (m *TokenMirror) FetchIdentity(ctx context.Context, id string) (*Identity, error) {
	m.mu.RLock()
	identity, ok := m.identities[id]
	m.mu.RUnlock()

	if !ok {
		return nil, errs.NotFound("identity", id)
	}
	copied := *identity
	return &copied, nil
}

// SetCustomClaims mints a signed claims token carrying the computed
// roles/permissions and retains it as the identity's latest token.
func (m *TokenMirror) SetCustomClaims(ctx context.Context, id string, claims map[string]interface{}) error {
	m.mu.RLock()
	_, known := m.identities[id]
	m.mu.RUnlock()
	if !known {
		return errs.NotFound("identity", id)
	}

	now := time.Now()
	mapClaims := jwt.MapClaims{
		"iss": m.issuer,
		"sub": id,
		"iat": now.Unix(),
		"exp": now.Add(m.tokenTTL).Unix(),
	}
	for k, v := range claims {
		mapClaims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return fmt.Errorf("sign claims token: %w", err)
	}

	m.mu.Lock()
	m.tokens[id] = signed
	m.mu.Unlock()
	return nil
}

// ClaimsToken returns the latest minted claims token for an identity.
func (m *TokenMirror) ClaimsToken(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[id]
	return token, ok
}

// ParseClaims verifies a minted token and returns its claims. Used by tests
// and by boundaries that want to inspect mirrored permissions.
func (m *TokenMirror) ParseClaims(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse claims token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid claims token")
	}
	return claims, nil
}

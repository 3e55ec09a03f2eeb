// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package identity defines the identity/credential collaborator boundary.
// Credential storage and verification live outside the engine; this package
// only fetches identities and mirrors computed roles/permissions onto
// session-token claims.
package identity

import (
	"context"
	"time"
)

// Identity is the minimal identity record the engine consumes.
type Identity struct {
	ID        string            `json:"id"`
	Email     string            `json:"email,omitempty"`
	Disabled  bool              `json:"disabled"`
	Claims    map[string]string `json:"claims,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Provider is the identity collaborator interface.
type Provider interface {
	// FetchIdentity retrieves an identity by id. Returns errs.NotFound if
	// unknown.
	FetchIdentity(ctx context.Context, id string) (*Identity, error)

	// SetCustomClaims mirrors computed roles/permissions onto the identity's
	// session tokens.
	SetCustomClaims(ctx context.Context, id string, claims map[string]interface{}) error
}

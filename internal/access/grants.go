// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package access

import (
	"context"
	"time"

	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/models"
)

// AssignRoles creates or replaces the identity's grant with the given roles
// and mirrors the computed permissions onto the identity's session claims.
func (d *Decider) AssignRoles(ctx context.Context, identityID string, roles []models.Role, assignedBy string, expiresAt *time.Time) (*models.IdentityGrant, error) {
	if identityID == "" {
		return nil, errs.Validation("grant", "identity_id", "must not be empty")
	}
	if len(roles) == 0 {
		return nil, errs.Validation("grant", "roles", "at least one role required")
	}
	for _, role := range roles {
		if !ValidRole(role) {
			return nil, errs.Validation("grant", "roles", "unknown role "+string(role))
		}
	}

	grant := &models.IdentityGrant{
		IdentityID:  identityID,
		Roles:       roles,
		Permissions: PermissionsForRoles(roles),
		AssignedBy:  assignedBy,
		AssignedAt:  d.now().UTC(),
		ExpiresAt:   expiresAt,
	}
	if err := d.store.Set(ctx, GrantCollection, identityID, grant); err != nil {
		return nil, errs.Storage("grant write", err)
	}
	d.mirrorClaims(ctx, grant)
	return grant, nil
}

// UpdateRoles replaces the roles on an existing grant, preserving
// restrictions and overrides.
func (d *Decider) UpdateRoles(ctx context.Context, identityID string, roles []models.Role, updatedBy string) (*models.IdentityGrant, error) {
	if len(roles) == 0 {
		return nil, errs.Validation("grant", "roles", "at least one role required")
	}
	for _, role := range roles {
		if !ValidRole(role) {
			return nil, errs.Validation("grant", "roles", "unknown role "+string(role))
		}
	}

	var grant models.IdentityGrant
	if err := d.store.Get(ctx, GrantCollection, identityID, &grant); err != nil {
		return nil, err
	}
	grant.Roles = roles
	grant.Permissions = PermissionsForRoles(roles)
	grant.AssignedBy = updatedBy
	grant.AssignedAt = d.now().UTC()
	if err := d.store.Set(ctx, GrantCollection, identityID, &grant); err != nil {
		return nil, errs.Storage("grant write", err)
	}
	d.mirrorClaims(ctx, &grant)
	return &grant, nil
}

// Revoke logically deletes the grant. Subsequent reads fall back to the
// default low-privilege grant.
func (d *Decider) Revoke(ctx context.Context, identityID, revokedBy string) error {
	var grant models.IdentityGrant
	if err := d.store.Get(ctx, GrantCollection, identityID, &grant); err != nil {
		return err
	}
	grant.Revoked = true
	grant.AssignedBy = revokedBy
	if err := d.store.Set(ctx, GrantCollection, identityID, &grant); err != nil {
		return errs.Storage("grant write", err)
	}
	d.mirrorClaims(ctx, DefaultGrant(identityID))
	return nil
}

// Suspend marks the identity suspended; every decision denies until it is
// reinstated. Used as the disable-account containment primitive.
func (d *Decider) Suspend(ctx context.Context, identityID string) error {
	return d.setSuspended(ctx, identityID, true)
}

// Reinstate lifts a suspension.
func (d *Decider) Reinstate(ctx context.Context, identityID string) error {
	return d.setSuspended(ctx, identityID, false)
}

func (d *Decider) setSuspended(ctx context.Context, identityID string, suspended bool) error {
	var grant models.IdentityGrant
	found, err := d.store.GetOptional(ctx, GrantCollection, identityID, &grant)
	if err != nil {
		return errs.Storage("grant read", err)
	}
	if !found {
		grant = *DefaultGrant(identityID)
	}
	grant.Suspended = suspended
	if err := d.store.Set(ctx, GrantCollection, identityID, &grant); err != nil {
		return errs.Storage("grant write", err)
	}
	logging.Info().
		Str("identity_id", identityID).
		Bool("suspended", suspended).
		Msg("identity suspension updated")
	return nil
}

// mirrorClaims pushes the computed roles and permissions onto the
// identity's session token. Best effort: a failed mirror is logged and the
// grant remains authoritative.
func (d *Decider) mirrorClaims(ctx context.Context, grant *models.IdentityGrant) {
	if d.provider == nil || grant.IdentityID == "" {
		return
	}
	roles := make([]string, len(grant.Roles))
	for i, role := range grant.Roles {
		roles[i] = string(role)
	}
	claims := map[string]interface{}{
		"roles":       roles,
		"permissions": grant.HeldPermissions(),
		"suspended":   grant.Suspended,
	}
	if err := d.provider.SetCustomClaims(ctx, grant.IdentityID, claims); err != nil {
		logging.Err(err).Str("identity_id", grant.IdentityID).Msg("claims mirror failed")
	}
}

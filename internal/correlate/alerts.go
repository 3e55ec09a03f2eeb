// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package correlate

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/store"
)

// GetAlert fetches one alert by id.
func (c *Correlator) GetAlert(ctx context.Context, id string) (*models.SecurityAlert, error) {
	var alert models.SecurityAlert
	if err := c.store.Get(ctx, AlertCollection, id, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListAlerts returns alerts, newest first, optionally filtered by status.
// Pass an empty status for all alerts; limit <= 0 means no limit.
func (c *Correlator) ListAlerts(ctx context.Context, status models.AlertStatus, limit int) ([]*models.SecurityAlert, error) {
	spec := store.QuerySpec{
		Collection: AlertCollection,
		OrderBy:    "created_at",
		Descending: true,
		Limit:      limit,
	}
	if status != "" {
		spec.Filters = []store.Filter{{Field: "status", Op: store.OpEqual, Value: string(status)}}
	}
	raws, err := c.store.Query(ctx, spec)
	if err != nil {
		return nil, errs.Storage("alert query", err)
	}
	alerts := make([]*models.SecurityAlert, 0, len(raws))
	for _, raw := range raws {
		var alert models.SecurityAlert
		if err := json.Unmarshal(raw, &alert); err != nil {
			continue
		}
		alerts = append(alerts, &alert)
	}
	return alerts, nil
}

var validAlertStatuses = map[models.AlertStatus]struct{}{
	models.AlertActive:        {},
	models.AlertInvestigating: {},
	models.AlertResolved:      {},
	models.AlertFalsePositive: {},
}

// UpdateAlertStatus moves an alert through its investigation states.
func (c *Correlator) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error {
	if _, ok := validAlertStatuses[status]; !ok {
		return errs.Validation("alert", "status", "unknown status "+string(status))
	}
	var alert models.SecurityAlert
	if err := c.store.Get(ctx, AlertCollection, id, &alert); err != nil {
		return err
	}
	alert.Status = status
	alert.UpdatedAt = c.now().UTC()
	if err := c.store.Set(ctx, AlertCollection, id, &alert); err != nil {
		return errs.Storage("alert write", err)
	}
	return nil
}

// Sweep evicts expired alert dedup keys. Wired to a periodic task.
func (c *Correlator) Sweep() {
	c.dedup.Sweep()
}

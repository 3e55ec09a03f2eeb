// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package engine

import (
	"context"
	"time"

	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/policy"
	"github.com/aegis-sec/aegis/internal/threat"
)

// ProcessResult is the combined outcome of one request evaluation.
type ProcessResult struct {
	// Allowed is the conjunction of the three stage verdicts.
	Allowed bool `json:"allowed"`

	// Reason explains a deny: the threat block reason, the access denial
	// reason, or the policy recommendation, in that precedence.
	Reason string `json:"reason,omitempty"`

	Threat      *threat.Result            `json:"threat"`
	Access      *models.AccessDecision    `json:"access,omitempty"`
	Enforcement *models.EnforcementResult `json:"enforcement,omitempty"`

	// RiskScore is the maximum across the stages that ran.
	RiskScore int `json:"risk_score"`
}

// Process runs one request through the fixed pipeline: threat scoring,
// then the access decision, then policy enforcement. A threat block
// short-circuits the later stages. Each stage checks for cancellation
// before running, so a canceled context leaves no partial state behind;
// the error is ctx.Err() and the result is nil.
func (e *Engine) Process(ctx context.Context, rc *models.RequestContext) (*ProcessResult, error) {
	if rc == nil {
		return nil, errs.Validation("request", "request", "must not be nil")
	}
	if rc.Timestamp.IsZero() {
		rc.Timestamp = time.Now().UTC()
	}
	timer := time.Now()
	defer func() {
		metrics.EvaluationDuration.WithLabelValues("pipeline").Observe(time.Since(timer).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	threatRes := e.scorer.Evaluate(ctx, rc)
	if threatRes.Blocked {
		e.maybeOpenIncident(ctx, threatRes)
		return &ProcessResult{
			Allowed:   false,
			Reason:    blockReason(threatRes),
			Threat:    threatRes,
			RiskScore: threatRes.RiskScore,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	grant, err := e.decider.GrantFor(ctx, rc.IdentityID)
	if err != nil {
		// Fail closed on a grant read fault.
		logging.Err(err).Str("identity_id", rc.IdentityID).Msg("grant load failed")
		grant = nil
	}
	decision := e.decider.Decide(ctx, grant, rc)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var roles []models.Role
	if grant != nil {
		roles = grant.Roles
	}
	enforcement := e.policies.Evaluate(ctx, rc, &policy.Inputs{
		Roles:    roles,
		Decision: &decision,
		Findings: threatRes.Findings,
	})

	result := &ProcessResult{
		Allowed:     decision.Allowed && enforcement.Allowed,
		Threat:      threatRes,
		Access:      &decision,
		Enforcement: enforcement,
		RiskScore:   maxInt(threatRes.RiskScore, decision.RiskScore, enforcement.RiskScore),
	}
	switch {
	case !decision.Allowed:
		result.Reason = decision.Reason
	case !enforcement.Allowed:
		result.Reason = "Blocked by policy: " + string(enforcement.Recommendation)
	}
	return result, nil
}

// maybeOpenIncident opens an incident for the first critical finding of a
// blocked request. High-but-not-critical activity reaches incidents through
// alert correlation instead.
func (e *Engine) maybeOpenIncident(ctx context.Context, res *threat.Result) {
	for i := range res.Findings {
		if res.Findings[i].Severity != models.SeverityCritical {
			continue
		}
		if _, err := e.incidents.CreateFromFinding(ctx, &res.Findings[i]); err != nil {
			logging.Err(err).Str("finding_id", res.Findings[i].ID).Msg("incident creation from finding failed")
		}
		return
	}
}

func blockReason(res *threat.Result) string {
	if len(res.Findings) > 0 {
		return res.Findings[0].Detail
	}
	return "Source blocked"
}

func maxInt(values ...int) int {
	out := 0
	for _, v := range values {
		if v > out {
			out = v
		}
	}
	return out
}

// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package metrics provides Prometheus instrumentation for the engine:
// evaluation latency per component, detector findings, policy outcomes,
// alert and incident lifecycle counters, and cache efficiency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EvaluationDuration tracks per-component evaluation latency.
	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegis_evaluation_duration_seconds",
			Help:    "Duration of component evaluations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	// EvaluationFaults counts unexpected component failures.
	EvaluationFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_evaluation_faults_total",
			Help: "Total unexpected evaluation faults per component",
		},
		[]string{"component"},
	)

	// AccessDecisions counts allow/deny outcomes.
	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_access_decisions_total",
			Help: "Total access decisions by outcome",
		},
		[]string{"outcome"},
	)

	// ThreatFindings counts detector findings by type and severity.
	ThreatFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_threat_findings_total",
			Help: "Total threat findings by type and severity",
		},
		[]string{"type", "severity"},
	)

	// BlockedSources gauges the current block-set size.
	BlockedSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegis_blocked_sources",
			Help: "Current number of blocked sources",
		},
	)

	// PolicyViolations counts fired policies by enforcement mode.
	PolicyViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_policy_violations_total",
			Help: "Total policy violations by enforcement mode",
		},
		[]string{"enforcement"},
	)

	// PolicyCacheHits counts evaluation cache hits and misses.
	PolicyCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_policy_cache_requests_total",
			Help: "Policy evaluation cache requests by result",
		},
		[]string{"result"}, // hit, miss
	)

	// EventsIngested counts correlator ingestion by path.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_events_ingested_total",
			Help: "Security events ingested by processing path",
		},
		[]string{"path"}, // sync, buffered
	)

	// AlertsCreated counts alerts by severity.
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_alerts_created_total",
			Help: "Alerts created by severity",
		},
		[]string{"severity"},
	)

	// IncidentsOpen gauges currently active incidents.
	IncidentsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aegis_incidents_open",
			Help: "Currently open (non-closed) incidents",
		},
	)

	// IncidentTransitions counts state machine transitions.
	IncidentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_incident_transitions_total",
			Help: "Incident status transitions",
		},
		[]string{"to"},
	)

	// SLABreaches counts missed SLA targets.
	SLABreaches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_sla_breaches_total",
			Help: "SLA targets missed by kind",
		},
		[]string{"kind"}, // acknowledgment, containment, resolution
	)
)

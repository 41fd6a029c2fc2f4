// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import "time"

// Metrics exposes the current health state of a provider for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}

// Status values reported by Report.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Report is the service health summary: the overall status plus one
// Metrics entry per registered provider.
type Report struct {
	Status    string             `json:"status"`
	Providers map[string]Metrics `json:"providers"`
}

// NewReport derives the overall status from providers: degraded as soon
// as one provider is unavailable.
func NewReport(providers map[string]Metrics) Report {
	status := StatusOK
	for _, m := range providers {
		if !m.Available {
			status = StatusDegraded
			break
		}
	}
	if providers == nil {
		providers = map[string]Metrics{}
	}
	return Report{Status: status, Providers: providers}
}

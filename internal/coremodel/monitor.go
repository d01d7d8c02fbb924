package coremodel

import (
	"fmt"
	"time"
)

// MonitorHealthStatus is the closed enumeration of MonitorStatus.status.
type MonitorHealthStatus string

const (
	HealthOK                  MonitorHealthStatus = "healthy"
	HealthIssuesDetected      MonitorHealthStatus = "issues_detected"
	HealthHighIssues          MonitorHealthStatus = "high_issues"
	HealthCriticalIssues      MonitorHealthStatus = "critical_issues"
	HealthAdapterUnavailable  MonitorHealthStatus = "adapter_unavailable"
)

// MonitorStatus is the periodic heartbeat published on the "status" topic (spec §3).
type MonitorStatus struct {
	Timestamp           time.Time           `json:"timestamp"`
	NodesReady          int                 `json:"nodes_ready"`
	NodesTotal          int                 `json:"nodes_total"`
	PodsRunning         int                 `json:"pods_running"`
	PodsTotal           int                 `json:"pods_total"`
	PodsPending         int                 `json:"pods_pending"`
	IssuesCount         int                 `json:"issues_count"`
	Status              MonitorHealthStatus `json:"status"`
	LastInvestigationID string              `json:"last_investigation_id,omitempty"`
}

// String renders a terminal-friendly one-line projection of the status,
// ported from the original monitor's format_health_status (without the
// emoji prefixes the Python prototype used).
func (s MonitorStatus) String() string {
	label := map[MonitorHealthStatus]string{
		HealthOK:                 "OK",
		HealthIssuesDetected:     "ISSUES DETECTED",
		HealthHighIssues:         "HIGH SEVERITY ISSUES",
		HealthCriticalIssues:     "CRITICAL ISSUES",
		HealthAdapterUnavailable: "CLUSTER ADAPTER UNAVAILABLE",
	}[s.Status]
	return fmt.Sprintf("[%s] nodes %d/%d ready, pods %d/%d running (%d pending), %d issue(s)",
		label, s.NodesReady, s.NodesTotal, s.PodsRunning, s.PodsTotal, s.PodsPending, s.IssuesCount)
}

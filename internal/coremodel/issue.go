package coremodel

import "time"

// IssueKind is the closed enumeration of anomaly kinds the detector recognizes.
type IssueKind string

const (
	ImagePullBackOff     IssueKind = "ImagePullBackOff"
	ErrImagePull         IssueKind = "ErrImagePull"
	CrashLoopBackOff     IssueKind = "CrashLoopBackOff"
	OOMKilled            IssueKind = "OOMKilled"
	PendingUnschedulable IssueKind = "PendingUnschedulable"
	NodeNotReady         IssueKind = "NodeNotReady"
	HighRestart          IssueKind = "HighRestart"
	EvictedPod           IssueKind = "EvictedPod"
	FailedMount          IssueKind = "FailedMount"
	UnknownIssue         IssueKind = "Unknown"
)

// Severity is the closed enumeration of issue/finding severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for comparison, highest first.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:      1,
	SeverityMedium:    2,
	SeverityLow:       3,
}

// Less reports whether a is strictly more severe than b.
func (a Severity) Less(b Severity) bool {
	return severityRank[a] < severityRank[b]
}

// Issue is an anomaly extracted from one snapshot (spec §3).
type Issue struct {
	Kind        IssueKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	Target      ObjectRef `json:"target"`
	Evidence    []string  `json:"evidence"`
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
	DetectedAt  time.Time `json:"detected_at"`
}

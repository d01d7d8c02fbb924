// Package issue classifies cluster snapshot deltas into typed Issue
// records, applies stable fingerprints, and debounces/cools down repeated
// emissions so the scheduler only sees genuinely actionable signal.
//
// Grounded on the original prototype's pod/event classification rules
// (original_source/backend/app/services/autonomous_monitor.py's
// analyze_pod_issues and its node/event counterparts), reimplemented as a
// deterministic, side-effect-free classification pass over two
// coremodel.ClusterSnapshot values plus an explicit stateful window.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/kubilitics/invcore/internal/coremodel"
)

const (
	// PendingUnschedulableAge is how long a pod must sit in Pending with a
	// scheduling-failure event before it's classified (spec §4.2 rule 5).
	PendingUnschedulableAge = 2 * time.Minute
	// HighRestartWindow bounds the sliding window for rule 9.
	HighRestartWindow = 10 * time.Minute
	// HighRestartThreshold is the minimum restart count within the window.
	HighRestartThreshold = 3
)

// RestartTracker records the timestamp of every observed restart-count
// increase per container, so rule 9 (HighRestart) can require the
// threshold be reached within HighRestartWindow rather than over the
// container's entire lifetime. Callers keep one RestartTracker alive across
// snapshot ticks (mirroring how Window keeps per-fingerprint state alive).
type RestartTracker struct {
	mu      sync.Mutex
	history map[string][]time.Time
}

// NewRestartTracker builds an empty RestartTracker.
func NewRestartTracker() *RestartTracker {
	return &RestartTracker{history: map[string][]time.Time{}}
}

// observe records delta new restart increments for key at now, prunes
// entries older than HighRestartWindow, and returns how many remain.
func (t *RestartTracker) observe(key string, delta int, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < delta; i++ {
		t.history[key] = append(t.history[key], now)
	}
	cutoff := now.Add(-HighRestartWindow)
	kept := t.history[key][:0]
	for _, ts := range t.history[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(t.history, key)
		return 0
	}
	t.history[key] = kept
	return len(kept)
}

// Classify applies the nine ordered classification rules to cur, using prev
// (may be nil) to detect restart-count increases for the CrashLoopBackOff
// rule and to feed restarts, which bounds rule 9 to HighRestartWindow. now
// is injected so callers can drive the sliding window deterministically.
// Classify does not consult or mutate any DetectionWindow; debouncing is a
// separate concern applied by Window.Observe.
func Classify(prev *coremodel.ClusterSnapshot, cur coremodel.ClusterSnapshot, now time.Time, restarts *RestartTracker) []coremodel.Issue {
	var issues []coremodel.Issue

	prevRestarts := map[string]int{}
	if prev != nil {
		for _, p := range prev.Pods {
			for _, c := range p.Containers {
				prevRestarts[podContainerKey(p.Namespace, p.Name, c.Name)] = c.RestartCount
			}
		}
	}

	for _, pod := range cur.Pods {
		for _, c := range pod.Containers {
			if iss, ok := classifyContainer(cur, pod, c, prevRestarts, restarts, now); ok {
				issues = append(issues, iss)
			}
		}
		if iss, ok := classifyPendingUnschedulable(cur, pod); ok {
			issues = append(issues, iss)
		}
	}

	for _, node := range cur.Nodes {
		if !node.Ready {
			issues = append(issues, newIssue(coremodel.NodeNotReady, coremodel.SeverityCritical,
				coremodel.ObjectRef{Kind: "Node", Name: node.Name}, "NotReady",
				[]string{"node " + node.Name + " is not Ready"}))
		}
	}

	for _, ev := range cur.Events {
		if iss, ok := classifyEvent(ev); ok {
			issues = append(issues, iss)
		}
	}

	return issues
}

func classifyContainer(cur coremodel.ClusterSnapshot, pod coremodel.PodInfo, c coremodel.ContainerStatus, prevRestarts map[string]int, restarts *RestartTracker, now time.Time) (coremodel.Issue, bool) {
	target := coremodel.ObjectRef{Namespace: pod.Namespace, Kind: "Pod", Name: pod.Name, Container: c.Name}
	key := podContainerKey(pod.Namespace, pod.Name, c.Name)

	prevCount, hadPrev := prevRestarts[key]
	restartIncreased := hadPrev && c.RestartCount > prevCount
	delta := 0
	if restartIncreased {
		delta = c.RestartCount - prevCount
	}
	// Recorded unconditionally, before any branch below can short-circuit
	// with an early return, so the sliding window never loses a restart
	// that happened on a tick also classified as something else.
	recentRestarts := restarts.observe(key, delta, now)

	if c.State.Waiting != nil {
		switch c.State.Waiting.Reason {
		case "ImagePullBackOff":
			return newIssue(coremodel.ImagePullBackOff, coremodel.SeverityHigh, target, c.State.Waiting.Reason,
				[]string{c.Image, c.State.Waiting.Message}), true
		case "ErrImagePull":
			return newIssue(coremodel.ErrImagePull, coremodel.SeverityHigh, target, c.State.Waiting.Reason,
				[]string{c.Image, c.State.Waiting.Message}), true
		case "CrashLoopBackOff":
			return newIssue(coremodel.CrashLoopBackOff, crashLoopSeverity(c.RestartCount), target, c.State.Waiting.Reason,
				[]string{c.State.Waiting.Message, restartEvidence(c.RestartCount)}), true
		}
	}

	if c.State.Terminated != nil {
		if c.State.Terminated.Reason == "OOMKilled" {
			return newIssue(coremodel.OOMKilled, coremodel.SeverityCritical, target, "OOMKilled",
				[]string{c.State.Terminated.Message, restartEvidence(c.RestartCount)}), true
		}
		if restartIncreased && (c.State.Terminated.Reason == "Error" || c.State.Terminated.ExitCode != 0) {
			return newIssue(coremodel.CrashLoopBackOff, crashLoopSeverity(c.RestartCount), target, c.State.Terminated.Reason,
				[]string{c.State.Terminated.Message, restartEvidence(c.RestartCount)}), true
		}
	}

	if recentRestarts >= HighRestartThreshold {
		return newIssue(coremodel.HighRestart, coremodel.SeverityMedium, target, "HighRestart",
			[]string{restartEvidence(c.RestartCount)}), true
	}

	return coremodel.Issue{}, false
}

func classifyPendingUnschedulable(cur coremodel.ClusterSnapshot, pod coremodel.PodInfo) (coremodel.Issue, bool) {
	if pod.Phase != coremodel.PodPending || pod.Age <= PendingUnschedulableAge {
		return coremodel.Issue{}, false
	}
	for _, ev := range cur.Events {
		if ev.Object.Namespace != pod.Namespace || ev.Object.Name != pod.Name {
			continue
		}
		if ev.Reason == "FailedScheduling" || ev.Reason == "Unschedulable" {
			target := coremodel.ObjectRef{Namespace: pod.Namespace, Kind: "Pod", Name: pod.Name}
			return newIssue(coremodel.PendingUnschedulable, coremodel.SeverityCritical, target, ev.Reason,
				[]string{ev.Message}), true
		}
	}
	return coremodel.Issue{}, false
}

func classifyEvent(ev coremodel.Event) (coremodel.Issue, bool) {
	target := coremodel.ObjectRef{Namespace: ev.Object.Namespace, Kind: ev.Object.Kind, Name: ev.Object.Name}
	switch ev.Reason {
	case "Evicted":
		return newIssue(coremodel.EvictedPod, coremodel.SeverityHigh, target, ev.Reason, []string{ev.Message}), true
	case "FailedMount", "FailedAttachVolume":
		return newIssue(coremodel.FailedMount, coremodel.SeverityMedium, target, ev.Reason, []string{ev.Message}), true
	}
	return coremodel.Issue{}, false
}

func crashLoopSeverity(restartCount int) coremodel.Severity {
	if restartCount >= 5 {
		return coremodel.SeverityCritical
	}
	if restartCount >= 2 {
		return coremodel.SeverityHigh
	}
	return coremodel.SeverityLow
}

func restartEvidence(n int) string {
	return "restartCount=" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func podContainerKey(namespace, name, container string) string {
	return namespace + "/" + name + "/" + container
}

func newIssue(kind coremodel.IssueKind, sev coremodel.Severity, target coremodel.ObjectRef, primaryReason string, evidence []string) coremodel.Issue {
	now := time.Now().UTC()
	var filteredEvidence []string
	for _, e := range evidence {
		if strings.TrimSpace(e) != "" {
			filteredEvidence = append(filteredEvidence, e)
		}
	}
	return coremodel.Issue{
		Kind:        kind,
		Severity:    sev,
		Target:      target,
		Evidence:    filteredEvidence,
		Fingerprint: fingerprint(kind, target, primaryReason),
		FirstSeen:   now,
		DetectedAt:  now,
	}
}

// fingerprint implements spec's
// H(kind ∥ namespace ∥ kind-of-target ∥ name ∥ container? ∥ primary-reason),
// excluding timestamps, counts, and pod UIDs so recurrences collapse onto
// the same identity.
func fingerprint(kind coremodel.IssueKind, target coremodel.ObjectRef, primaryReason string) string {
	h := sha256.New()
	parts := []string{string(kind), target.Namespace, target.Kind, target.Name, target.Container, primaryReason}
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

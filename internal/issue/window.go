package issue

import (
	"sync"
	"time"

	"github.com/kubilitics/invcore/internal/coremodel"
)

// detectionWindow is the per-fingerprint running state (spec §3,
// DetectionWindow): first/last seen, any active investigation, cooldown
// expiry, and the consecutive-snapshot counter debouncing depends on.
type detectionWindow struct {
	firstSeen             time.Time
	lastSeen              time.Time
	activeInvestigationID string
	cooldownUntil         time.Time
	emittedSeverity       coremodel.Severity
	consecutiveSnapshots  int
	lastRestartCount      int
}

// Window tracks DetectionWindow state across snapshots and decides which
// raw Issue occurrences are actually emitted to the scheduler, applying
// the debounceK/cooldown rule from spec §4.2.
type Window struct {
	mu        sync.Mutex
	debounceK int
	cooldown  time.Duration
	windows   map[string]*detectionWindow
}

// NewWindow builds a Window. debounceK must be >= 1; cooldown is the
// per-fingerprint suppression duration after an emission.
func NewWindow(debounceK int, cooldown time.Duration) *Window {
	if debounceK < 1 {
		debounceK = 1
	}
	return &Window{debounceK: debounceK, cooldown: cooldown, windows: map[string]*detectionWindow{}}
}

// Observe ingests this tick's raw classification and returns the subset of
// issues that should actually be emitted to the scheduler right now,
// applying debouncing and cooldown. now is injected so callers can drive
// this deterministically in tests.
func (w *Window) Observe(now time.Time, issues []coremodel.Issue) []coremodel.Issue {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(issues))
	var emit []coremodel.Issue

	for _, iss := range issues {
		seen[iss.Fingerprint] = true
		win, ok := w.windows[iss.Fingerprint]
		restartCount := restartCountFromEvidence(iss.Evidence)
		if !ok {
			win = &detectionWindow{firstSeen: now, consecutiveSnapshots: 0, lastRestartCount: restartCount}
			w.windows[iss.Fingerprint] = win
		}
		if restartCount >= 0 && restartCount < win.lastRestartCount {
			// Pod replaced (restart count reset downward): window restarts.
			win.consecutiveSnapshots = 0
		}
		win.lastRestartCount = restartCount
		win.lastSeen = now
		win.consecutiveSnapshots++

		// During cooldown only a rise in severity is emitted again.
		if !win.cooldownUntil.IsZero() && now.Before(win.cooldownUntil) && !iss.Severity.Less(win.emittedSeverity) {
			continue
		}

		eligible := iss.Severity == coremodel.SeverityCritical || win.consecutiveSnapshots >= w.debounceK
		if !eligible {
			continue
		}

		iss.FirstSeen = win.firstSeen
		emit = append(emit, iss)
		win.cooldownUntil = now.Add(w.cooldown)
		win.emittedSeverity = iss.Severity
	}

	// A pod disappearing clears its window; prune fingerprints not seen this tick.
	for fp := range w.windows {
		if !seen[fp] {
			delete(w.windows, fp)
		}
	}

	return emit
}

// MarkRunning records that an investigation has been dispatched for fingerprint.
func (w *Window) MarkRunning(fingerprint, investigationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if win, ok := w.windows[fingerprint]; ok {
		win.activeInvestigationID = investigationID
	}
}

// ClearRunning clears the active-investigation marker for fingerprint.
func (w *Window) ClearRunning(fingerprint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if win, ok := w.windows[fingerprint]; ok {
		win.activeInvestigationID = ""
	}
}

// DoubleCooldown extends a fingerprint's cooldown, capped at 2x the
// configured cooldown, used by the llm_rate_limited escalation path (spec §7).
func (w *Window) DoubleCooldown(fingerprint string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	win, ok := w.windows[fingerprint]
	if !ok {
		return
	}
	cap := now.Add(2 * w.cooldown)
	doubled := win.cooldownUntil.Add(w.cooldown)
	if doubled.After(cap) {
		doubled = cap
	}
	win.cooldownUntil = doubled
}

func restartCountFromEvidence(evidence []string) int {
	for _, e := range evidence {
		if n, ok := parseRestartEvidence(e); ok {
			return n
		}
	}
	return -1
}

func parseRestartEvidence(s string) (int, bool) {
	const prefix = "restartCount="
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return 0, false
	}
	n := 0
	for _, r := range s[len(prefix):] {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

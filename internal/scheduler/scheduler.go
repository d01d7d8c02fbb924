// Package scheduler is the concurrency and policy core: it turns emitted
// Issues and explicit API requests into dispatched investigations, enforces
// the global concurrency cap, and owns each fingerprint's lifecycle state
// (idle → pending → running → idle). The scheduler keeps no cooldown state
// of its own: cooldown after an emission is applied by issue.Window, and a
// trigger that arrives while its fingerprint is running is dispatched as
// soon as that run finishes.
//
// Grounded on the teacher's (deleted) internal/reasoning/engine_impl.go,
// which ran a worker-pool-style dispatch loop over a buffered channel of
// investigation requests with a semaphore for concurrency; the state
// machine and debounce-aware dispatch policy here are new, built directly
// from spec §4.3 since the teacher had no equivalent per-fingerprint
// cooldown concept.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/errs"
	"github.com/kubilitics/invcore/internal/eventbus"
)

// State is the per-fingerprint lifecycle state (spec §4.3).
type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateCooldown State = "cooldown"
)

// Investigator runs one investigation to completion (or until ctx is done)
// and returns the sealed report. Implementations live in
// internal/investigator; DeterministicInvestigator and AgenticInvestigator
// both satisfy this.
type Investigator interface {
	Mode() coremodel.Mode
	Investigate(ctx context.Context, report *coremodel.InvestigationReport, issue *coremodel.Issue, namespace string) coremodel.InvestigationReport
}

// ReportStore is the subset of internal/report.Store the scheduler needs.
type ReportStore interface {
	Create(report coremodel.InvestigationReport) error
	Seal(id string, status coremodel.ReportStatus, findings []coremodel.Finding, summary string, recommendations []string, steps []coremodel.Step) error
}

// Config bundles the scheduler's tunables (configuration table, spec §6.4).
type Config struct {
	MaxConcurrentInvestigations int
	InvestigationTimeoutSeconds int
	GraceSeconds                int
	SafeMode                    bool
}

type fingerprintState struct {
	state    State
	cancel   context.CancelFunc
	requeue  *coremodel.Issue
	reportID string
}

// Scheduler dispatches investigations, bounded by a global concurrency cap,
// at most one running investigation per issue fingerprint at a time.
type Scheduler struct {
	cfg     Config
	store   ReportStore
	logger  audit.Logger
	clock   adapters.Clock
	bus     *eventbus.Bus
	onReport func(coremodel.InvestigationReport)

	deterministic Investigator
	agentic       Investigator
	chooseMode    func(issue *coremodel.Issue) coremodel.Mode

	mu          sync.Mutex
	fingerprint map[string]*fingerprintState
	running     int
	queue       []dispatchRequest
	wg          sync.WaitGroup
}

type dispatchRequest struct {
	issue     *coremodel.Issue
	mode      coremodel.Mode
	namespace string
	manual    bool
	id        string // pre-assigned report id (SubmitManual); empty means run() mints one
}

// New builds a Scheduler. chooseMode implements the mode=auto policy
// (spec §4.3): deterministic when no knowledge match or safeMode, else
// agentic. onReport, if non-nil, is invoked once per terminal report (the
// hook the event bus's "reports" topic publishes from).
func New(cfg Config, store ReportStore, logger audit.Logger, clock adapters.Clock, deterministic, agentic Investigator, chooseMode func(issue *coremodel.Issue) coremodel.Mode, onReport func(coremodel.InvestigationReport)) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		store:         store,
		logger:        logger,
		clock:         clock,
		deterministic: deterministic,
		agentic:       agentic,
		chooseMode:    chooseMode,
		onReport:      onReport,
		fingerprint:   map[string]*fingerprintState{},
	}
}

// SetBus attaches the event bus the scheduler publishes "created" report
// events to (spec §6.3). Safe to leave unset; Publish is then skipped.
func (s *Scheduler) SetBus(bus *eventbus.Bus) { s.bus = bus }

// Submit offers a batch of debounced Issues from the detector. Each
// fingerprint not already pending or running is dispatched, subject to the
// concurrency cap; the batch is sorted by severity then earliest FirstSeen
// so the highest-priority fingerprint wins ties for a free slot.
func (s *Scheduler) Submit(issues []coremodel.Issue) {
	sorted := append([]coremodel.Issue(nil), issues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return sorted[i].Severity.Less(sorted[j].Severity)
		}
		return sorted[i].FirstSeen.Before(sorted[j].FirstSeen)
	})

	for i := range sorted {
		issue := sorted[i]
		s.enqueue(dispatchRequest{issue: &issue, mode: s.modeFor(&issue), manual: false})
	}
}

// SubmitManual dispatches an explicit API-requested investigation,
// bypassing debouncing but still respecting the concurrency cap via FIFO
// queueing (spec §4.3). Returns the report id the caller should poll
// (GET /api/investigations/{id}) and cancel (POST .../{id}:cancel) with —
// unlike Submit's automatic dispatch, callers here need the id
// synchronously, before the investigation has even started running.
func (s *Scheduler) SubmitManual(issue *coremodel.Issue, mode coremodel.Mode, namespace string) string {
	if mode == "" {
		mode = s.modeFor(issue)
	}
	idPrefix := "det_"
	if mode == coremodel.ModeAgentic {
		idPrefix = "agt_"
	}
	id := idPrefix + uuid.NewString()
	s.enqueue(dispatchRequest{issue: issue, mode: mode, namespace: namespace, manual: true, id: id})
	return id
}

func (s *Scheduler) modeFor(issue *coremodel.Issue) coremodel.Mode {
	if s.chooseMode != nil {
		return s.chooseMode(issue)
	}
	if s.cfg.SafeMode {
		return coremodel.ModeDeterministic
	}
	return coremodel.ModeAgentic
}

func (s *Scheduler) enqueue(req dispatchRequest) string {
	s.mu.Lock()

	var fp string
	if req.issue != nil {
		fp = req.issue.Fingerprint
	} else {
		fp = uuid.NewString()
	}

	fs, ok := s.fingerprint[fp]
	if !ok {
		fs = &fingerprintState{state: StateIdle}
		s.fingerprint[fp] = fs
	}

	if fs.state == StateRunning && !req.manual {
		// Requeue flag: dispatched as soon as the running investigation finishes.
		fs.requeue = req.issue
		s.mu.Unlock()
		return ""
	}
	if fs.state == StatePending && !req.manual {
		// Already queued; that queued request covers this trigger.
		s.mu.Unlock()
		return ""
	}
	if fs.state == StateCooldown && !req.manual {
		s.mu.Unlock()
		return ""
	}

	fs.state = StatePending
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	s.drain()
	return fp
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if s.running >= s.maxConcurrency() || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		req := s.queue[0]
		s.queue = s.queue[1:]
		s.running++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.run(req)
	}
}

func (s *Scheduler) maxConcurrency() int {
	if s.cfg.MaxConcurrentInvestigations <= 0 {
		return 1
	}
	return s.cfg.MaxConcurrentInvestigations
}

func (s *Scheduler) run(req dispatchRequest) {
	defer s.wg.Done()
	defer s.drain()

	var fp string
	if req.issue != nil {
		fp = req.issue.Fingerprint
	}

	investigator := s.deterministic
	if req.mode == coremodel.ModeAgentic {
		investigator = s.agentic
	}
	if investigator == nil {
		investigator = s.deterministic
	}

	id := req.id
	if id == "" {
		idPrefix := "det_"
		if req.mode == coremodel.ModeAgentic {
			idPrefix = "agt_"
		}
		id = idPrefix + uuid.NewString()
	}

	now := s.now()
	report := coremodel.InvestigationReport{
		ID:        id,
		Mode:      req.mode,
		StartedAt: now,
		Status:    coremodel.StatusInProgress,
	}
	if req.issue != nil {
		report.TriggeringIssueFingerprints = []string{req.issue.Fingerprint}
	}

	if s.store != nil {
		if err := s.store.Create(report); err != nil && s.logger != nil {
			s.logger.Log(audit.NewEvent("scheduler", audit.LevelError, "failed to create report").WithDetail("error", err.Error()))
		} else if s.bus != nil {
			s.bus.Publish(eventbus.TopicReports, map[string]any{"event": "created", "report": report})
		}
	}
	if s.logger != nil {
		s.logger.Log(audit.NewEvent("scheduler", audit.LevelInfo, "investigation_started").
			WithDetail("investigation_id", id).WithDetail("mode", string(req.mode)))
	}

	s.mu.Lock()
	if fp != "" {
		fs := s.fingerprint[fp]
		fs.state = StateRunning
		fs.reportID = id
	}
	s.mu.Unlock()

	timeout := time.Duration(s.cfg.InvestigationTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if fp != "" {
		s.mu.Lock()
		s.fingerprint[fp].cancel = cancel
		s.mu.Unlock()
	}

	final := s.investigateSafely(ctx, investigator, &report, req.issue, req.namespace)
	cancel()

	final.FinishedAt = s.now()
	final.DurationMs = final.FinishedAt.Sub(final.StartedAt).Milliseconds()
	if !final.Status.IsTerminal() {
		final.Status = coremodel.StatusFailed
	}

	if s.logger != nil {
		for _, step := range final.Steps {
			s.logger.Log(audit.NewEvent("scheduler", audit.LevelInfo, "investigation_step").
				WithDetail("investigation_id", id).WithDetail("step", step.Name).WithDetail("status", string(step.Status)))
		}
		s.logger.Log(audit.NewEvent("scheduler", audit.LevelInfo, "investigation_finished").
			WithDetail("investigation_id", id).WithDetail("status", string(final.Status)))
	}

	if s.store != nil {
		if err := s.store.Seal(final.ID, final.Status, final.Findings, final.ExecutiveSummary, final.Recommendations, final.Steps); err != nil && s.logger != nil {
			s.logger.Log(audit.NewEvent("scheduler", audit.LevelError, "failed to seal report").WithDetail("error", err.Error()))
		}
	}
	if s.onReport != nil {
		s.onReport(final)
	}

	s.mu.Lock()
	s.running--
	var requeued *coremodel.Issue
	if fp != "" {
		fs := s.fingerprint[fp]
		fs.cancel = nil
		requeued = fs.requeue
		fs.requeue = nil
		// Cooldown expiry is owned by issue.Window: once the window allows a
		// fresh emission for this fingerprint, the next Submit call dispatches
		// it again regardless of the state recorded here. Marking it idle
		// immediately (rather than modeling a separate cooldown-wait state)
		// keeps this map's purpose narrow: "is something running right now".
		fs.state = StateIdle
	}
	s.mu.Unlock()

	if requeued != nil {
		s.enqueue(dispatchRequest{issue: requeued, mode: s.modeFor(requeued), manual: false})
	}
}

func (s *Scheduler) investigateSafely(ctx context.Context, investigator Investigator, report *coremodel.InvestigationReport, issue *coremodel.Issue, namespace string) (result coremodel.InvestigationReport) {
	defer func() {
		if r := recover(); r != nil {
			result = *report
			result.Status = coremodel.StatusFailed
			if s.logger != nil {
				s.logger.Log(audit.NewEvent("scheduler", audit.LevelError, "investigator panicked").
					WithDetail("report_id", report.ID).WithDetail("panic", fmt.Sprintf("%v", r)))
			}
		}
	}()

	done := make(chan coremodel.InvestigationReport, 1)
	go func() {
		done <- investigator.Investigate(ctx, report, issue, namespace)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		grace := time.Duration(s.cfg.GraceSeconds) * time.Second
		if grace <= 0 {
			grace = 2 * time.Second
		}
		select {
		case r := <-done:
			return r
		case <-time.After(grace):
			r := *report
			if ctx.Err() == context.Canceled {
				r.Status = coremodel.StatusCancelled
			} else {
				r.Status = coremodel.StatusTimedOut
			}
			return r
		}
	}
}

// Cancel requests cancellation of a running investigation by report id's
// fingerprint. Returns errs.ErrNotFound if no running investigation owns fp.
func (s *Scheduler) Cancel(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.fingerprint[fingerprint]
	if !ok || fs.state != StateRunning || fs.cancel == nil {
		return errs.ErrNotFound
	}
	fs.cancel()
	return nil
}

// CancelReport requests cancellation of a running investigation by the
// report id returned from SubmitManual (spec §6.2's
// POST /api/investigations/{id}:cancel). Returns errs.ErrNotFound if no
// running investigation currently owns that id.
func (s *Scheduler) CancelReport(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fs := range s.fingerprint {
		if fs.state == StateRunning && fs.reportID == id && fs.cancel != nil {
			fs.cancel()
			return nil
		}
	}
	return errs.ErrNotFound
}

// Wait blocks until all currently dispatched investigations complete.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/eventbus"
	"github.com/stretchr/testify/require"
)

// fakeLogger is an in-memory audit.Logger for tests that need to assert on
// which events were logged, without touching disk the way audit.NewLogger does.
type fakeLogger struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *fakeLogger) Log(e audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}
func (l *fakeLogger) OnEvent(fn func(audit.Event)) {}
func (l *fakeLogger) Sync() error                  { return nil }

func (l *fakeLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Message
	}
	return out
}

type fakeInvestigator struct {
	mode  coremodel.Mode
	delay time.Duration
	mu    sync.Mutex
	runs  int
}

func (f *fakeInvestigator) Mode() coremodel.Mode { return f.mode }

func (f *fakeInvestigator) Investigate(ctx context.Context, report *coremodel.InvestigationReport, issue *coremodel.Issue, namespace string) coremodel.InvestigationReport {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			r := *report
			r.Status = coremodel.StatusCancelled
			return r
		}
	}
	r := *report
	r.Status = coremodel.StatusCompleted
	r.ExecutiveSummary = "done"
	return r
}

type fakeStore struct {
	mu      sync.Mutex
	created []coremodel.InvestigationReport
	sealed  []string
}

func (s *fakeStore) Create(r coremodel.InvestigationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, r)
	return nil
}

func (s *fakeStore) Seal(id string, status coremodel.ReportStatus, findings []coremodel.Finding, summary string, recs []string, steps []coremodel.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = append(s.sealed, id)
	return nil
}

func newIssue(fp string, sev coremodel.Severity) coremodel.Issue {
	return coremodel.Issue{Kind: coremodel.ImagePullBackOff, Severity: sev, Fingerprint: fp, FirstSeen: time.Now()}
}

func TestSchedulerDispatchesAndSealsReport(t *testing.T) {
	det := &fakeInvestigator{mode: coremodel.ModeDeterministic}
	store := &fakeStore{}
	var reports []coremodel.InvestigationReport
	var mu sync.Mutex

	s := New(Config{MaxConcurrentInvestigations: 2, InvestigationTimeoutSeconds: 5, GraceSeconds: 1, SafeMode: true}, store, nil, nil, det, nil, nil, func(r coremodel.InvestigationReport) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	})

	iss := newIssue("fp-1", coremodel.SeverityHigh)
	s.Submit([]coremodel.Issue{iss})
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 1)
	require.Equal(t, coremodel.StatusCompleted, reports[0].Status)
	require.Len(t, store.sealed, 1)
}

func TestSchedulerRespectsConcurrencyCap(t *testing.T) {
	det := &fakeInvestigator{mode: coremodel.ModeDeterministic, delay: 100 * time.Millisecond}
	store := &fakeStore{}

	s := New(Config{MaxConcurrentInvestigations: 2, InvestigationTimeoutSeconds: 5, GraceSeconds: 1, SafeMode: true}, store, nil, nil, det, nil, nil, nil)

	issues := []coremodel.Issue{
		newIssue("fp-1", coremodel.SeverityCritical),
		newIssue("fp-2", coremodel.SeverityCritical),
		newIssue("fp-3", coremodel.SeverityCritical),
	}
	s.Submit(issues)

	s.mu.Lock()
	running, queued := s.running, len(s.queue)
	s.mu.Unlock()
	require.Equal(t, 2, running, "only two investigations may run at once")
	require.Equal(t, 1, queued, "the third waits in the queue")

	s.Wait()

	require.Equal(t, 3, det.runs)
	require.Len(t, store.sealed, 3)
}

func TestSchedulerDispatchesRequeuedIssueAfterRunCompletes(t *testing.T) {
	det := &fakeInvestigator{mode: coremodel.ModeDeterministic, delay: 150 * time.Millisecond}
	store := &fakeStore{}

	s := New(Config{MaxConcurrentInvestigations: 1, InvestigationTimeoutSeconds: 5, GraceSeconds: 1, SafeMode: true}, store, nil, nil, det, nil, nil, nil)

	iss := newIssue("fp-1", coremodel.SeverityCritical)
	s.Submit([]coremodel.Issue{iss})

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		fs, ok := s.fingerprint["fp-1"]
		return ok && fs.state == StateRunning
	}, time.Second, time.Millisecond, "first run should be in progress before the requeue trigger arrives")

	// A second trigger for the same fingerprint arrives while it's still
	// running; it must be stashed and dispatched once the run completes,
	// not silently dropped.
	s.Submit([]coremodel.Issue{iss})

	s.mu.Lock()
	require.NotNil(t, s.fingerprint["fp-1"].requeue)
	s.mu.Unlock()

	s.Wait()

	require.Equal(t, 2, det.runs)
	require.Len(t, store.sealed, 2)
}

func TestSchedulerLogsInvestigationLifecycleEvents(t *testing.T) {
	det := &fakeInvestigator{mode: coremodel.ModeDeterministic}
	store := &fakeStore{}
	logger := &fakeLogger{}

	s := New(Config{MaxConcurrentInvestigations: 2, InvestigationTimeoutSeconds: 5, GraceSeconds: 1, SafeMode: true}, store, logger, nil, det, nil, nil, nil)

	iss := newIssue("fp-1", coremodel.SeverityHigh)
	s.Submit([]coremodel.Issue{iss})
	s.Wait()

	msgs := logger.messages()
	startedAt := indexOf(msgs, "investigation_started")
	finishedAt := indexOf(msgs, "investigation_finished")
	require.GreaterOrEqual(t, startedAt, 0, "expected investigation_started to be logged, got %v", msgs)
	require.GreaterOrEqual(t, finishedAt, 0, "expected investigation_finished to be logged, got %v", msgs)
	require.Less(t, startedAt, finishedAt, "investigation_started must precede investigation_finished, got %v", msgs)
}

func indexOf(items []string, target string) int {
	for i, s := range items {
		if s == target {
			return i
		}
	}
	return -1
}

func TestSchedulerPublishesCreatedThenSealedReportEvents(t *testing.T) {
	det := &fakeInvestigator{mode: coremodel.ModeDeterministic}
	store := &fakeStore{}
	bus := eventbus.New(4, nil)
	sub := bus.Subscribe(eventbus.TopicReports)

	s := New(Config{MaxConcurrentInvestigations: 2, InvestigationTimeoutSeconds: 5, GraceSeconds: 1, SafeMode: true}, store, nil, nil, det, nil, nil, func(r coremodel.InvestigationReport) {
		bus.Publish(eventbus.TopicReports, map[string]any{"event": "sealed", "report": r})
	})
	s.SetBus(bus)

	iss := newIssue("fp-1", coremodel.SeverityHigh)
	s.Submit([]coremodel.Issue{iss})
	s.Wait()

	created := (<-sub.C()).(map[string]any)
	sealed := (<-sub.C()).(map[string]any)
	require.Equal(t, "created", created["event"])
	require.Equal(t, "sealed", sealed["event"])
}

func TestSchedulerCancel(t *testing.T) {
	det := &fakeInvestigator{mode: coremodel.ModeDeterministic, delay: 2 * time.Second}
	store := &fakeStore{}
	done := make(chan coremodel.InvestigationReport, 1)

	s := New(Config{MaxConcurrentInvestigations: 1, InvestigationTimeoutSeconds: 5, GraceSeconds: 1, SafeMode: true}, store, nil, nil, det, nil, nil, func(r coremodel.InvestigationReport) {
		done <- r
	})

	iss := newIssue("fp-1", coremodel.SeverityCritical)
	s.Submit([]coremodel.Issue{iss})

	require.Eventually(t, func() bool {
		return s.Cancel("fp-1") == nil
	}, time.Second, time.Millisecond)

	select {
	case r := <-done:
		require.Equal(t, coremodel.StatusCancelled, r.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for cancelled report")
	}
}

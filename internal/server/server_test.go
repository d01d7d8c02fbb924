package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/eventbus"
	"github.com/kubilitics/invcore/internal/report"
	"github.com/kubilitics/invcore/internal/scheduler"
	"github.com/kubilitics/invcore/internal/snapshot"
)

// instantInvestigator completes every investigation immediately with
// StatusCompleted, so scheduler-backed tests don't need to wait on real
// adapter calls.
type instantInvestigator struct{ mode coremodel.Mode }

func (i *instantInvestigator) Mode() coremodel.Mode { return i.mode }

func (i *instantInvestigator) Investigate(ctx context.Context, rep *coremodel.InvestigationReport, issue *coremodel.Issue, namespace string) coremodel.InvestigationReport {
	r := *rep
	r.Status = coremodel.StatusCompleted
	r.ExecutiveSummary = "ok"
	return r
}

// newTestServer wires a Server against fakes/in-memory fixtures: a real
// eventbus.Bus and report.Store (backed by a FakeFilesystem), and a real
// Scheduler whose investigator completes instantly, so handler tests
// exercise the same dispatch path production wiring does.
func newTestServer(t *testing.T) (*Server, *report.Store) {
	t.Helper()
	fs := adapters.NewFakeFilesystem()
	bus := eventbus.New(0, nil)
	reports := report.New(10, fs, "reports", nil)
	clock := adapters.NewFakeClock(time.Unix(0, 0))

	sched := scheduler.New(scheduler.Config{
		MaxConcurrentInvestigations: 2,
		InvestigationTimeoutSeconds: 5,
		GraceSeconds:                1,
	}, reports, nil, clock, &instantInvestigator{mode: coremodel.ModeDeterministic}, nil, nil, nil)

	srv := New(Config{
		Port:               0,
		AllowedOrigins:     []string{"http://localhost:3000"},
		RateLimitPerMinute: 1000,
		ReportsDir:         "reports",
	}, nil, bus, reports, nil, sched, nil, nil, fs)
	return srv, reports
}

func TestHealthzAlwaysOK(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzWithoutSnapshotterIsReady(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsAdapterUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)
	clock := adapters.NewFakeClock(time.Unix(0, 0))
	adapter := adapters.NewFakeClusterAdapter()
	adapter.Err = context.DeadlineExceeded

	snap := snapshot.New(adapter, clock, nil, snapshot.Config{CheckIntervalSeconds: 30, AdapterTimeoutSeconds: 5}, func(prev *coremodel.ClusterSnapshot, cur coremodel.ClusterSnapshot) {})
	srv.SetSnapshotter(snap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go snap.Run(ctx)

	// The snapshotter polls once immediately, then once per tick; two
	// consecutive failures are needed before it flips unavailable.
	require.Eventually(t, func() bool { clock.Advance(30 * time.Second); return snap.IsAdapterUnavailable() }, time.Second, time.Millisecond)

	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWithCORSRejectsDisallowedOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	handler := srv.withCORS(mux.ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, http.StatusOK, rec.Code) // disallowed origin just means no CORS header, not a rejected request
}

func TestWithCORSAllowsConfiguredOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	handler := srv.withCORS(mux.ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWithCORSHandlesPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	handler := srv.withCORS(mux.ServeHTTP)

	req := httptest.NewRequest(http.MethodOptions, "/api/investigations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSetStatusPublishesToBus(t *testing.T) {
	srv, _ := newTestServer(t)
	sub := srv.bus.Subscribe(eventbus.TopicStatus)
	defer sub.Unsubscribe()

	status := coremodel.MonitorStatus{Status: coremodel.HealthOK}
	srv.SetStatus(status)

	select {
	case ev := <-sub.C():
		got, ok := ev.(coremodel.MonitorStatus)
		require.True(t, ok)
		require.Equal(t, coremodel.HealthOK, got.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status publish")
	}
	require.Equal(t, coremodel.HealthOK, srv.currentStatus().Status)
}

func TestSetSnapshotterAttachesSnapshotter(t *testing.T) {
	srv, _ := newTestServer(t)
	clock := adapters.NewFakeClock(time.Unix(0, 0))
	adapter := adapters.NewFakeClusterAdapter()
	snap := snapshot.New(adapter, clock, nil, snapshot.Config{CheckIntervalSeconds: 30, AdapterTimeoutSeconds: 5}, func(prev *coremodel.ClusterSnapshot, cur coremodel.ClusterSnapshot) {})
	srv.SetSnapshotter(snap)
	require.Equal(t, snap, srv.getSnapshotter())
}

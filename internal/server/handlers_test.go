package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kubilitics/invcore/internal/coremodel"
)

func TestHandleInvestigateDeterministicDispatches(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	body := bytes.NewBufferString(`{"namespace":"default"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/investigations/deterministic", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["id"])
	require.Equal(t, "in_progress", resp["status"])

	require.Eventually(t, func() bool {
		_, err := srv.reports.Get(resp["id"])
		return err == nil
	}, time.Second, time.Millisecond)
}

func TestHandleInvestigateDeterministicRejectsWrongMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/investigations/deterministic", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleInvestigateAgenticRejectedInSafeMode(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.SafeMode = true
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/investigations/agentic", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleInvestigationByIDNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/investigations/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleInvestigationByIDReturnsSealedReport(t *testing.T) {
	srv, reports := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	require.NoError(t, reports.Create(coremodel.InvestigationReport{
		ID:     "det_123",
		Mode:   coremodel.ModeDeterministic,
		Status: coremodel.StatusInProgress,
	}))
	require.NoError(t, reports.Seal("det_123", coremodel.StatusCompleted, nil, "done", nil, nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/investigations/det_123", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got coremodel.InvestigationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "det_123", got.ID)
	require.Equal(t, coremodel.StatusCompleted, got.Status)
}

func TestHandleInvestigationByIDCancelNotFoundWhenNotRunning(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/investigations/det_999:cancel", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleInvestigationsListFiltersByMode(t *testing.T) {
	srv, reports := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	require.NoError(t, reports.Create(coremodel.InvestigationReport{ID: "a", Mode: coremodel.ModeDeterministic, Status: coremodel.StatusInProgress}))
	require.NoError(t, reports.Seal("a", coremodel.StatusCompleted, nil, "", nil, nil))
	require.NoError(t, reports.Create(coremodel.InvestigationReport{ID: "b", Mode: coremodel.ModeAgentic, Status: coremodel.StatusInProgress}))
	require.NoError(t, reports.Seal("b", coremodel.StatusCompleted, nil, "", nil, nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/investigations?mode=agentic", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []coremodel.InvestigationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].ID)
}

func TestHandleReportFileRejectsPathTraversal(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/..secret.txt", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReportFileServesPersistedReport(t *testing.T) {
	srv, _ := newTestServer(t)
	require.NoError(t, srv.fs.WriteAtomic("reports/report-1.txt", []byte("hello report")))
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/report-1.txt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello report", rec.Body.String())
}

func TestHandleReportFileNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/missing.txt", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleClusterSnapshotUnavailableWithoutSnapshotter(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cluster/snapshot", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleMonitoringStatusServesLatest(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.SetStatus(coremodel.MonitorStatus{Status: coremodel.HealthOK, NodesReady: 3, NodesTotal: 3})
	mux := http.NewServeMux()
	srv.registerHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/monitoring/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got coremodel.MonitorStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, coremodel.HealthOK, got.Status)
	require.Equal(t, 3, got.NodesTotal)
}

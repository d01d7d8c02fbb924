package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/db"
	"github.com/kubilitics/invcore/internal/report"
)

func dbListFilter(f report.Filter, limit int) db.ListFilter {
	return db.ListFilter{Mode: f.Mode, Status: f.Status, Limit: limit}
}

func auditIndexListFailed(err error) audit.Event {
	return audit.NewEvent("server", audit.LevelWarn, "report side-index list query failed; falling back to in-memory scan").
		WithDetail("error", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleMonitoringStatus serves the latest MonitorStatus heartbeat
// (spec §6.2's GET /api/monitoring/status).
func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.currentStatus())
}

// handleClusterSnapshot serves the most recently successful ClusterSnapshot
// (spec §6.2's GET /api/cluster/snapshot). 503 if no snapshot has ever
// succeeded yet (still starting up, or the cluster adapter is down).
func (s *Server) handleClusterSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshotter := s.getSnapshotter()
	if snapshotter == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshotter not configured")
		return
	}
	snap := snapshotter.LastGood()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// investigateRequest is the shared body shape of the two manual-trigger
// endpoints (spec §6.2). TimeoutSec is accepted but not yet honored
// per-request: the scheduler only supports the single configured
// InvestigationTimeoutSeconds, applied uniformly to every dispatch.
type investigateRequest struct {
	Namespace        string `json:"namespace,omitempty"`
	TimeoutSec       int    `json:"timeoutSec,omitempty"`
	IssueFingerprint string `json:"issueFingerprint,omitempty"`
}

// syntheticIssue builds the Issue value SubmitManual needs when the
// caller triggers an investigation out-of-band rather than in response to
// a detector emission — this server has no registry of past Issues to
// look up issueFingerprint against, so it carries the fingerprint through
// (reusing it if given, minting one otherwise) without claiming to know
// the original Kind/Evidence.
func syntheticIssue(req investigateRequest, now time.Time) *coremodel.Issue {
	fp := req.IssueFingerprint
	if fp == "" {
		fp = uuid.NewString()
	}
	return &coremodel.Issue{
		Kind:        coremodel.UnknownIssue,
		Severity:    coremodel.SeverityMedium,
		Target:      coremodel.ObjectRef{Namespace: req.Namespace},
		Fingerprint: fp,
		FirstSeen:   now,
		DetectedAt:  now,
	}
}

func decodeInvestigateRequest(r *http.Request) investigateRequest {
	var req investigateRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req
}

// handleInvestigateDeterministic dispatches a manual deterministic
// investigation (spec §6.2's POST /api/investigations/deterministic).
func (s *Server) handleInvestigateDeterministic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req := decodeInvestigateRequest(r)
	issue := syntheticIssue(req, time.Now().UTC())
	id := s.sched.SubmitManual(issue, coremodel.ModeDeterministic, req.Namespace)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(coremodel.StatusInProgress)})
}

// handleInvestigateAgentic dispatches a manual agentic investigation
// (spec §6.2's POST /api/investigations/agentic). Rejected with 409 while
// safeMode is enabled, since the agentic mode is explicitly disallowed in
// that posture regardless of caller intent.
func (s *Server) handleInvestigateAgentic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.SafeMode {
		writeError(w, http.StatusConflict, "safe_mode")
		return
	}
	req := decodeInvestigateRequest(r)
	issue := syntheticIssue(req, time.Now().UTC())
	id := s.sched.SubmitManual(issue, coremodel.ModeAgentic, req.Namespace)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(coremodel.StatusInProgress)})
}

// handleInvestigationsList serves GET /api/investigations, newest first,
// optionally filtered by ?mode= and/or ?status= and bounded by ?limit=.
func (s *Server) handleInvestigationsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	filter := report.Filter{
		Mode:   coremodel.Mode(q.Get("mode")),
		Status: coremodel.ReportStatus(q.Get("status")),
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	if s.index != nil {
		entries, err := s.index.List(r.Context(), dbListFilter(filter, limit))
		if err == nil {
			out := make([]coremodel.InvestigationReport, 0, len(entries))
			for _, e := range entries {
				if rep, err := s.reports.Get(e.ID); err == nil {
					out = append(out, rep)
				}
			}
			writeJSON(w, http.StatusOK, out)
			return
		}
		if s.logger != nil {
			s.logger.Log(auditIndexListFailed(err))
		}
	}

	writeJSON(w, http.StatusOK, s.reports.List(limit, filter))
}

// handleInvestigationByID serves both GET /api/investigations/{id} and
// POST /api/investigations/{id}:cancel, distinguished by the ":cancel"
// path suffix (there being only one path segment to route on, a second
// mux entry would collide with the bare {id} GET route).
func (s *Server) handleInvestigationByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/investigations/")
	if id == "" {
		writeError(w, http.StatusNotFound, "missing investigation id")
		return
	}

	if strings.HasSuffix(id, ":cancel") {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		id = strings.TrimSuffix(id, ":cancel")
		if err := s.sched.CancelReport(id); err != nil {
			writeError(w, http.StatusNotFound, "no running investigation with that id")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rep, err := s.reports.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "investigation not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleReportFile serves the persisted plain-text projection of a sealed
// report (spec §6.2's GET /api/reports/{filename}; the file itself is
// written by internal/report.Store.persist).
func (s *Server) handleReportFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filename := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if filename == "" || strings.Contains(filename, "..") || strings.ContainsRune(filename, '/') {
		writeError(w, http.StatusBadRequest, "invalid report filename")
		return
	}
	if s.fs == nil || s.cfg.ReportsDir == "" {
		writeError(w, http.StatusServiceUnavailable, "report storage not configured")
		return
	}
	data, err := s.fs.Read(strings.TrimRight(s.cfg.ReportsDir, "/") + "/" + filename)
	if err != nil {
		writeError(w, http.StatusNotFound, "report file not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
